package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stockripper/agentd/internal/llm"
)

// maxBlobRead caps how much of an object get_blob returns to the model.
const maxBlobRead = 64 << 10

// S3API is the subset of the S3 client used by the blob tools.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// NewS3Client loads the default AWS credential chain. A non-empty endpoint
// targets an S3-compatible service with path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Blobs implements the container (bucket) and blob (object) tools.
type Blobs struct {
	client        S3API
	defaultBucket string
}

func NewBlobs(client S3API, defaultBucket string) *Blobs {
	return &Blobs{client: client, defaultBucket: defaultBucket}
}

// RegisterBlob adds save_to_blob, list_blobs, list_containers and get_blob.
func RegisterBlob(r *Registry, b *Blobs) {
	container := stringProperty("Container (bucket) name. Defaults to the configured bucket.")
	r.Register(llm.ToolDefinition{
		Name:        "save_to_blob",
		Description: "Save text content as a blob, creating the container if needed.",
		InputSchema: objectSchema(map[string]any{
			"container_name": container,
			"blob_name":      stringProperty("Blob (object) name."),
			"file_content":   stringProperty("Content to store."),
		}, "blob_name", "file_content"),
	}, ExecutorFunc(b.save))
	r.Register(llm.ToolDefinition{
		Name:        "list_blobs",
		Description: "List blob names in a container.",
		InputSchema: objectSchema(map[string]any{"container_name": container}),
	}, ExecutorFunc(b.listBlobs))
	r.Register(llm.ToolDefinition{
		Name:        "list_containers",
		Description: "List all containers.",
		InputSchema: objectSchema(map[string]any{}),
	}, ExecutorFunc(b.listContainers))
	r.Register(llm.ToolDefinition{
		Name:        "get_blob",
		Description: "Read a text blob.",
		InputSchema: objectSchema(map[string]any{
			"container_name": container,
			"blob_name":      stringProperty("Blob (object) name."),
		}, "blob_name"),
	}, ExecutorFunc(b.get))
}

func (b *Blobs) bucket(input map[string]any) (string, error) {
	name := stringArg(input, "container_name")
	if name == "" {
		name = b.defaultBucket
	}
	if name == "" {
		return "", errors.New("argument \"container_name\" is required")
	}
	return name, nil
}

func (b *Blobs) save(ctx context.Context, input map[string]any) (string, error) {
	bucket, err := b.bucket(input)
	if err != nil {
		return "", err
	}
	name := stringArg(input, "blob_name")
	if name == "" {
		return "", errors.New("argument \"blob_name\" is required")
	}
	content, _ := input["file_content"].(string)

	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return "", fmt.Errorf("create container %s: %w", bucket, err)
		}
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(name),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}
	return jsonResult(map[string]string{"message": "File uploaded successfully", "blob_name": name})
}

func (b *Blobs) listBlobs(ctx context.Context, input map[string]any) (string, error) {
	bucket, err := b.bucket(input)
	if err != nil {
		return "", err
	}
	names := []string{}
	pages := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list blobs in %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			names = append(names, aws.ToString(obj.Key))
		}
	}
	return jsonResult(map[string]any{"message": "Blobs listed successfully", "blobs": names})
}

func (b *Blobs) listContainers(ctx context.Context, _ map[string]any) (string, error) {
	out, err := b.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	names := make([]string, 0, len(out.Buckets))
	for _, bucket := range out.Buckets {
		names = append(names, aws.ToString(bucket.Name))
	}
	return jsonResult(map[string]any{"message": "Containers listed successfully", "containers": names})
}

func (b *Blobs) get(ctx context.Context, input map[string]any) (string, error) {
	bucket, err := b.bucket(input)
	if err != nil {
		return "", err
	}
	name := stringArg(input, "blob_name")
	if name == "" {
		return "", errors.New("argument \"blob_name\" is required")
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", bucket, name, err)
	}
	defer out.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(out.Body, maxBlobRead))
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", bucket, name, err)
	}
	return string(raw), nil
}
