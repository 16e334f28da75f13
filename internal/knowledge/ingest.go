package knowledge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/stockripper/agentd/internal/docstore"
)

// Ingester loads text files into the knowledge collection.
type Ingester struct {
	store      docstore.Store
	collection string
	chunkSize  int
	include    []glob.Glob
	ledgerPath string
	logger     *slog.Logger
}

// IngestOptions configures an Ingester.
type IngestOptions struct {
	Collection string
	ChunkSize  int
	// Include lists glob patterns matched against paths relative to the
	// ingested directory. Defaults to "**.txt".
	Include []string
	// LedgerPath records ingested files, one per line. Files already listed
	// are skipped. Empty disables the ledger.
	LedgerPath string
	Logger     *slog.Logger
}

// Report summarizes one ingestion run.
type Report struct {
	Files   []string `json:"files"`
	Skipped []string `json:"skipped"`
	Chunks  int      `json:"chunks"`
}

func NewIngester(store docstore.Store, opts IngestOptions) (*Ingester, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if len(opts.Include) == 0 {
		opts.Include = []string{"**.txt"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ing := &Ingester{
		store:      store,
		collection: opts.Collection,
		chunkSize:  opts.ChunkSize,
		ledgerPath: opts.LedgerPath,
		logger:     opts.Logger,
	}
	for _, pattern := range opts.Include {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		ing.include = append(ing.include, g)
	}
	return ing, nil
}

// IngestDir chunks every matching file under dir and upserts the chunks.
// Chunk ids are derived from the relative path, so re-ingesting a file
// replaces its chunks.
func (i *Ingester) IngestDir(ctx context.Context, dir string) (Report, error) {
	loaded, err := i.readLedger()
	if err != nil {
		return Report{}, err
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if i.matches(rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var report Report
	for _, rel := range paths {
		if _, ok := loaded[rel]; ok {
			report.Skipped = append(report.Skipped, rel)
			continue
		}
		n, err := i.ingestFile(ctx, filepath.Join(dir, filepath.FromSlash(rel)), rel)
		if err != nil {
			return report, err
		}
		if err := i.appendLedger(rel); err != nil {
			return report, err
		}
		report.Files = append(report.Files, rel)
		report.Chunks += n
		i.logger.Info("ingested document", "file", rel, "chunks", n, "collection", i.collection)
	}
	return report, nil
}

func (i *Ingester) ingestFile(ctx context.Context, path, rel string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rel, err)
	}
	chunks := Split(string(raw), i.chunkSize)
	for n, chunk := range chunks {
		doc := docstore.Document{
			ID:      rel + "#" + strconv.Itoa(n),
			Content: chunk,
			Metadata: map[string]string{
				"source": rel,
				"chunk":  strconv.Itoa(n),
			},
		}
		if err := i.store.Upsert(ctx, i.collection, doc); err != nil {
			return n, fmt.Errorf("upsert %s: %w", doc.ID, err)
		}
	}
	return len(chunks), nil
}

func (i *Ingester) matches(rel string) bool {
	for _, g := range i.include {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (i *Ingester) readLedger() (map[string]struct{}, error) {
	loaded := make(map[string]struct{})
	if i.ledgerPath == "" {
		return loaded, nil
	}
	f, err := os.Open(i.ledgerPath)
	if errors.Is(err, fs.ErrNotExist) {
		return loaded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			loaded[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return loaded, nil
}

func (i *Ingester) appendLedger(rel string) error {
	if i.ledgerPath == "" {
		return nil
	}
	f, err := os.OpenFile(i.ledgerPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, rel); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}
