package docstore

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is one of auto, memory, postgres or chromem.
	Backend     string
	DatabaseURL string
	PersistPath string
	Embedding   chromem.EmbeddingFunc
}

// Open creates a postgres-backed store when configured, otherwise an embedded
// chromem store. "memory" selects the plain in-process store.
func Open(ctx context.Context, opts Options) (Backend, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" || backend == "auto" {
		backend = "chromem"
		if strings.TrimSpace(opts.DatabaseURL) != "" {
			backend = "postgres"
		}
	}

	switch backend {
	case "memory":
		return NewInMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "chromem":
		return NewChromemStore(opts.PersistPath, opts.Embedding)
	default:
		return nil, fmt.Errorf("unsupported document store %q", opts.Backend)
	}
}
