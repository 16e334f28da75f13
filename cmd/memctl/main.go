// Command memctl inspects and maintains the document store behind agentd:
// it loads knowledge documents and shows or prunes session summaries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stockripper/agentd/internal/app"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/observability"
)

// env supplies configuration and opens the stores for each command.
type env struct {
	loadConfig func() (config.Config, error)
	open       func(ctx context.Context, cfg config.Config) (*app.Stores, error)
}

func defaultEnv() env {
	return env{loadConfig: config.Load, open: app.OpenStores}
}

func main() {
	if err := newRootCmd(defaultEnv()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "memctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(e env) *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "memctl",
		Short: "Operate the agentd memory and knowledge stores",
		Long: `memctl works directly against the document store configured for agentd
(DOCUMENT_STORE, DATABASE_URL, CHROMEM_PERSIST_PATH). It ingests knowledge
documents and shows or prunes the long-term summaries of a session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	logger := func(cmd *cobra.Command) *slog.Logger {
		return observability.NewLogger(cmd.ErrOrStderr(), logLevel)
	}

	root.AddCommand(newIngestCmd(e, logger))
	root.AddCommand(newShowCmd(e))
	root.AddCommand(newPruneCmd(e))
	return root
}

// withStores loads configuration, opens the stores and closes them after fn.
func (e env) withStores(ctx context.Context, fn func(cfg config.Config, stores *app.Stores) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	stores, err := e.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Backend.Close()
	return fn(cfg, stores)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
