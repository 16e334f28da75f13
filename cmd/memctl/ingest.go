package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stockripper/agentd/internal/app"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/knowledge"
)

func newIngestCmd(e env, logger func(*cobra.Command) *slog.Logger) *cobra.Command {
	var (
		include    []string
		chunkSize  int
		ledgerPath string
		collection string
	)
	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Chunk text files under a directory into the knowledge collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStores(cmd.Context(), func(cfg config.Config, stores *app.Stores) error {
				if collection == "" {
					collection = cfg.KnowledgeCollection
				}
				ingester, err := knowledge.NewIngester(stores.Backend, knowledge.IngestOptions{
					Collection: collection,
					ChunkSize:  chunkSize,
					Include:    include,
					LedgerPath: ledgerPath,
					Logger:     logger(cmd),
				})
				if err != nil {
					return err
				}
				report, err := ingester.IngestDir(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Glob patterns of files to load, relative to <dir> (default **.txt)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", knowledge.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "File recording loaded documents; listed files are skipped")
	cmd.Flags().StringVar(&collection, "collection", "", "Target collection (default KNOWLEDGE_COLLECTION)")
	return cmd
}
