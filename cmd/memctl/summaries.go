package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stockripper/agentd/internal/agent"
	"github.com/stockripper/agentd/internal/app"
	"github.com/stockripper/agentd/internal/config"
	"github.com/stockripper/agentd/internal/memory"
	"github.com/stockripper/agentd/internal/session"
)

func sessionFlags(cmd *cobra.Command, key *session.Key) {
	cmd.Flags().StringVar(&key.Agent, "agent", agent.DefaultName, "Agent name")
	cmd.Flags().StringVar(&key.Session, "session", "", "Session id")
	_ = cmd.MarkFlagRequired("session")
}

func newShowCmd(e env) *cobra.Command {
	var key session.Key
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the long-term summaries of a session, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withStores(cmd.Context(), func(_ config.Config, stores *app.Stores) error {
				summaries, err := stores.LongTerm.FetchOrdered(cmd.Context(), key)
				if err != nil {
					return err
				}
				if summaries == nil {
					summaries = []memory.Summary{}
				}
				return writeJSON(cmd.OutOrStdout(), summaries)
			})
		},
	}
	sessionFlags(cmd, &key)
	return cmd
}

func newPruneCmd(e env) *cobra.Command {
	var (
		key  session.Key
		keep int
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest summaries of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withStores(cmd.Context(), func(_ config.Config, stores *app.Stores) error {
				n, err := stores.Retention.Prune(cmd.Context(), key, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d summaries of %s/%s\n", n, key.Agent, key.Session)
				return nil
			})
		},
	}
	sessionFlags(cmd, &key)
	cmd.Flags().IntVar(&keep, "keep", 1, "Number of newest summaries to keep")
	return cmd
}
