package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Strob0t/Boardroom/internal/port/artifactstore"
)

func auditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the artifact write log",
	}

	var after int64
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the append-only log as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			in, err := openStore(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer in.Close()
			n, err := exportLog(cmd.Context(), in.store, after, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d entries\n", n)
			return nil
		},
	}
	export.Flags().Int64Var(&after, "after", 0, "only entries with a sequence number greater than this")
	cmd.AddCommand(export)
	return cmd
}

// exportLog streams log entries after seq to w, one JSON object per line.
func exportLog(ctx context.Context, store artifactstore.Store, after int64, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for entry, err := range store.WriteLog(ctx, after) {
		if err != nil {
			return n, fmt.Errorf("read log after %d: %w", after, err)
		}
		if err := enc.Encode(entry); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
