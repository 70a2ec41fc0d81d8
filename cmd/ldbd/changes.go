package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/theupdateframework/ldb/adapter"
)

func newChangesCommand() *cobra.Command {
	var since int64
	var continuous bool
	var includeDocs bool
	var limit int
	var descending bool
	var filterName string
	cmd := &cobra.Command{
		Use:   "changes <database>",
		Short: "replay, or follow, the change feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if continuous {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt)
				go func() {
					<-sigCh
					cancel()
				}()
			}

			out := make(chan adapter.Change, 64)
			errCh := make(chan error, 1)
			go func() {
				defer close(out)
				errCh <- db.Changes(ctx, adapter.ChangesOptions{
					Since:       since,
					Continuous:  continuous,
					IncludeDocs: includeDocs,
					Limit:       limit,
					Descending:  descending,
					FilterName:  filterName,
				}, out)
			}()

			for change := range out {
				line, _ := json.Marshal(change)
				fmt.Fprintln(cmd.OutOrStdout(), string(line))
			}
			if err := <-errCh; err != nil && err != context.Canceled {
				return err
			}
			observeCounters(db)
			return nil
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "exclusive sequence lower bound; -1 means only changes from now on")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "keep following the feed until interrupted")
	cmd.Flags().BoolVar(&includeDocs, "include-docs", false, "include each change's document body")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum changes to emit from the one-shot replay (with --continuous, live changes after it are not limited)")
	cmd.Flags().BoolVar(&descending, "descending", false, "replay the one-shot feed most-recent-first")
	cmd.Flags().StringVar(&filterName, "filter", "", `design-document filter as "ddoc/name"`)
	return cmd
}
