package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theupdateframework/ldb/adapter"
)

func newGetCommand() *cobra.Command {
	var rev string
	var includeRevs bool
	cmd := &cobra.Command{
		Use:   "get <database> <docId>",
		Short: "fetch one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			body, err := db.Get(args[1], adapter.GetOptions{Rev: rev, Revs: includeRevs, Attachments: true})
			if err != nil {
				return err
			}
			observeCounters(db)
			out, err := json.MarshalIndent(body, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&rev, "rev", "", "fetch a specific revision instead of the current winner")
	cmd.Flags().BoolVar(&includeRevs, "revs", false, "include the _revisions history")
	return cmd
}

func newAllDocsCommand() *cobra.Command {
	var includeDocs, conflicts bool
	var limit, skip int
	var keys []string
	cmd := &cobra.Command{
		Use:   "all-docs <database>",
		Short: "list every document's current winning revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := db.AllDocs(adapter.AllDocsOptions{
				IncludeDocs: includeDocs,
				Conflicts:   conflicts,
				Limit:       limit,
				Skip:        skip,
				Keys:        keys,
			})
			if err != nil {
				return err
			}
			observeCounters(db)
			for _, row := range rows {
				if row.Error != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %s\n", row.ID, row.Error)
					continue
				}
				if row.Deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tdeleted\n", row.ID, row.Rev)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", row.ID, row.Rev)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&includeDocs, "include-docs", false, "include each document's body")
	cmd.Flags().BoolVar(&conflicts, "conflicts", false, "include each row's losing leaf revisions")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return")
	cmd.Flags().IntVar(&skip, "skip", 0, "rows to skip before returning results")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "return exactly these document ids, in order")
	return cmd
}
