package main

import (
	"fmt"
	"io/ioutil"

	"github.com/spf13/cobra"

	"github.com/theupdateframework/ldb/adapter"
)

func newPutCommand() *cobra.Command {
	var newEdits bool
	cmd := &cobra.Command{
		Use:   "put <database> <file.json>...",
		Short: "write one or more JSON document bodies to a database",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			bodies := make([][]byte, len(args)-1)
			for i, path := range args[1:] {
				b, err := ioutil.ReadFile(path)
				if err != nil {
					return fmt.Errorf("ldbd: reading %s: %w", path, err)
				}
				bodies[i] = b
			}

			results, err := db.BulkDocs(bodies, adapter.BulkDocsOptions{NewEdits: &newEdits})
			if err != nil {
				return err
			}
			bulkDocsTotal.Add(float64(len(results)))
			observeCounters(db)
			for _, r := range results {
				if r.Error != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %s\n", r.ID, r.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ID, r.Rev)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&newEdits, "new-edits", true, "treat inputs as bare edits (false for replicated _revisions histories)")
	return cmd
}
