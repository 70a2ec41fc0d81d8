package main

import (
	"github.com/spf13/cobra"

	"github.com/theupdateframework/ldb/adapter"
)

func newDestroyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <database>",
		Short: "close and permanently remove a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adapter.Destroy(args[0], adapter.Options{Dir: dbDir})
		},
	}
}
