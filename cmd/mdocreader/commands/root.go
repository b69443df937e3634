package commands

import (
	"github.com/spf13/cobra"
)

var adapterID string

func Execute() error {
	root := &cobra.Command{
		Use:   "mdocreader",
		Short: "Mobile document verifier: request and check mdoc credentials",
	}
	root.PersistentFlags().StringVar(&adapterID, "adapter", "", "bluetooth adapter (default system default)")
	root.AddCommand(requestCmd())
	return root.Execute()
}
