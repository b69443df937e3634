package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mdoclink/internal/services/provision"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the credential store under the home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if err := provision.CheckPassphrase(passphrase); err != nil {
				return err
			}
			fmt.Printf("Store initialised at %s\n", home)
			return nil
		},
	}
}
