package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mdoclink/internal/app"
)

var (
	home       string
	passphrase string
	appCtx     *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:   "mdoclink",
		Short: "Mobile document holder: provision and present mdoc credentials",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".mdoclink")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			wire, err := app.NewWire(app.Config{Home: home, Passphrase: passphrase})
			if err != nil {
				return err
			}
			appCtx = wire
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.mdoclink)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting credentials and keys")

	root.AddCommand(initCmd(), provisionCmd(), listCmd(), presentCmd(), demoCmd())
	return root.Execute()
}
