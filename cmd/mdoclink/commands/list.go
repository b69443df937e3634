package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			creds, err := appCtx.Provision.List(passphrase)
			if err != nil {
				return err
			}
			if len(creds) == 0 {
				fmt.Println("no credentials")
				return nil
			}
			for _, c := range creds {
				elements := 0
				for _, items := range c.NameSpaces {
					elements += len(items)
				}
				fmt.Printf("%s  %s  elements=%d  used=%d  created=%s\n",
					c.ID, c.DocType, elements, c.UsageCount,
					time.Unix(c.CreatedUTC, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}
