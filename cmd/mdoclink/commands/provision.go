package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mdoclink/internal/domain"
)

// provision: self-issue a demo mDL so the presentment path can be exercised
// without a real issuing authority.
func provisionCmd() *cobra.Command {
	var (
		givenName  string
		familyName string
		birthDate  string
		ageOver18  bool
		validDays  int
	)
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Issue a demo mDL credential into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			claims := map[domain.Namespace]map[domain.ElementIdentifier]any{
				domain.MDLNamespace: {
					"given_name":  givenName,
					"family_name": familyName,
					"birth_date":  birthDate,
					"age_over_18": ageOver18,
				},
			}
			cred, err := appCtx.Provision.IssueDemo(
				passphrase, domain.MDLDocType, claims, time.Duration(validDays)*24*time.Hour,
			)
			if err != nil {
				return err
			}
			fmt.Printf("Credential provisioned.\nID: %s\nDocType: %s\nKey alias: %s\n",
				cred.ID, cred.DocType, cred.KeyAlias)
			return nil
		},
	}
	cmd.Flags().StringVar(&givenName, "given-name", "Erika", "holder given name")
	cmd.Flags().StringVar(&familyName, "family-name", "Mustermann", "holder family name")
	cmd.Flags().StringVar(&birthDate, "birth-date", "1986-03-22", "holder birth date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&ageOver18, "age-over-18", true, "age_over_18 attestation")
	cmd.Flags().IntVar(&validDays, "valid-days", 365, "validity period in days")
	return cmd
}
