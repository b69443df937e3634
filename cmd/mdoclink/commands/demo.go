package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/services/presentment"
	"mdoclink/internal/services/verify"
	"mdoclink/internal/transport/ble"
)

// demo: exercise the full presentment path against an in-process reader, no
// radio required. Uses the stored credentials.
func demoCmd() *cobra.Command {
	var useMac bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a holder/reader exchange in process, no radio",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			eDeviceKey, err := crypto.GenerateP256()
			if err != nil {
				return err
			}
			de, err := engagement.New(eDeviceKey.PublicKey(), engagement.BLEOptions{
				CentralClient:     true,
				CentralClientUUID: uuid.New(),
			})
			if err != nil {
				return err
			}

			ca, cb := ble.NewLoopbackPair(ble.DefaultMTU)
			holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)

			engine, err := presentment.New(presentment.Config{
				Transport:    holderCh,
				Keys:         appCtx.Keys,
				Selector:     presentment.StoreSelector{Store: appCtx.Credentials, Passphrase: passphrase},
				Consent:      presentment.StaticConsent{Grant: true},
				Engagement:   de,
				EDeviceKey:   eDeviceKey,
				UseDeviceMac: useMac,
			})
			if err != nil {
				return err
			}

			results := make(chan presentment.Result, 1)
			go func() { results <- engine.Run(cmd.Context()) }()

			res, err := verify.Exchange(cmd.Context(), readerCh, de, verify.Query{
				DocType: domain.MDLDocType,
				Elements: map[domain.Namespace]map[domain.ElementIdentifier]bool{
					domain.MDLNamespace: {
						"given_name":  false,
						"family_name": false,
						"age_over_18": false,
					},
				},
			})
			if err != nil {
				return err
			}
			hres := <-results
			if hres.Err != nil {
				return hres.Err
			}

			if len(res.Documents) == 0 {
				fmt.Println("no credential matched; run `mdoclink provision` first")
				return nil
			}
			for _, doc := range res.Documents {
				fmt.Printf("%s (device auth: %s, valid until %s)\n", doc.DocType, doc.AuthMethod, doc.ValidUntil)
				for ns, items := range doc.Items {
					for _, it := range items {
						fmt.Printf("  %s / %s = %v\n", ns, it.Identifier, it.Value)
					}
				}
			}
			for _, d := range hres.Disclosed {
				if err := appCtx.Credentials.RecordUsage(passphrase, d.CredentialID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useMac, "mac", false, "authenticate with an ECDH MAC instead of a signature")
	return cmd
}
