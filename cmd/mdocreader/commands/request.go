package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/services/verify"
	"mdoclink/internal/transport/ble"
)

// request <mdoc-uri> [element...]: connect to the engaging holder and ask
// for the named mDL elements.
func requestCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "request <mdoc-uri> [element...]",
		Short: "Request and verify data elements from an engaging holder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			de, err := engagement.ParseQR(args[0])
			if err != nil {
				return err
			}
			if de.BLE == nil || !de.BLE.PeripheralServer {
				return fmt.Errorf("engagement offers no mdoc peripheral server mode; this reader is central-only")
			}

			elements := map[domain.ElementIdentifier]bool{
				"given_name":  false,
				"family_name": false,
				"age_over_18": false,
			}
			if len(args) > 1 {
				elements = make(map[domain.ElementIdentifier]bool, len(args)-1)
				for _, e := range args[1:] {
					elements[domain.ElementIdentifier(e)] = false
				}
			}

			cfg := ble.ReaderCentralConfig(de.BLE.PeripheralServerUUID, de.Ident())
			cfg.AdapterID = adapterID
			cfg.DiscoveryTimeout = timeout
			transport := ble.NewChannel(ble.NewCentral(cfg), true)
			defer transport.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := verify.Exchange(ctx, transport, de, verify.Query{
				DocType:  domain.MDLDocType,
				Elements: map[domain.Namespace]map[domain.ElementIdentifier]bool{domain.MDLNamespace: elements},
			})
			if err != nil {
				return err
			}
			if len(res.Documents) == 0 {
				fmt.Println("holder disclosed nothing")
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
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "holder discovery timeout")
	return cmd
}
