package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mdoclink/internal/crypto"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/services/presentment"
	"mdoclink/internal/transport/ble"
)

// present: engage in mdoc central client mode. The reader advertises the
// service UUID named in the QR code; this side connects as GATT client.
func presentCmd() *cobra.Command {
	var (
		adapterID string
		useMac    bool
		multi     bool
		autoYes   bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "present",
		Short: "Engage over BLE and present credentials to a reader",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}

			eDeviceKey, err := crypto.GenerateP256()
			if err != nil {
				return err
			}
			service := uuid.New()
			de, err := engagement.New(eDeviceKey.PublicKey(), engagement.BLEOptions{
				CentralClient:     true,
				CentralClientUUID: service,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Show this to the reader:\n\n  %s\n\nWaiting for the reader...\n", de.QRURI())

			conn := ble.NewCentral(func() ble.CentralConfig {
				cfg := ble.HolderCentralConfig(service)
				cfg.AdapterID = adapterID
				cfg.DiscoveryTimeout = timeout
				return cfg
			}())
			transport := ble.NewChannel(conn, true)

			engineCfg := presentment.Config{
				Transport:           transport,
				Keys:                appCtx.Keys,
				Selector:            presentment.StoreSelector{Store: appCtx.Credentials, Passphrase: passphrase},
				Consent:             presentment.StaticConsent{Grant: true},
				Engagement:          de,
				EDeviceKey:          eDeviceKey,
				UseDeviceMac:        useMac,
				AllowMultipleRounds: multi,
			}
			if !autoYes {
				engineCfg.Consent = newTerminalConsent(os.Stdin, os.Stdout)
			}
			engine, err := presentment.New(engineCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				engine.Cancel()
			}()

			res := engine.Run(ctx)
			if res.Err != nil {
				return res.Err
			}
			fmt.Printf("Session ended after %d round(s).\n", res.Rounds)
			for _, d := range res.Disclosed {
				fmt.Printf("Disclosed %s (%s)\n", d.CredentialID, d.DocType)
				if err := appCtx.Credentials.RecordUsage(passphrase, d.CredentialID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adapterID, "adapter", "", "bluetooth adapter (default system default)")
	cmd.Flags().BoolVar(&useMac, "mac", false, "authenticate documents with an ECDH MAC instead of a signature")
	cmd.Flags().BoolVar(&multi, "multi-round", false, "keep the session open for further requests")
	cmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "grant every consent prompt (non-interactive)")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "reader discovery timeout")
	return cmd
}
