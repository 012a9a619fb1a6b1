package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage serve-mode client pairing",
		Long: `Clients request a pairing code from a running serve instance
(POST /pair/request). Approving the code here issues a device token the
client can use as its bearer token.`,
	}
	cmd.AddCommand(pairListCmd())
	cmd.AddCommand(pairApproveCmd())
	cmd.AddCommand(pairRevokeCmd())
	return cmd
}

func pairListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending codes and paired devices",
		Run: func(cmd *cobra.Command, args []string) {
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()

			pending := stores.Pairing.ListPending()
			paired := stores.Pairing.ListPaired()
			if len(pending) == 0 && len(paired) == 0 {
				fmt.Println("No pending requests or paired devices.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			if len(pending) > 0 {
				fmt.Fprintf(tw, "CODE\tCLIENT\tFROM\tEXPIRES\n")
				for _, p := range pending {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Code, p.ClientName, p.RemoteAddr,
						time.Unix(p.ExpiresAt, 0).Format(time.RFC3339))
				}
			}
			if len(paired) > 0 {
				fmt.Fprintf(tw, "DEVICE\tCLIENT\tPAIRED\tBY\n")
				for _, d := range paired {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.ClientName,
						time.Unix(d.PairedAt, 0).Format(time.RFC3339), d.PairedBy)
				}
			}
			tw.Flush()
		},
	}
}

func pairApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [code]",
		Short: "Approve a pending pairing code and issue a device token",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()

			dev, err := stores.Pairing.ApprovePairing(args[0], "cli")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Paired %s (device %s)\nToken: %s\n", dev.ClientName, dev.ID, dev.Token)
		},
	}
}

func pairRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [device-id]",
		Short: "Revoke a paired device's token",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			stores := mustOpenStores(mustLoadConfig())
			defer stores.Close()

			if err := stores.Pairing.RevokeDevice(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Println("Revoked.")
		},
	}
}
