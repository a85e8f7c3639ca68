package commands

import (
	"fmt"
	"os"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

func bundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Generate and read connection bundles",
	}
	cmd.AddCommand(bundleNewCmd(), bundleReadCmd())
	return cmd
}

func bundleNewCmd() *cobra.Command {
	var superport bool
	var noQR bool
	cmd := &cobra.Command{
		Use:   "new <label>",
		Short: "Generate a bundle to share with a new contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			var err error
			if superport {
				raw, err = client.GenerateSuperport(cmd.Context(), args[0])
			} else {
				raw, err = client.GenerateBundle(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			if !noQR {
				qrterminal.GenerateWithConfig(raw, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			fmt.Println(raw)
			return nil
		},
	}
	cmd.Flags().BoolVar(&superport, "superport", false, "generate a multi-use bundle")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "print the payload only, skip the QR code")
	return cmd
}

func bundleReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <payload>",
		Short: "Read a peer's bundle and start the handshake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.ReadBundle(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Bundle accepted. Run 'quietlink pull' to continue the handshake.")
			return nil
		},
	}
}
