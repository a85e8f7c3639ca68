package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Fetch queued messages and finish pending handshakes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Pull(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Up to date.")
			return nil
		},
	}
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Resend journaled messages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			sent, err := client.FlushJournal(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Sent %d journaled message(s).\n", sent)
			return nil
		},
	}
}
