package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietlink/quietlink/storage"
)

// send <chat> <text>: encrypt and send, journaling when offline.
func sendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send <chat> [text]",
		Short: "Send a message to a chat",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := args[0]

			var m *storage.Message
			var err error
			switch {
			case file != "":
				caption := ""
				if len(args) > 1 {
					caption = args[1]
				}
				m, err = client.SendFile(cmd.Context(), chatID, file, caption)
			case len(args) > 1:
				m, err = client.SendText(cmd.Context(), chatID, args[1])
			default:
				return fmt.Errorf("nothing to send: give text or --file")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", m.MessageID, m.SendStatus)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "send a file instead of text")
	return cmd
}
