package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats, newest activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			chats, err := client.Chats()
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				fmt.Println("No chats yet. Share a bundle to start one.")
				return nil
			}
			for _, c := range chats {
				state := "pending"
				if c.Authenticated {
					state = "ready"
				}
				if c.Disconnected {
					state = "disconnected"
				}
				name := c.Name
				if name == "" {
					name = "(unnamed)"
				}
				unread := ""
				if c.NewMessageCount > 0 {
					unread = fmt.Sprintf(" [%d new]", c.NewMessageCount)
				}
				fmt.Printf("%-12s %-10s %s%s  %s\n", c.ChatID, state, name, unread, c.PreviewText)
			}
			return nil
		},
	}
}
