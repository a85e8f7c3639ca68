package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quietlink/quietlink/storage"
)

func initCmd() *cobra.Command {
	var name, userID, secret string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Store your profile and service credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("display name required (--name)")
			}
			err := client.SetProfile(storage.Profile{
				Name:         name,
				UserID:       userID,
				SharedSecret: secret,
			})
			if err != nil {
				return err
			}
			fmt.Println("Profile saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name sent to peers after authentication")
	cmd.Flags().StringVar(&userID, "user", "", "service user id")
	cmd.Flags().StringVar(&secret, "secret", "", "service auth secret (hex)")
	return cmd
}
