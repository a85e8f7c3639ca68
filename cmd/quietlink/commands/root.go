package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quietlink/quietlink"
	"github.com/quietlink/quietlink/config"
)

var (
	configPath string
	serverURL  string
	client     *quietlink.Client
)

func Execute() error {
	root := &cobra.Command{
		Use:          "quietlink",
		Short:        "Private messaging from out-of-band connection bundles",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				configPath = filepath.Join(dir, ".quietlink", "config.toml")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				cfg = config.Default()
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				logrus.SetLevel(level)
			}
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return err
			}

			client, err = quietlink.New(quietlink.Options{
				DataDir:   cfg.DataDir,
				ServerURL: cfg.ServerURL,
			})
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if client != nil {
				return client.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.quietlink/config.toml)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "service base URL (overrides config)")

	root.AddCommand(initCmd(), bundleCmd(), sendCmd(), chatsCmd(), pullCmd(), flushCmd())
	return root.Execute()
}
