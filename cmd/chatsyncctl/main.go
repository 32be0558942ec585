package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	profileFlag string
	addrFlag    string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:           "chatsyncctl",
	Short:         "Control a running chatsync daemon",
	Long:          "Command-line client for chatsyncd.\nInspect conversations, send messages and check the push channel of a profile.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "daemon API address (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// profile resolves and validates the profile the command targets.
func profile() (string, error) {
	name := session.Resolve(profileFlag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// apiClient returns a client for the daemon's HTTP API.
func apiClient() (*client, error) {
	addr := addrFlag
	if addr == "" {
		cfg, err := config.LoadWithEnv(session.ConfigPath(), session.EnvPath())
		if err != nil {
			return nil, err
		}
		addr = cfg.API.Listen
	}
	return newClient(addr), nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
