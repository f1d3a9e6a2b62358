package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notepid/twilight_pm/internal/admin/app"
	"github.com/notepid/twilight_pm/internal/pm"
)

var (
	configPath string
	asMember   string
	jsonOutput bool

	application *app.App
	cleanup     func()
)

var rootCmd = &cobra.Command{
	Use:   "pmctl",
	Short: "pmctl - personal messages from the command line",
	Long:  "Send, file and search forum personal messages on behalf of a member.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}
		a, done, err := app.New(configPath)
		if err != nil {
			return err
		}
		application, cleanup = a, done
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cleanup != nil {
			cleanup()
		}
	},
	SilenceUsage: true,
}

// Version is set via ldflags at build time.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pmctl version %s\n", Version)
	},
}

// actor returns the member named by --as.
func actor() (pm.Actor, error) {
	if asMember == "" {
		return pm.Actor{}, fmt.Errorf("--as is required")
	}
	a, _, err := application.Actor(asMember)
	if err != nil {
		return pm.Actor{}, fmt.Errorf("load member %s: %w", asMember, err)
	}
	return a, nil
}

// printJSON writes v to stdout when --json is set and reports whether it did.
func printJSON(cmd *cobra.Command, v any) (bool, error) {
	if !jsonOutput {
		return false, nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

// parseIDs reads message or label ids from arguments.
func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&asMember, "as", "", "member name to act as")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
