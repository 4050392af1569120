// SPDX-License-Identifier: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootLogger = logrus.StandardLogger()

// rootCmd is the basalt binary's entry point, following the teacher's
// cobra root-command idiom (cmd/cli's per-subsystem command builders,
// collapsed here into a single small binary).
var rootCmd = &cobra.Command{
	Use:   "basalt",
	Short: "Basalt permissioned proof-of-stake node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		lvlStr := os.Getenv("LOG_LEVEL")
		if lvlStr == "" {
			lvlStr = "info"
		}
		lvl, err := logrus.ParseLevel(lvlStr)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", lvlStr, err)
		}
		rootLogger.SetLevel(lvl)
		rootLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootLogger.WithError(err).Error("basalt: fatal")
		os.Exit(1)
	}
}
