package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradbeattie/api.iscanadafair.ca/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "iscanadafair",
	Short: "Bilingual Hansard segmentation and entity resolution",
	Long:  "Splits cached EN/FR House of Commons transcripts into speaker-attributed blocks and resolves the names they mention to canonical parliamentarians, parties, ridings and provinces.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
