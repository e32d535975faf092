package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/config"
)

var (
	cfg           *config.Config
	questionsFile string
)

var rootCmd = &cobra.Command{
	Use:   "site-analyzer",
	Short: "Answer a fixed set of questions about company websites",
	Long:  "Reads companies and websites from a CSV or XLSX file, crawls each website, extracts its visible text and asks Claude a fixed set of questions about it.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if questionsFile != "" {
			cfg.Questions.Source = "file"
			cfg.Questions.File = questionsFile
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&questionsFile, "questions", "", "YAML or JSON question file (overrides questions.source)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
