package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/site-analyzer/internal/registry"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Print the question set as YAML",
	Long:  "Loads the configured question set (builtin, file or Notion) and prints it in the question file format.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("questions"); err != nil {
			return err
		}
		qs, err := registry.Load(cmd.Context(), cfg.Questions, cfg.Notion)
		if err != nil {
			return eris.Wrap(err, "load questions")
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(qs)
	},
}

func init() {
	rootCmd.AddCommand(questionsCmd)
}
