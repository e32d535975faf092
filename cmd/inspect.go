package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/site-analyzer/internal/extract"
	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/present"
	"github.com/sells-group/site-analyzer/internal/source"
)

var inspectOffline bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <url>",
	Short: "Analyze a single website and show crawl details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runInspect(ctx, args[0], inspectOffline, cmd.OutOrStdout())
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectOffline, "offline", false, "answer with a stub client (no API key needed)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(ctx context.Context, rawURL string, offline bool, w io.Writer) error {
	env, err := initAnalyzer(ctx, "analyze", offline)
	if err != nil {
		return err
	}
	defer env.Close()

	rec := model.Record{URL: source.NormalizeURL(rawURL)}
	sc, res := env.Pipeline().Process(ctx, rec)

	fmt.Fprintf(w, "Website: %s\n", rec.URL)
	fmt.Fprintf(w, "Pages fetched: %d of %d\n", sc.FetchedPages(), len(sc.Pages))
	if sc.FromCache {
		fmt.Fprintln(w, "(crawl served from cache)")
	}
	for _, p := range sc.PageErrors() {
		fmt.Fprintf(w, "  %s: %s\n", p.URL, p.Error.String())
	}

	if !sc.Failed() && len(sc.Pages) > 0 {
		root := sc.Pages[0]
		if root.Title != "" {
			fmt.Fprintf(w, "Title: %s\n", root.Title)
		}
		fmt.Fprintf(w, "\nMain page text (first %d characters):\n%s\n\n", cfg.Extract.PreviewChars,
			extract.Preview(root.Text, cfg.Extract.PreviewChars))
	}

	table := model.ResultTable{Questions: env.Questions, Results: []model.AnswerResult{res}}
	if err := present.WriteTable(w, present.Project(table)); err != nil {
		return err
	}
	if res.Usage.InputTokens > 0 {
		fmt.Fprintf(w, "Tokens: %d in, %d out (%.4f USD)\n", res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.Cost)
	}
	return ctx.Err()
}
