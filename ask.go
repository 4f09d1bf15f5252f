package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"edurag/internal/app"
	"edurag/internal/service/qa"
)

func askCmd() *cobra.Command {
	var (
		docsOnly  bool
		sessionID string
		strategy  string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := qa.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			if docsOnly {
				s = qa.StrategyDocsOnly
			}

			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out := cmd.OutOrStdout()
			answer, err := a.QA.Ask(ctx, qa.Request{
				Question:  strings.Join(args, " "),
				SessionID: sessionID,
				Strategy:  s,
				OnDelta: func(chunk string) error {
					_, err := fmt.Fprint(out, chunk)
					return err
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			if !answer.FromDocuments {
				if answer.FallbackReason != "" {
					fmt.Fprintf(out, "\n(general knowledge: %s)\n", answer.FallbackReason)
				} else {
					fmt.Fprintln(out, "\n(general knowledge)")
				}
				return nil
			}
			fmt.Fprintln(out, "\nSources:")
			for _, c := range answer.Citations {
				fmt.Fprintf(out, "  - %s (score %.3f)\n", c.SourceFile, c.Score)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&docsOnly, "docs-only", false, "answer only from uploaded documents")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id recorded with the query")
	cmd.Flags().StringVar(&strategy, "strategy", "auto", "auto, docs_only, general_only or hybrid")
	return cmd
}
