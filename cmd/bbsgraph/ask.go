// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/bbsgraph/internal/graph"
	"github.com/sigil-dev/bbsgraph/internal/retrieval"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the archive",
		Long: `Finds the posts closest to the question, follows reply edges around them
and streams an answer grounded in those posts, followed by the cited posts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return sigilerr.New(sigilerr.CodeCLIInputInvalid, "question must not be empty")
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			rt := newRuntime(cfg, c.logger)
			defer func() { _ = rt.Close() }()

			wf, err := rt.Workflow(cmd.Context())
			if err != nil {
				return err
			}

			stream, err := wf.Ask(cmd.Context(), question)
			if err != nil {
				return err
			}
			defer stream.Close()

			return printAnswer(cmd.OutOrStdout(), stream.Events())
		},
	}
}

// printAnswer writes tokens as they arrive, then the cited posts. An error
// event ends the answer and is returned.
func printAnswer(w io.Writer, events <-chan retrieval.Event) error {
	var citations []graph.Citation
	for ev := range events {
		switch ev.Type {
		case retrieval.EventCitations:
			citations = ev.Citations
		case retrieval.EventToken:
			if _, err := io.WriteString(w, ev.Token); err != nil {
				return err
			}
		case retrieval.EventError:
			_, _ = fmt.Fprintln(w)
			return sigilerr.New(sigilerr.CodeRetrievalGenerateFailure, ev.Error)
		case retrieval.EventDone:
			_, _ = fmt.Fprintln(w)
			printCitations(w, citations)
			return nil
		}
	}
	// Closed without a terminal event: the run was canceled.
	_, _ = fmt.Fprintln(w)
	return nil
}

func printCitations(w io.Writer, citations []graph.Citation) {
	if len(citations) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nSources:")
	for _, c := range citations {
		_, _ = fmt.Fprintf(w, "  No.%d %s %s\n", c.SequenceNo, c.AuthorLabel, c.Timestamp.Format(graph.TimestampLayout))
	}
}
