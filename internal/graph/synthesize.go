// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package graph

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sigil-dev/bbsgraph/internal/store"
)

// TimestampLayout is the timestamp format used in context lines.
const TimestampLayout = "2006-01-02 15:04:05"

// Estimator returns the token cost of a string.
type Estimator func(string) int

// RuneCount counts one token per rune. It overestimates for most
// languages, which keeps the budget safe for CJK text.
func RuneCount(s string) int {
	return utf8.RuneCountInString(s)
}

// Citation identifies a post included in a synthesized context.
type Citation struct {
	SequenceNo  int64     `json:"sequence_no"`
	AuthorLabel string    `json:"author_label"`
	Timestamp   time.Time `json:"timestamp"`
}

// Context is the prompt context built from a traversal.
type Context struct {
	Text      string
	Citations []Citation
	// Tokens is the estimated cost of Text.
	Tokens int
	// Dropped counts visits left out because the budget ran out.
	Dropped int
}

// FormatLine renders a node as "No.<seq> <author> <timestamp>: <content>".
func FormatLine(n *store.Node) string {
	return fmt.Sprintf("No.%d %s %s: %s",
		n.SequenceNo, n.AuthorLabel, n.Timestamp.Format(TimestampLayout), n.Content)
}

// Synthesize joins one line per visit, in order, until the next line would
// push the estimated cost past budget. Nodes are included whole or not at
// all. A nil estimator counts runes.
func Synthesize(visits []Visit, budget int, estimate Estimator) Context {
	if estimate == nil {
		estimate = RuneCount
	}

	var (
		b   strings.Builder
		out Context
	)
	sep := estimate("\n")
	for i, v := range visits {
		line := FormatLine(v.Node)
		cost := estimate(line)
		if i > 0 {
			cost += sep
		}
		if out.Tokens+cost > budget {
			out.Dropped = len(visits) - i
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		out.Tokens += cost
		out.Citations = append(out.Citations, Citation{
			SequenceNo:  v.Node.SequenceNo,
			AuthorLabel: v.Node.AuthorLabel,
			Timestamp:   v.Node.Timestamp,
		})
	}
	out.Text = b.String()
	return out
}
