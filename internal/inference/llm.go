// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	DefaultMaxPostChars = 400
	defaultMaxTokens    = 1024
	timestampLayout     = "2006-01-02 15:04:05"
)

const systemPrompt = `You analyse threads from an anonymous Japanese message board.
Posts are numbered in order of arrival. A post replies to an earlier post when it answers, quotes, or reacts to it.
Only report replies you can justify from the text. Respond with JSON only.`

// Chatter opens a streamed chat completion. *provider.Registry implements it.
type Chatter interface {
	Chat(ctx context.Context, modelRef string, req provider.ChatRequest) (<-chan provider.ChatEvent, string, error)
}

// LLMConfig configures an LLMInferrer.
type LLMConfig struct {
	// Model is a provider/model ref; empty uses the registry default.
	Model        string
	MaxPostChars int
	Logger       *slog.Logger
}

// LLMInferrer asks a chat model which earlier posts each target replies to.
type LLMInferrer struct {
	chat         Chatter
	model        string
	maxPostChars int
	logger       *slog.Logger
}

// NewLLMInferrer returns an LLMInferrer that routes through chat.
func NewLLMInferrer(chat Chatter, cfg LLMConfig) *LLMInferrer {
	if cfg.MaxPostChars <= 0 {
		cfg.MaxPostChars = DefaultMaxPostChars
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMInferrer{
		chat:         chat,
		model:        cfg.Model,
		maxPostChars: cfg.MaxPostChars,
		logger:       cfg.Logger,
	}
}

func (l *LLMInferrer) InferReplies(ctx context.Context, w Window) ([]Triple, error) {
	if len(w.Targets) == 0 {
		return nil, nil
	}

	req := provider.ChatRequest{
		SystemPrompt: systemPrompt,
		Messages: []provider.Message{
			{Role: provider.MessageRoleUser, Content: BuildPrompt(w, l.maxPostChars)},
		},
		Options: provider.ChatOptions{MaxTokens: defaultMaxTokens, JSONOutput: true},
	}

	events, used, err := l.chat.Chat(ctx, l.model, req)
	if err != nil {
		return nil, upstreamErr(ctx, err, "opening inference stream")
	}

	text, usage, err := provider.Collect(ctx, events)
	if err != nil {
		return nil, upstreamErr(ctx, err, "reading inference stream")
	}
	if usage != nil {
		l.logger.Debug("inference call",
			"model", used,
			"targets", len(w.Targets),
			"input_tokens", usage.InputTokens,
			"output_tokens", usage.OutputTokens,
		)
	}

	triples, err := ParseReplies(text)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeInferenceResponseInvalid,
			"parsing inference response", sigilerr.Field("model", used))
	}

	return stampModel(triples, used), nil
}

func upstreamErr(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sigilerr.Reclassify(err, sigilerr.CodeInferenceUpstreamFailure, msg)
}

// stampModel records which model produced each triple.
func stampModel(triples []Triple, model string) []Triple {
	for i := range triples {
		triples[i].Model = model
	}
	return triples
}

// BuildPrompt renders the window as the user message of an inference call.
func BuildPrompt(w Window, maxPostChars int) string {
	var sb strings.Builder
	if len(w.Context) > 0 {
		sb.WriteString("Earlier posts:\n")
		for _, n := range w.Context {
			writePost(&sb, n, maxPostChars)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Target posts:\n")
	for _, n := range w.Targets {
		writePost(&sb, n, maxPostChars)
	}
	sb.WriteString(`
For each target post, list the earlier posts it directly replies to.
Answer with {"replies":[{"source":<target post number>,"target":<replied-to post number>,"confidence":<0.0-1.0>}]}.
Answer {"replies":[]} when no target replies to anything.`)
	return sb.String()
}

func writePost(sb *strings.Builder, n *store.Node, maxChars int) {
	fmt.Fprintf(sb, "No.%d %s %s: %s\n",
		n.SequenceNo, n.AuthorLabel, n.Timestamp.Format(timestampLayout),
		truncate(strings.Join(strings.Fields(n.Content), " "), maxChars))
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "…"
}

// ParseReplies extracts triples from a model answer. It accepts the JSON
// object alone, wrapped in a code fence, or surrounded by prose, and also a
// bare array of triples.
func ParseReplies(text string) ([]Triple, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return nil, sigilerr.New(sigilerr.CodeInferenceResponseInvalid, "empty response")
	}

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		var envelope struct {
			Replies *[]Triple `json:"replies"`
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &envelope); err == nil && envelope.Replies != nil {
			return *envelope.Replies, nil
		}
	}

	if start, end := strings.Index(body, "["), strings.LastIndex(body, "]"); start >= 0 && end > start {
		var list []Triple
		if err := json.Unmarshal([]byte(body[start:end+1]), &list); err == nil {
			return list, nil
		}
	}

	return nil, sigilerr.New(sigilerr.CodeInferenceResponseInvalid,
		"no replies object in response", sigilerr.Field("response", truncate(body, 200)))
}
