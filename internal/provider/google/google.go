// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"

	"google.golang.org/genai"

	"github.com/sigil-dev/bbsgraph/internal/provider"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
	"github.com/sigil-dev/bbsgraph/pkg/health"
)

// Config holds Google Gemini provider configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server
}

// Provider implements provider.Provider and provider.Embedder using the
// Google GenAI SDK.
type Provider struct {
	client *genai.Client
	config Config
	health *provider.HealthTracker
}

// New creates a new Google provider. Returns an error if the API key is missing.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, sigilerr.New(sigilerr.CodeProviderRequestInvalid, "google: missing api_key in config", sigilerr.FieldProvider("google"))
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, sigilerr.Wrapf(err, sigilerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	tracker, err := provider.NewHealthTracker(provider.DefaultHealthCooldown)
	if err != nil {
		return nil, sigilerr.Wrapf(err, sigilerr.CodeProviderRequestInvalid, "google: creating health tracker")
	}

	return &Provider{
		client: client,
		config: cfg,
		health: tracker,
	}, nil
}

func (p *Provider) Name() string { return "google" }

func (p *Provider) Available(_ context.Context) bool {
	return p.health.IsHealthy()
}

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

// HealthMetrics reports the provider's failure history.
func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	if req.Model == "" {
		return nil, sigilerr.New(sigilerr.CodeProviderRequestInvalid, "google: model is required", sigilerr.FieldProvider("google"))
	}
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, sigilerr.Wrapf(err, sigilerr.CodeProviderRequestInvalid, "google: converting messages")
	}

	config := buildConfig(req)

	eventCh := make(chan provider.ChatEvent, 100)

	go func() {
		defer close(eventCh)
		p.streamChat(ctx, req.Model, contents, config, eventCh)
	}()

	return eventCh, nil
}

// Embed returns one vector per text using the EmbedContent API.
func (p *Provider) Embed(ctx context.Context, req provider.EmbedRequest) ([][]float32, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	if req.Model == "" {
		return nil, sigilerr.New(sigilerr.CodeProviderRequestInvalid, "google: embedding model is required", sigilerr.FieldProvider("google"))
	}

	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}

	cfg := &genai.EmbedContentConfig{}
	if req.Dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(req.Dimensions))
	}

	resp, err := p.client.Models.EmbedContent(ctx, req.Model, contents, cfg)
	if err != nil {
		p.health.RecordFailure()
		return nil, sigilerr.Wrap(err, sigilerr.CodeProviderUpstreamFailure, "google: embed content", sigilerr.FieldProvider("google"))
	}
	p.health.RecordSuccess()

	if len(resp.Embeddings) != len(req.Texts) {
		return nil, sigilerr.New(sigilerr.CodeProviderResponseInvalid,
			"google: embeddings count does not match input",
			sigilerr.FieldProvider("google"),
			sigilerr.Field("want", len(req.Texts)),
			sigilerr.Field("got", len(resp.Embeddings)))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, sigilerr.Errorf(sigilerr.CodeProviderResponseInvalid, "google: empty embedding at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{
		Available: p.Available(ctx),
		Provider:  "google",
		Message:   "ok",
	}, nil
}

func (p *Provider) Close() error { return nil }

// buildConfig maps chat options onto a GenerateContentConfig.
func buildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Options.Temperature)
	}

	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}

	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}

	if req.Options.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: req.SystemPrompt},
			},
		}
	}

	return cfg
}

// convertMessages transforms provider messages into genai contents.
// Gemini names the assistant role "model".
func convertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			result = append(result, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		case provider.MessageRoleAssistant:
			result = append(result, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			return nil, sigilerr.Errorf(sigilerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}

	return result, nil
}

// streamChat runs the streaming loop, converting SDK responses into provider.ChatEvent values.
func (p *Provider) streamChat(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
	ch chan<- provider.ChatEvent,
) {
	var usage *provider.Usage

	for result, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			if ctx.Err() == nil {
				p.health.RecordFailure()
			}
			provider.Send(ctx, ch, provider.ChatEvent{
				Type:  provider.EventTypeError,
				Error: err.Error(),
			})
			return
		}

		for _, candidate := range result.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text == "" || part.Thought {
					continue
				}
				if !provider.Send(ctx, ch, provider.ChatEvent{
					Type: provider.EventTypeTextDelta,
					Text: part.Text,
				}) {
					return
				}
			}
		}

		// Each chunk carries cumulative usage; only the last one is reported.
		if result.UsageMetadata != nil {
			usage = &provider.Usage{
				InputTokens:  int(result.UsageMetadata.PromptTokenCount),
				OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
			}
		}
	}

	p.health.RecordSuccess()
	if usage != nil {
		if !provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeUsage, Usage: usage}) {
			return
		}
	}
	provider.Send(ctx, ch, provider.ChatEvent{Type: provider.EventTypeDone})
}
