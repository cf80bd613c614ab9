// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/inference"
	"github.com/sigil-dev/bbsgraph/internal/provider"
	"github.com/sigil-dev/bbsgraph/internal/store"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func post(no int64, content string) *store.Node {
	return &store.Node{
		SequenceNo:  no,
		AuthorLabel: "名無しさん",
		Content:     content,
		Timestamp:   baseTime.Add(time.Duration(no) * time.Minute),
	}
}

// fakeChatter replays canned answers, one per call.
type fakeChatter struct {
	answers []string
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeChatter) Chat(_ context.Context, _ string, req provider.ChatRequest) (<-chan provider.ChatEvent, string, error) {
	i := f.calls
	f.calls++
	if len(req.Messages) > 0 {
		f.prompts = append(f.prompts, req.Messages[0].Content)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, "", f.errs[i]
	}
	answer := ""
	if i < len(f.answers) {
		answer = f.answers[i]
	}
	ch := make(chan provider.ChatEvent, 2)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: answer}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, "fake/model", nil
}

func TestParseReplies(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{"plain object", `{"replies":[{"source":3,"target":1,"confidence":0.9}]}`, 1, false},
		{"code fence", "```json\n{\"replies\":[{\"source\":3,\"target\":1,\"confidence\":0.9}]}\n```", 1, false},
		{"prose around", `Here you go: {"replies":[]} hope this helps`, 0, false},
		{"bare array", `[{"source":4,"target":2,"confidence":0.7},{"source":4,"target":3,"confidence":0.6}]`, 2, false},
		{"empty", "   ", 0, true},
		{"garbage", "I cannot tell.", 0, true},
		{"wrong object", `{"answer":"none"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inference.ParseReplies(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, sigilerr.IsInvalidResponse(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestBuildPrompt_TruncatesAndListsBothSections(t *testing.T) {
	long := ""
	for range 50 {
		long += "あいうえお"
	}
	w := inference.Window{
		Context: []*store.Node{post(1, "スレ立て乙")},
		Targets: []*store.Node{post(2, long)},
	}
	prompt := inference.BuildPrompt(w, 10)

	assert.Contains(t, prompt, "Earlier posts:\nNo.1 名無しさん 2024-03-01 12:01:00: スレ立て乙")
	assert.Contains(t, prompt, "No.2 名無しさん 2024-03-01 12:02:00: あいうえおあいうえお…\n")
	assert.Contains(t, prompt, `"replies"`)
}

func TestLLMInferrer_ReturnsEveryTripleForTheCaller(t *testing.T) {
	chat := &fakeChatter{answers: []string{`{"replies":[
		{"source":3,"target":1,"confidence":0.9},
		{"source":9,"target":1,"confidence":0.9},
		{"source":3,"target":4,"confidence":0.9},
		{"source":4,"target":2,"confidence":1.7}
	]}`}}
	inf := inference.NewLLMInferrer(chat, inference.LLMConfig{})

	got, err := inf.InferReplies(context.Background(), inference.Window{
		Context: []*store.Node{post(1, "a"), post(2, "b")},
		Targets: []*store.Node{post(3, "c"), post(4, "d")},
	})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, inference.Triple{SourceNo: 3, TargetNo: 1, Confidence: 0.9, Model: "fake/model"}, got[0])
	for _, tr := range got {
		assert.Equal(t, "fake/model", tr.Model)
	}
}

func TestLLMInferrer_ErrorClasses(t *testing.T) {
	w := inference.Window{Targets: []*store.Node{post(2, "x")}}

	upstream := &fakeChatter{errs: []error{sigilerr.New(sigilerr.CodeProviderAllUnavailable, "down")}}
	_, err := inference.NewLLMInferrer(upstream, inference.LLMConfig{}).InferReplies(context.Background(), w)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeInferenceUpstreamFailure))
	assert.True(t, sigilerr.IsTransient(err))

	garbled := &fakeChatter{answers: []string{"no idea"}}
	_, err = inference.NewLLMInferrer(garbled, inference.LLMConfig{}).InferReplies(context.Background(), w)
	assert.True(t, sigilerr.IsInvalidResponse(err))

	empty := &fakeChatter{}
	got, err := inference.NewLLMInferrer(empty, inference.LLMConfig{}).InferReplies(context.Background(), inference.Window{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, empty.calls)
}

func TestAnchorInferrer(t *testing.T) {
	w := inference.Window{Targets: []*store.Node{
		post(10, ">>3 それな\n>>5-7 お前ら"),
		post(11, "＞＞10 全角アンカー >>10"),
		post(12, ">>12 自分 >>99 未来"),
	}}
	got, err := inference.AnchorInferrer{}.InferReplies(context.Background(), w)
	require.NoError(t, err)

	pairs := make([][2]int64, 0, len(got))
	for _, tr := range got {
		assert.Equal(t, 1.0, tr.Confidence)
		assert.Equal(t, inference.AnchorModel, tr.Model)
		pairs = append(pairs, [2]int64{tr.SourceNo, tr.TargetNo})
	}
	assert.Equal(t, [][2]int64{{10, 3}, {10, 5}, {10, 6}, {10, 7}, {11, 10}}, pairs)
}

func TestMerge_KeepsHighestConfidence(t *testing.T) {
	a := inference.InferrerFunc(func(context.Context, inference.Window) ([]inference.Triple, error) {
		return []inference.Triple{{SourceNo: 5, TargetNo: 2, Confidence: 0.6}}, nil
	})
	b := inference.InferrerFunc(func(context.Context, inference.Window) ([]inference.Triple, error) {
		return []inference.Triple{{SourceNo: 5, TargetNo: 2, Confidence: 1}, {SourceNo: 5, TargetNo: 1, Confidence: 0.7}}, nil
	})
	got, err := inference.Merge(a, b).InferReplies(context.Background(), inference.Window{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Confidence)

	boom := inference.InferrerFunc(func(context.Context, inference.Window) ([]inference.Triple, error) {
		return nil, errors.New("boom")
	})
	_, err = inference.Merge(a, boom).InferReplies(context.Background(), inference.Window{})
	assert.Error(t, err)
}

func TestMerge_InvalidResponseKeepsOtherInferrers(t *testing.T) {
	garbled := inference.NewLLMInferrer(&fakeChatter{answers: []string{"I could not tell."}}, inference.LLMConfig{})
	w := inference.Window{
		Context: []*store.Node{post(3, "スレ立て乙")},
		Targets: []*store.Node{post(7, ">>3 そうだね")},
	}

	got, err := inference.Merge(garbled, inference.AnchorInferrer{}).InferReplies(context.Background(), w)
	require.Error(t, err)
	assert.True(t, sigilerr.IsInvalidResponse(err))
	require.Len(t, got, 1)
	assert.Equal(t, inference.Triple{SourceNo: 7, TargetNo: 3, Confidence: 1, Model: inference.AnchorModel}, got[0])
}
