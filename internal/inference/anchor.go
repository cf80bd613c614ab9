// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference

import (
	"context"
	"regexp"
	"strconv"
)

// anchorPattern matches the >>N reply anchors used on Japanese boards,
// including the full-width ＞＞ form and ranges like >>3-5.
var anchorPattern = regexp.MustCompile(`(?:>>|＞＞|&gt;&gt;)(\d{1,9})(?:-(\d{1,9}))?`)

// maxAnchorRange bounds how many posts a single >>a-b range may expand to.
const maxAnchorRange = 10

// AnchorModel is the Model value of anchor triples.
const AnchorModel = "anchor"

// AnchorInferrer extracts explicit >>N anchors from post content. Anchors
// are authored by the poster, so triples carry confidence 1.
type AnchorInferrer struct{}

func (AnchorInferrer) InferReplies(_ context.Context, w Window) ([]Triple, error) {
	var out []Triple
	for _, n := range w.Targets {
		seen := make(map[int64]bool)
		for _, m := range anchorPattern.FindAllStringSubmatch(n.Content, -1) {
			from, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			to := from
			if m[2] != "" {
				if v, err := strconv.ParseInt(m[2], 10, 64); err == nil && v >= from && v-from < maxAnchorRange {
					to = v
				}
			}
			for target := from; target <= to; target++ {
				if target >= n.SequenceNo || seen[target] {
					continue
				}
				seen[target] = true
				out = append(out, Triple{SourceNo: n.SequenceNo, TargetNo: target, Confidence: 1, Model: AnchorModel})
			}
		}
	}
	return out, nil
}
