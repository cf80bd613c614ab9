// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"strings"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Collect drains a chat stream into a single string. It is meant for
// non-interactive calls such as relationship inference.
func Collect(ctx context.Context, events <-chan ChatEvent) (string, *Usage, error) {
	var (
		sb    strings.Builder
		usage *Usage
	)
	for {
		select {
		case <-ctx.Done():
			return sb.String(), usage, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return sb.String(), usage, nil
			}
			switch ev.Type {
			case EventTypeTextDelta:
				sb.WriteString(ev.Text)
			case EventTypeUsage:
				usage = ev.Usage
			case EventTypeError:
				return sb.String(), usage, sigilerr.New(sigilerr.CodeProviderUpstreamFailure, ev.Error)
			case EventTypeDone:
				return sb.String(), usage, nil
			}
		}
	}
}
