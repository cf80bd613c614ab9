// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package inference

import (
	"github.com/google/cel-go/cel"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// DefaultMinConfidence is the lowest confidence accepted by default.
const DefaultMinConfidence = 0.5

// Policy decides which inferred triples become REPLY_TO edges.
type Policy struct {
	minConfidence float64
	expr          string
	prg           cel.Program
}

// NewPolicy builds a policy accepting triples with confidence >=
// minConfidence. A non-empty expr is a CEL boolean expression over
// confidence (double), source_no, target_no and distance (int) that must
// also hold, e.g. "distance <= 200 || confidence >= 0.9".
func NewPolicy(minConfidence float64, expr string) (*Policy, error) {
	if minConfidence < 0 || minConfidence > 1 {
		return nil, sigilerr.Errorf(sigilerr.CodeInferencePolicyInvalid,
			"min confidence must be within [0, 1], got %v", minConfidence)
	}
	p := &Policy{minConfidence: minConfidence, expr: expr}
	if expr == "" {
		return p, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("source_no", cel.IntType),
		cel.Variable("target_no", cel.IntType),
		cel.Variable("distance", cel.IntType),
	)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeInferencePolicyInvalid, "building policy environment")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, sigilerr.Wrap(iss.Err(), sigilerr.CodeInferencePolicyInvalid,
			"compiling accept expression", sigilerr.Field("expr", expr))
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, sigilerr.New(sigilerr.CodeInferencePolicyInvalid,
			"accept expression must evaluate to bool",
			sigilerr.Field("expr", expr),
			sigilerr.Field("type", ast.OutputType().String()))
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeInferencePolicyInvalid,
			"planning accept expression", sigilerr.Field("expr", expr))
	}
	p.prg = prg
	return p, nil
}

// MinConfidence returns the confidence threshold.
func (p *Policy) MinConfidence() float64 { return p.minConfidence }

// Accept reports whether t should become an edge. Self loops are never
// accepted.
func (p *Policy) Accept(t Triple) (bool, error) {
	if t.SourceNo == t.TargetNo || t.Confidence < p.minConfidence {
		return false, nil
	}
	if p.prg == nil {
		return true, nil
	}

	out, _, err := p.prg.Eval(map[string]any{
		"confidence": t.Confidence,
		"source_no":  t.SourceNo,
		"target_no":  t.TargetNo,
		"distance":   t.SourceNo - t.TargetNo,
	})
	if err != nil {
		return false, sigilerr.Wrap(err, sigilerr.CodeInferencePolicyInvalid,
			"evaluating accept expression", sigilerr.Field("expr", p.expr))
	}
	ok, isBool := out.Value().(bool)
	return isBool && ok, nil
}
