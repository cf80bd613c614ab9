// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"github.com/google/uuid"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// Valid reports whether the edge type is known.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeReplyTo, EdgeSequentialTo:
		return true
	default:
		return false
	}
}

// Validate checks that the Node has all required fields set correctly.
func (n Node) Validate() error {
	if n.SequenceNo <= 0 {
		return sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "node: sequence number must be positive, got %d", n.SequenceNo)
	}
	if n.Timestamp.IsZero() {
		return sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "node %d: Timestamp is required", n.SequenceNo)
	}
	return nil
}

// Validate checks that the Edge is well formed. It does not check that the
// endpoints exist; the store enforces that.
func (e Edge) Validate() error {
	if e.SourceID == uuid.Nil || e.TargetID == uuid.Nil {
		return sigilerr.New(sigilerr.CodeStoreInvalidInput, "edge: source and target are required")
	}
	if e.SourceID == e.TargetID {
		return sigilerr.New(sigilerr.CodeStoreInvalidInput, "edge: self loops are not allowed",
			sigilerr.FieldNodeID(e.SourceID))
	}
	if !e.Type.Valid() {
		return sigilerr.Errorf(sigilerr.CodeStoreInvalidInput, "edge: invalid type %q", e.Type)
	}
	if e.ID != EdgeID(e.SourceID, e.TargetID, e.Type) {
		return sigilerr.New(sigilerr.CodeStoreInvalidInput, "edge: ID does not match endpoints")
	}
	return nil
}
