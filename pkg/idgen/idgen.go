// Package idgen generates opaque UUID identifiers for plan DAG nodes
// and edges. Sequential ids collide under rapid concurrent edits;
// UUIDs do not.
package idgen

import "github.com/google/uuid"

// New returns a new opaque identifier string.
func New() string {
	return uuid.New().String()
}

// NewNodeID returns an identifier for a plan DAG node.
func NewNodeID() string { return New() }

// NewEdgeID returns an identifier for a plan DAG edge.
func NewEdgeID() string { return New() }
