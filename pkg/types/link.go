package types

import "time"

// Link type constants.
const (
	LinkDependsOn  = "depends_on" // change -> change
	LinkImplements = "implements" // change -> feature
)

// ValidLinkType reports whether t is a recognized link type.
func ValidLinkType(t string) bool {
	return t == LinkDependsOn || t == LinkImplements
}

// Link represents a directed edge in the artifact graph.
type Link struct {
	// LinkID is a UUID v7, generated on creation.
	LinkID string `json:"link_id"`

	// LinkType is depends_on or implements.
	LinkType string `json:"link_type"`

	// FromID is the source node id.
	FromID string `json:"from_id"`

	// ToID is the target node id.
	ToID string `json:"to_id"`

	CreatedAt time.Time `json:"created_at"`
}
