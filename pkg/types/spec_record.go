package types

import "time"

// SpecRecord is the stored form of a feature's source-of-truth spec: the
// serialized document plus the version it was rendered at.
type SpecRecord struct {
	// Name is the feature name and the record key.
	Name string `json:"name"`

	// Version is the monotonic spec version.
	Version uint64 `json:"version"`

	// Body is the serialized spec document.
	Body string `json:"body"`

	// ChangeID is the change whose batch produced this version; empty for
	// version 0.
	ChangeID string `json:"change_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SpecHistoryEntry records one accepted version of a spec.
type SpecHistoryEntry struct {
	// HistoryID is a UUID v7 of the history entry.
	HistoryID string `json:"history_id"`

	Name     string `json:"name"`
	Version  uint64 `json:"version"`
	Body     string `json:"body"`
	ChangeID string `json:"change_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
