// Package calllog records one summary row per finished call: the negotiated
// transport contract, timing, and playback quality counters. The store is
// optional; without a configured DSN the summary still lands in the log.
package calllog

import (
	"context"
	"time"
)

// Record is the end-of-call summary.
type Record struct {
	// CallID is the AudioSocket call UUID.
	CallID string

	// Context is the originating dialplan context, if any.
	Context string

	// Provider and Profile name the resolved transport selections.
	Provider string
	Profile  string

	// ProfileSource is "negotiated" or "legacy".
	ProfileSource string

	// Wire, ProviderInput and ProviderOutput are the locked formats, in
	// "encoding@rate" form.
	Wire           string
	ProviderInput  string
	ProviderOutput string

	// Remediation is the negotiation substitution note, empty when the
	// preferred formats were used as-is.
	Remediation string

	// StartedAt and EndedAt bound the call.
	StartedAt time.Time
	EndedAt   time.Time

	// PlayedMs is the total agent audio time delivered to the wire.
	PlayedMs int64

	// Underflows, GateClosures and DriftPercent are the playback quality
	// counters at call end.
	Underflows   int64
	GateClosures int64
	DriftPercent float64

	// EndReason describes why the call ended ("hangup", "provider_error", …).
	EndReason string
}

// Store persists call records.
type Store interface {
	// Insert writes one record. Records are append-only.
	Insert(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Healthy reports whether the store can serve requests.
	Healthy(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}
