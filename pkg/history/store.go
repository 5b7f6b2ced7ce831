// Package history defines persistent storage of completed conversation
// turns. Each finished turn is recorded as a pair of ordered records, the
// user's final transcript followed by the assistant's response, so a session
// replays in strict conversational order.
//
// The interfaces are public so alternative backends can be supplied without
// depending on voxkit internals. Every implementation must be safe for
// concurrent use.
package history

import (
	"context"
	"time"
)

// Role identifies the author of a [Record].
type Role string

const (
	// RoleUser marks the final transcript of a user utterance.
	RoleUser Role = "user"
	// RoleAssistant marks the assistant's response text.
	RoleAssistant Role = "assistant"
)

// Record is one persisted line of conversation.
type Record struct {
	// SessionID groups records belonging to one conversation session.
	SessionID string

	// Role is the record author.
	Role Role

	// Text is the record content.
	Text string

	// CreatedAt is the completion time of the turn that produced the record.
	CreatedAt time.Time
}

// Turn is a completed conversational exchange ready for persistence.
type Turn struct {
	// Transcription is the final corrected transcript of the user utterance.
	Transcription string

	// Response is the assistant's full response text.
	Response string

	// CompletedAt is when the turn finished.
	CompletedAt time.Time
}

// Store persists completed turns.
type Store interface {
	// AppendTurn atomically appends the turn's user and assistant records,
	// in that order, under sessionID.
	AppendTurn(ctx context.Context, sessionID string, turn Turn) error

	// Records returns all records for sessionID in append order.
	Records(ctx context.Context, sessionID string) ([]Record, error)
}

// Nop is a [Store] that discards every turn. Used when persistence is not
// configured.
type Nop struct{}

var _ Store = Nop{}

// AppendTurn implements [Store] as a no-op.
func (Nop) AppendTurn(context.Context, string, Turn) error { return nil }

// Records implements [Store]; it always returns an empty slice.
func (Nop) Records(context.Context, string) ([]Record, error) { return []Record{}, nil }
