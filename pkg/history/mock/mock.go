// Package mock provides an in-memory test double for the history layer.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
package mock

import (
	"context"
	"sync"

	"github.com/voxkit/voxkit/pkg/history"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable in-memory test double for [history.Store].
// Appended turns are retained and served back by Records unless overridden.
type Store struct {
	mu      sync.Mutex
	calls   []Call
	records map[string][]history.Record

	// AppendTurnErr is returned by [Store.AppendTurn] when non-nil.
	AppendTurnErr error

	// RecordsErr is returned by [Store.Records] when non-nil.
	RecordsErr error
}

var _ history.Store = (*Store)(nil)

// AppendTurn implements [history.Store].
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn history.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "AppendTurn", Args: []any{sessionID, turn}})
	if s.AppendTurnErr != nil {
		return s.AppendTurnErr
	}
	if s.records == nil {
		s.records = make(map[string][]history.Record)
	}
	s.records[sessionID] = append(s.records[sessionID],
		history.Record{SessionID: sessionID, Role: history.RoleUser, Text: turn.Transcription, CreatedAt: turn.CompletedAt},
		history.Record{SessionID: sessionID, Role: history.RoleAssistant, Text: turn.Response, CreatedAt: turn.CompletedAt},
	)
	return nil
}

// Records implements [history.Store].
func (s *Store) Records(_ context.Context, sessionID string) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Records", Args: []any{sessionID}})
	if s.RecordsErr != nil {
		return nil, s.RecordsErr
	}
	out := make([]history.Record, len(s.records[sessionID]))
	copy(out, s.records[sessionID])
	return out, nil
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Calls returns a copy of all recorded invocations in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}
