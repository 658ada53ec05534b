package attendance

import (
	"context"
	"time"
)

const (
	opStatus = "status"
	opFields = "fields"
	opCreate = "create"
)

// Outcome is how a mutation ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeSuperseded Outcome = "superseded"
)

// Mutation describes one finished SetStatus or UpdateFields call.
type Mutation struct {
	RecordID string
	Op       string
	From     Status
	To       Status
	Outcome  Outcome
	Message  string
	At       time.Time
}

// Journal receives mutation outcomes. Append errors are logged, never returned
// to the caller of the mutation.
type Journal interface {
	Append(ctx context.Context, m Mutation) error
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, Mutation) error { return nil }
