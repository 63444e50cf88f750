package app

import (
	"time"

	"tally-go/internal/tally"
)

// Operation tracks one CLI command run. Its RunID tags every log line the
// run writes, so a run can be picked out of the shared log file.
type Operation struct {
	RunID     string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
	Error     string
}

// NewOperation creates an Operation for command starting now. The run id is
// the start time in UTC plus a per-process suffix from idgen.
func NewOperation(command string, clock tally.Clock, idgen tally.IDGenerator) *Operation {
	now := clock.Now().UTC()
	id := idgen.New()
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return &Operation{
		RunID:     now.Format("20060102T150405Z") + "-" + id,
		Command:   command,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed with err.
func (op *Operation) Fail(err error) {
	if err == nil {
		return
	}
	op.Status = "error"
	op.Error = err.Error()
}

// Failed reports whether Fail was called with an error.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}
