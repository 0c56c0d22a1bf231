package outbox

import (
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
)

// State is a step of one coordinated write.
type State string

const (
	StateIdle            State = "idle"
	StateTransactionOpen State = "transaction_open"
	StateDomainWritten   State = "domain_written"
	StateOutboxWritten   State = "outbox_written"
	StateCommitted       State = "committed"
	StateAborted         State = "aborted"
)

var transitions = map[State][]State{
	StateIdle:            {StateTransactionOpen},
	StateTransactionOpen: {StateDomainWritten, StateAborted},
	StateDomainWritten:   {StateOutboxWritten, StateAborted},
	StateOutboxWritten:   {StateCommitted, StateAborted},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a write.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// tracker follows one write through its states.
type tracker struct {
	op      string
	state   State
	logger  logging.Logger
	metrics metrics.Metrics
}

func newTracker(op string, logger logging.Logger, m metrics.Metrics) *tracker {
	return &tracker{op: op, state: StateIdle, logger: logger, metrics: m}
}

func (t *tracker) to(next State) {
	if !CanTransition(t.state, next) {
		t.logger.Error("outbox invalid state transition", "op", t.op, "from", t.state, "to", next)
		return
	}
	t.logger.Debug("outbox state transition", "op", t.op, "from", t.state, "to", next)
	t.state = next
	t.metrics.OutboxTransaction(string(next))
}
