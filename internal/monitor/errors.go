package monitor

import (
	"errors"
	"fmt"

	"sqlsentry/internal/logstore"
)

// Kind groups cycle failures by which part of the pipeline broke.
type Kind string

const (
	// KindConnectivity covers unreachable backends, the log store,
	// the checkpoint store, Telegram.
	KindConnectivity Kind = "connectivity"

	// KindData covers pages the reader could not interpret.
	KindData Kind = "data"

	// KindModel covers training failures and classifier panics.
	KindModel Kind = "model"

	// KindDelivery covers alert sends that were attempted and failed.
	KindDelivery Kind = "delivery"
)

// CycleError wraps a failure from one poll cycle with enough context to
// log and to decide whether the monitor should degrade.
type CycleError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("monitor %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func newCycleError(kind Kind, op string, err error) *CycleError {
	return &CycleError{Kind: kind, Op: op, Err: err}
}

// classifyPollError maps reader failures onto a Kind. Malformed pages
// are a data problem an operator must fix in the column mapping,
// everything else is treated as connectivity.
func classifyPollError(err error) Kind {
	if errors.Is(err, logstore.ErrMalformedRecord) || errors.Is(err, logstore.ErrInvalidMapping) {
		return KindData
	}
	return KindConnectivity
}
