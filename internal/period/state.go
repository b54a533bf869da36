// Package period decides whether an incoming snapshot creates a new monthly
// summary, amends the current one, or is rejected.
package period

import (
	"fmt"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-consumption/internal/models"
)

// State is the relation between an account's latest summary and an observation
type State int

const (
	// NoRecord means the account has no summary yet
	NoRecord State = iota
	// SameMonth means the latest summary covers the observation's month
	SameMonth
	// NewMonth means the latest summary belongs to an earlier month
	NewMonth
)

func (s State) String() string {
	switch s {
	case NoRecord:
		return "no_record"
	case SameMonth:
		return "same_month"
	case NewMonth:
		return "new_month"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Intent is the caller's declared write semantics
type Intent int

const (
	// IntentCreate fails on SameMonth (POST semantics)
	IntentCreate Intent = iota
	// IntentUpdate fails unless the current month already has a summary (PUT semantics)
	IntentUpdate
	// IntentSync creates or updates as the state requires (events and batches)
	IntentSync
)

func (i Intent) String() string {
	switch i {
	case IntentCreate:
		return "create"
	case IntentUpdate:
		return "update"
	case IntentSync:
		return "sync"
	default:
		return fmt.Sprintf("intent(%d)", int(i))
	}
}

// Classify compares the latest summary's period with the observation's month.
// An observation older than the latest period is rejected with ErrDuplicatePeriod.
func Classify(latest *models.MonthlySummary, observedAt time.Time) (State, error) {
	if latest == nil {
		return NoRecord, nil
	}

	incoming := models.PeriodOf(observedAt)
	current := models.PeriodOf(latest.PeriodStart)
	switch {
	case incoming.Equal(current):
		return SameMonth, nil
	case incoming.After(current):
		return NewMonth, nil
	default:
		return NoRecord, fmt.Errorf("%w: observation for %s is older than latest period %s of account %s",
			models.ErrDuplicatePeriod, incoming.Format("2006-01"), current.Format("2006-01"), latest.AccountID)
	}
}
