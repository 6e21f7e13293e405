// Package domain holds the pure deal lifecycle rules: status derivation from
// stage flags, dwell time math, and the stuck-deal predicate. Nothing in here
// touches storage or the clock besides the instants passed in.
package domain

import (
	"math"
	"time"
)

// Status is the lifecycle state of a deal.
type Status string

const (
	StatusOpen    Status = "open"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
	StatusPending Status = "pending"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusWon, StatusLost, StatusPending:
		return true
	}
	return false
}

// IsClosed reports whether the deal has reached a terminal outcome.
func (s Status) IsClosed() bool {
	return s == StatusWon || s == StatusLost
}

// StageFlags is the slice of a stage definition the deriver needs.
type StageFlags struct {
	Probability  int
	IsClosedWon  bool
	IsClosedLost bool
}

// Derivation is the outcome of running the status deriver.
type Derivation struct {
	Status          Status
	Probability     int
	ActualCloseDate *time.Time
	Reopened        bool
}

// DeriveStatus computes the deal's status, probability and close date from
// the stage it lands on. Terminal stages force won/lost with the stage's
// configured probability taken as-is. Landing on a non-terminal stage sets
// the deal open and clears the close date, which is how a closed deal is
// reopened. An explicit probability override wins only on non-terminal
// stages; terminal probabilities are never overridden.
func DeriveStatus(current Status, flags StageFlags, overrideProbability *int, now time.Time) Derivation {
	switch {
	case flags.IsClosedWon:
		closeDate := now
		return Derivation{Status: StatusWon, Probability: flags.Probability, ActualCloseDate: &closeDate}
	case flags.IsClosedLost:
		closeDate := now
		return Derivation{Status: StatusLost, Probability: flags.Probability, ActualCloseDate: &closeDate}
	default:
		probability := flags.Probability
		if overrideProbability != nil {
			probability = *overrideProbability
		}
		return Derivation{
			Status:      StatusOpen,
			Probability: probability,
			Reopened:    current.IsClosed(),
		}
	}
}

// DaysInStage computes live dwell time as whole days, rounding any partial
// day up. A deal that entered its stage moments ago has spent 1 day in it;
// zero only happens when now does not trail enteredAt.
func DaysInStage(enteredAt, now time.Time) int {
	elapsed := now.Sub(enteredAt)
	if elapsed <= 0 {
		return 0
	}
	return int(math.Ceil(elapsed.Hours() / 24))
}

// IsStuck reports whether an open deal has been sitting in its current stage
// for more than thresholdDays. Closed deals are never stuck.
func IsStuck(status Status, enteredAt, now time.Time, thresholdDays int) bool {
	if status != StatusOpen {
		return false
	}
	return DaysInStage(enteredAt, now) > thresholdDays
}
