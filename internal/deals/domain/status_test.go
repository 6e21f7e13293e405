package domain

import (
	"testing"
	"time"
)

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	override := 42

	tests := []struct {
		name            string
		current         Status
		flags           StageFlags
		override        *int
		wantStatus      Status
		wantProbability int
		wantCloseDate   bool
		wantReopened    bool
	}{
		{
			name:            "open deal onto non-terminal stage",
			current:         StatusOpen,
			flags:           StageFlags{Probability: 25},
			wantStatus:      StatusOpen,
			wantProbability: 25,
		},
		{
			name:            "closed-won stage forces won with close date",
			current:         StatusOpen,
			flags:           StageFlags{Probability: 100, IsClosedWon: true},
			wantStatus:      StatusWon,
			wantProbability: 100,
			wantCloseDate:   true,
		},
		{
			name:            "closed-lost stage forces lost",
			current:         StatusOpen,
			flags:           StageFlags{Probability: 0, IsClosedLost: true},
			wantStatus:      StatusLost,
			wantProbability: 0,
			wantCloseDate:   true,
		},
		{
			name:            "won deal back to non-terminal reopens and clears close date",
			current:         StatusWon,
			flags:           StageFlags{Probability: 25},
			wantStatus:      StatusOpen,
			wantProbability: 25,
			wantReopened:    true,
		},
		{
			name:            "lost deal back to non-terminal reopens",
			current:         StatusLost,
			flags:           StageFlags{Probability: 50},
			wantStatus:      StatusOpen,
			wantProbability: 50,
			wantReopened:    true,
		},
		{
			name:            "override wins on non-terminal stage",
			current:         StatusOpen,
			flags:           StageFlags{Probability: 25},
			override:        &override,
			wantStatus:      StatusOpen,
			wantProbability: 42,
		},
		{
			name:            "override ignored on terminal stage",
			current:         StatusOpen,
			flags:           StageFlags{Probability: 100, IsClosedWon: true},
			override:        &override,
			wantStatus:      StatusWon,
			wantProbability: 100,
			wantCloseDate:   true,
		},
		{
			name:            "pending deal normalized to open on first move",
			current:         StatusPending,
			flags:           StageFlags{Probability: 10},
			wantStatus:      StatusOpen,
			wantProbability: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.current, tt.flags, tt.override, now)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.Probability != tt.wantProbability {
				t.Errorf("probability = %d, want %d", got.Probability, tt.wantProbability)
			}
			if tt.wantCloseDate && (got.ActualCloseDate == nil || !got.ActualCloseDate.Equal(now)) {
				t.Errorf("actualCloseDate = %v, want %v", got.ActualCloseDate, now)
			}
			if !tt.wantCloseDate && got.ActualCloseDate != nil {
				t.Errorf("actualCloseDate = %v, want nil", got.ActualCloseDate)
			}
			if got.Reopened != tt.wantReopened {
				t.Errorf("reopened = %t, want %t", got.Reopened, tt.wantReopened)
			}
		})
	}
}

func TestDaysInStage(t *testing.T) {
	entered := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same instant", entered, 0},
		{"clock went backwards", entered.Add(-time.Hour), 0},
		{"one minute rounds up to a day", entered.Add(time.Minute), 1},
		{"exactly one day", entered.Add(24 * time.Hour), 1},
		{"a day and a second rounds up", entered.Add(24*time.Hour + time.Second), 2},
		{"a week", entered.Add(7 * 24 * time.Hour), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysInStage(entered, tt.now); got != tt.want {
				t.Errorf("DaysInStage = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsStuck(t *testing.T) {
	entered := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	tenDaysLater := entered.Add(10 * 24 * time.Hour)

	if !IsStuck(StatusOpen, entered, tenDaysLater, 7) {
		t.Error("open deal past threshold should be stuck")
	}
	if IsStuck(StatusOpen, entered, entered.Add(3*24*time.Hour), 7) {
		t.Error("open deal within threshold should not be stuck")
	}
	if IsStuck(StatusOpen, entered, entered.Add(7*24*time.Hour), 7) {
		t.Error("dwell equal to threshold is not stuck, only exceeding it")
	}
	if IsStuck(StatusWon, entered, tenDaysLater, 7) {
		t.Error("won deal is never stuck")
	}
	if IsStuck(StatusLost, entered, tenDaysLater, 7) {
		t.Error("lost deal is never stuck")
	}
}
