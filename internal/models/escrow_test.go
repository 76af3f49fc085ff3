package models

import (
	"testing"
	"time"
)

func TestIsValidEscrowTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{EscrowStatusCreated, EscrowStatusLocked, true},
		{EscrowStatusCreated, EscrowStatusCancelled, true},
		{EscrowStatusLocked, EscrowStatusReleased, true},
		{EscrowStatusLocked, EscrowStatusCancelled, true},

		{EscrowStatusCreated, EscrowStatusReleased, false},
		{EscrowStatusReleased, EscrowStatusCancelled, false},
		{EscrowStatusCancelled, EscrowStatusReleased, false},
		{EscrowStatusReleased, EscrowStatusLocked, false},
		{EscrowStatusLocked, EscrowStatusExpired, false},
		{"nonexistent", EscrowStatusLocked, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidEscrowTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidEscrowTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestEffectiveStatus(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	grace := time.Hour

	tests := []struct {
		name   string
		status string
		now    time.Time
		want   string
	}{
		{"locked before deadline", EscrowStatusLocked, deadline.Add(-time.Minute), EscrowStatusLocked},
		{"locked inside grace", EscrowStatusLocked, deadline.Add(30 * time.Minute), EscrowStatusLocked},
		{"locked at deadline+grace", EscrowStatusLocked, deadline.Add(grace), EscrowStatusExpired},
		{"locked long after", EscrowStatusLocked, deadline.Add(48 * time.Hour), EscrowStatusExpired},
		{"released stays released", EscrowStatusReleased, deadline.Add(48 * time.Hour), EscrowStatusReleased},
		{"cancelled stays cancelled", EscrowStatusCancelled, deadline.Add(48 * time.Hour), EscrowStatusCancelled},
		{"created is not expired", EscrowStatusCreated, deadline.Add(48 * time.Hour), EscrowStatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Escrow{Status: tt.status, Deadline: deadline}
			if got := e.EffectiveStatus(tt.now, grace); got != tt.want {
				t.Errorf("EffectiveStatus() = %q, want %q", got, tt.want)
			}
			// the stored status is untouched
			if e.Status != tt.status {
				t.Errorf("Status mutated to %q", e.Status)
			}
		})
	}
}

func TestReleaseOpen(t *testing.T) {
	deadline := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	notBefore := deadline.Add(-2 * time.Hour)

	e := &Escrow{Deadline: deadline}
	if !e.ReleaseOpen(deadline.Add(-time.Second)) {
		t.Error("expected open just before deadline")
	}
	if e.ReleaseOpen(deadline) {
		t.Error("expected closed at deadline")
	}

	e.NotBefore = &notBefore
	if e.ReleaseOpen(notBefore.Add(-time.Second)) {
		t.Error("expected closed before notBefore")
	}
	if !e.ReleaseOpen(notBefore) {
		t.Error("expected open at notBefore")
	}
}
