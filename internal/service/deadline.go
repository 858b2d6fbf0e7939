package service

import (
	"time"

	"github.com/complygate/complygate/internal/model"
)

// SLAStatus classifies how a request stands against its legal deadline.
type SLAStatus string

const (
	SLAOnTrack SLAStatus = "ON_TRACK"
	SLAWarning SLAStatus = "WARNING"
	SLAOverdue SLAStatus = "OVERDUE"
	SLANone    SLAStatus = "" // terminal requests have no SLA state
)

// Deadline is fixed at creation: created_at plus the SLA window.
func Deadline(req *model.Request, slaWindow time.Duration) time.Time {
	return req.CreatedAt.Add(slaWindow)
}

// DeadlineStatus is a pure function over (now, request, config). Terminal
// requests report SLANone.
func DeadlineStatus(now time.Time, req *model.Request, slaWindow, warningWindow time.Duration) SLAStatus {
	if req.Status.Terminal() {
		return SLANone
	}
	deadline := Deadline(req, slaWindow)
	switch {
	case now.After(deadline):
		return SLAOverdue
	case deadline.Sub(now) < warningWindow:
		return SLAWarning
	default:
		return SLAOnTrack
	}
}
