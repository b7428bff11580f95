package engine

import (
	"time"

	"kiwoomapp/internal/config"
	"kiwoomapp/internal/types"
)

// Session maps KST wall-clock time to trading phases
type Session struct {
	cfg config.Session
}

// NewSession creates a session over the configured boundaries
func NewSession(cfg config.Session) *Session {
	return &Session{cfg: cfg}
}

// PhaseAt returns the phase t falls in
func (s *Session) PhaseAt(t time.Time) types.Phase {
	c := config.ClockOf(t, types.KST)
	switch {
	case c < s.cfg.DayStart || c >= s.cfg.PostCloseCutoff:
		return types.PhaseOff
	case c < s.cfg.NXTOpen:
		return types.PhaseNew
	case c < s.cfg.NXTClose:
		return types.PhaseNXT
	case c < s.cfg.KRXOpen:
		return types.PhaseNXTToKRX
	case c < s.cfg.KRXClose:
		return types.PhaseKRX
	default:
		return types.PhasePost
	}
}

// CleanupDue reports whether the daily watchlist cleanup time has passed
func (s *Session) CleanupDue(t time.Time) bool {
	return config.ClockOf(t, types.KST) >= s.cfg.CleanupAt
}

// VenueFor returns the venue orders go to in phase p
func VenueFor(p types.Phase) types.Venue {
	if p == types.PhaseKRX {
		return types.VenueKRX
	}
	return types.VenueNXT
}
