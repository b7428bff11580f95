package engine

import (
	"sync"
	"time"

	"kiwoomapp/internal/pricing"
	"kiwoomapp/internal/types"
)

// maxTranches is the number of ladder buys allowed per symbol per day
const maxTranches = 2

// StateRecord is the persisted part of EngineState
type StateRecord struct {
	Day             types.TradingDay          `json:"day"`
	DayActive       bool                      `json:"day_active"`
	BulkCancelDone  bool                      `json:"bulk_cancel_done"`
	LastCleanupDay  types.TradingDay          `json:"last_cleanup_day"`
	Ledger          map[string]map[string]int `json:"ledger"`
	AltVenueBlocked map[string]bool           `json:"alt_venue_blocked"`
	SavedAt         time.Time                 `json:"saved_at"`
}

// EngineState holds every cache scoped to one trading day. All of it is
// cleared by ResetForNewDay.
type EngineState struct {
	mu sync.RWMutex

	day            types.TradingDay
	phase          types.Phase
	dayActive      bool
	cooldownHour   int // -1 when not latched
	bulkCancelDone bool
	lastCleanupDay types.TradingDay

	ledger          map[string]map[string]int // account -> code -> tranche attempts
	upperLimits     map[string]float64
	altVenueBlocked map[string]bool

	gaps       *pricing.GapBook
	sellPrices *pricing.Resolver
	dirty      bool
}

// NewEngineState creates an empty state around the day's price caches
func NewEngineState(gaps *pricing.GapBook, sellPrices *pricing.Resolver) *EngineState {
	return &EngineState{
		phase:           types.PhaseOff,
		cooldownHour:    -1,
		ledger:          make(map[string]map[string]int),
		upperLimits:     make(map[string]float64),
		altVenueBlocked: make(map[string]bool),
		gaps:            gaps,
		sellPrices:      sellPrices,
	}
}

// ResetForNewDay clears the day-scoped caches and marks the day active
func (s *EngineState) ResetForNewDay(day types.TradingDay) {
	s.mu.Lock()
	s.day = day
	s.dayActive = true
	s.cooldownHour = -1
	s.bulkCancelDone = false
	s.ledger = make(map[string]map[string]int)
	s.upperLimits = make(map[string]float64)
	s.altVenueBlocked = make(map[string]bool)
	s.dirty = true
	s.mu.Unlock()

	s.gaps.Reset()
	s.sellPrices.Reset()
}

func (s *EngineState) Day() types.TradingDay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day
}

func (s *EngineState) DayActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dayActive
}

// EndDay clears the day-active flag. Reports whether it was set.
func (s *EngineState) EndDay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.dayActive
	s.dayActive = false
	s.dirty = s.dirty || was
	return was
}

func (s *EngineState) Phase() types.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase records the phase. Reports whether it changed.
func (s *EngineState) SetPhase(p types.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.phase != p
	s.phase = p
	return changed
}

// LatchCooldown suspends reconciliation for the rest of hour
func (s *EngineState) LatchCooldown(hour int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownHour = hour
}

// CoolingDown reports whether the latch holds at hour, releasing it once the hour moves on
func (s *EngineState) CoolingDown(hour int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownHour < 0 {
		return false
	}
	if s.cooldownHour == hour {
		return true
	}
	s.cooldownHour = -1
	return false
}

// Ledger returns the tranche attempts for account and code today
func (s *EngineState) Ledger(account, code string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger[account][code]
}

// BumpLedger records a tranche attempt, capped at maxTranches
func (s *EngineState) BumpLedger(account, code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCode, ok := s.ledger[account]
	if !ok {
		byCode = make(map[string]int)
		s.ledger[account] = byCode
	}
	if byCode[code] < maxTranches {
		byCode[code]++
		s.dirty = true
	}
	return byCode[code]
}

func (s *EngineState) UpperLimit(code string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.upperLimits[code]
	return p, ok
}

func (s *EngineState) SetUpperLimit(code string, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upperLimits[code] = p
}

// BlockAltVenue stops NXT attempts for code until the next day
func (s *EngineState) BlockAltVenue(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.altVenueBlocked[code] = true
	s.dirty = true
}

func (s *EngineState) AltVenueBlocked(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.altVenueBlocked[code]
}

// TakeBulkCancel returns true the first time it is called each day
func (s *EngineState) TakeBulkCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bulkCancelDone {
		return false
	}
	s.bulkCancelDone = true
	s.dirty = true
	return true
}

// TakeCleanup returns true the first time it is called for day
func (s *EngineState) TakeCleanup(day types.TradingDay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCleanupDay == day {
		return false
	}
	s.lastCleanupDay = day
	s.dirty = true
	return true
}

// View copies the state for the dashboard
func (s *EngineState) View(modes map[string]types.AccountMode, now time.Time) types.StateView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ledger := make(map[string]map[string]int, len(s.ledger))
	for acct, byCode := range s.ledger {
		cp := make(map[string]int, len(byCode))
		for k, v := range byCode {
			cp[k] = v
		}
		ledger[acct] = cp
	}
	return types.StateView{
		Day:        s.day,
		Phase:      s.phase,
		DayActive:  s.dayActive,
		CooldownAt: s.cooldownHour,
		Modes:      modes,
		Ledger:     ledger,
		UpdatedAt:  now,
	}
}

// Record returns the persisted fields and clears the dirty flag
func (s *EngineState) Record() StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := StateRecord{
		Day:             s.day,
		DayActive:       s.dayActive,
		BulkCancelDone:  s.bulkCancelDone,
		LastCleanupDay:  s.lastCleanupDay,
		Ledger:          make(map[string]map[string]int, len(s.ledger)),
		AltVenueBlocked: make(map[string]bool, len(s.altVenueBlocked)),
		SavedAt:         time.Now(),
	}
	for acct, byCode := range s.ledger {
		cp := make(map[string]int, len(byCode))
		for k, v := range byCode {
			cp[k] = v
		}
		rec.Ledger[acct] = cp
	}
	for k, v := range s.altVenueBlocked {
		rec.AltVenueBlocked[k] = v
	}
	s.dirty = false
	return rec
}

// Restore loads a persisted record. A record from an earlier day is
// cleared by the next tick's day check.
func (s *EngineState) Restore(rec StateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day = rec.Day
	s.dayActive = rec.DayActive
	s.bulkCancelDone = rec.BulkCancelDone
	s.lastCleanupDay = rec.LastCleanupDay
	if rec.Ledger != nil {
		s.ledger = rec.Ledger
	}
	if rec.AltVenueBlocked != nil {
		s.altVenueBlocked = rec.AltVenueBlocked
	}
}

// MarkDirty flags the persisted fields for another save
func (s *EngineState) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether persisted fields changed since the last Record
func (s *EngineState) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}
