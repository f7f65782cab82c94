package regime

import (
	"sync"
	"time"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// State is the hysteresis state of one pool
type State struct {
	Current        models.Regime
	LastChangeUTC  time.Time
	Candidate      models.Regime // empty when there is no pending candidate
	CandidateCount int
}

// Transition is the outcome of one Step
type Transition struct {
	Previous models.Regime
	Current  models.Regime
	Switched bool
	// Confirmations is the candidate count that triggered the switch
	Confirmations int
	Required      int
}

// Machine owns the regime state of every pool. States live for the process
// lifetime; the first detection for a pool seeds it.
type Machine struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewMachine creates an empty state machine
func NewMachine() *Machine {
	return &Machine{states: make(map[string]*State)}
}

// RequiredConfirmations scales with heat: hot markets need the most
// confirmations, cool markets the fewest.
func RequiredConfirmations(heat int, cfg config.HeatConfig) int {
	switch {
	case heat >= cfg.HotThreshold:
		return cfg.ConfirmationsHot
	case heat <= cfg.CoolThreshold:
		return cfg.ConfirmationsCool
	}
	return cfg.ConfirmationsMid
}

// Step feeds one detection for pool and returns the confirmed regime.
// A change is committed only after minDwell has passed since the last commit
// and the same candidate was seen the required number of consecutive times.
// Detections arriving inside the dwell window are recorded as the candidate
// without counting toward confirmation.
func (m *Machine) Step(pool string, detected models.Regime, heat int, now time.Time, minDwell time.Duration, cfg config.HeatConfig) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	st, ok := m.states[pool]
	if !ok {
		st = &State{Current: detected, LastChangeUTC: now}
		m.states[pool] = st
	}

	tr := Transition{
		Previous: st.Current,
		Current:  st.Current,
		Required: RequiredConfirmations(heat, cfg),
	}

	if detected == st.Current {
		st.Candidate = ""
		st.CandidateCount = 0
		return tr
	}

	if now.Sub(st.LastChangeUTC) < minDwell {
		st.Candidate = detected
		st.CandidateCount = 0
		return tr
	}

	if st.Candidate != detected {
		st.Candidate = detected
		st.CandidateCount = 1
	} else {
		st.CandidateCount++
	}

	if st.CandidateCount >= tr.Required {
		tr.Confirmations = st.CandidateCount
		tr.Current = detected
		tr.Switched = true

		st.Current = detected
		st.LastChangeUTC = now
		st.Candidate = ""
		st.CandidateCount = 0
	}
	return tr
}

// State returns a copy of the pool's state
func (m *Machine) State(pool string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[pool]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Len returns the number of tracked pools
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
