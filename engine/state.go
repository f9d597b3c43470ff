package engine

import "sync"

// Phase is the lifecycle of the monitored position.
type Phase int

const (
	PhaseIdle Phase = iota // nothing monitored
	PhaseWatching
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseWatching:
		return "watching"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	}
	return "idle"
}

// positionState is shared by the regular update, the exit monitor and manual
// sells. Every transition happens under mu; tryBeginClose is the only way
// into PhaseClosing so at most one closing order is in flight.
type positionState struct {
	mu     sync.Mutex
	phase  Phase
	resume Phase // phase restored when a close fails
	gen    uint64

	entry float64
	qty   float64
	tp    float64
	sl    float64
}

type positionInfo struct {
	Phase         Phase
	EntryPrice    float64
	Qty           float64
	TakeProfitPct float64
	StopLossPct   float64
}

// open starts watching a new position and returns its generation. It fails
// while another position is watched or being closed.
func (s *positionState) open(plan ExitPlan) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseWatching || s.phase == PhaseClosing {
		return 0, false
	}
	s.gen++
	s.phase = PhaseWatching
	s.entry, s.qty = plan.EntryPrice, plan.Qty
	s.tp, s.sl = plan.TakeProfitPct, plan.StopLossPct
	return s.gen, true
}

// tryBeginClose moves the monitor of generation gen from Watching to
// Closing. A failed close afterwards leaves nothing watched.
func (s *positionState) tryBeginClose(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.phase != PhaseWatching {
		return false
	}
	s.phase, s.resume = PhaseClosing, PhaseIdle
	return true
}

// beginExternalClose claims the close for a sell that did not come from the
// monitor. A failed close restores the previous phase so a running monitor
// keeps watching.
func (s *positionState) beginExternalClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseClosing {
		return false
	}
	s.phase, s.resume = PhaseClosing, s.phase
	return true
}

func (s *positionState) finishClose(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseClosing {
		return
	}
	if ok {
		s.phase = PhaseClosed
		return
	}
	s.phase = s.resume
}

// check reports the phase as seen by the monitor of generation gen. Any
// other generation reads as closed.
func (s *positionState) check(gen uint64) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return PhaseClosed
	}
	return s.phase
}

// busy is true while a monitor runs or a close is in flight.
func (s *positionState) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseWatching || s.phase == PhaseClosing
}

func (s *positionState) snapshot() positionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return positionInfo{Phase: s.phase, EntryPrice: s.entry, Qty: s.qty, TakeProfitPct: s.tp, StopLossPct: s.sl}
}
