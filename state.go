package reactor

import "sync/atomic"

// RunState is the coarse lifecycle state of a Runtime, mirroring
// go-eventloop's LoopState/FastState design: a lock-free atomic state
// machine, CAS-driven for the reversible transitions and Store-driven for
// the one irreversible terminal transition.
//
// State machine:
//
//	StateNotStarted -> StateRunning      [Run()]
//	StateRunning    -> StateStopping     [RequestStop(), or ctx canceled]
//	StateStopping   -> StateTerminated   [Run() returns]
//	StateRunning    -> StateTerminated   [Run() returns, or TerminateExecution()]
type RunState uint32

const (
	StateNotStarted RunState = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s RunState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free atomic wrapper around RunState.
type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(StateNotStarted))
	return s
}

func (s *fastState) Load() RunState { return RunState(s.v.Load()) }

func (s *fastState) Store(state RunState) { s.v.Store(uint32(state)) }

func (s *fastState) TryTransition(from, to RunState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) IsTerminal() bool { return s.Load() == StateTerminated }
