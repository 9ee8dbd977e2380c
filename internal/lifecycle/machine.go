// Package lifecycle implements the Player Lifecycle State Machine (§4.7):
// a total transition table the Operation Queue consults before executing
// any command, so illegal commands are rejected before they ever reach the
// Main Playback Core.
package lifecycle

import (
	"fmt"
	"sync"
)

// State is one of the finite lifecycle states.
type State int

const (
	Idle State = iota
	Preparing
	Playing
	Paused
	FadingOut
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case FadingOut:
		return "fading_out"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one of the events the transition table recognizes.
type Event int

const (
	Load Event = iota
	Start
	Pause
	Resume
	Stop
	AdvanceComplete
	Error
	FadeOutDone
)

func (e Event) String() string {
	switch e {
	case Load:
		return "load"
	case Start:
		return "start"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	case Stop:
		return "stop"
	case AdvanceComplete:
		return "advance_complete"
	case Error:
		return "error"
	case FadeOutDone:
		return "fade_out_done"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	from  State
	event Event
}

// table is the total transition function of §4.7. A (state, event) pair
// absent from the table is illegal and rejected by Apply; there is no
// fallback or default transition, so adding a new state can never silently
// permit a transition nobody asked for.
var table = map[transitionKey]State{
	{Idle, Load}:  Idle,
	{Idle, Start}: Preparing,
	{Idle, Error}: Failed,

	{Preparing, Load}:            Preparing,
	{Preparing, Start}:           Playing,
	{Preparing, Stop}:            Finished,
	{Preparing, AdvanceComplete}: Playing,
	{Preparing, Error}:           Failed,

	{Playing, Load}:            Preparing,
	{Playing, Pause}:           Paused,
	{Playing, Stop}:            FadingOut,
	{Playing, AdvanceComplete}: Playing,
	{Playing, Error}:           Failed,

	{Paused, Load}:   Preparing,
	{Paused, Start}:  Playing,
	{Paused, Resume}: Playing,
	{Paused, Stop}:   Finished,
	{Paused, Error}:  Failed,

	{FadingOut, Stop}:        Finished,
	{FadingOut, Error}:       Failed,
	{FadingOut, FadeOutDone}: Finished,

	{Finished, Load}:  Preparing,
	{Finished, Start}: Playing,
	{Finished, Stop}:  Finished,
	{Finished, Error}: Failed,

	{Failed, Load}: Preparing,
	{Failed, Stop}: Finished,
}

// ErrIllegalTransition is returned by Apply when (state, event) has no entry
// in the transition table.
type ErrIllegalTransition struct {
	From  State
	Event Event
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("lifecycle: %s does not accept %s", e.From, e.Event)
}

// Machine holds the current lifecycle state. The Operation Queue's single
// worker goroutine is its primary caller (I6), but the Main Playback Core
// also reaches it directly off that goroutine — from the position tick's
// auto-finish/auto-advance and from host-reset/route-change recovery — so
// Machine guards its own state with a mutex rather than trusting a single
// external owner to serialize every caller.
type Machine struct {
	mu    sync.Mutex
	state State
	err   error // populated when state == Failed
}

// New returns a Machine starting in Idle.
func New() *Machine {
	return &Machine{state: Idle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that caused a transition into Failed, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// CanApply reports whether event is legal from the current state, without
// mutating it. The Operation Queue uses this to reject a command with
// InvalidState before executing it.
func (m *Machine) CanApply(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := table[transitionKey{m.state, event}]
	return ok
}

// Apply transitions the machine on event, returning the new state. If the
// transition is illegal, the machine is left unchanged and
// *ErrIllegalTransition is returned. Error transitions additionally record
// cause, retrievable via Err.
func (m *Machine) Apply(event Event, cause error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := table[transitionKey{m.state, event}]
	if !ok {
		return m.state, &ErrIllegalTransition{From: m.state, Event: event}
	}
	m.state = next
	if event == Error {
		m.err = cause
	} else if next != Failed {
		m.err = nil
	}
	return m.state, nil
}
