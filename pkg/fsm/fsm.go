// Package fsm is a small synchronous finite state machine used to track
// actor lifecycles. Transitions run on the caller's goroutine; Fire returns
// once exit, transition and entry actions have completed.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoTransition is returned by Fire when the current state does not
// permit the event.
var ErrNoTransition = errors.New("no transition")

// State represents a state identifier
type State string

// Event represents an event identifier
type Event string

// Action is a function executed during transitions
// Returning an error stops the transition
type Action func(ctx context.Context, transition TransitionContext) error

// Guard decides if a transition can occur
type Guard func(ctx context.Context, transition TransitionContext) bool

// TransitionType defines the type of transition
type TransitionType int

const (
	// TransitionExternal causes a state change (exits source, enters target)
	TransitionExternal TransitionType = iota
	// TransitionInternal does not cause a state change (no exit/entry)
	TransitionInternal
)

// TransitionContext holds context about the current transition
type TransitionContext struct {
	Machine string
	Event   Event
	From    State
	To      State
	Data    any
}

// StateMachine implements a synchronous finite state machine
type StateMachine struct {
	id           string
	currentState State
	states       map[State]*StateConfig
	onTransition []func(TransitionContext)
	mu           sync.RWMutex
}

// StateConfig represents the configuration for a specific state
type StateConfig struct {
	state       State
	onEntry     []Action
	onExit      []Action
	transitions map[Event]*Transition
	terminal    bool
}

// Transition represents a state transition definition
type Transition struct {
	trigger Event
	from    State
	to      State
	guard   Guard
	actions []Action
	kind    TransitionType
}

// New creates a new StateMachine with an initial state
func New(id string, initialState State) *StateMachine {
	return &StateMachine{
		id:           id,
		currentState: initialState,
		states:       make(map[State]*StateConfig),
	}
}

// ID returns the machine identifier
func (sm *StateMachine) ID() string {
	return sm.id
}

// CurrentState returns the current state
func (sm *StateMachine) CurrentState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// IsTerminal reports whether the current state was configured as Terminal
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cfg, ok := sm.states[sm.currentState]
	return ok && cfg.terminal
}

// Can reports whether event is permitted in the current state, ignoring guards
func (sm *StateMachine) Can(event Event) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	cfg, ok := sm.states[sm.currentState]
	if !ok {
		return false
	}
	_, ok = cfg.transitions[event]
	return ok
}

// Configure returns a StateConfigBuilder for the given state
// If the state config doesn't exist, it creates one
func (sm *StateMachine) Configure(state State) *StateConfigBuilder {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	config, ok := sm.states[state]
	if !ok {
		config = &StateConfig{
			state:       state,
			transitions: make(map[Event]*Transition),
		}
		sm.states[state] = config
	}

	return &StateConfigBuilder{config: config}
}

// OnTransition registers a listener called after every completed transition
func (sm *StateMachine) OnTransition(listener func(TransitionContext)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onTransition = append(sm.onTransition, listener)
}

// Fire triggers event and returns the resulting state. Actions and
// listeners must not call back into the same machine.
func (sm *StateMachine) Fire(ctx context.Context, event Event, data any) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	current := sm.currentState
	stateConfig, ok := sm.states[current]
	if !ok {
		return current, fmt.Errorf("%s: no configuration for state %s", sm.id, current)
	}

	transition, ok := stateConfig.transitions[event]
	if !ok {
		return current, fmt.Errorf("%s: %w for event %s in state %s", sm.id, ErrNoTransition, event, current)
	}

	tCtx := TransitionContext{
		Machine: sm.id,
		Event:   event,
		From:    current,
		To:      transition.to,
		Data:    data,
	}

	if transition.guard != nil && !transition.guard(ctx, tCtx) {
		return current, fmt.Errorf("%s: guard rejected %s -> %s on event %s", sm.id, current, transition.to, event)
	}

	if transition.kind == TransitionExternal {
		for _, action := range stateConfig.onExit {
			if err := action(ctx, tCtx); err != nil {
				return current, fmt.Errorf("exit action failed: %w", err)
			}
		}
	}

	for _, action := range transition.actions {
		if err := action(ctx, tCtx); err != nil {
			return current, fmt.Errorf("transition action failed: %w", err)
		}
	}

	sm.currentState = transition.to

	if transition.kind == TransitionExternal {
		if next, ok := sm.states[transition.to]; ok {
			for _, action := range next.onEntry {
				if err := action(ctx, tCtx); err != nil {
					// state is already updated
					return sm.currentState, fmt.Errorf("entry action failed: %w", err)
				}
			}
		}
	}

	for _, listener := range sm.onTransition {
		listener(tCtx)
	}

	return sm.currentState, nil
}
