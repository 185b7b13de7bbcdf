package fsm

import "context"

// StateConfigBuilder provides a fluent API for configuring states
type StateConfigBuilder struct {
	config *StateConfig
}

// Permit defines an allowed transition from this state
func (b *StateConfigBuilder) Permit(event Event, nextState State) *StateConfigBuilder {
	return b.PermitIf(event, nextState, nil)
}

// PermitIf defines an allowed transition if the guard returns true
func (b *StateConfigBuilder) PermitIf(event Event, nextState State, guard Guard) *StateConfigBuilder {
	b.config.transitions[event] = &Transition{
		trigger: event,
		from:    b.config.state,
		to:      nextState,
		guard:   guard,
		kind:    TransitionExternal,
	}
	return b
}

// PermitWithAction defines a transition that executes an action
func (b *StateConfigBuilder) PermitWithAction(event Event, nextState State, action Action) *StateConfigBuilder {
	b.config.transitions[event] = &Transition{
		trigger: event,
		from:    b.config.state,
		to:      nextState,
		actions: []Action{action},
		kind:    TransitionExternal,
	}
	return b
}

// Ignore accepts event without changing state or running entry/exit actions
func (b *StateConfigBuilder) Ignore(event Event) *StateConfigBuilder {
	return b.InternalTransition(event, func(context.Context, TransitionContext) error {
		return nil
	})
}

// InternalTransition runs action but stays in the same state.
// OnEntry and OnExit handlers are NOT called
func (b *StateConfigBuilder) InternalTransition(event Event, action Action) *StateConfigBuilder {
	b.config.transitions[event] = &Transition{
		trigger: event,
		from:    b.config.state,
		to:      b.config.state,
		actions: []Action{action},
		kind:    TransitionInternal,
	}
	return b
}

// OnEntry adds an action to be executed when entering this state
func (b *StateConfigBuilder) OnEntry(action Action) *StateConfigBuilder {
	b.config.onEntry = append(b.config.onEntry, action)
	return b
}

// OnExit adds an action to be executed when exiting this state
func (b *StateConfigBuilder) OnExit(action Action) *StateConfigBuilder {
	b.config.onExit = append(b.config.onExit, action)
	return b
}

// Terminal marks the state as final; IsTerminal reports it
func (b *StateConfigBuilder) Terminal() *StateConfigBuilder {
	b.config.terminal = true
	return b
}
