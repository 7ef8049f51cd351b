// Package statemachine is a small generic finite state machine.  Transitions may perform work and fail, in
// which case the machine stays in its current state.
package statemachine

import (
	"fmt"
	"sync"
)

// TransitionFunc handles an event in a given state, returning the next state.  If it returns an error, the
// state is not changed.
type TransitionFunc[S comparable, E any] func(E) (S, error)

type StateMap[S comparable, E any] map[S]TransitionFunc[S, E]

type FSM[S comparable, E any] interface {
	Initialize(S, StateMap[S, E]) error
	Event(E) error
	State() S
	OnTransition(func(from S, to S, e E))
}

type fsm[S comparable, E any] struct {
	lock     sync.Mutex
	states   StateMap[S, E]
	curState S
	hooks    []func(S, S, E)
}

var ErrInvalidState = fmt.Errorf("invalid state")

func New[S comparable, E any]() FSM[S, E] {
	m := &fsm[S, E]{
		states: make(StateMap[S, E]),
	}
	return m
}

func (m *fsm[S, E]) Initialize(initState S, states StateMap[S, E]) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	_, ok := states[initState]
	if !ok {
		return fmt.Errorf("%w: initial state %v", ErrInvalidState, initState)
	}
	m.curState = initState
	m.states = states
	return nil
}

func (m *fsm[S, E]) State() S {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.curState
}

// OnTransition registers a function to be called after each successful state change
func (m *fsm[S, E]) OnTransition(f func(from S, to S, e E)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.hooks = append(m.hooks, f)
}

// Event runs the transition function of the current state.  Events are serialized, so a transition function
// must not call Event on the same machine.
func (m *fsm[S, E]) Event(e E) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	tf, ok := m.states[m.curState]
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidState, m.curState)
	}
	s, err := tf(e)
	if err != nil {
		return err
	}
	_, ok = m.states[s]
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidState, s)
	}
	from := m.curState
	m.curState = s
	if from != s {
		for _, h := range m.hooks {
			h(from, s, e)
		}
	}
	return nil
}
