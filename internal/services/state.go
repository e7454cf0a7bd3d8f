package services

import (
	"errors"
	"fmt"
)

// State is a checkout saga phase. The saga advances strictly forward;
// Errored is reachable from every working phase and retry restarts at Idle.
type State string

const (
	StateIdle             State = "idle"
	StateCreatingCheckout State = "creating_checkout"
	StateSyncingPromo     State = "syncing_promo"
	StateCreatingPayment  State = "creating_payment"
	StateAwaitingGateway  State = "awaiting_gateway_result"
	StateFinalizing       State = "finalizing"
	StateCompleted        State = "completed"
	StateErrored          State = "errored"
)

var ErrInvalidStateTransition = errors.New("invalid checkout state transition")

var stateTransitions = map[State][]State{
	StateIdle:             {StateCreatingCheckout},
	StateCreatingCheckout: {StateSyncingPromo, StateErrored},
	StateSyncingPromo:     {StateCreatingPayment, StateErrored},
	StateCreatingPayment:  {StateAwaitingGateway, StateErrored},
	StateAwaitingGateway:  {StateFinalizing, StateErrored},
	StateFinalizing:       {StateCompleted, StateErrored},
	StateErrored:          {StateIdle},
	StateCompleted:        {},
}

// flow tracks one saga run's phase. The run itself is request-scoped; the
// durable hand-off point between runs is the PendingCheckout record, not
// this struct.
type flow struct {
	state State
}

func newFlow() *flow {
	return &flow{state: StateIdle}
}

// flowAt resumes phase tracking mid-saga, e.g. when a gateway webhook or the
// confirmation page re-enters the finalize step with no in-memory state.
func flowAt(state State) *flow {
	return &flow{state: state}
}

func (f *flow) to(next State) error {
	for _, allowed := range stateTransitions[f.state] {
		if allowed == next {
			f.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, f.state, next)
}

// fail moves the flow to Errored and returns err unchanged, so call sites
// can return in one line.
func (f *flow) fail(err error) error {
	f.state = StateErrored
	return err
}
