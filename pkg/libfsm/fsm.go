package libfsm

import (
	"fmt"

	"github.com/golang/glog"
)

// Finite state machines
// Library to implement small table driven FSMs.
// - Events are fed to the FSM by its owner and processed in order
// - A transition is only taken when its callback succeeds
// - The FSM is not safe for concurrent use; the owner serializes events

// Main FSM structure
type Fsm struct {
	transitions *FsmTable // FSM transition table
	FsmState    string    // FSM's current state
}

// FSM event
type Event struct {
	EventName string      // Name of the event
	EventData interface{} // Event specific data
}

// Callback function type
type CallbackFunc func(Event) error

// FSM Transition entry
type Transition struct {
	CurrState string
	EventName string
	NewState  string
	Callback  CallbackFunc
}

type FsmTable []Transition

// Error returned when there is no transition for <state, event>
type InvalidEventError struct {
	State string
	Event string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event %s in state %s", e.Event, e.State)
}

// Create a new Fsm
func NewFsm(fsmTable *FsmTable, initState string) *Fsm {
	fsm := new(Fsm)

	fsm.transitions = fsmTable
	fsm.FsmState = initState

	return fsm
}

// Current state of the fsm
func (self *Fsm) State() string {
	return self.FsmState
}

// Handle a new event for the fsm
func (self *Fsm) FsmEvent(event Event) error {
	glog.V(2).Infof("Processing event %s in state %s", event.EventName, self.FsmState)

	// find the <currState,event> pair in the transition table
	for _, trans := range *self.transitions {
		if trans.CurrState != self.FsmState || trans.EventName != event.EventName {
			continue
		}

		if trans.Callback != nil {
			if err := trans.Callback(event); err != nil {
				glog.Errorf("Processing event %s failed in state %s. Err: %v", event.EventName, self.FsmState, err)
				return err
			}
		}

		if self.FsmState != trans.NewState {
			glog.V(2).Infof("Transitioning to state %s", trans.NewState)
			self.FsmState = trans.NewState
		}

		return nil
	}

	// If we reached here, we did not find a valid transition
	glog.Errorf("Invalid event %s in state %s", event.EventName, self.FsmState)

	return &InvalidEventError{State: self.FsmState, Event: event.EventName}
}
