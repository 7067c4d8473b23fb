package coordinator

// The event machine is pure: Step maps (state, event) to a new state
// and a list of effects, and the run loop executes the effects. Keeping
// the policy side-effect free makes every transition table-testable.

// Event is an external stimulus delivered to the coordinator.
type Event interface{ isEvent() }

// ConnectivityChanged reports a change in the device's online belief.
type ConnectivityChanged struct{ Online bool }

// TabVisible reports that a client surface regained focus.
type TabVisible struct{}

// MessageReceived carries a protocol message from a client.
type MessageReceived struct{ Message Message }

// Tick is the periodic drain cadence firing.
type Tick struct{}

func (ConnectivityChanged) isEvent() {}
func (TabVisible) isEvent()          {}
func (MessageReceived) isEvent()     {}
func (Tick) isEvent()                {}

// Effect is an action the run loop must carry out after a transition.
type Effect interface{ isEffect() }

// EffectDrain runs a queue drain pass and announces the outcome.
type EffectDrain struct{}

// EffectReconcile runs a reconciliation pass.
type EffectReconcile struct{}

// EffectWarmCache precaches the listed URLs.
type EffectWarmCache struct{ URLs []string }

// EffectActivate rotates cache generations immediately.
type EffectActivate struct{}

// EffectProbe checks whether the server answers again; a successful
// probe is fed back to the loop as a connectivity-restored event.
type EffectProbe struct{}

func (EffectDrain) isEffect()     {}
func (EffectReconcile) isEffect() {}
func (EffectWarmCache) isEffect() {}
func (EffectActivate) isEffect()  {}
func (EffectProbe) isEffect()     {}

// State is the machine's entire memory.
type State struct {
	Online bool
}

// Step computes the transition for one event.
//
// Regaining connectivity and a tab becoming visible both reconcile
// before draining, so entries the server already handled are not
// replayed. Losing connectivity does nothing: the queue simply holds,
// and subsequent ticks probe for the server coming back.
func Step(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case ConnectivityChanged:
		if e.Online == s.Online {
			return s, nil
		}
		s.Online = e.Online
		if s.Online {
			return s, []Effect{EffectReconcile{}, EffectDrain{}}
		}
		return s, nil

	case TabVisible:
		if !s.Online {
			return s, nil
		}
		return s, []Effect{EffectReconcile{}, EffectDrain{}}

	case Tick:
		if !s.Online {
			return s, []Effect{EffectProbe{}}
		}
		return s, []Effect{EffectDrain{}}

	case MessageReceived:
		switch e.Message.Type {
		case TypeProcessQueue:
			return s, []Effect{EffectDrain{}}
		case TypeCacheURLs:
			return s, []Effect{EffectWarmCache{URLs: e.Message.URLs}}
		case TypeSkipWaiting:
			return s, []Effect{EffectActivate{}}
		}
		return s, nil
	}
	return s, nil
}
