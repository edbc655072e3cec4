// Package fsm implements the tagged-variant state machine model used by
// the connection and stream state machines. Events are matched only by
// their discriminant; any payload an event carries is kept out-of-band by
// the caller and supplied to the effect handler directly, so a Table
// itself only ever holds states, event kinds and effect kinds.
package fsm

// State and Event are small, comparable discriminants. Both FSM tables in
// this module define their own named string constants of these types.
type State string
type Event string

// Effect is one effect kind; a transition produces an ordered list of
// them. The caller supplies out-of-band payload and is responsible for
// interpreting each effect kind.
type Effect string

type transitionKey struct {
	from State
	evt  Event
}

// Table is an immutable set of (from, event) -> (to, effects) rules.
// Unlisted transitions are no-ops: Apply returns the unchanged state and
// no effects.
type Table struct {
	rules map[transitionKey]rule
}

type rule struct {
	to      State
	effects []Effect
}

// NewTable builds a Table from a fixed transition list. There is no way
// to register additional rules after construction.
func NewTable(transitions []Transition) *Table {
	t := &Table{rules: make(map[transitionKey]rule, len(transitions))}
	for _, tr := range transitions {
		t.rules[transitionKey{from: tr.From, evt: tr.Event}] = rule{to: tr.To, effects: tr.Effects}
	}
	return t
}

// Transition is one row of a Table.
type Transition struct {
	From    State
	Event   Event
	To      State
	Effects []Effect
}

// Apply looks up the rule for (from, evt). If none exists, it returns
// from unchanged and a nil effect list.
func (t *Table) Apply(from State, evt Event) (State, []Effect) {
	r, ok := t.rules[transitionKey{from: from, evt: evt}]
	if !ok {
		return from, nil
	}
	return r.to, r.effects
}

// Machine pairs a Table with a single mutable current state. It is not
// safe for concurrent use; it is owned exclusively by the connection
// engine.
type Machine struct {
	table   *Table
	current State
}

// NewMachine returns a Machine starting in the given state.
func NewMachine(table *Table, initial State) *Machine {
	return &Machine{table: table, current: initial}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.current }

// Fire applies evt to the current state, updates it, and returns the
// effects to apply. The caller supplies any event payload out-of-band and
// interprets the returned effect kinds itself.
func (m *Machine) Fire(evt Event) []Effect {
	to, effects := m.table.Apply(m.current, evt)
	m.current = to
	return effects
}

// ForceState sets the current state directly, bypassing the transition
// table. Used only for abrupt shutdown, where the caller releases
// resources unconditionally rather than following a defined transition.
func (m *Machine) ForceState(s State) {
	m.current = s
}
