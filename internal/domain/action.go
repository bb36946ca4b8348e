package domain

// ActionType tells what operation a pending action gates.
type ActionType string

const (
	ActionBuy  ActionType = "buy"
	ActionSell ActionType = "sell"
)

// ActionState is the approval state of an action. Transitions are one-way:
// pending -> approved or pending -> cancelled. A fresh registration is the
// only way out of a terminal state.
type ActionState string

const (
	ActionPending   ActionState = "pending"
	ActionApproved  ActionState = "approved"
	ActionCancelled ActionState = "cancelled"
)

// Terminal reports whether the state accepts no further transitions.
func (s ActionState) Terminal() bool {
	return s == ActionApproved || s == ActionCancelled
}

// Action is a durable request for operator approval, at most one per pair.
type Action struct {
	PairAddress string
	Type        ActionType
	State       ActionState
	Reason      string
	CreatedAt   int64
	NotifiedAt  *int64
}
