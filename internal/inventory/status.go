package inventory

import "time"

// StockStatus is the lifecycle state of a stock.
type StockStatus string

const (
	StatusNew         StockStatus = "new"
	StatusRefurbished StockStatus = "refurbished"
	StatusSold        StockStatus = "sold"
	StatusReturned    StockStatus = "returned"
	StatusDeleted     StockStatus = "deleted"
)

// IsValid reports whether s is a known status.
func (s StockStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusRefurbished, StatusSold, StatusReturned, StatusDeleted:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s StockStatus) IsTerminal() bool {
	return s == StatusDeleted
}

// Sellable reports whether a stock in s may be sold.
func (s StockStatus) Sellable() bool {
	return s == StatusNew || s == StatusRefurbished
}

// Trigger names the operation driving a transition.
type Trigger string

const (
	TriggerSale        Trigger = "sale"
	TriggerSwapReturn  Trigger = "swap_return"
	TriggerSwapReplace Trigger = "swap_replace"
	TriggerRefurbish   Trigger = "refurbish"
	TriggerSoftDelete  Trigger = "soft_delete"
)

type transitionRule struct {
	from []StockStatus
	to   StockStatus
}

var transitionRules = map[Trigger]transitionRule{
	TriggerSale:        {from: []StockStatus{StatusNew, StatusRefurbished}, to: StatusSold},
	TriggerSwapReturn:  {from: []StockStatus{StatusSold}, to: StatusReturned},
	TriggerSwapReplace: {from: []StockStatus{StatusNew, StatusRefurbished}, to: StatusSold},
	TriggerRefurbish:   {from: []StockStatus{StatusReturned}, to: StatusRefurbished},
	TriggerSoftDelete:  {from: []StockStatus{StatusNew, StatusRefurbished, StatusSold, StatusReturned}, to: StatusDeleted},
}

// Rule returns the source statuses and target of trigger.
func Rule(trigger Trigger) (from []StockStatus, to StockStatus, ok bool) {
	rule, ok := transitionRules[trigger]
	if !ok {
		return nil, "", false
	}
	return append([]StockStatus(nil), rule.from...), rule.to, true
}

// CanTransition reports whether trigger may fire on a stock in status from.
func CanTransition(from StockStatus, trigger Trigger) bool {
	rule, ok := transitionRules[trigger]
	if !ok {
		return false
	}
	for _, s := range rule.from {
		if s == from {
			return true
		}
	}
	return false
}

// NewTransition builds the guarded transition for trigger.
func NewTransition(trigger Trigger, serials []string) Transition {
	from, to, _ := Rule(trigger)
	return Transition{Serials: serials, From: from, To: to}
}

// applyStatus sets the status and appends the history entry in one step.
func (s *Stock) applyStatus(to StockStatus, at time.Time) {
	s.CurrentStatus = to
	s.StatusHistory = append(s.StatusHistory, StatusEntry{Status: to, Date: at})
}

// HistoryConsistent reports whether the last history entry matches the
// current status.
func (s Stock) HistoryConsistent() bool {
	if len(s.StatusHistory) == 0 {
		return false
	}
	return s.StatusHistory[len(s.StatusHistory)-1].Status == s.CurrentStatus
}

func containsStatus(set []StockStatus, s StockStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
