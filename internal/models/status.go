package models

import (
	"errors"
	"fmt"
	"time"
)

// PassStatus is the lifecycle state of a MonthPass.
type PassStatus string

const (
	PassActive   PassStatus = "active"
	PassUpgraded PassStatus = "upgraded"
	PassRefunded PassStatus = "refunded"
)

var ErrInvalidTransition = errors.New("models: invalid pass status transition")

type statusTransition struct {
	From PassStatus
	To   PassStatus
}

// validTransitions is the complete pass state machine. Upgraded and
// refunded are terminal.
var validTransitions = map[statusTransition]bool{
	{PassActive, PassUpgraded}: true,
	{PassActive, PassRefunded}: true,
}

// CanTransitionTo reports whether s may move to next.
func (s PassStatus) CanTransitionTo(next PassStatus) bool {
	return validTransitions[statusTransition{s, next}]
}

// Terminal reports whether no transition leaves s.
func (s PassStatus) Terminal() bool {
	for t := range validTransitions {
		if t.From == s {
			return false
		}
	}
	return true
}

// MarkUpgraded moves an active pass to upgraded and links its successor.
func (p *MonthPass) MarkUpgraded(successorID string) error {
	if err := p.transition(PassUpgraded); err != nil {
		return err
	}
	p.UpgradedToID = &successorID
	return nil
}

// MarkRefunded moves an active pass to refunded.
func (p *MonthPass) MarkRefunded(at time.Time) error {
	if err := p.transition(PassRefunded); err != nil {
		return err
	}
	p.RefundedAt = &at
	return nil
}

func (p *MonthPass) transition(next PassStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: pass %s %s -> %s", ErrInvalidTransition, p.ID, p.Status, next)
	}
	p.Status = next
	return nil
}
