package order

import (
	"fmt"
	"sync"
)

// StateTransition 状态转换
type StateTransition struct {
	From Status
	To   Status
}

// StateMachine 订单状态机
type StateMachine struct {
	transitions map[StateTransition]bool
	mu          sync.RWMutex
}

// NewStateMachine 创建新的状态机
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[StateTransition]bool),
	}
	sm.initializeTransitions()
	return sm
}

func (sm *StateMachine) initializeTransitions() {
	legalTransitions := []StateTransition{
		{StatusPending, StatusOpen},
		{StatusPending, StatusFilled}, // 市价单直接成交
		{StatusPending, StatusFailed},

		{StatusOpen, StatusFilled},
		{StatusOpen, StatusCanceled},

		// 终态不能转换（FILLED, CANCELED, FAILED）
	}

	for _, t := range legalTransitions {
		sm.transitions[t] = true
	}
}

// ValidateTransition 验证状态转换是否合法
func (sm *StateMachine) ValidateTransition(from, to Status) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.transitions[StateTransition{From: from, To: to}] {
		return fmt.Errorf("illegal state transition: %s -> %s", from, to)
	}
	return nil
}

// AllowedTransitions 返回当前状态所有合法的目标状态
func (sm *StateMachine) AllowedTransitions(current Status) []Status {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	allowed := make([]Status, 0)
	for transition := range sm.transitions {
		if transition.From == current {
			allowed = append(allowed, transition.To)
		}
	}
	return allowed
}

// IsFinalState 判断是否是终态
func (sm *StateMachine) IsFinalState(status Status) bool {
	switch status {
	case StatusFilled, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// CanCancel 判断当前状态下是否可以撤单
func (sm *StateMachine) CanCancel(status Status) bool {
	return status == StatusOpen
}
