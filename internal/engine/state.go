package engine

import (
	"sync"

	"go.uber.org/zap"
)

// CycleState 一轮循环所处的阶段
type CycleState string

const (
	StateIdle              CycleState = "IDLE"
	StateFetchingState     CycleState = "FETCHING_STATE"
	StateReconcilingOrders CycleState = "RECONCILING_ORDERS"
	StateSelecting         CycleState = "SELECTING"
	StateBuying            CycleState = "BUYING"
	StateSelling           CycleState = "SELLING"
)

// 合法的前进方向。任何状态都可以直接回到 IDLE
var cycleTransitions = map[CycleState]CycleState{
	StateIdle:              StateFetchingState,
	StateFetchingState:     StateReconcilingOrders,
	StateReconcilingOrders: StateSelecting,
	StateSelecting:         StateBuying,
	StateBuying:            StateSelling,
}

// stateMachine 记录当前阶段，供外部查询
type stateMachine struct {
	mu      sync.RWMutex
	current CycleState
	logger  *zap.Logger
}

func newStateMachine(logger *zap.Logger) *stateMachine {
	return &stateMachine{current: StateIdle, logger: logger}
}

func (sm *stateMachine) Current() CycleState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// advance 前进到 to。非法迁移只记录告警，状态保持不变
func (sm *stateMachine) advance(to CycleState) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if to != StateIdle && cycleTransitions[sm.current] != to {
		sm.logger.Warn("Illegal cycle transition",
			zap.String("from", string(sm.current)),
			zap.String("to", string(to)))
		return false
	}
	if to != sm.current {
		sm.logger.Debug("Cycle state transition",
			zap.String("from", string(sm.current)),
			zap.String("to", string(to)))
		sm.current = to
	}
	return true
}
