package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/errors"
)

// GameState 会话阶段
type GameState string

const (
	StateWaiting   GameState = "WAITING"   // 大厅等待
	StateCountdown GameState = "COUNTDOWN" // 开局倒计时
	StatePlaying   GameState = "PLAYING"   // 对局中
	StateEnded     GameState = "ENDED"     // 对局结束
)

// 状态转换事件
const (
	EventAllReady       = "all_ready"
	EventCountdownDone  = "countdown_done"
	EventLobbyEmpty     = "lobby_empty"
	EventGameOver       = "game_over"
	EventResultsElapsed = "results_elapsed"
	EventRestart        = "restart"
)

// StateTransition 状态转换定义
type StateTransition struct {
	From  GameState
	Event string
	To    GameState
}

// StateMachine 会话状态机
//
// 只维护阶段与合法转换，进入阶段后的动作由Session完成。不加锁，只允许会话goroutine访问。
type StateMachine struct {
	currentState GameState
	transitions  map[string]StateTransition
	logger       *zap.Logger

	// 回调函数
	onStateChange func(from, to GameState, event string)
}

// NewStateMachine 创建新的状态机，初始阶段为WAITING
func NewStateMachine(logger *zap.Logger) *StateMachine {
	sm := &StateMachine{
		currentState: StateWaiting,
		transitions:  make(map[string]StateTransition),
		logger:       logger,
	}

	// 初始化状态转换规则
	sm.initTransitions()

	return sm
}

// initTransitions 初始化状态转换规则
func (sm *StateMachine) initTransitions() {
	// 大厅 -> 倒计时（全员准备）
	sm.addTransition(StateTransition{From: StateWaiting, Event: EventAllReady, To: StateCountdown})

	// 倒计时 -> 对局中
	sm.addTransition(StateTransition{From: StateCountdown, Event: EventCountdownDone, To: StatePlaying})

	// 倒计时 -> 大厅（大厅清空）
	sm.addTransition(StateTransition{From: StateCountdown, Event: EventLobbyEmpty, To: StateWaiting})

	// 对局中 -> 结束
	sm.addTransition(StateTransition{From: StatePlaying, Event: EventGameOver, To: StateEnded})

	// 结束 -> 大厅（结算展示时间到）
	sm.addTransition(StateTransition{From: StateEnded, Event: EventResultsElapsed, To: StateWaiting})

	// 任何状态 -> 大厅（重开）
	for _, state := range []GameState{StateWaiting, StateCountdown, StatePlaying, StateEnded} {
		sm.addTransition(StateTransition{From: state, Event: EventRestart, To: StateWaiting})
	}
}

// addTransition 添加状态转换
func (sm *StateMachine) addTransition(transition StateTransition) {
	sm.transitions[sm.transitionKey(transition.From, transition.Event)] = transition
}

// transitionKey 生成转换键
func (sm *StateMachine) transitionKey(state GameState, event string) string {
	return fmt.Sprintf("%s:%s", state, event)
}

// Trigger 触发事件，非法转换返回ErrInvalidTransition且阶段不变
func (sm *StateMachine) Trigger(event string) error {
	transition, exists := sm.transitions[sm.transitionKey(sm.currentState, event)]
	if !exists {
		return errors.Newf(errors.ErrInvalidTransition, "状态=%s, 事件=%s", sm.currentState, event)
	}

	oldState := sm.currentState
	sm.currentState = transition.To

	// 触发状态变更回调
	if sm.onStateChange != nil {
		sm.onStateChange(oldState, sm.currentState, event)
	}

	sm.logger.Info("状态转换",
		zap.String("from", string(oldState)),
		zap.String("to", string(sm.currentState)),
		zap.String("event", event))

	return nil
}

// GetState 获取当前状态
func (sm *StateMachine) GetState() GameState {
	return sm.currentState
}

// Is 当前是否处于指定阶段
func (sm *StateMachine) Is(state GameState) bool {
	return sm.currentState == state
}

// OnStateChange 设置状态变更回调
func (sm *StateMachine) OnStateChange(fn func(from, to GameState, event string)) {
	sm.onStateChange = fn
}

// CanTransition 检查是否可以转换
func (sm *StateMachine) CanTransition(event string) bool {
	_, exists := sm.transitions[sm.transitionKey(sm.currentState, event)]
	return exists
}

// GetValidEvents 获取当前状态下的有效事件
func (sm *StateMachine) GetValidEvents() []string {
	var events []string
	prefix := string(sm.currentState) + ":"

	for key := range sm.transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			events = append(events, key[len(prefix):])
		}
	}

	return events
}
