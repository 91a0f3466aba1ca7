package strategy

// State 策略生命周期状态
type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateStopped     State = "stopped"
	StateError       State = "error"
)

// StateTransition 状态转换
type StateTransition struct {
	From State
	To   State
}

// 合法转换；error 与 stopped 为终态，需重新创建实例。
var legalTransitions = map[StateTransition]bool{
	{StateInitialized, StateRunning}: true,

	{StateRunning, StatePaused}:  true,
	{StateRunning, StateStopped}: true,
	{StateRunning, StateError}:   true,

	{StatePaused, StateRunning}: true,
	{StatePaused, StateStopped}: true,
	{StatePaused, StateError}:   true,
}

// ValidateTransition 验证状态转换是否合法
func ValidateTransition(from, to State) error {
	if !legalTransitions[StateTransition{From: from, To: to}] {
		return InvalidTransition(from, to)
	}
	return nil
}

// IsFinal 判断是否是终态
func (s State) IsFinal() bool {
	return s == StateStopped || s == StateError
}

// IsActive 判断实例是否仍在运行或暂停
func (s State) IsActive() bool {
	return s == StateRunning || s == StatePaused
}
