package neovm

// CallFlags 约束 System.Contract.Call 被调用合约的权限。
// 见证脚本运行在只读上下文中，只能携带 CallFlagsReadOnly。
type CallFlags byte

const (
	CallFlagsNone        CallFlags = 0
	CallFlagsReadStates  CallFlags = 1 << 0
	CallFlagsWriteStates CallFlags = 1 << 1
	CallFlagsAllowCall   CallFlags = 1 << 2
	CallFlagsAllowNotify CallFlags = 1 << 3
	CallFlagsStates      CallFlags = CallFlagsReadStates | CallFlagsWriteStates
	CallFlagsReadOnly    CallFlags = CallFlagsReadStates | CallFlagsAllowCall
	CallFlagsAll         CallFlags = CallFlagsStates | CallFlagsAllowCall | CallFlagsAllowNotify
)
