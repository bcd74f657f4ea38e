package relay

import (
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neovm"
)

// TransferMethod 是 GaslessRelay 合约上执行代付转账的方法名。
const TransferMethod = "transferWithFeeFromAmount"

// TransferCall 描述一次代付转账的合约调用。
type TransferCall struct {
	Contract   neo.UInt160
	Asset      neo.UInt160
	From       neo.UInt160
	To         neo.UInt160
	NetAmount  int64
	BurnAmount int64
	IntentID   string
}

// TransferScript 生成调用 GaslessRelay 合约的调用脚本。参数先按合约方法
// (from, to, asset, netAmount, burnAmount, intentId) 的声明顺序打包成数组，
// 再压入调用权限、方法名与合约地址并发起系统调用。生成结果对相同输入
// 字节级稳定，任何一个参数变化都会改变脚本。
func TransferScript(call TransferCall) ([]byte, error) {
	if call.Contract.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "中继合约地址不能为空")
	}
	if call.Asset.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "资产合约地址不能为空")
	}
	if call.From.IsZero() || call.To.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "转账双方地址不能为空")
	}
	if call.NetAmount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "到账金额必须为正数")
	}
	if call.BurnAmount < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "燃烧金额不能为负数")
	}
	if call.IntentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "意向编号不能为空")
	}

	// PACK 按出栈顺序组装数组，后压入的参数排在数组前面。
	b := neovm.NewScriptBuilder()
	b.PushString(call.IntentID).
		PushInt(call.BurnAmount).
		PushInt(call.NetAmount).
		PushBytes(call.Asset.BytesLE()).
		PushBytes(call.To.BytesLE()).
		PushBytes(call.From.BytesLE()).
		PushInt(6).
		Emit(neovm.PACK)
	b.PushInt(int64(neovm.CallFlagsAll)).
		PushString(TransferMethod).
		PushBytes(call.Contract.BytesLE()).
		EmitSyscall(neovm.SyscallContractCall)
	return b.Bytes()
}
