package relay

import (
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neovm"
)

// VerifyMethod 是 GaslessRelay 合约上校验意向签名的只读方法名。
const VerifyMethod = "verify"

// userSignatureSize 是带恢复位的 secp256k1 签名长度。
const userSignatureSize = 65

// WitnessCall 描述用户见证脚本的生成参数。
type WitnessCall struct {
	Contract  neo.UInt160
	User      neo.UInt160
	IntentID  string
	Signature []byte
}

// UserWitness 为用户签名人生成见证。调用脚本只压入意向签名；校验脚本
// 将签名与意向编号、用户地址一起打包，交给中继合约的 verify 方法核对，
// 并断言返回值为 true。校验脚本运行在只读上下文，携带 ReadOnly 权限。
func UserWitness(call WitnessCall) (*neo.Witness, error) {
	if call.Contract.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "中继合约地址不能为空")
	}
	if call.User.IsZero() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户地址不能为空")
	}
	if call.IntentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "意向编号不能为空")
	}
	if len(call.Signature) != userSignatureSize {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "用户签名长度必须为 65 字节")
	}

	invocation, err := neovm.NewScriptBuilder().
		PushBytes(call.Signature).
		Bytes()
	if err != nil {
		return nil, err
	}

	// 校验脚本启动时栈上只有调用脚本留下的签名，SWAP 将其调整到
	// intentId 之上，PACK 之后数组为 [user, signature, intentId]。
	b := neovm.NewScriptBuilder()
	b.PushString(call.IntentID).
		Emit(neovm.SWAP).
		PushBytes(call.User.BytesLE()).
		PushInt(3).
		Emit(neovm.PACK)
	b.PushInt(int64(neovm.CallFlagsReadOnly)).
		PushString(VerifyMethod).
		PushBytes(call.Contract.BytesLE()).
		EmitSyscall(neovm.SyscallContractCall)
	// DUP 保留一份返回值，ASSERT 消费副本并在 false 时中止，
	// 栈顶最终留下 true 供虚拟机判定见证成立。
	b.Emit(neovm.DUP).Emit(neovm.ASSERT)
	verification, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	return &neo.Witness{
		Invocation:   invocation,
		Verification: verification,
	}, nil
}
