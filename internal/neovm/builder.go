package neovm

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// 中继脚本用到的系统调用名。互操作编号由名称的 SHA-256 前四字节派生，
// 构建时即时计算，避免散落的魔法常量。
const (
	SyscallContractCall   = "System.Contract.Call"
	SyscallCryptoCheckSig = "System.Crypto.CheckSig"
)

// SyscallID 返回系统调用的互操作编号（小端序读取哈希前四字节）。
func SyscallID(name string) uint32 {
	sum := sha256.Sum256([]byte(name))
	return binary.LittleEndian.Uint32(sum[:4])
}

// instruction 是一条带操作数的指令记录。
type instruction struct {
	op      Opcode
	operand []byte
}

// ScriptBuilder 以类型化指令记录的形式累积脚本，调用 Bytes 时一次性渲染。
// 相同的调用序列总是产生字节级相同的脚本，这是中继脚本可审计性的前提。
// 构造过程中出现的第一个错误会被记住，后续调用全部变成空操作。
type ScriptBuilder struct {
	instrs []instruction
	err    error
}

// NewScriptBuilder 创建一个空的脚本构造器。
func NewScriptBuilder() *ScriptBuilder {
	return &ScriptBuilder{}
}

// Emit 追加一条无操作数指令。
func (b *ScriptBuilder) Emit(op Opcode) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	b.instrs = append(b.instrs, instruction{op: op})
	return b
}

// EmitSyscall 追加 SYSCALL 指令与互操作编号。
func (b *ScriptBuilder) EmitSyscall(name string) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if name == "" {
		b.err = fmt.Errorf("系统调用名不能为空")
		return b
	}
	sum := sha256.Sum256([]byte(name))
	operand := make([]byte, 4)
	copy(operand, sum[:4])
	b.instrs = append(b.instrs, instruction{op: SYSCALL, operand: operand})
	return b
}

// PushInt 以最短编码追加一个整数。-1 与 0..16 使用单字节指令，
// 其余按补码小端序填充到 1/2/4/8 字节档位。
func (b *ScriptBuilder) PushInt(v int64) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if v == -1 {
		return b.Emit(PUSHM1)
	}
	if v >= 0 && v <= 16 {
		return b.Emit(PUSH0 + Opcode(v))
	}

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))

	n := 8
	if v >= 0 {
		for n > 1 && buf[n-1] == 0x00 && buf[n-2]&0x80 == 0 {
			n--
		}
	} else {
		for n > 1 && buf[n-1] == 0xFF && buf[n-2]&0x80 != 0 {
			n--
		}
	}

	class := 1
	sized := PUSHINT8
	for class < n {
		class <<= 1
		sized++
	}
	operand := make([]byte, class)
	copy(operand, buf[:class])
	b.instrs = append(b.instrs, instruction{op: sized, operand: operand})
	return b
}

// PushBytes 以最短的 PUSHDATA 变体追加一段字节串。
func (b *ScriptBuilder) PushBytes(data []byte) *ScriptBuilder {
	if b.err != nil {
		return b
	}
	if int64(len(data)) > math.MaxUint32 {
		b.err = fmt.Errorf("字节串过长: %d", len(data))
		return b
	}

	var op Opcode
	var operand []byte
	switch {
	case len(data) < 0x100:
		op = PUSHDATA1
		operand = make([]byte, 0, 1+len(data))
		operand = append(operand, byte(len(data)))
	case len(data) < 0x10000:
		op = PUSHDATA2
		operand = make([]byte, 2, 2+len(data))
		binary.LittleEndian.PutUint16(operand, uint16(len(data)))
	default:
		op = PUSHDATA4
		operand = make([]byte, 4, 4+len(data))
		binary.LittleEndian.PutUint32(operand, uint32(len(data)))
	}
	operand = append(operand, data...)
	b.instrs = append(b.instrs, instruction{op: op, operand: operand})
	return b
}

// PushString 按 UTF-8 字节追加一个字符串。
func (b *ScriptBuilder) PushString(s string) *ScriptBuilder {
	return b.PushBytes([]byte(s))
}

// PushBool 追加一个布尔值。
func (b *ScriptBuilder) PushBool(v bool) *ScriptBuilder {
	if v {
		return b.Emit(PUSHT)
	}
	return b.Emit(PUSHF)
}

// Err 返回构造过程中记录的第一个错误。
func (b *ScriptBuilder) Err() error {
	return b.err
}

// Len 返回渲染后的脚本长度。
func (b *ScriptBuilder) Len() int {
	total := 0
	for _, ins := range b.instrs {
		total += 1 + len(ins.operand)
	}
	return total
}

// Bytes 渲染脚本。构造过程中出过错则返回该错误。
func (b *ScriptBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, 0, b.Len())
	for _, ins := range b.instrs {
		out = append(out, byte(ins.op))
		out = append(out, ins.operand...)
	}
	return out, nil
}
