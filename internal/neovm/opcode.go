package neovm

import "fmt"

// Opcode 表示 NEO N3 虚拟机的单字节指令。
// 这里只收录中继脚本与见证脚本会用到的指令子集。
type Opcode byte

const (
	PUSHINT8   Opcode = 0x00
	PUSHINT16  Opcode = 0x01
	PUSHINT32  Opcode = 0x02
	PUSHINT64  Opcode = 0x03
	PUSHINT128 Opcode = 0x04
	PUSHINT256 Opcode = 0x05
	PUSHT      Opcode = 0x08
	PUSHF      Opcode = 0x09
	PUSHNULL   Opcode = 0x0B
	PUSHDATA1  Opcode = 0x0C
	PUSHDATA2  Opcode = 0x0D
	PUSHDATA4  Opcode = 0x0E
	PUSHM1     Opcode = 0x0F
	PUSH0      Opcode = 0x10
	PUSH1      Opcode = 0x11
	PUSH2      Opcode = 0x12
	PUSH3      Opcode = 0x13
	PUSH4      Opcode = 0x14
	PUSH5      Opcode = 0x15
	PUSH6      Opcode = 0x16
	PUSH7      Opcode = 0x17
	PUSH8      Opcode = 0x18
	PUSH9      Opcode = 0x19
	PUSH10     Opcode = 0x1A
	PUSH11     Opcode = 0x1B
	PUSH12     Opcode = 0x1C
	PUSH13     Opcode = 0x1D
	PUSH14     Opcode = 0x1E
	PUSH15     Opcode = 0x1F
	PUSH16     Opcode = 0x20
	NOP        Opcode = 0x21
	ABORT      Opcode = 0x37
	ASSERT     Opcode = 0x38
	THROW      Opcode = 0x3A
	RET        Opcode = 0x40
	SYSCALL    Opcode = 0x41
	DEPTH      Opcode = 0x43
	DROP       Opcode = 0x45
	DUP        Opcode = 0x4A
	OVER       Opcode = 0x4B
	SWAP       Opcode = 0x50
	PACK       Opcode = 0xC0
	UNPACK     Opcode = 0xC1
	NEWARRAY0  Opcode = 0xC2
)

var opcodeNames = map[Opcode]string{
	PUSHINT8:   "PUSHINT8",
	PUSHINT16:  "PUSHINT16",
	PUSHINT32:  "PUSHINT32",
	PUSHINT64:  "PUSHINT64",
	PUSHINT128: "PUSHINT128",
	PUSHINT256: "PUSHINT256",
	PUSHT:      "PUSHT",
	PUSHF:      "PUSHF",
	PUSHNULL:   "PUSHNULL",
	PUSHDATA1:  "PUSHDATA1",
	PUSHDATA2:  "PUSHDATA2",
	PUSHDATA4:  "PUSHDATA4",
	PUSHM1:     "PUSHM1",
	NOP:        "NOP",
	ABORT:      "ABORT",
	ASSERT:     "ASSERT",
	THROW:      "THROW",
	RET:        "RET",
	SYSCALL:    "SYSCALL",
	DEPTH:      "DEPTH",
	DROP:       "DROP",
	DUP:        "DUP",
	OVER:       "OVER",
	SWAP:       "SWAP",
	PACK:       "PACK",
	UNPACK:     "UNPACK",
	NEWARRAY0:  "NEWARRAY0",
}

// String 返回指令助记符，便于日志与测试输出。
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	if op >= PUSH0 && op <= PUSH16 {
		return fmt.Sprintf("PUSH%d", int(op-PUSH0))
	}
	return fmt.Sprintf("OPCODE(0x%02X)", byte(op))
}
