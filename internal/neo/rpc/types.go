package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"NeoGas-Relay/internal/neo"
)

// flexInt64 同时接受数字与字符串两种 JSON 形态，
// 节点实现在费用字段上并不统一。
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("解析整数字段 %q: %w", s, err)
	}
	*f = flexInt64(v)
	return nil
}

// InvokeResult 是 invokefunction/invokescript 的执行结果。
// GasConsumed 以 GAS 最小单位计。
type InvokeResult struct {
	State       string
	GasConsumed int64
	Exception   string
	Stack       []StackItem
}

// Halted 报告脚本是否正常执行完毕。
func (r *InvokeResult) Halted() bool {
	return strings.HasPrefix(r.State, "HALT")
}

// StackItem 是调用结果栈上的一项。
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Bytes 将栈项解释为字节串。
func (s StackItem) Bytes() ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(s.Value, &encoded); err != nil {
		return nil, fmt.Errorf("解析栈项字节串: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("解码栈项字节串: %w", err)
	}
	return data, nil
}

// BigInt 将栈项解释为整数。Integer 是十进制字符串，
// ByteString 是 base64 包装的小端序补码。
func (s StackItem) BigInt() (*big.Int, error) {
	switch s.Type {
	case "Integer":
		var raw string
		if err := json.Unmarshal(s.Value, &raw); err != nil {
			var num int64
			if err2 := json.Unmarshal(s.Value, &num); err2 != nil {
				return nil, fmt.Errorf("解析整数栈项: %w", err)
			}
			return big.NewInt(num), nil
		}
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("整数栈项格式非法: %q", raw)
		}
		return v, nil
	case "ByteString", "Buffer":
		data, err := s.Bytes()
		if err != nil {
			return nil, err
		}
		return bigIntFromLE(data), nil
	default:
		return nil, fmt.Errorf("栈项类型 %s 不能解释为整数", s.Type)
	}
}

func bigIntFromLE(data []byte) *big.Int {
	if len(data) == 0 {
		return new(big.Int)
	}
	be := make([]byte, len(data))
	for i, b := range data {
		be[len(data)-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(data)*8)))
	}
	return v
}

// ContractParameter 是 invokefunction 的参数编码。
type ContractParameter struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Hash160Param 包装一个脚本哈希参数。
func Hash160Param(h neo.UInt160) ContractParameter {
	return ContractParameter{Type: "Hash160", Value: h.String()}
}

// IntegerParam 包装一个整数参数。
func IntegerParam(v *big.Int) ContractParameter {
	return ContractParameter{Type: "Integer", Value: v.String()}
}

// StringParam 包装一个字符串参数。
func StringParam(s string) ContractParameter {
	return ContractParameter{Type: "String", Value: s}
}

// ByteArrayParam 包装一个字节串参数。
func ByteArrayParam(data []byte) ContractParameter {
	return ContractParameter{Type: "ByteArray", Value: base64.StdEncoding.EncodeToString(data)}
}

// SignerSpec 是 RPC 侧的签名者声明，试运行时让 CheckWitness 判定通过。
type SignerSpec struct {
	Account          string   `json:"account"`
	Scopes           string   `json:"scopes"`
	AllowedContracts []string `json:"allowedcontracts,omitempty"`
}

// SignerSpecFrom 把交易签名者转换为 RPC 声明形式。
func SignerSpecFrom(s neo.Signer) SignerSpec {
	spec := SignerSpec{Account: s.Account.String(), Scopes: scopeNames(s.Scopes)}
	for _, c := range s.AllowedContracts {
		spec.AllowedContracts = append(spec.AllowedContracts, c.String())
	}
	return spec
}

func scopeNames(scopes neo.WitnessScope) string {
	if scopes == neo.ScopeNone {
		return "None"
	}
	var names []string
	if scopes&neo.ScopeCalledByEntry != 0 {
		names = append(names, "CalledByEntry")
	}
	if scopes&neo.ScopeCustomContracts != 0 {
		names = append(names, "CustomContracts")
	}
	if scopes&neo.ScopeGlobal != 0 {
		names = append(names, "Global")
	}
	return strings.Join(names, ",")
}
