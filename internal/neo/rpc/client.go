package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"NeoGas-Relay/internal/neo"
)

const defaultTimeout = 15 * time.Second

// Config 描述单个 N3 节点端点。
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client 通过 JSON-RPC 与单个 N3 节点通信。
type Client struct {
	endpoint   string
	httpClient *http.Client
	seq        atomic.Uint64
}

// NewClient 根据配置创建节点客户端。
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("未提供节点端点")
	}
	endpoint = strings.TrimRight(endpoint, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Endpoint 返回该客户端指向的节点地址。
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Error 是节点返回的 JSON-RPC 错误对象。业务性错误不应触发端点切换。
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("节点错误 %d: %s", e.Code, e.Message)
}

// IsUnknownTransaction 判断错误是否表示交易尚未上链。
// 不同实现的节点对该情况使用不同的错误码，统一按文案匹配。
func IsUnknownTransaction(err error) bool {
	var nodeErr *Error
	if !errors.As(err, &nodeErr) {
		return false
	}
	return strings.Contains(strings.ToLower(nodeErr.Message), "unknown transaction")
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

// Call 发送一次 JSON-RPC 请求并将 result 解码到 out。
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("序列化节点请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建节点请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("请求节点 %s 失败: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("节点 %s 返回错误状态 %d: %s", c.endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("解析节点 %s 响应失败: %w", c.endpoint, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("节点 %s 响应缺少 result", c.endpoint)
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("解析 %s 结果失败: %w", method, err)
	}
	return nil
}

// GetBlockCount 返回当前区块计数。
func (c *Client) GetBlockCount(ctx context.Context) (uint32, error) {
	var count uint32
	if err := c.Call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetTransactionHeight 返回交易所在的区块高度。交易尚未上链时
// 节点返回错误对象，调用方用 IsUnknownTransaction 区分。
func (c *Client) GetTransactionHeight(ctx context.Context, txid string) (uint32, error) {
	var height uint32
	if err := c.Call(ctx, "gettransactionheight", []any{txid}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetNetwork 通过 getversion 读取节点所在网络的魔数，
// 启动时与配置值核对可以避免把交易签到错误的网络上。
func (c *Client) GetNetwork(ctx context.Context) (uint32, error) {
	var decoded struct {
		Protocol struct {
			Network uint32 `json:"network"`
		} `json:"protocol"`
	}
	if err := c.Call(ctx, "getversion", nil, &decoded); err != nil {
		return 0, err
	}
	return decoded.Protocol.Network, nil
}

type invokeResultWire struct {
	State       string      `json:"state"`
	GasConsumed flexInt64   `json:"gasconsumed"`
	Exception   string      `json:"exception"`
	Stack       []StackItem `json:"stack"`
}

func (w invokeResultWire) result() *InvokeResult {
	return &InvokeResult{
		State:       w.State,
		GasConsumed: int64(w.GasConsumed),
		Exception:   w.Exception,
		Stack:       w.Stack,
	}
}

// InvokeFunction 试运行一次合约方法调用。
func (c *Client) InvokeFunction(ctx context.Context, contract neo.UInt160, operation string, params []ContractParameter, signers []SignerSpec) (*InvokeResult, error) {
	if params == nil {
		params = []ContractParameter{}
	}
	args := []any{contract.String(), operation, params}
	if len(signers) > 0 {
		args = append(args, signers)
	}
	var decoded invokeResultWire
	if err := c.Call(ctx, "invokefunction", args, &decoded); err != nil {
		return nil, err
	}
	return decoded.result(), nil
}

// InvokeScript 试运行一段脚本，用于估算系统费并预演执行结果。
func (c *Client) InvokeScript(ctx context.Context, script []byte, signers []SignerSpec) (*InvokeResult, error) {
	args := []any{base64.StdEncoding.EncodeToString(script)}
	if len(signers) > 0 {
		args = append(args, signers)
	}
	var decoded invokeResultWire
	if err := c.Call(ctx, "invokescript", args, &decoded); err != nil {
		return nil, err
	}
	return decoded.result(), nil
}

// CalculateNetworkFee 让节点按见证规模计算网络费。
func (c *Client) CalculateNetworkFee(ctx context.Context, rawTx []byte) (int64, error) {
	var decoded struct {
		NetworkFee flexInt64 `json:"networkfee"`
	}
	if err := c.Call(ctx, "calculatenetworkfee", []any{base64.StdEncoding.EncodeToString(rawTx)}, &decoded); err != nil {
		return 0, err
	}
	return int64(decoded.NetworkFee), nil
}

// SendRawTransaction 广播已签名交易并返回交易号。
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	var decoded struct {
		Hash string `json:"hash"`
	}
	if err := c.Call(ctx, "sendrawtransaction", []any{base64.StdEncoding.EncodeToString(rawTx)}, &decoded); err != nil {
		return "", err
	}
	if decoded.Hash == "" {
		return "", errors.New("节点未返回交易号")
	}
	return decoded.Hash, nil
}
