package rpc

import (
	"context"
	"errors"
	"sync"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
)

// Pool 管理一组节点端点并在传输失败时自动切换。
// 成功过的端点会被记住，后续请求优先走它。
type Pool struct {
	clients []*Client

	mu      sync.Mutex
	current int
}

// NewPool 按配置创建端点池，至少需要一个端点。
func NewPool(cfgs []Config) (*Pool, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("未配置任何节点端点")
	}
	clients := make([]*Client, 0, len(cfgs))
	for _, cfg := range cfgs {
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return &Pool{clients: clients}, nil
}

// Endpoints 返回池中全部端点地址。
func (p *Pool) Endpoints() []string {
	out := make([]string, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c.Endpoint())
	}
	return out
}

// do 从当前端点开始逐个尝试。节点明确返回的业务错误直接透传，
// 换一个端点重试不会改变这类结果。
func (p *Pool) do(ctx context.Context, fn func(*Client) error) error {
	p.mu.Lock()
	start := p.current
	p.mu.Unlock()

	total := len(p.clients)
	var lastErr error
	for i := 0; i < total; i++ {
		idx := (start + i) % total
		err := fn(p.clients[idx])
		if err == nil {
			p.mu.Lock()
			p.current = idx
			p.mu.Unlock()
			return nil
		}

		var nodeErr *Error
		if errors.As(err, &nodeErr) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return xerrors.Wrap(xerrors.CodeRPCFailure, lastErr, "所有节点端点均不可用")
}

// GetBlockCount 返回当前区块计数。
func (p *Pool) GetBlockCount(ctx context.Context) (uint32, error) {
	var count uint32
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		count, innerErr = c.GetBlockCount(ctx)
		return innerErr
	})
	return count, err
}

// GetTransactionHeight 返回交易所在的区块高度。
func (p *Pool) GetTransactionHeight(ctx context.Context, txid string) (uint32, error) {
	var height uint32
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		height, innerErr = c.GetTransactionHeight(ctx, txid)
		return innerErr
	})
	return height, err
}

// GetNetwork 返回节点所在网络的魔数。
func (p *Pool) GetNetwork(ctx context.Context) (uint32, error) {
	var network uint32
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		network, innerErr = c.GetNetwork(ctx)
		return innerErr
	})
	return network, err
}

// InvokeFunction 试运行一次合约方法调用。
func (p *Pool) InvokeFunction(ctx context.Context, contract neo.UInt160, operation string, params []ContractParameter, signers []SignerSpec) (*InvokeResult, error) {
	var result *InvokeResult
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		result, innerErr = c.InvokeFunction(ctx, contract, operation, params, signers)
		return innerErr
	})
	return result, err
}

// InvokeScript 试运行一段脚本。
func (p *Pool) InvokeScript(ctx context.Context, script []byte, signers []SignerSpec) (*InvokeResult, error) {
	var result *InvokeResult
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		result, innerErr = c.InvokeScript(ctx, script, signers)
		return innerErr
	})
	return result, err
}

// CalculateNetworkFee 让节点按见证规模计算网络费。
func (p *Pool) CalculateNetworkFee(ctx context.Context, rawTx []byte) (int64, error) {
	var fee int64
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		fee, innerErr = c.CalculateNetworkFee(ctx, rawTx)
		return innerErr
	})
	return fee, err
}

// SendRawTransaction 广播已签名交易并返回交易号。
func (p *Pool) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	var txid string
	err := p.do(ctx, func(c *Client) error {
		var innerErr error
		txid, innerErr = c.SendRawTransaction(ctx, rawTx)
		return innerErr
	})
	return txid, err
}
