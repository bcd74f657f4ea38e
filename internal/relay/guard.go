package relay

import (
	"context"
	"log/slog"

	"NeoGas-Relay/internal/assets"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/oracle"
	"NeoGas-Relay/pkg/logger"
)

const (
	// fundingSwapToken 是为代理补充 GAS 时卖出的代币。
	fundingSwapToken = "FLM"
	// fundingSwapRate 把 GAS 缺口粗略换算成卖出的 FLM 数量。刻意高估，
	// 一次兑换后余额应回到目标线之上。
	fundingSwapRate = 100
	// balanceOfMethod 是 NEP-17 余额查询方法。
	balanceOfMethod = "balanceOf"
)

// GuardConfig 控制代理账户的 GAS 水位。金额为 GAS 原始单位（8 位精度）。
type GuardConfig struct {
	// MinBalance 是触发兑换的水位线，余额严格低于该值才会兑换。
	MinBalance int64
	// TopUpTarget 是兑换后希望达到的余额。
	TopUpTarget int64
}

func (c *GuardConfig) applyDefaults() {
	if c.MinBalance <= 0 {
		c.MinBalance = 50_000_000 // 0.5 GAS
	}
	if c.TopUpTarget < c.MinBalance {
		c.TopUpTarget = 2 * c.MinBalance
	}
}

// FundingReport 汇总一次水位检查的结果，供调用方记录与计数。
type FundingReport struct {
	Balance int64  `json:"balance"`
	Swapped bool   `json:"swapped"`
	SwapTx  string `json:"swap_tx,omitempty"`
}

// GasGuard 确保代理账户的 GAS 余额足以垫付交易费。
type GasGuard struct {
	pool      *rpc.Pool
	swapper   oracle.Swapper
	agentHash neo.UInt160
	agentAddr string
	gasToken  neo.UInt160
	cfg       GuardConfig
}

// NewGasGuard 构造 GasGuard。
func NewGasGuard(pool *rpc.Pool, swapper oracle.Swapper, agent *neo.Account, cfg GuardConfig) (*GasGuard, error) {
	if pool == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置节点连接池")
	}
	if swapper == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置兑换服务")
	}
	if agent == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代理账户")
	}
	cfg.applyDefaults()
	return &GasGuard{
		pool:      pool,
		swapper:   swapper,
		agentHash: agent.ScriptHash(),
		agentAddr: agent.Address(),
		gasToken:  assets.GasToken,
		cfg:       cfg,
	}, nil
}

// EnsureFunded 检查代理余额，必要时通过卖出 FLM 补充 GAS。余额恰好等于
// 水位线时不兑换。兑换失败对当前请求是致命的，返回 INSUFFICIENT_FUNDING。
func (g *GasGuard) EnsureFunded(ctx context.Context) (*FundingReport, error) {
	if g == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "余额守卫未初始化")
	}

	balance := g.balance(ctx)
	report := &FundingReport{Balance: balance}
	if balance >= g.cfg.MinBalance {
		return report, nil
	}

	shortfall := g.cfg.TopUpTarget - balance
	txid, err := g.swapper.Swap(ctx, oracle.SwapRequest{
		FromToken: fundingSwapToken,
		ToToken:   feeQuoteToken,
		Amount:    shortfall * fundingSwapRate,
		Recipient: g.agentAddr,
	})
	if err != nil {
		return report, xerrors.Wrap(CodeInsufficientFunding, err,
			"代理 GAS 余额不足且兑换失败", xerrors.WithStage(StageFund))
	}
	report.Swapped = true
	report.SwapTx = txid
	logger.Audit().Info("代理 GAS 余额触发兑换补充",
		slog.String("agent", g.agentAddr),
		slog.Int64("balance", balance),
		slog.Int64("top_up_target", g.cfg.TopUpTarget),
		slog.String("swap_tx", txid),
	)
	return report, nil
}

// balance 查询代理账户的 GAS 余额。查询失败按零余额处理并记录日志，
// 这会强制走一次兑换，宁可多换也不让请求因费用不足在链上失败。
func (g *GasGuard) balance(ctx context.Context) int64 {
	res, err := g.pool.InvokeFunction(ctx, g.gasToken, balanceOfMethod,
		[]rpc.ContractParameter{rpc.Hash160Param(g.agentHash)}, nil)
	if err != nil {
		logger.L().Warn("查询代理 GAS 余额失败，按零余额处理",
			slog.Any("error", err), slog.String("agent", g.agentAddr))
		return 0
	}
	if !res.Halted() || len(res.Stack) == 0 {
		logger.L().Warn("余额查询执行异常，按零余额处理",
			slog.String("state", res.State), slog.String("agent", g.agentAddr))
		return 0
	}
	value, err := res.Stack[0].BigInt()
	if err != nil || !value.IsInt64() {
		logger.L().Warn("余额返回值无法解析，按零余额处理",
			slog.Any("error", err), slog.String("agent", g.agentAddr))
		return 0
	}
	return value.Int64()
}
