package relay

import (
	"context"
	"math/big"

	"NeoGas-Relay/internal/assets"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/oracle"
)

// QuoteSource 标识报价来源，写入每一份报价结果。
const QuoteSource = "oracle"

// feeQuoteToken 是报价的计价代币。预言机返回 1 单位资产折合多少 GAS。
const feeQuoteToken = "GAS"

// FeeQuote 是一次手续费报价的结果。FeeInAsset 与 BurnAmount 都是换算后
// 的资产原始单位整数，用户将前者原样写进意向，后者在链上被燃烧。
type FeeQuote struct {
	FeeInAsset    int64  `json:"fee_in_asset"`
	AssetSymbol   string `json:"asset_symbol"`
	AssetDecimals int    `json:"asset_decimals"`
	BurnAmount    int64  `json:"burn_amount"`
	IntentID      string `json:"intent_id"`
	Source        string `json:"source"`
}

// FeeQuoter 将预估的 GAS 开销换算为待转移资产中的手续费。
type FeeQuoter struct {
	source      oracle.PriceSource
	slippageBps int64
}

// NewFeeQuoter 构造 FeeQuoter。slippageBps 是在换算结果上追加的滑点缓冲，
// 以基点计，报价到执行之间的价格波动由它吸收。
func NewFeeQuoter(source oracle.PriceSource, slippageBps int64) (*FeeQuoter, error) {
	if source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置价格来源")
	}
	if slippageBps < 0 || slippageBps >= 10000 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "滑点缓冲必须位于 [0, 10000) 基点")
	}
	return &FeeQuoter{source: source, slippageBps: slippageBps}, nil
}

// Quote 给出以 asset 计价的手续费。换算顺序固定：先按价格折算，再追加
// 滑点缓冲，最后按资产精度向下取整，相同输入总是得到相同报价。
func (q *FeeQuoter) Quote(ctx context.Context, asset assets.Asset, feeGas *big.Rat, intentID string) (*FeeQuote, error) {
	if q == nil || q.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "报价器未初始化")
	}
	if feeGas == nil || feeGas.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "预估 GAS 开销必须为正数")
	}

	price, err := q.source.Price(ctx, asset.Symbol, feeQuoteToken)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOracleUnavailable, err, "获取资产价格失败")
	}
	if price.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeOracleUnavailable, "预言机返回非正价格")
	}

	fee := new(big.Rat).Quo(feeGas, price)
	if q.slippageBps > 0 {
		buffer := new(big.Rat).Mul(fee, big.NewRat(q.slippageBps, 10000))
		fee.Add(fee, buffer)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	scaled := new(big.Rat).Mul(fee, new(big.Rat).SetInt(scale))
	raw := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !raw.IsInt64() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "换算后的手续费超出可表示范围")
	}

	burn := raw.Int64()
	return &FeeQuote{
		FeeInAsset:    burn,
		AssetSymbol:   asset.Symbol,
		AssetDecimals: asset.Decimals,
		BurnAmount:    burn,
		IntentID:      intentID,
		Source:        QuoteSource,
	}, nil
}
