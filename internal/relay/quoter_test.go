package relay

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"NeoGas-Relay/internal/assets"
	xerrors "NeoGas-Relay/internal/errors"
)

type stubPriceSource struct {
	price *big.Rat
	err   error
}

func (s *stubPriceSource) Price(ctx context.Context, base, quote string) (*big.Rat, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.price, nil
}

func ratFromString(t *testing.T, s string) *big.Rat {
	t.Helper()
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		t.Fatalf("parse rational %q", s)
	}
	return r
}

func quoteAsset() assets.Asset {
	return assets.Asset{Symbol: "bNEO", Hash: assets.NeoToken, Decimals: 8}
}

func TestQuoteVectors(t *testing.T) {
	// 人工核算：0.00012 GAS / 42.7 = 2.81e-6 bNEO，8 位精度放大后
	// 向下取整为 281，加 50 基点缓冲后为 282。
	cases := []struct {
		name        string
		price       string
		feeGas      string
		slippageBps int64
		asset       assets.Asset
		want        int64
	}{
		{"with buffer", "42.7", "0.00012", 50, quoteAsset(), 282},
		{"without buffer", "42.7", "0.00012", 0, quoteAsset(), 281},
		{"default fee gas", "42.7", "0.03", 50, quoteAsset(), 70608},
		{"low precision asset", "2", "0.5", 25, assets.Asset{Symbol: "X", Hash: assets.NeoToken, Decimals: 2}, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quoter, err := NewFeeQuoter(&stubPriceSource{price: ratFromString(t, tc.price)}, tc.slippageBps)
			if err != nil {
				t.Fatalf("new quoter: %v", err)
			}
			quote, err := quoter.Quote(context.Background(), tc.asset, ratFromString(t, tc.feeGas), "intent-1")
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if quote.BurnAmount != tc.want {
				t.Fatalf("burn amount = %d, want %d", quote.BurnAmount, tc.want)
			}
			if quote.FeeInAsset != quote.BurnAmount {
				t.Fatalf("fee %d diverges from burn %d", quote.FeeInAsset, quote.BurnAmount)
			}
			if quote.AssetSymbol != tc.asset.Symbol || quote.AssetDecimals != tc.asset.Decimals {
				t.Fatalf("asset fields not carried over: %+v", quote)
			}
			if quote.IntentID != "intent-1" || quote.Source != QuoteSource {
				t.Fatalf("unexpected quote metadata: %+v", quote)
			}
		})
	}
}

func TestQuoteBuiltinNeo(t *testing.T) {
	// 内建目录中的 NEO 采用 8 位手续费计价精度，缺省参数下
	// 报价不能塌缩为零。
	neoAsset, err := assets.Builtin().Resolve("NEO")
	if err != nil {
		t.Fatalf("resolve NEO: %v", err)
	}
	quoter, err := NewFeeQuoter(&stubPriceSource{price: ratFromString(t, "42.7")}, 50)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	quote, err := quoter.Quote(context.Background(), neoAsset, ratFromString(t, "0.00012"), "intent-1")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.AssetDecimals != 8 {
		t.Fatalf("NEO decimals = %d, want 8", quote.AssetDecimals)
	}
	if quote.BurnAmount != 282 {
		t.Fatalf("burn amount = %d, want 282", quote.BurnAmount)
	}
}

func TestQuoteDeterministic(t *testing.T) {
	quoter, err := NewFeeQuoter(&stubPriceSource{price: ratFromString(t, "42.7")}, 50)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	feeGas := ratFromString(t, "0.00012")
	first, err := quoter.Quote(context.Background(), quoteAsset(), feeGas, "intent-1")
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	second, err := quoter.Quote(context.Background(), quoteAsset(), feeGas, "intent-1")
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if *first != *second {
		t.Fatalf("same input produced different quotes: %+v vs %+v", first, second)
	}
}

func TestQuoteOracleFailures(t *testing.T) {
	cases := []struct {
		name   string
		source *stubPriceSource
	}{
		{"source error", &stubPriceSource{err: errors.New("connection refused")}},
		{"zero price", &stubPriceSource{price: new(big.Rat)}},
		{"negative price", &stubPriceSource{price: big.NewRat(-1, 2)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quoter, err := NewFeeQuoter(tc.source, 50)
			if err != nil {
				t.Fatalf("new quoter: %v", err)
			}
			_, err = quoter.Quote(context.Background(), quoteAsset(), ratFromString(t, "0.03"), "intent-1")
			if xerrors.CodeOf(err) != xerrors.CodeOracleUnavailable {
				t.Fatalf("expected ORACLE_UNAVAILABLE, got %v", err)
			}
		})
	}
}

func TestQuoteRejectsNonPositiveFeeGas(t *testing.T) {
	quoter, err := NewFeeQuoter(&stubPriceSource{price: big.NewRat(1, 1)}, 0)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	for _, feeGas := range []*big.Rat{nil, new(big.Rat), big.NewRat(-3, 100)} {
		if _, err := quoter.Quote(context.Background(), quoteAsset(), feeGas, "intent-1"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("feeGas %v: expected INVALID_ARGUMENT, got %v", feeGas, err)
		}
	}
}

func TestNewFeeQuoterValidation(t *testing.T) {
	if _, err := NewFeeQuoter(nil, 0); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("nil source: expected INITIALIZATION_FAILURE, got %v", err)
	}
	source := &stubPriceSource{price: big.NewRat(1, 1)}
	if _, err := NewFeeQuoter(source, -1); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("negative slippage: expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := NewFeeQuoter(source, 10000); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("slippage at 10000: expected INVALID_ARGUMENT, got %v", err)
	}
}
