package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/oracle"
)

// fakeBalanceNode 只应答 invokefunction 形态的余额查询。
type fakeBalanceNode struct {
	mu      sync.Mutex
	balance string
	mode    string // "ok" | "http-error" | "fault" | "bad-stack"
}

func (n *fakeBalanceNode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		balance, mode := n.balance, n.mode
		n.mu.Unlock()

		if req.Method != "invokefunction" {
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		var result string
		switch mode {
		case "http-error":
			http.Error(w, "node down", http.StatusInternalServerError)
			return
		case "fault":
			result = `{"state":"FAULT","gasconsumed":"0","exception":"halted","stack":[]}`
		case "bad-stack":
			result = `{"state":"HALT","gasconsumed":"100","stack":[{"type":"Array","value":[]}]}`
		default:
			result = fmt.Sprintf(`{"state":"HALT","gasconsumed":"100","stack":[{"type":"Integer","value":"%s"}]}`, balance)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}
}

type stubSwapper struct {
	mu   sync.Mutex
	txid string
	err  error
	got  []oracle.SwapRequest
}

func (s *stubSwapper) Swap(ctx context.Context, req oracle.SwapRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, req)
	if s.err != nil {
		return "", s.err
	}
	return s.txid, nil
}

func testAgent(t *testing.T) *neo.Account {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = 2
	account, err := neo.NewAccountFromPrivateKey(raw)
	if err != nil {
		t.Fatalf("agent account: %v", err)
	}
	return account
}

func newGuardFixture(t *testing.T, node *fakeBalanceNode, swapper *stubSwapper, cfg GuardConfig) *GasGuard {
	t.Helper()
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)
	pool, err := rpc.NewPool([]rpc.Config{{Endpoint: srv.URL}})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	guard, err := NewGasGuard(pool, swapper, testAgent(t), cfg)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return guard
}

func TestEnsureFundedSkipsSwapAtWatermark(t *testing.T) {
	node := &fakeBalanceNode{balance: "50000000"}
	swapper := &stubSwapper{txid: "0xswap"}
	guard := newGuardFixture(t, node, swapper, GuardConfig{MinBalance: 50_000_000, TopUpTarget: 100_000_000})

	report, err := guard.EnsureFunded(context.Background())
	if err != nil {
		t.Fatalf("ensure funded: %v", err)
	}
	if report.Balance != 50_000_000 || report.Swapped {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(swapper.got) != 0 {
		t.Fatalf("swap triggered at the watermark: %+v", swapper.got)
	}
}

func TestEnsureFundedSwapsBelowWatermark(t *testing.T) {
	node := &fakeBalanceNode{balance: "40000000"}
	swapper := &stubSwapper{txid: "0xswap"}
	guard := newGuardFixture(t, node, swapper, GuardConfig{MinBalance: 50_000_000, TopUpTarget: 100_000_000})

	report, err := guard.EnsureFunded(context.Background())
	if err != nil {
		t.Fatalf("ensure funded: %v", err)
	}
	if !report.Swapped || report.SwapTx != "0xswap" || report.Balance != 40_000_000 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(swapper.got) != 1 {
		t.Fatalf("expected one swap, got %d", len(swapper.got))
	}
	req := swapper.got[0]
	if req.FromToken != "FLM" || req.ToToken != "GAS" {
		t.Fatalf("unexpected swap pair: %+v", req)
	}
	// 缺口 0.6 GAS，按粗略汇率卖出 60 FLM。
	if req.Amount != 6_000_000_000 {
		t.Fatalf("swap amount = %d, want 6000000000", req.Amount)
	}
	if req.Recipient != testAgent(t).Address() {
		t.Fatalf("swap recipient = %s", req.Recipient)
	}
}

func TestEnsureFundedAssumesZeroOnQueryFailure(t *testing.T) {
	for _, mode := range []string{"http-error", "fault", "bad-stack"} {
		t.Run(mode, func(t *testing.T) {
			node := &fakeBalanceNode{mode: mode}
			swapper := &stubSwapper{txid: "0xswap"}
			guard := newGuardFixture(t, node, swapper, GuardConfig{MinBalance: 50_000_000, TopUpTarget: 100_000_000})

			report, err := guard.EnsureFunded(context.Background())
			if err != nil {
				t.Fatalf("ensure funded: %v", err)
			}
			if report.Balance != 0 || !report.Swapped {
				t.Fatalf("unexpected report: %+v", report)
			}
			if len(swapper.got) != 1 || swapper.got[0].Amount != 10_000_000_000 {
				t.Fatalf("expected a full top-up swap, got %+v", swapper.got)
			}
		})
	}
}

func TestEnsureFundedSwapFailureIsFatal(t *testing.T) {
	node := &fakeBalanceNode{balance: "0"}
	swapper := &stubSwapper{err: errors.New("liquidity exhausted")}
	guard := newGuardFixture(t, node, swapper, GuardConfig{MinBalance: 50_000_000, TopUpTarget: 100_000_000})

	report, err := guard.EnsureFunded(context.Background())
	if xerrors.CodeOf(err) != CodeInsufficientFunding {
		t.Fatalf("expected INSUFFICIENT_FUNDING, got %v", err)
	}
	if xerrors.StageOf(err) != StageFund {
		t.Fatalf("stage = %q, want %q", xerrors.StageOf(err), StageFund)
	}
	if report == nil || report.Swapped {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestGuardConfigDefaults(t *testing.T) {
	node := &fakeBalanceNode{balance: "0"}
	swapper := &stubSwapper{txid: "0xswap"}
	// 未配置水位线时采用 0.5 GAS 触发、1 GAS 目标。
	guard := newGuardFixture(t, node, swapper, GuardConfig{})

	if _, err := guard.EnsureFunded(context.Background()); err != nil {
		t.Fatalf("ensure funded: %v", err)
	}
	if len(swapper.got) != 1 || swapper.got[0].Amount != 10_000_000_000 {
		t.Fatalf("expected a default-target swap, got %+v", swapper.got)
	}
}

func TestNewGasGuardValidation(t *testing.T) {
	node := &fakeBalanceNode{balance: "0"}
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)
	pool, err := rpc.NewPool([]rpc.Config{{Endpoint: srv.URL}})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	swapper := &stubSwapper{}
	agent := testAgent(t)

	if _, err := NewGasGuard(nil, swapper, agent, GuardConfig{}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("nil pool: got %v", err)
	}
	if _, err := NewGasGuard(pool, nil, agent, GuardConfig{}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("nil swapper: got %v", err)
	}
	if _, err := NewGasGuard(pool, swapper, nil, GuardConfig{}); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("nil agent: got %v", err)
	}
}
