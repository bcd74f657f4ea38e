package relay

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"NeoGas-Relay/internal/assets"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/intent"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/observability/alerting"
)

// 私钥标量 1 对应的用户地址，代理账户使用标量 2。
const userAddress = "NXJaKph9Mq6bg8Gu1wa8cUUrmbLDiqThW7"

const broadcastTxID = "0x5b3ac10a07f6e8c52b8c177a9a280e07c1b9b05b0f93e64837e4bd3e7c58ab11"

// fakeNode 应答中继流程用到的全部 JSON-RPC 方法，并截留广播的交易。
type fakeNode struct {
	mu         sync.Mutex
	height     uint32
	magic      uint32
	balance    string
	gas        string
	netFee     string
	txHash     string
	failSend   bool
	faultExec  bool
	failInvoke bool
	failNetFee bool
	sentRaw    [][]byte
}

func defaultNode() *fakeNode {
	return &fakeNode{
		height:  5_499_760,
		magic:   860833102,
		balance: "100000000",
		gas:     "997775",
		netFee:  "123456",
		txHash:  broadcastTxID,
	}
}

func (n *fakeNode) setFailSend(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSend = fail
}

func (n *fakeNode) sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.sentRaw))
	copy(out, n.sentRaw)
	return out
}

func (n *fakeNode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n.mu.Lock()
		defer n.mu.Unlock()

		var result string
		switch req.Method {
		case "getblockcount":
			result = fmt.Sprintf("%d", n.height)
		case "getversion":
			result = fmt.Sprintf(`{"protocol":{"network":%d}}`, n.magic)
		case "invokefunction":
			result = fmt.Sprintf(`{"state":"HALT","gasconsumed":"100","stack":[{"type":"Integer","value":"%s"}]}`, n.balance)
		case "invokescript":
			if n.failInvoke {
				http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
				return
			}
			if n.faultExec {
				result = `{"state":"FAULT","gasconsumed":"0","exception":"insufficient balance","stack":[]}`
			} else {
				result = fmt.Sprintf(`{"state":"HALT","gasconsumed":"%s","stack":[{"type":"Integer","value":"1"}]}`, n.gas)
			}
		case "calculatenetworkfee":
			if n.failNetFee {
				http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
				return
			}
			result = fmt.Sprintf(`{"networkfee":"%s"}`, n.netFee)
		case "sendrawtransaction":
			if n.failSend {
				fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-500,"message":"mempool rejected"}}`, req.ID)
				return
			}
			var encoded string
			if len(req.Params) > 0 {
				_ = json.Unmarshal(req.Params[0], &encoded)
			}
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			n.sentRaw = append(n.sentRaw, raw)
			result = fmt.Sprintf(`{"hash":"%s"}`, n.txHash)
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}
}

type trackedTx struct {
	txID     string
	intentID string
}

type captureTracker struct {
	mu  sync.Mutex
	got []trackedTx
}

func (c *captureTracker) Track(ctx context.Context, txID, intentID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, trackedTx{txID: txID, intentID: intentID})
	return fmt.Sprintf("poll-%d", len(c.got)), nil
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(ctx context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type relayFixture struct {
	node    *fakeNode
	swapper *stubSwapper
	journal *MemoryJournal
	tracker *captureTracker
	agent   *neo.Account
	service *Service
}

func newRelayFixture(t *testing.T, node *fakeNode, swapper *stubSwapper, extra ...Option) *relayFixture {
	t.Helper()
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)
	pool, err := rpc.NewPool([]rpc.Config{{Endpoint: srv.URL}})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	agent := testAgent(t)
	quoter, err := NewFeeQuoter(&stubPriceSource{price: ratFromString(t, "42.7")}, 50)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	guard, err := NewGasGuard(pool, swapper, agent, GuardConfig{MinBalance: 50_000_000, TopUpTarget: 100_000_000})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	journal := NewMemoryJournal()
	tracker := &captureTracker{}

	opts := append([]Option{WithTracker(tracker)}, extra...)
	service, err := NewService(pool, agent, assets.Builtin(), quoter, guard, journal, ServiceConfig{
		Contract: hashFromLE(t, testContractLE),
	}, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &relayFixture{
		node:    node,
		swapper: swapper,
		journal: journal,
		tracker: tracker,
		agent:   agent,
		service: service,
	}
}

func userKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = 0x01
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		t.Fatalf("user key: %v", err)
	}
	return key
}

func signRelayIntent(t *testing.T, it *intent.TransferIntent) {
	t.Helper()
	payload, err := intent.CanonicalPayload(*it)
	if err != nil {
		t.Fatalf("canonical payload: %v", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := crypto.Sign(digest[:], userKey(t))
	if err != nil {
		t.Fatalf("sign intent: %v", err)
	}
	it.Signature = hex.EncodeToString(sig)
}

func relayIntent(t *testing.T, intentID string) intent.TransferIntent {
	t.Helper()
	it := intent.TransferIntent{
		From:        userAddress,
		To:          "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		AssetHash:   "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		GrossAmount: 400_000_000,
		FeeInAsset:  341,
		IntentID:    intentID,
	}
	signRelayIntent(t, &it)
	return it
}

func TestExecuteRelaysTransfer(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-e2e")

	receipt, err := fx.service.Execute(context.Background(), it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.TxID != broadcastTxID || receipt.Status != StatusSent {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if receipt.NetAmount != 399_999_659 || receipt.BurnAmount != 341 {
		t.Fatalf("unexpected amounts: %+v", receipt)
	}
	if receipt.IntentID != "intent-e2e" {
		t.Fatalf("unexpected intent id: %q", receipt.IntentID)
	}

	record, err := fx.journal.Get(context.Background(), "intent-e2e")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusSent || record.TxID != broadcastTxID {
		t.Fatalf("unexpected journal record: %+v", record)
	}
	if record.SystemFee != 997_775 || record.NetworkFee != 123_456 {
		t.Fatalf("unexpected fees: sys=%d net=%d", record.SystemFee, record.NetworkFee)
	}
	if record.ValidUntilBlock != 5_500_000 {
		t.Fatalf("valid until block = %d, want 5500000", record.ValidUntilBlock)
	}
	if record.AssetSymbol != "GAS" || record.AssetHash != "0xd2a4cff31913016155e38e474a2c06d08be276cf" {
		t.Fatalf("unexpected asset fields: %+v", record)
	}
	if record.GrossAmount != 400_000_000 || record.NetAmount != 399_999_659 || record.BurnAmount != 341 {
		t.Fatalf("unexpected amounts in journal: %+v", record)
	}
	if record.Sender != userAddress || record.Recipient != it.To {
		t.Fatalf("unexpected parties: %+v", record)
	}

	if len(fx.tracker.got) != 1 || fx.tracker.got[0] != (trackedTx{txID: broadcastTxID, intentID: "intent-e2e"}) {
		t.Fatalf("unexpected tracker state: %+v", fx.tracker.got)
	}
	if len(fx.swapper.got) != 0 {
		t.Fatalf("funded agent should not swap: %+v", fx.swapper.got)
	}
}

func TestExecuteBroadcastsAssembledScripts(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-raw")

	if _, err := fx.service.Execute(context.Background(), it); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sent := fx.node.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(sent))
	}
	raw := sent[0]

	fromHash, err := neo.ParseAccount(it.From)
	if err != nil {
		t.Fatalf("parse sender: %v", err)
	}
	toHash, err := neo.ParseAccount(it.To)
	if err != nil {
		t.Fatalf("parse recipient: %v", err)
	}
	script, err := TransferScript(TransferCall{
		Contract:   hashFromLE(t, testContractLE),
		Asset:      assets.GasToken,
		From:       fromHash,
		To:         toHash,
		NetAmount:  399_999_659,
		BurnAmount: 341,
		IntentID:   it.IntentID,
	})
	if err != nil {
		t.Fatalf("expected script: %v", err)
	}
	if !bytes.Contains(raw, script) {
		t.Fatal("broadcast transaction does not embed the transfer script")
	}

	sig, err := intent.DecodeSignature(it.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	witness, err := UserWitness(WitnessCall{
		Contract:  hashFromLE(t, testContractLE),
		User:      fromHash,
		IntentID:  it.IntentID,
		Signature: sig,
	})
	if err != nil {
		t.Fatalf("expected witness: %v", err)
	}
	if !bytes.Contains(raw, witness.Invocation) || !bytes.Contains(raw, witness.Verification) {
		t.Fatal("broadcast transaction does not embed the user witness")
	}
	if !bytes.Contains(raw, fx.agent.VerificationScript()) {
		t.Fatal("broadcast transaction does not embed the agent verification script")
	}
}

func TestExecuteRejectsTamperedIntent(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-tampered")
	it.GrossAmount++

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != intent.CodeInvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}

	record, err := fx.journal.Get(context.Background(), "intent-tampered")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusRejected || record.Stage != intent.StageVerify {
		t.Fatalf("unexpected journal record: %+v", record)
	}
	if record.ErrorCode != string(intent.CodeInvalidSignature) {
		t.Fatalf("error code = %q", record.ErrorCode)
	}

	// 拒绝不占用意向编号，修好签名后重新提交应当成功。
	fixed := relayIntent(t, "intent-tampered")
	receipt, err := fx.service.Execute(context.Background(), fixed)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if receipt.Status != StatusSent {
		t.Fatalf("unexpected resubmit receipt: %+v", receipt)
	}
	record, err = fx.journal.Get(context.Background(), "intent-tampered")
	if err != nil {
		t.Fatalf("journal get after resubmit: %v", err)
	}
	if record.Status != StatusSent || record.TxID != broadcastTxID {
		t.Fatalf("rejected record not overwritten: %+v", record)
	}
}

func TestExecuteRejectsUnknownAsset(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-unknown-asset")
	it.AssetHash = "0xcd48b160c1bbc9d74997b803b9a7ad50a4bef020"
	signRelayIntent(t, &it)

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	record, err := fx.journal.Get(context.Background(), "intent-unknown-asset")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusRejected {
		t.Fatalf("unexpected status: %+v", record)
	}
}

func TestExecuteRejectsFeeSwallowingTransfer(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-fee-heavy")
	it.FeeInAsset = it.GrossAmount
	signRelayIntent(t, &it)

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != CodeNegativeNetAmount {
		t.Fatalf("expected NEGATIVE_NET_AMOUNT, got %v", err)
	}
	record, err := fx.journal.Get(context.Background(), "intent-fee-heavy")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusRejected || record.ErrorCode != string(CodeNegativeNetAmount) {
		t.Fatalf("unexpected journal record: %+v", record)
	}
	if len(fx.node.sent()) != 0 {
		t.Fatal("rejected intent must not reach the chain")
	}
}

func TestExecuteRejectsDuplicateIntent(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-dup")

	if _, err := fx.service.Execute(context.Background(), it); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	_, err := fx.service.Execute(context.Background(), it)
	if !errors.Is(err, intent.ErrDuplicateIntent) {
		t.Fatalf("expected duplicate intent error, got %v", err)
	}

	// 重复提交不得覆盖已广播的台账记录。
	record, err := fx.journal.Get(context.Background(), "intent-dup")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusSent || record.TxID != broadcastTxID {
		t.Fatalf("journal record clobbered: %+v", record)
	}
	if sent := fx.node.sent(); len(sent) != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", len(sent))
	}
}

func TestExecuteBroadcastFailureKeepsIntentClaimed(t *testing.T) {
	node := defaultNode()
	node.failSend = true
	fx := newRelayFixture(t, node, &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-retry")

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != xerrors.CodeRPCFailure {
		t.Fatalf("expected RPC_FAILURE, got %v", err)
	}
	if xerrors.StageOf(err) != StageSubmit {
		t.Fatalf("stage = %q, want %q", xerrors.StageOf(err), StageSubmit)
	}
	record, err := fx.journal.Get(context.Background(), "intent-retry")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusFailed || record.Stage != StageSubmit {
		t.Fatalf("unexpected journal record: %+v", record)
	}

	// 广播失败时占用不得释放：节点可能已接受交易，换随机数重发同一
	// 意向就是双花。即便交易下落不明，重试也必须被拒绝。
	node.setFailSend(false)
	_, err = fx.service.Execute(context.Background(), it)
	if !errors.Is(err, intent.ErrDuplicateIntent) {
		t.Fatalf("expected duplicate intent error, got %v", err)
	}
	if sent := fx.node.sent(); len(sent) != 0 {
		t.Fatalf("retry must not reach the chain, got %d broadcasts", len(sent))
	}
}

func TestExecutePreSubmitFailureReleasesIntent(t *testing.T) {
	node := defaultNode()
	node.balance = "0"
	swapper := &stubSwapper{err: errors.New("liquidity exhausted")}
	fx := newRelayFixture(t, node, swapper)
	it := relayIntent(t, "intent-refund")

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != CodeInsufficientFunding {
		t.Fatalf("expected INSUFFICIENT_FUNDING, got %v", err)
	}

	// 广播之前的失败要释放占用，换流动性来源后同一意向可以重试。
	swapper.mu.Lock()
	swapper.err = nil
	swapper.txid = "0xswap"
	swapper.mu.Unlock()
	receipt, err := fx.service.Execute(context.Background(), it)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if receipt.TxID != broadcastTxID {
		t.Fatalf("unexpected retry receipt: %+v", receipt)
	}
	record, err := fx.journal.Get(context.Background(), "intent-refund")
	if err != nil {
		t.Fatalf("journal get after retry: %v", err)
	}
	if record.Status != StatusSent {
		t.Fatalf("journal not updated after retry: %+v", record)
	}
}

func TestExecuteFundingFailure(t *testing.T) {
	node := defaultNode()
	node.balance = "0"
	alerts := &captureDispatcher{}
	fx := newRelayFixture(t, node, &stubSwapper{err: errors.New("liquidity exhausted")}, WithAlertDispatcher(alerts))
	it := relayIntent(t, "intent-dry")

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != CodeInsufficientFunding {
		t.Fatalf("expected INSUFFICIENT_FUNDING, got %v", err)
	}
	record, err := fx.journal.Get(context.Background(), "intent-dry")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusFailed || record.Stage != StageFund {
		t.Fatalf("unexpected journal record: %+v", record)
	}

	if len(alerts.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.events))
	}
	event := alerts.events[0]
	if event.Code != CodeInsufficientFunding || event.Stage != StageFund || event.IntentID != "intent-dry" {
		t.Fatalf("unexpected alert event: %+v", event)
	}
}

func TestExecuteExecutionFault(t *testing.T) {
	node := defaultNode()
	node.faultExec = true
	fx := newRelayFixture(t, node, &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-fault")

	_, err := fx.service.Execute(context.Background(), it)
	if xerrors.CodeOf(err) != CodeExecutionFault {
		t.Fatalf("expected EXECUTION_FAULT, got %v", err)
	}
	if xerrors.StageOf(err) != StageAssemble {
		t.Fatalf("stage = %q, want %q", xerrors.StageOf(err), StageAssemble)
	}
	if len(fx.node.sent()) != 0 {
		t.Fatal("faulted invocation must not be broadcast")
	}
	record, err := fx.journal.Get(context.Background(), "intent-fault")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("unexpected journal record: %+v", record)
	}
}

func TestExecuteFeeFallbacks(t *testing.T) {
	// 费用接口不可达不挡交易：系统费与网络费退回配置的兜底值。
	node := defaultNode()
	node.failInvoke = true
	node.failNetFee = true
	fx := newRelayFixture(t, node, &stubSwapper{txid: "0xswap"})
	it := relayIntent(t, "intent-fallback")

	receipt, err := fx.service.Execute(context.Background(), it)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.TxID != broadcastTxID || receipt.Status != StatusSent {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	record, err := fx.journal.Get(context.Background(), "intent-fallback")
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.SystemFee != 120_000 || record.NetworkFee != 100_000 {
		t.Fatalf("fallback fees not applied: sys=%d net=%d", record.SystemFee, record.NetworkFee)
	}
	if len(fx.node.sent()) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(fx.node.sent()))
	}
}

func TestEstimateQuotes(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})

	quote, err := fx.service.Estimate(context.Background(), EstimateRequest{Asset: "gas", FeeGas: "0.00012", IntentID: "intent-q"})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if quote.FeeInAsset != 282 || quote.BurnAmount != 282 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.AssetSymbol != "GAS" || quote.IntentID != "intent-q" || quote.Source != QuoteSource {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}

	generated, err := fx.service.Estimate(context.Background(), EstimateRequest{Asset: "GAS"})
	if err != nil {
		t.Fatalf("estimate with defaults: %v", err)
	}
	if generated.IntentID == "" {
		t.Fatal("expected a generated intent id")
	}

	if _, err := fx.service.Estimate(context.Background(), EstimateRequest{Asset: "DOGE"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unknown asset: expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := fx.service.Estimate(context.Background(), EstimateRequest{Asset: "GAS", FeeGas: "abc"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("bad fee gas: expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestServiceListAndStats(t *testing.T) {
	fx := newRelayFixture(t, defaultNode(), &stubSwapper{txid: "0xswap"})

	if _, err := fx.service.Execute(context.Background(), relayIntent(t, "intent-ok")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	bad := relayIntent(t, "intent-bad")
	bad.GrossAmount++
	if _, err := fx.service.Execute(context.Background(), bad); err == nil {
		t.Fatal("tampered intent must fail")
	}

	sent, err := fx.service.List(context.Background(), WithStatuses(StatusSent))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sent) != 1 || sent[0].IntentID != "intent-ok" {
		t.Fatalf("unexpected sent listing: %+v", sent)
	}

	stats, err := fx.service.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Sent != 1 || stats.Rejected != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.BurnedByAsset["GAS"] != 341 {
		t.Fatalf("unexpected burn aggregation: %+v", stats.BurnedByAsset)
	}
}

func TestNewServiceValidation(t *testing.T) {
	node := defaultNode()
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)
	pool, err := rpc.NewPool([]rpc.Config{{Endpoint: srv.URL}})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	agent := testAgent(t)
	quoter, err := NewFeeQuoter(&stubPriceSource{price: ratFromString(t, "1")}, 0)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	guard, err := NewGasGuard(pool, &stubSwapper{}, agent, GuardConfig{})
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	journal := NewMemoryJournal()
	contract := hashFromLE(t, testContractLE)

	cases := []struct {
		name string
		run  func() error
	}{
		{"nil pool", func() error {
			_, err := NewService(nil, agent, assets.Builtin(), quoter, guard, journal, ServiceConfig{Contract: contract})
			return err
		}},
		{"nil agent", func() error {
			_, err := NewService(pool, nil, assets.Builtin(), quoter, guard, journal, ServiceConfig{Contract: contract})
			return err
		}},
		{"nil catalog", func() error {
			_, err := NewService(pool, agent, nil, quoter, guard, journal, ServiceConfig{Contract: contract})
			return err
		}},
		{"nil quoter", func() error {
			_, err := NewService(pool, agent, assets.Builtin(), nil, guard, journal, ServiceConfig{Contract: contract})
			return err
		}},
		{"nil guard", func() error {
			_, err := NewService(pool, agent, assets.Builtin(), quoter, nil, journal, ServiceConfig{Contract: contract})
			return err
		}},
		{"nil journal", func() error {
			_, err := NewService(pool, agent, assets.Builtin(), quoter, guard, nil, ServiceConfig{Contract: contract})
			return err
		}},
		{"zero contract", func() error {
			_, err := NewService(pool, agent, assets.Builtin(), quoter, guard, journal, ServiceConfig{})
			return err
		}},
		{"bad default fee gas", func() error {
			_, err := NewService(pool, agent, assets.Builtin(), quoter, guard, journal, ServiceConfig{Contract: contract, DefaultFeeGas: "abc"})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
				t.Fatalf("expected INITIALIZATION_FAILURE, got %v", err)
			}
		})
	}
}
