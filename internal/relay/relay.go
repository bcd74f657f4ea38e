package relay

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NeoGas-Relay/internal/assets"
	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/intent"
	"NeoGas-Relay/internal/neo"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/observability/alerting"
	"NeoGas-Relay/internal/observability/metrics"
	"NeoGas-Relay/pkg/logger"
)

// 中继流水线在校验之后的阶段标识，与错误的 stage 元数据一致。
const (
	StageFund     = "fund"
	StageAssemble = "assemble"
	StageSubmit   = "submit"
)

const (
	// CodeNegativeNetAmount 表示手续费吞没了全部转账金额。
	CodeNegativeNetAmount xerrors.Code = "NEGATIVE_NET_AMOUNT"
	// CodeInsufficientFunding 表示代理 GAS 不足且补充失败。
	CodeInsufficientFunding xerrors.Code = "INSUFFICIENT_FUNDING"
	// CodeExecutionFault 表示合约脚本试运行回退。
	CodeExecutionFault xerrors.Code = "EXECUTION_FAULT"
)

func init() {
	xerrors.Register(CodeNegativeNetAmount, xerrors.Attributes{
		Message:   "fee exceeds transfer amount",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientFunding, xerrors.Attributes{
		Message:   "agent gas top-up failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeExecutionFault, xerrors.Attributes{
		Message:   "contract invocation faulted",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// Receipt 是一次成功代付转账的回执。
type Receipt struct {
	TxID       string `json:"txid"`
	NetAmount  int64  `json:"net_amount"`
	BurnAmount int64  `json:"burn_amount"`
	Status     Status `json:"status"`
	IntentID   string `json:"intent_id"`
}

// EstimateRequest 描述一次手续费报价请求。FeeGas 是十进制的 GAS 开销
// 预估值，缺省时使用服务配置的默认值；IntentID 缺省时由服务生成。
type EstimateRequest struct {
	Asset    string `json:"asset"`
	FeeGas   string `json:"fee_gas,omitempty"`
	IntentID string `json:"intent_id,omitempty"`
}

// Tracker 登记已广播交易的确认轮询。
type Tracker interface {
	Track(ctx context.Context, txID, intentID string) (string, error)
}

// ServiceConfig 是中继服务的静态配置。
type ServiceConfig struct {
	// Contract 是链上 GaslessRelay 合约的脚本哈希。
	Contract neo.UInt160
	// ValidUntilOffset 决定交易的存活窗口，默认 240 个区块。
	ValidUntilOffset uint32
	// NetworkMagic 为 0 时启动后从节点查询。
	NetworkMagic uint32
	// DefaultFeeGas 是报价时默认的 GAS 开销预估，十进制字符串，默认 0.03。
	DefaultFeeGas string
	// SystemFeeFallback 在试运行不可用时充当系统费，默认 120000。
	SystemFeeFallback int64
	// NetworkFeeFallback 在网络费估算不可用时兜底，默认 100000。
	NetworkFeeFallback int64
}

// Service 协调意向校验、费用守卫、脚本装配与交易广播，是系统的业务核心。
type Service struct {
	pool          *rpc.Pool
	agent         *neo.Account
	catalog       *assets.Catalog
	verifier      intent.Verifier
	registry      intent.Registry
	quoter        *FeeQuoter
	guard         *GasGuard
	journal       Journal
	tracker       Tracker
	alerter       alerting.Dispatcher
	contract      neo.UInt160
	vubOffset     uint32
	defaultFeeGas *big.Rat
	sysFeeFall    int64
	netFeeFall    int64

	// agentMu 串行化代理账户上的资金检查、签名与广播。
	agentMu sync.Mutex

	magicMu sync.Mutex
	magic   uint32
}

// Option 定义可选的 Service 配置。
type Option func(*Service)

// WithRegistry 替换默认的内存意向登记表。
func WithRegistry(registry intent.Registry) Option {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithTracker 配置交易确认轮询。
func WithTracker(tracker Tracker) Option {
	return func(s *Service) {
		s.tracker = tracker
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(s *Service) {
		s.alerter = dispatcher
	}
}

// NewService 构造中继服务。
func NewService(pool *rpc.Pool, agent *neo.Account, catalog *assets.Catalog, quoter *FeeQuoter, guard *GasGuard, journal Journal, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if pool == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置节点连接池")
	}
	if agent == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置代理账户")
	}
	if catalog == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置资产目录")
	}
	if quoter == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置报价器")
	}
	if guard == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置余额守卫")
	}
	if journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置中继台账")
	}
	if cfg.Contract.IsZero() {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置中继合约地址")
	}
	if cfg.ValidUntilOffset == 0 {
		cfg.ValidUntilOffset = 240
	}
	if strings.TrimSpace(cfg.DefaultFeeGas) == "" {
		cfg.DefaultFeeGas = "0.03"
	}
	if cfg.SystemFeeFallback <= 0 {
		cfg.SystemFeeFallback = 120_000
	}
	if cfg.NetworkFeeFallback <= 0 {
		cfg.NetworkFeeFallback = 100_000
	}
	defaultFeeGas, ok := new(big.Rat).SetString(cfg.DefaultFeeGas)
	if !ok || defaultFeeGas.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "默认 GAS 开销配置非法")
	}

	s := &Service{
		pool:          pool,
		agent:         agent,
		catalog:       catalog,
		verifier:      intent.NewVerifier(),
		registry:      intent.NewMemoryRegistry(),
		quoter:        quoter,
		guard:         guard,
		journal:       journal,
		contract:      cfg.Contract,
		vubOffset:     cfg.ValidUntilOffset,
		defaultFeeGas: defaultFeeGas,
		sysFeeFall:    cfg.SystemFeeFallback,
		netFeeFall:    cfg.NetworkFeeFallback,
		magic:         cfg.NetworkMagic,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Estimate 给出以目标资产计价的手续费报价。
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (*FeeQuote, error) {
	if s == nil || s.quoter == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "中继服务未初始化")
	}
	asset, err := s.catalog.Resolve(strings.TrimSpace(req.Asset))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法识别的资产")
	}
	feeGas := s.defaultFeeGas
	if trimmed := strings.TrimSpace(req.FeeGas); trimmed != "" {
		parsed, ok := new(big.Rat).SetString(trimmed)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "无法解析 GAS 开销预估值")
		}
		feeGas = parsed
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		intentID = uuid.NewString()
	}
	return s.quoter.Quote(ctx, asset, feeGas, intentID)
}

// Execute 将一份已签名的转账意向转化为链上交易并广播。流程沿
// 校验、资金、装配、签名、广播推进，任何阶段失败立即终止并落盘原因；
// 交易一旦广播成功，后续的记录动作不再受请求取消影响。
func (s *Service) Execute(ctx context.Context, it intent.TransferIntent) (*Receipt, error) {
	if s == nil || s.pool == nil || s.journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "中继服务未初始化")
	}

	if err := s.verifier.Verify(it); err != nil {
		s.conclude(ctx, it, assets.Asset{}, StatusRejected, stageOr(err, intent.StageVerify), err)
		return nil, err
	}

	asset, err := s.catalog.Resolve(it.AssetHash)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法识别的资产", xerrors.WithStage(intent.StageVerify))
		s.conclude(ctx, it, assets.Asset{}, StatusRejected, intent.StageVerify, wrapped)
		return nil, wrapped
	}
	fromHash, err := neo.ParseAccount(it.From)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析付款方地址", xerrors.WithStage(intent.StageVerify))
		s.conclude(ctx, it, asset, StatusRejected, intent.StageVerify, wrapped)
		return nil, wrapped
	}
	toHash, err := neo.ParseAccount(it.To)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析收款方地址", xerrors.WithStage(intent.StageVerify))
		s.conclude(ctx, it, asset, StatusRejected, intent.StageVerify, wrapped)
		return nil, wrapped
	}

	netAmount := it.GrossAmount - it.FeeInAsset
	if netAmount <= 0 {
		rejected := xerrors.New(CodeNegativeNetAmount, "手续费不低于转账总额", xerrors.WithStage(intent.StageVerify))
		s.conclude(ctx, it, asset, StatusRejected, intent.StageVerify, rejected)
		return nil, rejected
	}

	claimed, err := s.registry.Claim(ctx, it.IntentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "意向登记不可用", xerrors.WithStage(intent.StageVerify))
	}
	if !claimed {
		return nil, intent.ErrDuplicateIntent
	}
	// 占用只在进入广播之前的失败路径上回收。
	submitAttempted := false
	defer func() {
		if submitAttempted {
			return
		}
		if relErr := s.registry.Release(context.WithoutCancel(ctx), it.IntentID); relErr != nil {
			logger.L().Warn("释放意向占用失败",
				slog.Any("error", relErr), slog.String("intent_id", it.IntentID))
		}
	}()

	// 代理账户是单写者资源，资金检查到广播之间必须串行。
	s.agentMu.Lock()
	defer s.agentMu.Unlock()

	report, err := s.guard.EnsureFunded(ctx)
	if err != nil {
		s.conclude(ctx, it, asset, StatusFailed, StageFund, err)
		return nil, err
	}
	if report.Swapped {
		metrics.ObserveFundingSwap()
	}

	tx, err := s.assemble(ctx, it, asset, fromHash, toHash, netAmount)
	if err != nil {
		s.conclude(ctx, it, asset, StatusFailed, stageOr(err, StageAssemble), err)
		return nil, err
	}
	if err := s.sign(ctx, tx); err != nil {
		s.conclude(ctx, it, asset, StatusFailed, StageAssemble, err)
		return nil, err
	}

	// 广播一经发出，占用就不再释放：节点可能已接受交易，换随机数
	// 重试同一意向会造成双花。
	submitAttempted = true
	txid, err := s.pool.SendRawTransaction(ctx, tx.Bytes())
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeRPCFailure, err, "广播交易失败", xerrors.WithStage(StageSubmit))
		s.conclude(ctx, it, asset, StatusFailed, StageSubmit, wrapped)
		return nil, wrapped
	}

	// 交易已广播，取消信号不再有意义。
	done := context.WithoutCancel(ctx)

	record := &RelayRecord{
		IntentID:        it.IntentID,
		TxID:            txid,
		Sender:          it.From,
		Recipient:       it.To,
		AssetHash:       asset.Hash.String(),
		AssetSymbol:     asset.Symbol,
		GrossAmount:     it.GrossAmount,
		NetAmount:       netAmount,
		BurnAmount:      it.FeeInAsset,
		SystemFee:       tx.SystemFee,
		NetworkFee:      tx.NetworkFee,
		ValidUntilBlock: tx.ValidUntilBlock,
		Status:          StatusSent,
	}
	if err := s.journal.Record(done, record); err != nil {
		logger.L().Error("台账写入失败",
			slog.Any("error", err), slog.String("intent_id", it.IntentID), slog.String("txid", txid))
	}
	metrics.ObserveRelay(string(StatusSent))
	metrics.AddBurned(asset.Symbol, it.FeeInAsset)
	logger.Audit().Info("代付转账已广播",
		slog.String("intent_id", it.IntentID),
		slog.String("txid", txid),
		slog.String("asset", asset.Symbol),
		slog.Int64("net_amount", netAmount),
		slog.String("burned", asset.Format(it.FeeInAsset)),
	)
	if s.tracker != nil {
		if _, err := s.tracker.Track(done, txid, it.IntentID); err != nil {
			logger.L().Warn("登记确认轮询失败",
				slog.Any("error", err), slog.String("txid", txid))
		}
	}

	return &Receipt{
		TxID:       txid,
		NetAmount:  netAmount,
		BurnAmount: it.FeeInAsset,
		Status:     StatusSent,
		IntentID:   it.IntentID,
	}, nil
}

// Inspect 返回指定意向的台账记录。
func (s *Service) Inspect(ctx context.Context, intentID string) (*RelayRecord, error) {
	if s == nil || s.journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "中继台账未初始化")
	}
	return s.journal.Get(ctx, strings.TrimSpace(intentID))
}

// List 返回符合过滤条件的台账记录。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*RelayRecord, error) {
	if s == nil || s.journal == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "中继台账未初始化")
	}
	options := buildListOptions(opts)
	return s.journal.List(ctx, options)
}

// Stats 返回符合过滤条件的台账统计。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JournalStats, error) {
	if s == nil || s.journal == nil {
		return JournalStats{}, xerrors.New(xerrors.CodeInitializationFailure, "中继台账未初始化")
	}
	options := buildListOptions(opts)
	return s.journal.Stats(ctx, options)
}

// Close 释放台账与登记表资源。
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			return err
		}
	}
	if s.registry != nil {
		return s.registry.Close()
	}
	return nil
}

// assemble 生成调用脚本并装配交易：费率由节点试运行给出，网络费按
// 含真实见证体积的交易估算。用户见证不依赖交易哈希，在此一并构造；
// 代理见证等费用敲定后由 sign 补签。
func (s *Service) assemble(ctx context.Context, it intent.TransferIntent, asset assets.Asset, from, to neo.UInt160, netAmount int64) (*neo.Transaction, error) {
	script, err := TransferScript(TransferCall{
		Contract:   s.contract,
		Asset:      asset.Hash,
		From:       from,
		To:         to,
		NetAmount:  netAmount,
		BurnAmount: it.FeeInAsset,
		IntentID:   it.IntentID,
	})
	if err != nil {
		return nil, err
	}

	height, err := s.pool.GetBlockCount(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRPCFailure, err, "查询区块高度失败", xerrors.WithStage(StageAssemble))
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "生成交易随机数失败", xerrors.WithStage(StageAssemble))
	}

	tx := &neo.Transaction{
		Version:         0,
		Nonce:           nonce,
		ValidUntilBlock: height + s.vubOffset,
		Signers: []neo.Signer{
			{Account: s.agent.ScriptHash(), Scopes: neo.ScopeCalledByEntry},
			{Account: from, Scopes: neo.ScopeCustomContracts, AllowedContracts: []neo.UInt160{s.contract}},
		},
		Script: script,
	}

	specs := []rpc.SignerSpec{
		rpc.SignerSpecFrom(tx.Signers[0]),
		rpc.SignerSpecFrom(tx.Signers[1]),
	}
	// 试运行同时承担费用估算和失败预检：节点明确报告 FAULT 时终止；
	// 仅在 RPC 层面不可达时退回配置的系统费，不挡住交易。
	res, err := s.pool.InvokeScript(ctx, script, specs)
	switch {
	case err != nil:
		logger.L().Warn("试运行调用脚本失败，改用配置的系统费",
			slog.Any("error", err), slog.Int64("system_fee", s.sysFeeFall))
		tx.SystemFee = s.sysFeeFall
	case !res.Halted():
		return nil, xerrors.New(CodeExecutionFault,
			fmt.Sprintf("合约试运行回退: %s", res.Exception), xerrors.WithStage(StageAssemble))
	default:
		tx.SystemFee = res.GasConsumed
	}

	sig, err := intent.DecodeSignature(it.Signature)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析用户签名失败", xerrors.WithStage(StageAssemble))
	}
	userWitness, err := UserWitness(WitnessCall{
		Contract:  s.contract,
		User:      from,
		IntentID:  it.IntentID,
		Signature: sig,
	})
	if err != nil {
		return nil, err
	}
	tx.Witnesses = []neo.Witness{
		{Verification: s.agent.VerificationScript()},
		*userWitness,
	}

	netFee, err := s.pool.CalculateNetworkFee(ctx, tx.Bytes())
	if err != nil {
		logger.L().Warn("估算网络费失败，改用配置的网络费",
			slog.Any("error", err), slog.Int64("network_fee", s.netFeeFall))
		netFee = s.netFeeFall
	}
	tx.NetworkFee = netFee
	return tx, nil
}

// sign 用代理私钥补上交易的第一个见证。
func (s *Service) sign(ctx context.Context, tx *neo.Transaction) error {
	magic, err := s.networkMagic(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRPCFailure, err, "获取网络魔数失败", xerrors.WithStage(StageAssemble))
	}
	witness, err := s.agent.WitnessFor(tx, magic)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUnknown, err, "代理签名失败", xerrors.WithStage(StageAssemble))
	}
	tx.Witnesses[0] = witness
	return nil
}

func (s *Service) networkMagic(ctx context.Context) (uint32, error) {
	s.magicMu.Lock()
	defer s.magicMu.Unlock()
	if s.magic != 0 {
		return s.magic, nil
	}
	magic, err := s.pool.GetNetwork(ctx)
	if err != nil {
		return 0, err
	}
	s.magic = magic
	return magic, nil
}

// conclude 为一次失败的执行落盘台账、计数并按需告警。
func (s *Service) conclude(ctx context.Context, it intent.TransferIntent, asset assets.Asset, status Status, stage string, cause error) {
	metrics.ObserveRelay(string(status))
	metrics.ObserveStageFailure(stage)

	if it.IntentID != "" {
		record := &RelayRecord{
			IntentID:    it.IntentID,
			Sender:      it.From,
			Recipient:   it.To,
			AssetHash:   it.AssetHash,
			AssetSymbol: asset.Symbol,
			GrossAmount: it.GrossAmount,
			BurnAmount:  it.FeeInAsset,
			Status:      status,
			Stage:       stage,
			ErrorCode:   string(xerrors.CodeOf(cause)),
			LastError:   cause.Error(),
		}
		if !asset.Hash.IsZero() {
			record.AssetHash = asset.Hash.String()
		}
		if err := s.journal.Record(ctx, record); err != nil {
			logger.L().Error("台账写入失败",
				slog.Any("error", err), slog.String("intent_id", it.IntentID))
		}
	}

	logger.Audit().Warn("代付转账终止",
		slog.String("intent_id", it.IntentID),
		slog.String("status", string(status)),
		slog.String("stage", stage),
		slog.String("error_code", string(xerrors.CodeOf(cause))),
		slog.String("error", cause.Error()),
	)
	s.emitAlert(ctx, it, stage, cause)
}

func (s *Service) emitAlert(ctx context.Context, it intent.TransferIntent, stage string, cause error) {
	if s.alerter == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		IntentID:   it.IntentID,
		Stage:      stage,
		OccurredAt: time.Now(),
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err), slog.String("intent_id", it.IntentID), slog.String("stage", stage))
	}
}

func stageOr(err error, fallback string) string {
	if stage := xerrors.StageOf(err); stage != "" {
		return stage
	}
	return fallback
}

func randomNonce() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
