package track

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/internal/neo/rpc"
	"NeoGas-Relay/internal/observability/alerting"
	"NeoGas-Relay/internal/observability/metrics"
	"NeoGas-Relay/pkg/logger"
)

// ChainReader 定义处理器查链所需的节点能力。
type ChainReader interface {
	GetTransactionHeight(ctx context.Context, txid string) (uint32, error)
	GetBlockCount(ctx context.Context) (uint32, error)
}

// ResultSink 在确认结案时把结果回写到中继台账。签名刻意只使用
// 内建类型，台账实现无需引用本包。
type ResultSink interface {
	Confirmed(ctx context.Context, intentID string, height uint32) error
	Expired(ctx context.Context, intentID string, reason string) error
}

// Processor 从队列消费确认记录并逐轮查链，直到交易达到要求的确认
// 深度或轮询次数耗尽。结案结果同时写入确认存储和中继台账。
type Processor struct {
	reader       ChainReader
	store        Store
	consumer     Consumer
	producer     Producer
	sink         ResultSink
	workerCount  int
	pollInterval time.Duration
	depth        uint32
	logger       *slog.Logger
	alerter      alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithPollInterval 设置两轮查链之间的等待时间。
func WithPollInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithConfirmationDepth 设置判定上链所需的确认深度。
func WithConfirmationDepth(depth uint32) ProcessorOption {
	return func(p *Processor) {
		if depth > 0 {
			p.depth = depth
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(reader ChainReader, store Store, consumer Consumer, producer Producer, sink ResultSink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		reader:       reader,
		store:        store,
		consumer:     consumer,
		producer:     producer,
		sink:         sink,
		workerCount:  1,
		pollInterval: 15 * time.Second,
		depth:        1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动确认处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置确认消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Resume 把仍处于 pending 的确认记录重新投递到队列。进程重启后调用
// 一次，补回单机队列随进程丢失的消息。重复投递是无害的，已结案的
// 记录会在领取时跳过。
func (p *Processor) Resume(ctx context.Context) error {
	if p.store == nil || p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	offset := 0
	resumed := 0
	for {
		confs, err := p.store.List(ctx, ListOptions{
			Limit:    100,
			Offset:   offset,
			Statuses: []Status{StatusPending},
			Order:    SortByUpdatedAsc,
		})
		if err != nil {
			return err
		}
		if len(confs) == 0 {
			break
		}
		for _, conf := range confs {
			if err := p.producer.Publish(ctx, conf.ID); err != nil {
				return xerrors.Wrap(CodeTrackPublish, err, fmt.Sprintf("确认记录 %s 重投失败", conf.ID))
			}
			resumed++
		}
		offset += len(confs)
	}
	if resumed > 0 {
		logger.L().Info("已恢复待确认记录", slog.Int("count", resumed))
	}
	return nil
}

func (p *Processor) handle(ctx context.Context, confirmationID string) error {
	if p.store == nil || p.reader == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	conf, err := p.store.Claim(ctx, confirmationID)
	if err != nil {
		if stdErrors.Is(err, ErrConfirmationNotFound) || stdErrors.Is(err, ErrConfirmationSettled) {
			p.logDebug("跳过确认记录", slog.String("confirmation_id", confirmationID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrConfirmationExhausted) && conf != nil {
			return p.handleExhausted(ctx, conf)
		}
		logger.L().Error("领取确认记录失败", slog.Any("error", err), slog.String("confirmation_id", confirmationID))
		return err
	}

	height, err := p.reader.GetTransactionHeight(ctx, conf.TxID)
	if err != nil {
		if rpc.IsUnknownTransaction(err) {
			// 交易尚未上链，等一个轮询间隔后重新入队。
			return p.requeue(ctx, conf, "")
		}
		logger.L().Warn("查询交易高度失败", slog.Any("error", err), slog.String("txid", conf.TxID))
		return p.requeue(ctx, conf, err.Error())
	}

	if p.depth > 1 {
		count, err := p.reader.GetBlockCount(ctx)
		if err != nil {
			logger.L().Warn("查询区块高度失败", slog.Any("error", err), slog.String("txid", conf.TxID))
			return p.requeue(ctx, conf, err.Error())
		}
		if count < height+p.depth {
			return p.requeue(ctx, conf, "")
		}
	}
	return p.confirm(ctx, conf, height)
}

// handleExhausted 在放弃之前最后查一次链，避免把已上链的交易标记为过期。
func (p *Processor) handleExhausted(ctx context.Context, conf *Confirmation) error {
	if height, err := p.reader.GetTransactionHeight(ctx, conf.TxID); err == nil {
		return p.confirm(ctx, conf, height)
	}
	return p.expire(ctx, conf, fmt.Sprintf("交易在 %d 轮查询后仍未上链", conf.Attempts))
}

func (p *Processor) confirm(ctx context.Context, conf *Confirmation, height uint32) error {
	if p.sink != nil && conf.IntentID != "" {
		if err := p.sink.Confirmed(ctx, conf.IntentID, height); err != nil {
			logger.L().Error("回写台账确认状态失败", slog.Any("error", err), slog.String("intent_id", conf.IntentID))
			return p.requeue(ctx, conf, err.Error())
		}
	}
	if err := p.store.MarkConfirmed(ctx, conf.ID, height); err != nil {
		logger.L().Error("标记确认完成失败", slog.Any("error", err), slog.String("confirmation_id", conf.ID))
		return p.requeue(ctx, conf, err.Error())
	}
	metrics.ObserveConfirmation("confirmed")
	logger.Audit().Info("交易确认完成",
		slog.String("confirmation_id", conf.ID),
		slog.String("txid", conf.TxID),
		slog.String("intent_id", conf.IntentID),
		slog.Uint64("height", uint64(height)),
		slog.Int("attempts", conf.Attempts),
	)
	return nil
}

func (p *Processor) expire(ctx context.Context, conf *Confirmation, reason string) error {
	if p.sink != nil && conf.IntentID != "" {
		if err := p.sink.Expired(ctx, conf.IntentID, reason); err != nil {
			logger.L().Error("回写台账过期状态失败", slog.Any("error", err), slog.String("intent_id", conf.IntentID))
			return p.requeue(ctx, conf, err.Error())
		}
	}
	if err := p.store.MarkExpired(ctx, conf.ID, reason); err != nil {
		logger.L().Error("标记确认过期失败", slog.Any("error", err), slog.String("confirmation_id", conf.ID))
		return p.requeue(ctx, conf, err.Error())
	}
	metrics.ObserveConfirmation("expired")
	logger.Audit().Warn("交易确认超时",
		slog.String("confirmation_id", conf.ID),
		slog.String("txid", conf.TxID),
		slog.String("intent_id", conf.IntentID),
		slog.Int("attempts", conf.Attempts),
		slog.String("reason", reason),
	)
	p.emitAlert(ctx, conf, CodeTrackExhausted, reason)
	return nil
}

// requeue 记录瞬时失败原因，等待一个轮询间隔后把记录重新投递回队列。
func (p *Processor) requeue(ctx context.Context, conf *Confirmation, lastError string) error {
	if lastError != "" {
		if err := p.store.RecordFailure(ctx, conf.ID, lastError); err != nil && !stdErrors.Is(err, ErrConfirmationNotFound) {
			logger.L().Error("记录确认失败原因失败", slog.Any("error", err), slog.String("confirmation_id", conf.ID))
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.pollInterval):
	}
	if err := p.producer.Publish(ctx, conf.ID); err != nil {
		return xerrors.Wrap(CodeTrackPublish, err, fmt.Sprintf("确认记录 %s 重投失败", conf.ID))
	}
	p.logDebug("确认记录已重新排队", slog.String("confirmation_id", conf.ID), slog.Int("attempts", conf.Attempts))
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, conf *Confirmation, code xerrors.Code, message string) {
	if p == nil || p.alerter == nil || conf == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if message == "" {
		message = attrs.Message
	}
	event := alerting.Event{
		Code:        code,
		Message:     message,
		Severity:    attrs.Severity,
		IntentID:    conf.IntentID,
		TxID:        conf.TxID,
		Stage:       StageConfirm,
		Attempts:    conf.Attempts,
		MaxAttempts: conf.MaxAttempts,
		Metadata:    map[string]string{"confirmation_id": conf.ID},
		OccurredAt:  time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("txid", conf.TxID),
			slog.String("confirmation_id", conf.ID),
		)
	}
}
