package track

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "NeoGas-Relay/internal/errors"
	"NeoGas-Relay/pkg/logger"
)

// Service 负责登记确认轮询并提供查询。中继在广播成功后调用 Track，
// 处理进程随后通过队列领取记录逐轮查链。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
}

// NewService 构造确认服务。maxAttempts 是放弃前的最大查链轮数。
func NewService(store Store, producer Producer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 40
	}
	return &Service{store: store, producer: producer, maxAttempts: maxAttempts}
}

// Track 为一笔已广播的交易登记确认轮询并返回记录编号。同一交易
// 重复登记会直接复用已有记录，方便中继侧在重试后幂等接入。
func (s *Service) Track(ctx context.Context, txID, intentID string) (string, error) {
	if s == nil || s.store == nil || s.producer == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "确认服务未初始化")
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return "", xerrors.New(CodeTrackValidation, "交易号不能为空")
	}

	if existing, err := s.store.GetByTxID(ctx, txID); err == nil {
		return existing.ID, nil
	} else if !stdErrors.Is(err, ErrConfirmationNotFound) {
		return "", err
	}

	conf := &Confirmation{
		ID:          uuid.NewString(),
		TxID:        txID,
		IntentID:    strings.TrimSpace(intentID),
		Status:      StatusPending,
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, conf); err != nil {
		if stdErrors.Is(err, ErrConfirmationConflict) {
			existing, getErr := s.store.GetByTxID(ctx, txID)
			if getErr == nil {
				return existing.ID, nil
			}
			if !stdErrors.Is(getErr, ErrConfirmationNotFound) {
				return "", getErr
			}
		}
		return "", err
	}
	if err := s.producer.Publish(ctx, conf.ID); err != nil {
		logger.L().Error("确认任务入队失败", slog.Any("error", err), slog.String("txid", txID))
		wrapped := xerrors.Wrap(CodeTrackPublish, err, "发布确认任务到队列失败")
		_ = s.store.MarkExpired(ctx, conf.ID, wrapped.Error())
		return "", wrapped
	}
	logger.Audit().Info("确认轮询已登记",
		slog.String("confirmation_id", conf.ID),
		slog.String("txid", txID),
		slog.String("intent_id", conf.IntentID),
		slog.Int("max_attempts", conf.MaxAttempts),
	)
	return conf.ID, nil
}

// Get 返回指定确认记录。
func (s *Service) Get(ctx context.Context, id string) (*Confirmation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "确认存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// GetByTxID 按交易号返回确认记录。
func (s *Service) GetByTxID(ctx context.Context, txID string) (*Confirmation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "确认存储未初始化")
	}
	return s.store.GetByTxID(ctx, strings.TrimSpace(txID))
}

// List 返回符合过滤条件的确认记录列表。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Confirmation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "确认存储未初始化")
	}
	return s.store.List(ctx, opts)
}

// Stats 返回符合过滤条件的确认统计信息。
func (s *Service) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "确认存储未初始化")
	}
	return s.store.Stats(ctx, opts)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
