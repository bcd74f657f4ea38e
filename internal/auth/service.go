package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
)

// Service 校验静态 Bearer 令牌。运维 API 是单租户的，令牌在配置文件里
// 逐个列出，不存在签发与过期。
type Service struct {
	mode   Mode
	tokens map[string]*Subject
	audit  *slog.Logger
}

// Option 调整 Service 的可选依赖。
type Option func(*Service)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 根据配置构造认证服务。static 模式要求至少一个非空令牌。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	svc := &Service{
		mode:   cfg.normalizedMode(),
		tokens: make(map[string]*Subject, len(cfg.Tokens)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	if svc.mode == ModeDisabled {
		return svc, nil
	}

	for i, token := range cfg.Tokens {
		value := strings.TrimSpace(token.Token)
		if value == "" {
			return nil, fmt.Errorf("认证令牌 %d 为空", i+1)
		}
		if _, exists := svc.tokens[value]; exists {
			return nil, fmt.Errorf("认证令牌 %d 与先前的令牌重复", i+1)
		}
		name := strings.TrimSpace(token.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i+1)
		}
		svc.tokens[value] = &Subject{Name: name}
	}
	if len(svc.tokens) == 0 {
		return nil, fmt.Errorf("static 模式至少需要一个访问令牌")
	}
	return svc, nil
}

// Enabled 报告认证是否开启。
func (s *Service) Enabled() bool {
	return s != nil && s.mode == ModeStatic
}

// AuthenticateRequest 校验 Authorization 头并返回对应的调用方。
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrInvalidToken
	}
	candidate := []byte(parts[1])
	// 逐个常量时间比较，避免通过响应时间猜测令牌。
	for token, subject := range s.tokens {
		if len(token) == len(candidate) && subtle.ConstantTimeCompare([]byte(token), candidate) == 1 {
			return &Subject{Name: subject.Name}, nil
		}
	}
	return nil, ErrInvalidToken
}
