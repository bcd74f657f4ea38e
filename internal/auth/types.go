package auth

import (
	"errors"
	"strings"
)

// 认证子系统对外暴露的公共错误。
var (
	ErrDisabled     = errors.New("authentication disabled")
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Subject 表示通过静态令牌认证的调用方，用于审计日志署名。
type Subject struct {
	Name string
}

// Mode 枚举支持的认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeStatic   Mode = "static"
)

// Token 描述一个静态访问令牌及其持有者名称。
type Token struct {
	Token string
	Name  string
}

// Config 配置认证服务。
type Config struct {
	Mode   Mode
	Tokens []Token
}

func (c Config) normalizedMode() Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(c.Mode)))) {
	case ModeStatic:
		return ModeStatic
	default:
		return ModeDisabled
	}
}
