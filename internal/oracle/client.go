package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// Config 描述价格与兑换服务的接入信息。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PriceSource 提供资产对的实时报价。
type PriceSource interface {
	Price(ctx context.Context, base, quote string) (*big.Rat, error)
}

// Swapper 把储备资产兑换为手续费代币。
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (string, error)
}

// SwapRequest 描述一次兑换。Amount 以源资产最小单位计。
type SwapRequest struct {
	FromToken string
	ToToken   string
	Amount    int64
	Recipient string
}

// Client 通过 HTTP 访问价格与兑换服务。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建预言机客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未提供预言机服务地址")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Price 查询 base 对 quote 的价格。报价以有理数返回，
// 后续费率换算不允许引入浮点误差。
func (c *Client) Price(ctx context.Context, base, quote string) (*big.Rat, error) {
	endpoint := c.baseURL + "/price?" + url.Values{"pair": {base + "_" + quote}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建价格请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求价格服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("价格服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Price json.RawMessage `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析价格响应失败: %w", err)
	}
	if len(decoded.Price) == 0 {
		return nil, errors.New("价格响应缺少 price 字段")
	}

	raw := strings.Trim(strings.TrimSpace(string(decoded.Price)), `"`)
	price, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("价格格式非法: %q", raw)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("价格服务返回非正报价: %s", raw)
	}
	return price, nil
}

// Swap 触发一次兑换并返回兑换交易标识。
func (c *Client) Swap(ctx context.Context, req SwapRequest) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"fromToken": req.FromToken,
		"toToken":   req.ToToken,
		"amount":    strconv.FormatInt(req.Amount, 10),
		"recipient": req.Recipient,
	})
	if err != nil {
		return "", fmt.Errorf("序列化兑换请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建兑换请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("请求兑换服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("兑换服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Tx string `json:"tx"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析兑换响应失败: %w", err)
	}
	if decoded.Tx == "" {
		return "", errors.New("兑换响应缺少 tx 字段")
	}
	return decoded.Tx, nil
}

var (
	_ PriceSource = (*Client)(nil)
	_ Swapper     = (*Client)(nil)
)
