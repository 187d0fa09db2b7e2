package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "SendPilot/internal/errors"
	"SendPilot/pkg/logger"
)

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// coingeckoIDs 将常见代币符号映射到 CoinGecko 的资产 ID。
var coingeckoIDs = map[string]string{
	"ETH":  "ethereum",
	"WETH": "weth",
	"USDC": "usd-coin",
	"DAI":  "dai",
	"USDT": "tether",
}

var stableSymbols = map[string]struct{}{
	"USDC": {},
	"DAI":  {},
	"USDT": {},
}

// Client 查询 CoinGecko 现货价格并给出兑换输出估算。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option 定义可选配置。
type Option func(*Client)

// WithBaseURL 覆盖 CoinGecko 的 API 地址，测试时指向本地服务。
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient 注入自定义 HTTP 客户端。
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient 创建价格客户端。
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Quote 兑换估算结果。
type Quote struct {
	Success         bool            `json:"success"`
	EstimatedOutput decimal.Decimal `json:"estimated_output"`
	Price           decimal.Decimal `json:"price"`
	FromToken       string          `json:"from_token"`
	ToToken         string          `json:"to_token"`
	Source          string          `json:"source"`
}

// GetTokenPrice 查询某代币对计价货币的现货价格。
// 不在映射表中的代币返回 CodeUnknownToken。
func (c *Client) GetTokenPrice(ctx context.Context, symbol, vsCurrency string) (decimal.Decimal, error) {
	if vsCurrency == "" {
		vsCurrency = "usd"
	}
	tokenID, ok := coingeckoIDs[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.CodeUnknownToken,
			fmt.Sprintf("代币 %s 不在价格映射表中", symbol))
	}

	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, url.Values{
		"ids":           {tokenID},
		"vs_currencies": {vsCurrency},
	}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeBackendConnection, err, "构造价格请求失败")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeBackendConnection, err, "请求 CoinGecko 失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeBackendConnection, err, "读取价格响应失败")
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, apperrors.New(apperrors.CodeBackendConnection,
			fmt.Sprintf("CoinGecko 返回状态码 %d", resp.StatusCode))
	}

	var payload map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeBackendConnection, err, "解析价格响应失败")
	}
	quote, ok := payload[tokenID][vsCurrency]
	if !ok {
		return decimal.Zero, apperrors.New(apperrors.CodeBackendConnection,
			fmt.Sprintf("价格响应缺少 %s/%s", tokenID, vsCurrency))
	}
	logger.Named("price").Info("获取代币价格", "symbol", symbol, "vs", vsCurrency, "price", quote.String())
	return quote, nil
}

// EstimateSwapOutput 基于现货价格估算兑换输出，不含滑点与手续费。
func (c *Client) EstimateSwapOutput(ctx context.Context, fromToken, toToken string, amountIn decimal.Decimal) (*Quote, error) {
	from := strings.ToUpper(fromToken)
	to := strings.ToUpper(toToken)

	// ETH/WETH 与稳定币互换只需一次 ETH 报价。
	if isEtherLike(from) && isStable(to) {
		ethPrice, err := c.GetTokenPrice(ctx, "ETH", "usd")
		if err != nil {
			return nil, err
		}
		return &Quote{
			Success:         true,
			EstimatedOutput: amountIn.Mul(ethPrice),
			Price:           ethPrice,
			FromToken:       fromToken,
			ToToken:         toToken,
			Source:          "coingecko",
		}, nil
	}
	if isStable(from) && isEtherLike(to) {
		ethPrice, err := c.GetTokenPrice(ctx, "ETH", "usd")
		if err != nil {
			return nil, err
		}
		if ethPrice.IsZero() {
			return nil, apperrors.New(apperrors.CodeBackendConnection, "ETH 价格为零")
		}
		return &Quote{
			Success:         true,
			EstimatedOutput: amountIn.Div(ethPrice),
			Price:           ethPrice,
			FromToken:       fromToken,
			ToToken:         toToken,
			Source:          "coingecko",
		}, nil
	}

	fromPrice, err := c.GetTokenPrice(ctx, from, "usd")
	if err != nil {
		return nil, err
	}
	toPrice, err := c.GetTokenPrice(ctx, to, "usd")
	if err != nil {
		return nil, err
	}
	if toPrice.IsZero() {
		return nil, apperrors.New(apperrors.CodeBackendConnection,
			fmt.Sprintf("代币 %s 价格为零", toToken))
	}
	return &Quote{
		Success:         true,
		EstimatedOutput: amountIn.Mul(fromPrice).Div(toPrice),
		Price:           fromPrice.Div(toPrice),
		FromToken:       fromToken,
		ToToken:         toToken,
		Source:          "coingecko",
	}, nil
}

func isEtherLike(symbol string) bool {
	return symbol == "ETH" || symbol == "WETH"
}

func isStable(symbol string) bool {
	_, ok := stableSymbols[symbol]
	return ok
}
