package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 5 * time.Second
)

// SwapClient talks to a Jupiter-style aggregator HTTP API. Quotes are
// retried on transport-level failures; swap execution is submitted exactly
// once per call.
type SwapClient struct {
	baseURL string
	http    *resty.Client
	quote   *resty.Client
	log     *logger.Entry
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 || code == 408 {
		return true
	}
	return false
}

func NewSwapClient(cfg Config) *SwapClient {
	// Quote requests are idempotent: retry freely. The execution client
	// never retries, a duplicated swap is a double fill.
	quoteClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	execClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	if cfg.AuthToken != "" {
		quoteClient.SetAuthToken(cfg.AuthToken)
		execClient.SetAuthToken(cfg.AuthToken)
	}

	return &SwapClient{
		baseURL: cfg.BaseURL,
		http:    execClient,
		quote:   quoteClient,
		log:     logger.WithField("component", "venue"),
	}
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type swapResponse struct {
	OrderID        string `json:"orderId"`
	ConfirmedPrice string `json:"confirmedPrice"`
	FilledAmount   string `json:"filledAmount"`
	Fee            string `json:"fee"`
	Error          string `json:"error,omitempty"`
}

func (c *SwapClient) GetQuote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal) (*Quote, error) {
	resp, err := c.quote.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":  inputAsset,
			"outputMint": outputAsset,
			"amount":     amount.String(),
		}).
		Get("/v6/quote")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode() != 200 {
		return nil, classifyStatus(resp.StatusCode(), resp.Body())
	}

	var q quoteResponse
	if err := json.Unmarshal(resp.Body(), &q); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	inAmount, err := decimal.NewFromString(q.InAmount)
	if err != nil || !inAmount.IsPositive() {
		return nil, fmt.Errorf("quote has invalid inAmount %q: %w", q.InAmount, ErrInsufficientLiquidity)
	}
	outAmount, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("decode quote outAmount: %w", err)
	}

	impact := decimal.Zero
	if q.PriceImpactPct != "" {
		if impact, err = decimal.NewFromString(q.PriceImpactPct); err != nil {
			return nil, fmt.Errorf("decode quote priceImpactPct: %w", err)
		}
	}

	var raw map[string]any
	_ = json.Unmarshal(resp.Body(), &raw)

	return &Quote{
		InputAsset:  inputAsset,
		OutputAsset: outputAsset,
		Amount:      amount,
		Price:       outAmount.Div(inAmount),
		PriceImpact: impact,
		Raw:         raw,
	}, nil
}

func (c *SwapClient) ExecuteSwap(ctx context.Context, quote *Quote) (*SwapResult, error) {
	if quote == nil {
		return nil, errors.New("nil quote")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"quoteResponse": quote.Raw}).
		Post("/v6/swap")
	if err != nil {
		return nil, classifyTransport(err)
	}
	if resp.StatusCode() != 200 {
		return nil, classifyStatus(resp.StatusCode(), resp.Body())
	}

	var sr swapResponse
	if err := json.Unmarshal(resp.Body(), &sr); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	if sr.Error != "" {
		return nil, fmt.Errorf("%s: %w", sr.Error, ErrTransactionFailed)
	}

	price, err := decimal.NewFromString(sr.ConfirmedPrice)
	if err != nil {
		return nil, fmt.Errorf("decode confirmed price: %w", err)
	}
	size, err := decimal.NewFromString(sr.FilledAmount)
	if err != nil {
		return nil, fmt.Errorf("decode filled amount: %w", err)
	}
	fee := decimal.Zero
	if sr.Fee != "" {
		if fee, err = decimal.NewFromString(sr.Fee); err != nil {
			return nil, fmt.Errorf("decode fee: %w", err)
		}
	}

	c.log.WithFields(logger.Fields{
		"venue_order_id": sr.OrderID,
		"price":          price.String(),
		"size":           size.String(),
	}).Info("swap executed")

	return &SwapResult{
		VenueOrderID:   sr.OrderID,
		ConfirmedPrice: price,
		FilledSize:     size,
		Fee:            fee,
	}, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "timeout") ||
		strings.Contains(err.Error(), "deadline exceeded") {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return fmt.Errorf("%v: %w", err, ErrTransactionFailed)
}

func classifyStatus(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	switch {
	case code == 408 || code == 504:
		return fmt.Errorf("HTTP %d: %w", code, ErrTimeout)
	case code == 400 && strings.Contains(msg, "liquidity"):
		return fmt.Errorf("HTTP %d %s: %w", code, msg, ErrInsufficientLiquidity)
	case code == 400 && strings.Contains(msg, "impact"):
		return fmt.Errorf("HTTP %d %s: %w", code, msg, ErrPriceImpactExceeded)
	default:
		return fmt.Errorf("HTTP %d %s: %w", code, msg, ErrTransactionFailed)
	}
}
