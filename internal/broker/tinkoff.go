package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/logging"
	"tinkoff-trader/internal/resilience"
	"tinkoff-trader/internal/wire"
	"tinkoff-trader/pkg/utils"
)

const (
	DefaultRESTURL   = "https://invest-public-api.tinkoff.ru/rest"
	DefaultStreamURL = "wss://invest-public-api.tinkoff.ru/ws"

	servicePrefix = "tinkoff.public.invest.api.contract.v1."
)

// TinkoffConfig holds configuration for the live broker client.
type TinkoffConfig struct {
	Token     string
	RESTURL   string
	StreamURL string
	AppName   string
	Timeout   time.Duration
	Retry     utils.RetryConfig
	// Breaker stops unary calls after repeated venue failures. A zero
	// FailureThreshold disables it.
	Breaker resilience.CircuitBreakerConfig
}

// TinkoffClient calls the broker's REST gateway and opens its websocket
// streams.
type TinkoffClient struct {
	config     TinkoffConfig
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	log        zerolog.Logger
}

// TinkoffOption customizes a TinkoffClient.
type TinkoffOption func(*TinkoffClient)

// WithHTTPClient replaces the HTTP client used for unary calls.
func WithHTTPClient(c *http.Client) TinkoffOption {
	return func(t *TinkoffClient) {
		t.httpClient = c
	}
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) TinkoffOption {
	return func(t *TinkoffClient) {
		t.log = logging.WithComponent(log, "tinkoff")
	}
}

// NewTinkoffClient creates a live broker client.
func NewTinkoffClient(config TinkoffConfig, opts ...TinkoffOption) (*TinkoffClient, error) {
	if config.Token == "" {
		return nil, errors.Wrap(errors.ErrNotAuthenticated, "tinkoff token is empty")
	}
	if config.RESTURL == "" {
		config.RESTURL = DefaultRESTURL
	}
	if config.StreamURL == "" {
		config.StreamURL = DefaultStreamURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = utils.DefaultRetryConfig()
	}
	if config.Retry.Retryable == nil {
		config.Retry.Retryable = Retryable
	}
	if config.Breaker.IsFailure == nil {
		config.Breaker.IsFailure = Retryable
	}

	c := &TinkoffClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    resilience.NewCircuitBreaker("tinkoff-rest", config.Breaker),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Retryable reports whether a failed unary call may succeed if repeated:
// network failures, rate limiting and server-side errors.
func Retryable(err error) bool {
	var be *errors.BrokerError
	if errors.As(err, &be) {
		code, convErr := strconv.Atoi(be.Code)
		if convErr != nil {
			return false
		}
		return code == http.StatusTooManyRequests || code >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func (c *TinkoffClient) endpoint(service, method string) string {
	return strings.TrimRight(c.config.RESTURL, "/") + "/" + servicePrefix + service + "/" + method
}

// invoke posts req to service/method and decodes the reply into out.
func (c *TinkoffClient) invoke(ctx context.Context, service, method string, req, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.NewEncodingError(fmt.Sprintf("%T", req), err.Error())
	}
	url := c.endpoint(service, method)

	err = c.breaker.Execute(ctx, func() error {
		return utils.Retry(ctx, c.config.Retry, func() error {
			start := time.Now()
			err := c.do(ctx, url, body, out)
			logging.LogAPICall(c.log, service+"/"+method, url, time.Since(start), err)
			return err
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.log.Warn().Str("method", service+"/"+method).Msg("Venue circuit open, call skipped")
	}
	return err
}

// BreakerStats reports the state of the unary call circuit breaker.
func (c *TinkoffClient) BreakerStats() resilience.CircuitBreakerStats {
	return c.breaker.Stats()
}

func (c *TinkoffClient) do(ctx context.Context, url string, body []byte, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.config.AppName != "" {
		httpReq.Header.Set("x-app-name", c.config.AppName)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr wire.ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
			if apiErr.Description != "" {
				msg += ": " + apiErr.Description
			}
		}
		var sentinel error
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			sentinel = errors.ErrNotAuthenticated
		case http.StatusTooManyRequests:
			sentinel = errors.ErrRateLimited
		case http.StatusNotFound:
			sentinel = errors.ErrDataNotFound
		}
		return errors.NewBrokerError(strconv.Itoa(resp.StatusCode), msg, sentinel)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewEncodingError(fmt.Sprintf("%T", out), err.Error())
	}
	return nil
}

func (c *TinkoffClient) PostOrder(ctx context.Context, req wire.PostOrderRequest) (wire.PostOrderResponse, error) {
	var resp wire.PostOrderResponse
	err := c.invoke(ctx, "OrdersService", "PostOrder", req, &resp)
	return resp, err
}

func (c *TinkoffClient) CancelOrder(ctx context.Context, req wire.CancelOrderRequest) (wire.CancelOrderResponse, error) {
	var resp wire.CancelOrderResponse
	err := c.invoke(ctx, "OrdersService", "CancelOrder", req, &resp)
	return resp, err
}

func (c *TinkoffClient) GetOrderState(ctx context.Context, req wire.GetOrderStateRequest) (wire.OrderState, error) {
	var resp wire.OrderState
	err := c.invoke(ctx, "OrdersService", "GetOrderState", req, &resp)
	return resp, err
}

func (c *TinkoffClient) PostStopOrder(ctx context.Context, req wire.PostStopOrderRequest) (wire.PostStopOrderResponse, error) {
	var resp wire.PostStopOrderResponse
	err := c.invoke(ctx, "StopOrdersService", "PostStopOrder", req, &resp)
	return resp, err
}

func (c *TinkoffClient) CancelStopOrder(ctx context.Context, req wire.CancelStopOrderRequest) (wire.CancelStopOrderResponse, error) {
	var resp wire.CancelStopOrderResponse
	err := c.invoke(ctx, "StopOrdersService", "CancelStopOrder", req, &resp)
	return resp, err
}

func (c *TinkoffClient) GetStopOrders(ctx context.Context, req wire.GetStopOrdersRequest) (wire.GetStopOrdersResponse, error) {
	var resp wire.GetStopOrdersResponse
	err := c.invoke(ctx, "StopOrdersService", "GetStopOrders", req, &resp)
	return resp, err
}

func (c *TinkoffClient) GetCandles(ctx context.Context, req wire.GetCandlesRequest) (wire.GetCandlesResponse, error) {
	var resp wire.GetCandlesResponse
	err := c.invoke(ctx, "MarketDataService", "GetCandles", req, &resp)
	return resp, err
}

func (c *TinkoffClient) GetLastPrices(ctx context.Context, req wire.GetLastPricesRequest) (wire.GetLastPricesResponse, error) {
	var resp wire.GetLastPricesResponse
	err := c.invoke(ctx, "MarketDataService", "GetLastPrices", req, &resp)
	return resp, err
}

func (c *TinkoffClient) GetAccounts(ctx context.Context) (wire.GetAccountsResponse, error) {
	var resp wire.GetAccountsResponse
	err := c.invoke(ctx, "UsersService", "GetAccounts", wire.GetAccountsRequest{}, &resp)
	return resp, err
}

func (c *TinkoffClient) GetPositions(ctx context.Context, req wire.PositionsRequest) (wire.PositionsResponse, error) {
	var resp wire.PositionsResponse
	err := c.invoke(ctx, "OperationsService", "GetPositions", req, &resp)
	return resp, err
}

func (c *TinkoffClient) Shares(ctx context.Context, req wire.InstrumentsRequest) (wire.SharesResponse, error) {
	var resp wire.SharesResponse
	err := c.invoke(ctx, "InstrumentsService", "Shares", req, &resp)
	return resp, err
}

// OpenStream dials the market data websocket. The execution report feed is
// dialed on the first SubscribeOrderTrades request and merged into the same
// Stream.
func (c *TinkoffClient) OpenStream(ctx context.Context) (Stream, error) {
	return dialStream(ctx, c.config, c.log)
}

var _ Client = (*TinkoffClient)(nil)
