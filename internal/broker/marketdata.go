package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/internal/wire"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	marketDataPath = servicePrefix + "MarketDataStreamService/MarketDataStream"
	tradesPath     = servicePrefix + "OrdersStreamService/TradesStream"
)

type wsResult struct {
	msg wire.MarketDataResponse
	err error
}

// wsStream multiplexes the market data websocket and the execution report
// websocket into one Stream.
type wsStream struct {
	config TinkoffConfig
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox[wsResult]

	market *websocket.Conn

	mu     sync.Mutex
	trades *websocket.Conn

	once sync.Once
}

func dialWS(ctx context.Context, config TinkoffConfig, path string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+config.Token)
	if config.AppName != "" {
		header.Set("x-app-name", config.AppName)
	}
	url := strings.TrimRight(config.StreamURL, "/") + "/" + path
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{"json"},
	})
	if err != nil {
		return nil, errors.NewTransportError("dial "+path, err)
	}
	// Candle bursts after a subscribe can exceed the 32KiB default.
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

func dialStream(ctx context.Context, config TinkoffConfig, log zerolog.Logger) (*wsStream, error) {
	conn, err := dialWS(ctx, config, marketDataPath)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	s := &wsStream{
		config: config,
		log:    log.With().Str("component", "market_stream").Logger(),
		ctx:    streamCtx,
		cancel: cancel,
		box:    newMailbox[wsResult](),
		market: conn,
	}
	go s.read(conn, decodeMarketData)
	s.log.Info().Msg("Market data stream connected")
	return s, nil
}

func decodeMarketData(data []byte) (wire.MarketDataResponse, error) {
	var msg wire.MarketDataResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.NewEncodingError("MarketDataResponse", err.Error())
	}
	return msg, nil
}

func decodeTrades(data []byte) (wire.MarketDataResponse, error) {
	var msg wire.TradesStreamResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		return wire.MarketDataResponse{}, errors.NewEncodingError("TradesStreamResponse", err.Error())
	}
	return wire.MarketDataResponse{OrderTrades: msg.OrderTrades, Ping: msg.Ping}, nil
}

func (s *wsStream) read(conn *websocket.Conn, decode func([]byte) (wire.MarketDataResponse, error)) {
	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.box.push(wsResult{err: err})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		msg, err := decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("Dropping undecodable message")
			continue
		}
		s.box.push(wsResult{msg: msg})
	}
}

// Send writes req to the market data socket. SubscribeOrderTrades opens the
// execution report socket instead.
func (s *wsStream) Send(ctx context.Context, req wire.MarketDataRequest) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if req.SubscribeOrderTrades != nil {
		return s.subscribeTrades(writeCtx, *req.SubscribeOrderTrades)
	}
	if err := wsjson.Write(writeCtx, s.market, req); err != nil {
		return errors.NewTransportError("send", err)
	}
	return nil
}

func (s *wsStream) subscribeTrades(ctx context.Context, req wire.TradesStreamRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trades == nil {
		conn, err := dialWS(ctx, s.config, tradesPath)
		if err != nil {
			return err
		}
		s.trades = conn
		go s.read(conn, decodeTrades)
		s.log.Info().Strs("accounts", req.Accounts).Msg("Trades stream connected")
	}
	if err := wsjson.Write(ctx, s.trades, req); err != nil {
		return errors.NewTransportError("send", err)
	}
	return nil
}

// Recv returns the next message from either socket.
func (s *wsStream) Recv(ctx context.Context) (wire.MarketDataResponse, error) {
	for {
		if r, ok := s.box.pop(); ok {
			if r.err != nil {
				return wire.MarketDataResponse{}, errors.NewTransportError("recv", r.err)
			}
			return r.msg, nil
		}
		select {
		case <-ctx.Done():
			return wire.MarketDataResponse{}, ctx.Err()
		case <-s.ctx.Done():
			return wire.MarketDataResponse{}, errors.NewTransportError("recv", errors.ErrConnectionFailed)
		case <-s.box.ready():
		}
	}
}

// Close closes both sockets.
func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.market.Close(websocket.StatusNormalClosure, "")
		s.mu.Lock()
		if s.trades != nil {
			_ = s.trades.Close(websocket.StatusNormalClosure, "")
		}
		s.mu.Unlock()
		s.cancel()
	})
	return err
}
