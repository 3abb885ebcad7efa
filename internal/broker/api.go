package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tinkoff-trader/internal/models"
	"tinkoff-trader/internal/order"
	"tinkoff-trader/internal/wire"
)

// API wraps the unary Client calls that do not go through the gateway and
// returns domain values instead of wire messages.
type API struct {
	client  Client
	account string
	log     zerolog.Logger
}

// NewAPI creates an API bound to account.
func NewAPI(client Client, account string, log zerolog.Logger) *API {
	return &API{
		client:  client,
		account: account,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Accounts lists the accounts visible to the token.
func (a *API) Accounts(ctx context.Context) ([]models.Account, error) {
	resp, err := a.client.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Account, 0, len(resp.Accounts))
	for _, acc := range resp.Accounts {
		out = append(out, accountFromWire(acc))
	}
	return out, nil
}

// Positions returns the bound account's balances.
func (a *API) Positions(ctx context.Context) (models.Positions, error) {
	resp, err := a.client.GetPositions(ctx, wire.PositionsRequest{AccountID: a.account})
	if err != nil {
		return models.Positions{}, err
	}
	return positionsFromWire(resp)
}

// Instruments lists tradable shares. Shares that fail to decode are skipped.
func (a *API) Instruments(ctx context.Context) ([]models.Instrument, error) {
	resp, err := a.client.Shares(ctx, wire.InstrumentsRequest{InstrumentStatus: wire.InstrumentStatusBase})
	if err != nil {
		return nil, err
	}
	out := make([]models.Instrument, 0, len(resp.Instruments))
	for _, s := range resp.Instruments {
		inst, err := instrumentFromShare(s)
		if err != nil {
			a.log.Warn().Err(err).Str("figi", s.Figi).Msg("Skipping share")
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// candleWindow is the widest range the venue serves in one GetCandles call.
func candleWindow(tf models.TimeFrame) time.Duration {
	switch tf {
	case models.TF1M, models.TF5M, models.TF10M:
		return 24 * time.Hour
	case models.TF1H:
		return 7 * 24 * time.Hour
	case models.TFDay:
		return 365 * 24 * time.Hour
	case models.TFWeek:
		return 2 * 365 * 24 * time.Hour
	default:
		return 10 * 365 * 24 * time.Hour
	}
}

// Bars returns historic bars in [from, to), splitting the range into calls
// the venue accepts.
func (a *API) Bars(ctx context.Context, figi string, tf models.TimeFrame, from, to time.Time) ([]models.Bar, error) {
	interval, err := candleIntervalToWire(tf)
	if err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, nil
	}

	window := candleWindow(tf)
	var out []models.Bar
	for start := from; start.Before(to); start = start.Add(window) {
		end := start.Add(window)
		if end.After(to) {
			end = to
		}
		resp, err := a.client.GetCandles(ctx, wire.GetCandlesRequest{
			InstrumentID: figi,
			From:         start.UTC(),
			To:           end.UTC(),
			Interval:     interval,
		})
		if err != nil {
			return nil, fmt.Errorf("candles %s %s: %w", figi, tf, err)
		}
		for _, c := range resp.Candles {
			bar, err := barFromHistoric(c)
			if err != nil {
				a.log.Warn().Err(err).Str("figi", figi).Msg("Dropping candle")
				continue
			}
			out = append(out, bar)
		}
	}
	return out, nil
}

// LastPrices returns the latest trade price per FIGI.
func (a *API) LastPrices(ctx context.Context, figis ...string) ([]models.LastPrice, error) {
	resp, err := a.client.GetLastPrices(ctx, wire.GetLastPricesRequest{InstrumentID: figis})
	if err != nil {
		return nil, err
	}
	out := make([]models.LastPrice, 0, len(resp.LastPrices))
	for _, p := range resp.LastPrices {
		lp, err := lastPriceFromWire(p)
		if err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, nil
}

// Order fetches an order by broker id and rebuilds its state. The FIGI of
// the order's instrument is returned alongside.
func (a *API) Order(ctx context.Context, brokerID string) (string, order.Order, error) {
	st, err := a.client.GetOrderState(ctx, wire.GetOrderStateRequest{AccountID: a.account, OrderID: brokerID})
	if err != nil {
		return "", nil, err
	}
	o, err := orderFromState(st)
	if err != nil {
		return "", nil, err
	}
	return st.Figi, o, nil
}
