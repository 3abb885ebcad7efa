package broker

import (
	"context"
	"time"

	"tinkoff-trader/internal/errors"
	"tinkoff-trader/pkg/utils"
)

// ReconnectPolicy controls how Serve re-dials a failed stream.
type ReconnectPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// MaxAttempts is the number of consecutive failed dials tolerated.
	// Zero means unlimited.
	MaxAttempts int
}

// DefaultReconnectPolicy returns the default reconnect policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Serve runs the gateway and re-dials the stream after every transport
// failure. Recorded subscriptions and the execution report feed are replayed
// on each new stream. Serve returns when ctx is done, when a non-transport
// error ends Run, or when the dial attempts are exhausted.
func (g *Gateway) Serve(ctx context.Context, dial Dialer, policy ReconnectPolicy) error {
	failures := 0
	for {
		g.connMu.Lock()
		attached := g.conn != nil
		g.connMu.Unlock()

		if !attached {
			conn, err := dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures++
				if policy.MaxAttempts > 0 && failures >= policy.MaxAttempts {
					return errors.NewTransportError("dial", err)
				}
				delay := utils.CalculateBackoff(failures-1, policy.InitialDelay, policy.MaxDelay, policy.BackoffFactor)
				g.log.Warn().Err(err).Int("attempt", failures).Dur("retry_in", delay).Msg("Stream dial failed")
				if err := utils.Sleep(ctx, delay); err != nil {
					return err
				}
				continue
			}
			g.Attach(conn)
		}

		failures = 0
		err := g.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, errors.ErrTransport) {
			return err
		}
		g.log.Warn().Err(err).Msg("Stream lost, reconnecting")
		if err := utils.Sleep(ctx, policy.InitialDelay); err != nil {
			return err
		}
	}
}
