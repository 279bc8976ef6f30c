package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/rtkit/internal/ratelimit"
	"github.com/adred-codev/rtkit/internal/rtkit/asyncobject"
	"github.com/adred-codev/rtkit/internal/telemetry"
)

// natsBridge subscribes to the external price-tick feed and translates each
// tick into a change functor submitted to a Producer. It is the only piece
// of the demo that knows about NATS; the AsyncObject it feeds never does.
type natsBridge struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	producer *asyncobject.Producer[PriceBook]
	guard    *ratelimit.Guard
	logger   zerolog.Logger
}

// newNATSBridge connects to url and subscribes to subject, forwarding each
// valid priceTick to producer. Ticks are dropped while guard pauses
// ingestion, and when SubmitNB fails and the submit rate limit is exceeded.
func newNATSBridge(url, subject string, producer *asyncobject.Producer[PriceBook], guard *ratelimit.Guard, logger zerolog.Logger) (*natsBridge, error) {
	b := &natsBridge{producer: producer, guard: guard, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ConnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("NATS error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b.conn = conn

	sub, err := conn.Subscribe(subject, b.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	b.sub = sub

	logger.Info().Str("subject", subject).Msg("subscribed to price tick feed")
	return b, nil
}

func (b *natsBridge) handleMessage(msg *nats.Msg) {
	if b.guard.ShouldPauseIngestion() {
		return
	}

	var tick priceTick
	if err := json.Unmarshal(msg.Data, &tick); err != nil {
		b.logger.Warn().Err(err).Msg("discarding malformed price tick")
		return
	}

	change := func(book *PriceBook) { book.Prices[tick.Token] = tick.Price }

	if b.producer.SubmitNB(change) {
		telemetry.RecordSubmit(true)
		return
	}

	telemetry.RecordSubmitNBRejected()

	if !b.guard.AllowSubmit() {
		b.logger.Warn().Str("token", tick.Token).Msg("dropping price tick, submit rate limit exceeded")
		return
	}

	b.producer.Submit(change)
	telemetry.RecordSubmit(false)
}

// Close unsubscribes and closes the NATS connection.
func (b *natsBridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
