package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
)

// PriceSink receives oracle quotes parsed off the feed.
type PriceSink interface {
	SetPrice(ref string, value *big.Int, decimals uint8)
}

// PriceQuote is the wire form of one oracle update on lend.prices.{ref}.
type PriceQuote struct {
	OracleRef string   `json:"oracle_ref"`
	Value     *big.Int `json:"value"`
	Decimals  uint8    `json:"decimals"`
}

// PriceFeed subscribes to the oracle price subjects and pushes quotes into
// the sink the engine reads from. Consumers use explicit ACK; a malformed
// message is TERMed so it is not redelivered forever.
type PriceFeed struct {
	js        jetstream.JetStream
	sink      PriceSink
	metrics   *observability.Metrics
	logger    zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewPriceFeed(js jetstream.JetStream, sink PriceSink, metrics *observability.Metrics, logger zerolog.Logger) *PriceFeed {
	return &PriceFeed{
		js:      js,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// Subscribe creates the durable consumer and starts delivering quotes.
func (pf *PriceFeed) Subscribe(ctx context.Context) error {
	consumer, err := pf.js.CreateOrUpdateConsumer(ctx, "LEND_PRICES", jetstream.ConsumerConfig{
		Durable:       "ledger-prices",
		FilterSubject: "lend.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		quote, err := parsePriceQuote(msg.Data())
		if err != nil {
			pf.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed price quote")
			msg.Term()
			return
		}

		pf.sink.SetPrice(quote.OracleRef, quote.Value, quote.Decimals)
		if pf.metrics != nil {
			pf.metrics.PriceUpdates.WithLabelValues(quote.OracleRef).Inc()
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	pf.consumers = append(pf.consumers, consumerContext)
	pf.logger.Info().Str("subject", "lend.prices.>").Msg("subscribed to price feed")
	return nil
}

// Stop gracefully stops all consumers.
func (pf *PriceFeed) Stop() {
	for _, cc := range pf.consumers {
		cc.Stop()
	}
	pf.logger.Info().Msg("price feed stopped")
}

// EnsurePriceStream creates the inbound price stream.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_PRICES",
		Subjects:  []string{"lend.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	logger.Info().Str("stream", "LEND_PRICES").Msg("ensured price stream")
	return nil
}

func parsePriceQuote(data []byte) (*PriceQuote, error) {
	var quote PriceQuote
	if err := json.Unmarshal(data, &quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	if quote.OracleRef == "" {
		return nil, fmt.Errorf("missing oracle_ref")
	}
	if quote.Value == nil || quote.Value.Sign() <= 0 {
		return nil, fmt.Errorf("quote for %s has non-positive value", quote.OracleRef)
	}
	return &quote, nil
}
