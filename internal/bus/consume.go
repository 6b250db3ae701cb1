package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Delivery is one message from a durable consumer. jetstream.Msg satisfies it.
type Delivery interface {
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type rejectedError struct{ err error }

func (e rejectedError) Error() string { return e.err.Error() }
func (e rejectedError) Unwrap() error { return e.err }

// Reject marks err as permanent. Settle terminates such messages instead of
// asking for redelivery.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return rejectedError{err: err}
}

// Rejected reports whether err was marked with Reject.
func Rejected(err error) bool {
	var r rejectedError
	return errors.As(err, &r)
}

// Settle runs handler on d and settles the message: Ack on success, Term on a
// rejected error, redelivery after redeliverAfter on any other error. It
// returns the handler error joined with any settle failure.
func Settle(ctx context.Context, d Delivery, redeliverAfter time.Duration, handler func(ctx context.Context, data []byte) error) error {
	err := handler(ctx, d.Data())
	var settleErr error
	switch {
	case err == nil:
		settleErr = d.Ack()
	case Rejected(err):
		settleErr = d.Term()
	default:
		settleErr = d.NakWithDelay(redeliverAfter)
	}
	if settleErr != nil {
		return errors.Join(err, fmt.Errorf("settle message: %w", settleErr))
	}
	return err
}

// ConsumerConfig names a durable JetStream consumer over one subject.
type ConsumerConfig struct {
	Stream         string
	Subject        string
	Durable        string
	RedeliverAfter time.Duration
	HandlerTimeout time.Duration
	// OnError sees every handler or settle error.
	OnError func(err error)
}

// ConsumeDurable binds a durable consumer to cfg.Subject, creating the stream
// when missing, and settles every message through Settle. Messages stay in the
// stream until a handler succeeds or rejects them. The returned func stops
// consumption.
func (c *Client) ConsumeDurable(ctx context.Context, cfg ConsumerConfig, handler func(ctx context.Context, data []byte) error) (func(), error) {
	if cfg.RedeliverAfter <= 0 {
		cfg.RedeliverAfter = 5 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	js, err := jetstream.New(c.nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", cfg.Stream, err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.HandlerTimeout + cfg.RedeliverAfter,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", cfg.Durable, err)
	}
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx, cancel := context.WithTimeout(context.Background(), cfg.HandlerTimeout)
		defer cancel()
		if err := Settle(msgCtx, msg, cfg.RedeliverAfter, handler); err != nil && cfg.OnError != nil {
			cfg.OnError(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", cfg.Subject, err)
	}
	return cc.Stop, nil
}
