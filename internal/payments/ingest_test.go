package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reelgen/internal/adapter/memory"
	"reelgen/internal/bus"
	"reelgen/internal/domain"
	"reelgen/internal/ledger"
)

func TestHandleCreditsOncePerPayment(t *testing.T) {
	store := memory.NewStore()
	svc := ledger.NewService(store, zerolog.Nop(), ledger.Options{})
	ing := NewIngestor(svc, zerolog.Nop())
	body := []byte(`{"owner_id":"owner-1","credits":25,"payment_id":"pi_123"}`)

	applied, err := ing.Handle(context.Background(), body)
	if err != nil || !applied {
		t.Fatalf("first delivery: applied=%v err=%v", applied, err)
	}
	applied, err = ing.Handle(context.Background(), body)
	if err != nil || applied {
		t.Fatalf("second delivery: applied=%v err=%v", applied, err)
	}
	balance, err := svc.Balance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 25 {
		t.Fatalf("balance = %d, want 25", balance)
	}
}

func TestDecodeRejectsBadEvents(t *testing.T) {
	ing := NewIngestor(nil, zerolog.Nop())
	tests := map[string]string{
		"not json":        `{`,
		"unknown field":   `{"owner_id":"o","credits":1,"payment_id":"p","extra":true}`,
		"missing owner":   `{"credits":1,"payment_id":"p"}`,
		"zero credits":    `{"owner_id":"o","credits":0,"payment_id":"p"}`,
		"negative":        `{"owner_id":"o","credits":-5,"payment_id":"p"}`,
		"missing payment": `{"owner_id":"o","credits":1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ing.Decode([]byte(body)); !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

type flakyCrediter struct {
	Crediter
	failures int
}

func (c *flakyCrediter) Credit(ctx context.Context, ownerID string, amount int64, reference string) (bool, error) {
	if c.failures > 0 {
		c.failures--
		return false, errors.New("connection reset by peer")
	}
	return c.Crediter.Credit(ctx, ownerID, amount, reference)
}

type recordedDelivery struct {
	data              []byte
	acks, naks, terms int
}

func (d *recordedDelivery) Data() []byte                     { return d.data }
func (d *recordedDelivery) Ack() error                       { d.acks++; return nil }
func (d *recordedDelivery) NakWithDelay(time.Duration) error { d.naks++; return nil }
func (d *recordedDelivery) Term() error                      { d.terms++; return nil }

func TestConsumeRedeliversUntilCredited(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.NewStore(), zerolog.Nop(), ledger.Options{})
	ing := NewIngestor(&flakyCrediter{Crediter: svc, failures: 1}, zerolog.Nop())
	msg := &recordedDelivery{data: []byte(`{"owner_id":"owner-1","credits":25,"payment_id":"pi_9"}`)}

	if err := bus.Settle(ctx, msg, time.Second, ing.Consume); err == nil {
		t.Fatal("first delivery should report the ledger error")
	}
	if msg.naks != 1 || msg.acks != 0 {
		t.Fatalf("after failed credit: acks=%d naks=%d", msg.acks, msg.naks)
	}
	if balance, _ := svc.Balance(ctx, "owner-1"); balance != 0 {
		t.Fatalf("balance = %d before redelivery", balance)
	}

	for i := 0; i < 2; i++ {
		if err := bus.Settle(ctx, msg, time.Second, ing.Consume); err != nil {
			t.Fatalf("redelivery %d: %v", i+1, err)
		}
	}
	if msg.acks != 2 || msg.terms != 0 {
		t.Fatalf("after redelivery: acks=%d terms=%d", msg.acks, msg.terms)
	}
	if balance, _ := svc.Balance(ctx, "owner-1"); balance != 25 {
		t.Fatalf("balance = %d, want 25", balance)
	}
}

func TestConsumeTerminatesMalformedEvents(t *testing.T) {
	ing := NewIngestor(nil, zerolog.Nop())
	msg := &recordedDelivery{data: []byte(`{"owner_id":"o","credits":0,"payment_id":"p"}`)}

	err := bus.Settle(context.Background(), msg, time.Second, ing.Consume)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if msg.terms != 1 || msg.naks != 0 {
		t.Fatalf("terms=%d naks=%d", msg.terms, msg.naks)
	}
}
