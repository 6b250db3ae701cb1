package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDelivery struct {
	data     []byte
	acks     int
	naks     int
	terms    int
	delay    time.Duration
	ackError error
}

func (d *fakeDelivery) Data() []byte { return d.data }

func (d *fakeDelivery) Ack() error {
	d.acks++
	return d.ackError
}

func (d *fakeDelivery) NakWithDelay(delay time.Duration) error {
	d.naks++
	d.delay = delay
	return nil
}

func (d *fakeDelivery) Term() error {
	d.terms++
	return nil
}

func TestSettleAcksNaksAndTerminates(t *testing.T) {
	errTransient := errors.New("db unavailable")
	errBad := errors.New("bad payload")
	tests := []struct {
		name             string
		result           error
		acks, naks, term int
	}{
		{name: "success", result: nil, acks: 1},
		{name: "transient", result: errTransient, naks: 1},
		{name: "rejected", result: Reject(errBad), term: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDelivery{data: []byte(`{}`)}
			err := Settle(context.Background(), d, 3*time.Second, func(context.Context, []byte) error {
				return tt.result
			})
			if !errors.Is(err, tt.result) {
				t.Fatalf("err = %v, want %v", err, tt.result)
			}
			if d.acks != tt.acks || d.naks != tt.naks || d.terms != tt.term {
				t.Fatalf("acks=%d naks=%d terms=%d", d.acks, d.naks, d.terms)
			}
			if tt.naks == 1 && d.delay != 3*time.Second {
				t.Fatalf("redelivery delay = %s", d.delay)
			}
		})
	}
}

func TestSettleReportsAckFailure(t *testing.T) {
	d := &fakeDelivery{ackError: errors.New("connection closed")}
	err := Settle(context.Background(), d, time.Second, func(context.Context, []byte) error { return nil })
	if err == nil || d.acks != 1 {
		t.Fatalf("err = %v acks = %d", err, d.acks)
	}
}

func TestRejectKeepsCause(t *testing.T) {
	cause := errors.New("unknown field")
	err := Reject(cause)
	if !Rejected(err) || !errors.Is(err, cause) {
		t.Fatalf("Reject lost its cause: %v", err)
	}
	if Rejected(cause) || Reject(nil) != nil {
		t.Fatal("only wrapped errors are rejected")
	}
}
