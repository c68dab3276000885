package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/isapay/isapay-backend/internal/modules/payment"
)

func TestPollReturnsOnTerminalStatus(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, id string) (payment.TxStatus, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return payment.TxPending, nil
		}
		return payment.TxSuccess, nil
	}

	p := &Poller{Interval: 5 * time.Millisecond, Timeout: time.Second}
	outcome, err := p.Poll(context.Background(), "tx-1", fetch)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", outcome)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("fetch called %d times, want 3", n)
	}
}

func TestPollFailedIsDistinctFromUnconfirmed(t *testing.T) {
	fetch := func(ctx context.Context, id string) (payment.TxStatus, error) {
		return payment.TxFailed, nil
	}
	p := &Poller{Interval: 5 * time.Millisecond, Timeout: time.Second}
	outcome, err := p.Poll(context.Background(), "tx-1", fetch)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", outcome)
	}
}

func TestPollTimesOutAsUnconfirmed(t *testing.T) {
	fetch := func(ctx context.Context, id string) (payment.TxStatus, error) {
		return payment.TxPending, nil
	}
	p := &Poller{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}
	outcome, err := p.Poll(context.Background(), "tx-1", fetch)
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if outcome != OutcomeUnconfirmed {
		t.Fatalf("outcome = %s, want unconfirmed", outcome)
	}
}

func TestPollCancelationStopsFetching(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, id string) (payment.TxStatus, error) {
		atomic.AddInt32(&calls, 1)
		return payment.TxPending, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{Interval: 5 * time.Millisecond, Timeout: time.Minute}

	done := make(chan struct{})
	var outcome Outcome
	var pollErr error
	go func() {
		outcome, pollErr = p.Poll(ctx, "tx-1", fetch)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if outcome != OutcomeCanceled {
		t.Fatalf("outcome = %s, want canceled", outcome)
	}
	if !errors.Is(pollErr, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", pollErr)
	}

	n := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&calls) != n {
		t.Error("fetch still running after cancelation")
	}
}

func TestPollSurvivesTransientFetchErrors(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, id string) (payment.TxStatus, error) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return "", errors.New("network blip")
		}
		return payment.TxSuccess, nil
	}
	p := &Poller{Interval: 5 * time.Millisecond, Timeout: time.Second}
	outcome, err := p.Poll(context.Background(), "tx-1", fetch)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, want success after transient error", outcome)
	}
}
