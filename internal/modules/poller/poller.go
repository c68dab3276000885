package poller

import (
	"context"
	"time"

	"github.com/isapay/isapay-backend/internal/modules/payment"
)

// Outcome is what a polling run settles on. Unconfirmed is deliberately
// distinct from Failed: the right recovery differs (wait vs retry payment).
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnconfirmed Outcome = "unconfirmed"
	OutcomeCanceled    Outcome = "canceled"
)

// FetchFunc reads the current status of a transaction, typically a GET
// against the status endpoint.
type FetchFunc func(ctx context.Context, transactionID string) (payment.TxStatus, error)

const (
	defaultInterval = 4 * time.Second
	defaultTimeout  = 3 * time.Minute
)

// Poller repeatedly checks a transaction's status until it turns terminal,
// the overall timeout lapses, or the caller cancels. It is the consumer-side
// fallback for providers whose webhooks are slow or absent.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

func New() *Poller {
	return &Poller{Interval: defaultInterval, Timeout: defaultTimeout}
}

// Poll blocks until an outcome is reached. Transient fetch errors do not
// abort the run; the next tick tries again. Cancelation via ctx stops the
// ticker immediately, leaving no orphaned timers.
func (p *Poller) Poll(ctx context.Context, transactionID string, fetch FetchFunc) (Outcome, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if outcome, done := p.check(ctx, transactionID, fetch); done {
		return outcome, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return OutcomeUnconfirmed, nil
			}
			return OutcomeCanceled, ctx.Err()
		case <-ticker.C:
			if outcome, done := p.check(ctx, transactionID, fetch); done {
				return outcome, nil
			}
		}
	}
}

func (p *Poller) check(ctx context.Context, transactionID string, fetch FetchFunc) (Outcome, bool) {
	status, err := fetch(ctx, transactionID)
	if err != nil {
		return "", false
	}
	switch status {
	case payment.TxSuccess:
		return OutcomeSuccess, true
	case payment.TxFailed:
		return OutcomeFailed, true
	default:
		return "", false
	}
}
