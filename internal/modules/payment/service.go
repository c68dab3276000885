package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
)

// Service defines the payment core's business logic: the three operations the
// HTTP surface exposes.
type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	Status(ctx context.Context, transactionID string) (*StatusResponse, error)
	HandleWebhook(ctx context.Context, provider Provider, headers http.Header, body []byte) error
}

type service struct {
	repo     Repository
	gateways GatewayRegistry
}

func NewService(repo Repository, gateways GatewayRegistry) Service {
	return &service{repo: repo, gateways: gateways}
}

func (s *service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrValidation)
	}
	provider, ok := methodToProvider[req.Method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown method %q", ErrValidation, req.Method)
	}
	gw, ok := s.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway registered for %s", ErrProvider, provider)
	}

	txID := uuid.New()
	tx := &Transaction{
		ID:          txID,
		UserID:      req.UserID,
		Provider:    provider,
		Status:      TxPending,
		Amount:      req.Amount,
		Currency:    req.Currency,
		PhoneNumber: req.PhoneNumber,
		Description: req.Description,
	}

	result, err := gw.Initiate(ctx, txID.String(), &req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		// The provider rejected or the call never landed: record a FAILED
		// row so the attempt is auditable, then surface a provider error.
		tx.Status = TxFailed
		tx.LastError = err.Error()
		if createErr := s.repo.Create(ctx, tx); createErr != nil {
			log.Printf("payment: failed to record failed initiate %s (%s): %v", txID, provider, createErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	tx.ReferenceID = result.ReferenceID
	tx.RedirectURL = result.RedirectURL
	tx.Metadata = result.Metadata

	if err := s.repo.Create(ctx, tx); err != nil {
		// The provider-side order already exists; this row is the only link
		// back to it. Log everything needed to reconcile by hand.
		log.Printf("payment: RECONCILE: ledger insert failed after provider call: id=%s provider=%s reference_id=%s err=%v",
			txID, provider, result.ReferenceID, err)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	return initiateView(tx), nil
}

func (s *service) Status(ctx context.Context, transactionID string) (*StatusResponse, error) {
	if _, err := uuid.Parse(transactionID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
	}
	tx, err := s.repo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return statusView(tx), nil
}

func (s *service) HandleWebhook(ctx context.Context, provider Provider, headers http.Header, body []byte) error {
	gw, ok := s.gateways[provider]
	if !ok {
		return fmt.Errorf("%w: no gateway registered for %s", ErrVerificationFailed, provider)
	}

	conf, err := gw.VerifyWebhook(ctx, headers, body)
	if err != nil {
		return err
	}

	tx, err := s.resolve(ctx, provider, conf)
	if err != nil {
		return err
	}

	if !conf.Status.IsTerminal() {
		// An authentic but inconclusive callback (still processing). Accept
		// it without touching the row; the next callback settles it.
		log.Printf("payment: webhook for %s reported non-terminal status, no update", tx.ID)
		return nil
	}

	if !CanTransition(tx.Status, conf.Status) {
		// Replay or provider retry against an already-terminal row.
		log.Printf("payment: webhook replay for %s ignored (status already %s)", tx.ID, tx.Status)
		return nil
	}

	// The row may have gone terminal between the read above and this update;
	// the repository's status guard resolves the race.
	applied, err := s.repo.ApplyTerminal(ctx, tx.ID.String(), conf.Status, conf.ReferenceID, conf.RawPayload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !applied {
		log.Printf("payment: webhook replay for %s ignored (already terminal)", tx.ID)
	}
	return nil
}

// resolve finds the ledger row a confirmation refers to: by our transaction
// id when the callback echoes it, else by the provider-side reference id.
func (s *service) resolve(ctx context.Context, provider Provider, conf *Confirmation) (*Transaction, error) {
	if conf.TransactionID != "" {
		if _, err := uuid.Parse(conf.TransactionID); err == nil {
			tx, err := s.repo.GetByID(ctx, conf.TransactionID)
			if err == nil {
				return tx, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
		}
	}
	if conf.ReferenceID != "" {
		tx, err := s.repo.GetByReferenceID(ctx, provider, conf.ReferenceID)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	return nil, fmt.Errorf("%w: no transaction for webhook (id=%q ref=%q)", ErrNotFound, conf.TransactionID, conf.ReferenceID)
}
