package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

// ── Mocks ─────────────────────────────────────────────────────────────────────

type mockRepo struct {
	CreateFunc           func(ctx context.Context, tx *Transaction) error
	GetByIDFunc          func(ctx context.Context, id string) (*Transaction, error)
	GetByReferenceIDFunc func(ctx context.Context, provider Provider, ref string) (*Transaction, error)
	ApplyTerminalFunc    func(ctx context.Context, id string, status TxStatus, referenceID string, payload interface{}) (bool, error)
}

func (m *mockRepo) Create(ctx context.Context, tx *Transaction) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx)
	}
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Transaction, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockRepo) GetByReferenceID(ctx context.Context, provider Provider, ref string) (*Transaction, error) {
	if m.GetByReferenceIDFunc != nil {
		return m.GetByReferenceIDFunc(ctx, provider, ref)
	}
	return nil, sql.ErrNoRows
}

func (m *mockRepo) ApplyTerminal(ctx context.Context, id string, status TxStatus, referenceID string, payload interface{}) (bool, error) {
	if m.ApplyTerminalFunc != nil {
		return m.ApplyTerminalFunc(ctx, id, status, referenceID, payload)
	}
	return true, nil
}

type mockGateway struct {
	InitiateFunc      func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error)
	VerifyWebhookFunc func(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error)
}

func (m *mockGateway) Initiate(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, txID, req)
	}
	return &ProviderResult{}, nil
}

func (m *mockGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) (*Confirmation, error) {
	if m.VerifyWebhookFunc != nil {
		return m.VerifyWebhookFunc(ctx, headers, body)
	}
	return nil, ErrVerificationFailed
}

func validRequest() InitiateRequest {
	return InitiateRequest{
		UserID:      "u1",
		Amount:      500,
		Currency:    "KES",
		Method:      "mpesa",
		PhoneNumber: "254700000001",
	}
}

// ── Initiate ──────────────────────────────────────────────────────────────────

func TestInitiateRejectsMissingFields(t *testing.T) {
	gatewayCalled := false
	svc := NewService(&mockRepo{}, GatewayRegistry{
		ProviderMpesa: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			gatewayCalled = true
			return &ProviderResult{}, nil
		}},
	})

	cases := []struct {
		name   string
		mutate func(*InitiateRequest)
	}{
		{"missing user_id", func(r *InitiateRequest) { r.UserID = "" }},
		{"zero amount", func(r *InitiateRequest) { r.Amount = 0 }},
		{"negative amount", func(r *InitiateRequest) { r.Amount = -5 }},
		{"missing currency", func(r *InitiateRequest) { r.Currency = "" }},
		{"missing method", func(r *InitiateRequest) { r.Method = "" }},
		{"unknown method", func(r *InitiateRequest) { r.Method = "bitcoin" }},
	}
	for _, c := range cases {
		req := validRequest()
		c.mutate(&req)
		_, err := svc.Initiate(context.Background(), req)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", c.name, err)
		}
	}
	if gatewayCalled {
		t.Error("gateway was called despite validation failure")
	}
}

func TestInitiateHostedCheckoutReturnsRedirect(t *testing.T) {
	var created *Transaction
	repo := &mockRepo{CreateFunc: func(ctx context.Context, tx *Transaction) error {
		created = tx
		return nil
	}}
	svc := NewService(repo, GatewayRegistry{
		ProviderCardBank: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			return &ProviderResult{
				ReferenceID: "ORDER-77",
				RedirectURL: "https://pay.example.com/checkout/ORDER-77",
			}, nil
		}},
	})

	req := validRequest()
	req.Method = "card_bank"
	resp, err := svc.Initiate(context.Background(), req)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if resp.Status != TxPending {
		t.Errorf("status = %s, want PENDING", resp.Status)
	}
	if resp.RedirectURL == "" {
		t.Error("hosted-checkout initiate must include redirect_url")
	}
	if _, err := uuid.Parse(resp.TransactionID); err != nil {
		t.Errorf("transaction_id %q is not a uuid", resp.TransactionID)
	}
	if created == nil || created.Status != TxPending {
		t.Fatalf("persisted row = %+v, want PENDING transaction", created)
	}
	if created.ReferenceID != "ORDER-77" {
		t.Errorf("persisted reference_id = %q", created.ReferenceID)
	}
}

func TestInitiateMobileMoneyHasNoRedirect(t *testing.T) {
	svc := NewService(&mockRepo{}, GatewayRegistry{
		ProviderMpesa: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			return &ProviderResult{ReferenceID: "ws_CO_123"}, nil
		}},
	})

	resp, err := svc.Initiate(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if resp.RedirectURL != "" {
		t.Errorf("mobile-money initiate returned redirect_url %q", resp.RedirectURL)
	}
	if resp.Status != TxPending {
		t.Errorf("status = %s, want PENDING", resp.Status)
	}
}

func TestInitiateProviderFailureRecordsFailedRow(t *testing.T) {
	var created *Transaction
	repo := &mockRepo{CreateFunc: func(ctx context.Context, tx *Transaction) error {
		created = tx
		return nil
	}}
	svc := NewService(repo, GatewayRegistry{
		ProviderMpesa: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			return nil, errors.New("connection refused")
		}},
	})

	_, err := svc.Initiate(context.Background(), validRequest())
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if created == nil {
		t.Fatal("no row recorded for failed provider call")
	}
	if created.Status != TxFailed {
		t.Errorf("recorded status = %s, want FAILED", created.Status)
	}
	if created.LastError == "" {
		t.Error("recorded row has no last_error diagnostic")
	}
}

func TestInitiateAdapterValidationSkipsLedger(t *testing.T) {
	createCalled := false
	repo := &mockRepo{CreateFunc: func(ctx context.Context, tx *Transaction) error {
		createCalled = true
		return nil
	}}
	svc := NewService(repo, GatewayRegistry{
		ProviderMpesa: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			return nil, fmt.Errorf("%w: phone_number is required for M-Pesa", ErrValidation)
		}},
	})

	req := validRequest()
	req.PhoneNumber = ""
	_, err := svc.Initiate(context.Background(), req)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if createCalled {
		t.Error("validation failure must not write a ledger row")
	}
}

func TestInitiatePersistFailureAfterProviderCall(t *testing.T) {
	repo := &mockRepo{CreateFunc: func(ctx context.Context, tx *Transaction) error {
		return errors.New("connection reset")
	}}
	svc := NewService(repo, GatewayRegistry{
		ProviderMpesa: &mockGateway{InitiateFunc: func(ctx context.Context, txID string, req *InitiateRequest) (*ProviderResult, error) {
			return &ProviderResult{ReferenceID: "ws_CO_123"}, nil
		}},
	})

	_, err := svc.Initiate(context.Background(), validRequest())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
}

// ── Status ────────────────────────────────────────────────────────────────────

func TestStatusUnknownTransaction(t *testing.T) {
	svc := NewService(&mockRepo{}, GatewayRegistry{})
	_, err := svc.Status(context.Background(), uuid.NewString())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusRejectsMalformedID(t *testing.T) {
	repoCalled := false
	repo := &mockRepo{GetByIDFunc: func(ctx context.Context, id string) (*Transaction, error) {
		repoCalled = true
		return nil, sql.ErrNoRows
	}}
	svc := NewService(repo, GatewayRegistry{})
	_, err := svc.Status(context.Background(), "not-a-uuid")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if repoCalled {
		t.Error("malformed id should not hit the ledger")
	}
}

func TestStatusReflectsLedgerOnly(t *testing.T) {
	id := uuid.New()
	repo := &mockRepo{GetByIDFunc: func(ctx context.Context, got string) (*Transaction, error) {
		return &Transaction{ID: id, Provider: ProviderMpesa, Status: TxPending, Amount: 500, Currency: "KES"}, nil
	}}
	svc := NewService(repo, GatewayRegistry{})

	resp, err := svc.Status(context.Background(), id.String())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != TxPending {
		t.Errorf("status = %s, want PENDING", resp.Status)
	}
	if resp.TransactionID != id.String() {
		t.Errorf("transaction_id = %s, want %s", resp.TransactionID, id)
	}
}

// ── Webhook ───────────────────────────────────────────────────────────────────

func TestHandleWebhookAuthFailureNeverMutates(t *testing.T) {
	mutated := false
	repo := &mockRepo{ApplyTerminalFunc: func(ctx context.Context, id string, status TxStatus, ref string, payload interface{}) (bool, error) {
		mutated = true
		return true, nil
	}}
	svc := NewService(repo, GatewayRegistry{
		ProviderMpesa: &mockGateway{VerifyWebhookFunc: func(ctx context.Context, h http.Header, b []byte) (*Confirmation, error) {
			return nil, ErrVerificationFailed
		}},
	})

	err := svc.HandleWebhook(context.Background(), ProviderMpesa, http.Header{}, []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`))
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
	if mutated {
		t.Error("ledger mutated on failed webhook auth")
	}
}

func TestHandleWebhookUnknownTransaction(t *testing.T) {
	svc := NewService(&mockRepo{}, GatewayRegistry{
		ProviderMpesa: &mockGateway{VerifyWebhookFunc: func(ctx context.Context, h http.Header, b []byte) (*Confirmation, error) {
			return &Confirmation{ReferenceID: "ws_CO_missing", Status: TxSuccess}, nil
		}},
	})

	err := svc.HandleWebhook(context.Background(), ProviderMpesa, http.Header{}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHandleWebhookAppliesTerminalStatus(t *testing.T) {
	id := uuid.New()
	var appliedStatus TxStatus
	repo := &mockRepo{
		GetByReferenceIDFunc: func(ctx context.Context, provider Provider, ref string) (*Transaction, error) {
			return &Transaction{ID: id, Provider: provider, Status: TxPending}, nil
		},
		ApplyTerminalFunc: func(ctx context.Context, gotID string, status TxStatus, ref string, payload interface{}) (bool, error) {
			if gotID != id.String() {
				t.Errorf("ApplyTerminal id = %s, want %s", gotID, id)
			}
			appliedStatus = status
			return true, nil
		},
	}
	svc := NewService(repo, GatewayRegistry{
		ProviderMpesa: &mockGateway{VerifyWebhookFunc: func(ctx context.Context, h http.Header, b []byte) (*Confirmation, error) {
			return &Confirmation{ReferenceID: "ws_CO_123", Status: TxSuccess}, nil
		}},
	})

	if err := svc.HandleWebhook(context.Background(), ProviderMpesa, http.Header{}, nil); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if appliedStatus != TxSuccess {
		t.Errorf("applied status = %s, want SUCCESS", appliedStatus)
	}
}

func TestHandleWebhookReplayIsNoop(t *testing.T) {
	id := uuid.New()
	repo := &mockRepo{
		GetByIDFunc: func(ctx context.Context, got string) (*Transaction, error) {
			return &Transaction{ID: id, Provider: ProviderCardBank, Status: TxSuccess}, nil
		},
		ApplyTerminalFunc: func(ctx context.Context, gotID string, status TxStatus, ref string, payload interface{}) (bool, error) {
			return false, nil // row already terminal, guard matched nothing
		},
	}
	svc := NewService(repo, GatewayRegistry{
		ProviderCardBank: &mockGateway{VerifyWebhookFunc: func(ctx context.Context, h http.Header, b []byte) (*Confirmation, error) {
			return &Confirmation{TransactionID: id.String(), Status: TxSuccess}, nil
		}},
	})

	if err := svc.HandleWebhook(context.Background(), ProviderCardBank, http.Header{}, nil); err != nil {
		t.Fatalf("replayed webhook returned error: %v", err)
	}
}

func TestHandleWebhookPendingConfirmationLeavesRow(t *testing.T) {
	id := uuid.New()
	mutated := false
	repo := &mockRepo{
		GetByIDFunc: func(ctx context.Context, got string) (*Transaction, error) {
			return &Transaction{ID: id, Provider: ProviderPayPal, Status: TxPending}, nil
		},
		ApplyTerminalFunc: func(ctx context.Context, gotID string, status TxStatus, ref string, payload interface{}) (bool, error) {
			mutated = true
			return true, nil
		},
	}
	svc := NewService(repo, GatewayRegistry{
		ProviderPayPal: &mockGateway{VerifyWebhookFunc: func(ctx context.Context, h http.Header, b []byte) (*Confirmation, error) {
			return &Confirmation{TransactionID: id.String(), Status: TxPending}, nil
		}},
	})

	if err := svc.HandleWebhook(context.Background(), ProviderPayPal, http.Header{}, nil); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if mutated {
		t.Error("non-terminal confirmation must not touch the ledger")
	}
}
