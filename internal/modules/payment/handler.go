package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// webhookProviderHeader routes an inbound callback to the right adapter. The
// edge gateway sets it per provider endpoint since providers don't share a
// namespace.
const webhookProviderHeader = "X-Payment-Provider"

// Handler exposes the three payment endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

// RegisterRoutes mounts the payment surface. rateLimit guards initiate only;
// auth guards the client-facing operations but never the webhook, which is
// provider-signed instead.
func (h *Handler) RegisterRoutes(r *chi.Mux, auth, rateLimit func(http.Handler) http.Handler) {
	r.Route("/api/v1/payments", func(r chi.Router) {
		r.With(rateLimit, auth).Post("/initiate", h.initiate)
		r.With(auth).Get("/status/{transaction_id}", h.status)
		r.Post("/webhook", h.webhook)
	})
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resp, err := h.service.Initiate(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "transaction_id")
	resp, err := h.service.Status(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	provider, ok := methodToProvider[r.Header.Get(webhookProviderHeader)]
	if !ok {
		respond(w, http.StatusBadRequest, map[string]string{"error": "unknown or missing " + webhookProviderHeader + " header"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := h.service.HandleWebhook(r.Context(), provider, r.Header, body); err != nil {
		respondErr(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// respondErr is the single place internal outcomes become HTTP status codes.
func respondErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoTransactionRef):
		code = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrVerificationFailed):
		code = http.StatusUnauthorized
	case errors.Is(err, ErrProvider):
		code = http.StatusBadGateway
	}
	respond(w, code, map[string]string{"error": err.Error()})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
