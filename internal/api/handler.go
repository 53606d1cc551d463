package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/vecina/internal/coordinator"
	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/rules"
	"github.com/opensource-finance/vecina/internal/scoring"
	"github.com/opensource-finance/vecina/internal/velocity"
)

const maxBodyBytes = 1 << 20

// Deps holds the collaborators of the API handlers. Repo, Cache, Bus,
// Velocity and Engine are optional.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Velocity    *velocity.Service
	Engine      *rules.Engine

	// BaseRules are loaded ahead of stored rules on every reload.
	BaseRules []*domain.RuleConfig

	QRBaseURL       string
	RegistrationTTL time.Duration
	Version         string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	coord           *coordinator.Coordinator
	repo            domain.Repository
	cache           domain.Cache
	bus             domain.EventBus
	velocity        *velocity.Service
	engine          *rules.Engine
	baseRules       []*domain.RuleConfig
	qrBaseURL       string
	registrationTTL time.Duration
	version         string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.QRBaseURL == "" {
		d.QRBaseURL = domain.DefaultQRBaseURL
	}
	if d.RegistrationTTL <= 0 {
		d.RegistrationTTL = time.Hour
	}
	return &Handler{
		coord:           d.Coordinator,
		repo:            d.Repo,
		cache:           d.Cache,
		bus:             d.Bus,
		velocity:        d.Velocity,
		engine:          d.Engine,
		baseRules:       d.BaseRules,
		qrBaseURL:       d.QRBaseURL,
		registrationTTL: d.RegistrationTTL,
		version:         d.Version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// InitiateRequest is the request body for POST /transactions/initiate.
type InitiateRequest struct {
	StoreID     string `json:"store_id"`
	TenderoName string `json:"tendero_name"`
}

// InitiateResponse is the response for POST /transactions/initiate.
type InitiateResponse struct {
	Token     string    `json:"token"`
	QRURL     string    `json:"qr_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateTokenRequest is the request body for POST /transactions/validate_token.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// ValidateTokenResponse is the response for POST /transactions/validate_token.
type ValidateTokenResponse struct {
	Valid     bool                     `json:"valid"`
	Status    domain.TransactionStatus `json:"status,omitempty"`
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
}

// WhatsAppWebhookRequest carries the customer half of an application.
type WhatsAppWebhookRequest struct {
	Token string `json:"token"`
	domain.ClientData
}

// POSWebhookRequest carries the store half of an application.
type POSWebhookRequest struct {
	Token string `json:"token"`
	domain.StoreValidation
}

// WebhookResponse acknowledges a webhook submission.
type WebhookResponse struct {
	Message           string                   `json:"message"`
	Status            string                   `json:"status"`
	TransactionStatus domain.TransactionStatus `json:"transaction_status"`
}

// StatusResponse is the response for GET /transactions/{token}/status.
type StatusResponse struct {
	Status  domain.TransactionStatus `json:"status"`
	Result  *domain.CreditAssessment `json:"result,omitempty"`
	Review  *domain.Review           `json:"review,omitempty"`
	Message string                   `json:"message,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	Complete   bool                    `json:"complete"`
	Assessment domain.CreditAssessment `json:"assessment"`
}

// Index describes the service.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "vecina credit origination API",
		"status":  "active",
		"version": h.version,
		"endpoints": map[string]string{
			"initiate": "POST /transactions/initiate",
			"validate": "POST /transactions/validate_token",
			"whatsapp": "POST /webhooks/whatsapp",
			"pos":      "POST /webhooks/pos",
			"status":   "GET /transactions/{token}/status",
			"score":    "POST /score",
			"credits":  "GET /credits/{token}",
		},
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(ctx) })
	}

	body := map[string]any{
		"status":  status,
		"service": "vecina",
		"version": h.version,
		"checks":  checks,
	}
	if s, ok := h.cache.(cacheStats); ok {
		size, capacity := s.Stats()
		body["cache"] = map[string]int{"size": size, "capacity": capacity}
	}
	writeJSON(w, http.StatusOK, body)
}

// cacheStats is implemented by caches with a bounded local tier.
type cacheStats interface {
	Stats() (size int, capacity int)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Initiate handles POST /transactions/initiate.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req InitiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.StoreID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "store_id is required"})
		return
	}

	if h.velocity != nil {
		if _, err := h.velocity.Allow(ctx, req.StoreID); err != nil {
			writeError(w, err)
			return
		}
	}

	tx, err := h.coord.Create(ctx, req.StoreID, req.TenderoName)
	if err != nil {
		requestLogger(ctx).Error("failed to initiate transaction", "store_id", req.StoreID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, InitiateResponse{
		Token:     tx.Token,
		QRURL:     h.qrBaseURL + tx.Token,
		ExpiresAt: tx.ExpiresAt,
	})
}

// ValidateToken handles POST /transactions/validate_token.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	valid, tx, err := h.coord.IsValid(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusOK, ValidateTokenResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, ValidateTokenResponse{
		Valid:     true,
		Status:    tx.Status,
		ExpiresAt: &tx.ExpiresAt,
	})
}

// WhatsAppWebhook handles POST /webhooks/whatsapp.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	var req WhatsAppWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.coord.SubmitClientData(r.Context(), req.Token, req.ClientData)
	if err != nil {
		writeWebhookError(w, r, req.Token, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Message:           "client data received",
		Status:            "success",
		TransactionStatus: out.Transaction.Status,
	})
}

// POSWebhook handles POST /webhooks/pos.
func (h *Handler) POSWebhook(w http.ResponseWriter, r *http.Request) {
	var req POSWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	out, err := h.coord.SubmitStoreValidation(r.Context(), req.Token, req.StoreValidation)
	if err != nil {
		writeWebhookError(w, r, req.Token, err)
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{
		Message:           "store validation received",
		Status:            "success",
		TransactionStatus: out.Transaction.Status,
	})
}

// TransactionStatus handles GET /transactions/{token}/status.
func (h *Handler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	tx, err := h.coord.Get(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction not found"})
			return
		}
		writeError(w, err)
		return
	}

	resp := StatusResponse{Status: tx.Status}
	switch tx.Status {
	case domain.StatusExpired:
		resp.Message = "transaction expired"
	case domain.StatusCompleted:
		resp.Result = tx.CreditResult
		resp.Review = tx.Review
	case domain.StatusError:
		resp.Message = "credit assessment failed"
	}

	writeJSON(w, http.StatusOK, resp)
}

// Score handles POST /score: the pipeline run directly over a merged application.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawApplicationInput
	if !decodeJSON(w, r, &raw) {
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		Complete:   scoring.Complete(raw),
		Assessment: scoring.Evaluate(raw, h.coord.ScoringConfig()),
	})
}

// GetCredit handles GET /credits/{token}, reading through the registration cache.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	if h.cache != nil {
		reg, err := h.cache.GetRegistration(ctx, token)
		if err != nil {
			requestLogger(ctx).Warn("registration cache read failed", "token", token, "error", err)
		}
		if reg != nil {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, reg)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "repository not available"})
		return
	}

	reg, err := h.repo.GetRegistration(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "credit not found"})
			return
		}
		writeError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetRegistration(ctx, reg, h.registrationTTL); err != nil {
			requestLogger(ctx).Warn("registration cache write failed", "token", token, "error", err)
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, reg)
}

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rule engine not available"})
		return
	}

	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule validates a rule and saves it. POST /rules/reload applies it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.engine == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rule management not available"})
		return
	}

	var req CreateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id, name, and expression are required"})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid CEL expression: " + err.Error()})
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, rule); err != nil {
		requestLogger(ctx).Error("failed to save rule config", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save rule"})
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "rule created, call POST /rules/reload to apply it",
	})
}

// ReloadRules swaps the engine's rules for the base rules plus every stored rule.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "rule management not available"})
		return
	}

	count, err := ReloadRules(r.Context(), h.engine, h.repo, h.baseRules)
	if err != nil {
		requestLogger(r.Context()).Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to reload rules: " + err.Error()})
		return
	}

	slog.Info("rules reloaded", "count", count)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return false
	}
	return true
}

// writeWebhookError maps submission errors. Unknown and expired tokens are
// both reported as a bad request.
func writeWebhookError(w http.ResponseWriter, r *http.Request, token string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrExpired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid or expired token"})
	default:
		if !errors.Is(err, domain.ErrInvalidInput) && !errors.Is(err, domain.ErrAlreadyCompleted) {
			requestLogger(r.Context()).Error("webhook submission failed", "token", token, "error", err)
		}
		writeError(w, err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrAlreadyCompleted):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrExpired):
		status, msg = http.StatusGone, err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, domain.ErrConflict):
		status, msg = http.StatusConflict, fmt.Sprintf("%v, retry the request", err)
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
