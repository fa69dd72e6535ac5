package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"shadowrt/internal/shop"
	"shadowrt/pkg/cascade"
	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/platform/httputil"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
)

// Service defines the shop operations the handler exposes.
type Service interface {
	CreateUser(ctx context.Context, u shop.User) error
	Purchase(ctx context.Context, req shop.PurchaseRequest) (*shop.PurchaseResult, error)
	DeleteUser(ctx context.Context, userID id.UserID) (*cascade.Receipt, error)
	Provenance(ctx context.Context, userID id.UserID) ([]provenance.Event, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the shop endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/user", h.HandleCreateUser)
	r.Post("/purchase", h.HandlePurchase)
	r.Delete("/delete/{user_id}", h.HandleDelete)
	r.Get("/provenance/{user_id}", h.HandleProvenance)
}

type okResponse struct {
	OK bool `json:"ok"`
}

type purchaseResponse struct {
	OK         bool              `json:"ok"`
	PurchaseID int64             `json:"purchase_id"`
	PayResult  shop.ChargeResult `json:"pay_result"`
}

type deleteResponse struct {
	OK               bool             `json:"ok"`
	Error            string           `json:"error,omitempty"`
	ErrorDescription string           `json:"error_description,omitempty"`
	Receipt          *cascade.Receipt `json:"receipt"`
}

type provenanceResponse struct {
	UserID id.UserID          `json:"user_id"`
	Events []provenance.Event `json:"events"`
}

func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateUserRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.CreateUser(ctx, req.User()); err != nil {
		h.logger.ErrorContext(ctx, "create user failed", "request_id", requestID, "user_id", req.UserID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[PurchaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	result, err := h.service.Purchase(ctx, req.Domain())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "purchase completed",
		"request_id", requestID,
		"user_id", req.UserID,
		"purchase_id", result.PurchaseID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, purchaseResponse{
		OK:         true,
		PurchaseID: result.PurchaseID,
		PayResult:  result.Charge,
	})
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.UserIDParam(r, "user_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	receipt, err := h.service.DeleteUser(ctx, userID)
	if err != nil {
		if receipt == nil {
			httputil.WriteError(w, err)
			return
		}
		// A failed cascade still reports which destinations acknowledged.
		code := dErrors.CodeOf(err)
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(code), deleteResponse{
			Error:            string(code),
			ErrorDescription: httputil.Describe(err),
			Receipt:          receipt,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, deleteResponse{OK: true, Receipt: receipt})
}

func (h *Handler) HandleProvenance(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.UserIDParam(r, "user_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.service.Provenance(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []provenance.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, provenanceResponse{UserID: userID, Events: events})
}
