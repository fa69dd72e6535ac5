package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shadowrt/internal/pay"
	"shadowrt/pkg/cascade"
	id "shadowrt/pkg/domain"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/httputil"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/requestcontext"
	"shadowrt/pkg/shadow"
	"shadowrt/pkg/transport/httplabel"
)

// Service defines the payment operations the handler exposes.
type Service interface {
	Charge(ctx context.Context, charge label.Tagged[pay.ChargeRequest]) (int64, error)
	DeleteByUser(ctx context.Context, userID id.UserID) (cascade.Ack, error)
	Provenance(ctx context.Context, userID id.UserID) ([]provenance.Event, error)
}

type Handler struct {
	service Service
	rt      *shadow.Runtime
	logger  *slog.Logger
}

// New builds the handler. rt imports labeled charges and logs transfer_in.
func New(service Service, rt *shadow.Runtime, logger *slog.Logger) *Handler {
	return &Handler{service: service, rt: rt, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/charge", h.HandleCharge)
	r.Delete("/delete_by_user/{user_id}", h.HandleDeleteByUser)
	r.Get("/provenance/{user_id}", h.HandleProvenance)
}

type chargeResponse struct {
	OK        bool  `json:"ok"`
	PaymentID int64 `json:"payment_id"`
}

type provenanceResponse struct {
	UserID id.UserID          `json:"user_id"`
	Events []provenance.Event `json:"events"`
}

func (h *Handler) HandleCharge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	charge, err := httplabel.Receive[pay.ChargeRequest](r, h.rt)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected labeled charge", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	req := charge.Value()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	paymentID, err := h.service.Charge(ctx, label.Wrap(req, charge.Label()))
	if err != nil {
		h.logger.ErrorContext(ctx, "charge failed", "request_id", requestID, "user_id", req.UserID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "charge stored",
		"request_id", requestID,
		"user_id", req.UserID,
		"payment_id", paymentID,
		"tag_id", charge.Label().TagID(),
	)
	httputil.WriteJSON(w, http.StatusOK, chargeResponse{OK: true, PaymentID: paymentID})
}

func (h *Handler) HandleDeleteByUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := httputil.UserIDParam(r, "user_id")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ack, err := h.service.DeleteByUser(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "delete by user failed", "request_id", requestcontext.RequestID(ctx), "user_id", userID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ack)
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
