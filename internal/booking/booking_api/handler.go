package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-rentals/internal/auth"
	"ms-rentals/internal/availability"
	"ms-rentals/internal/booking"
	"ms-rentals/internal/logger"
	"ms-rentals/internal/utils"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	Service *booking.Service
	Logger  *logger.Logger
	// PurgeAfter is the default age of cancelled bookings removed by the
	// admin purge endpoint.
	PurgeAfter time.Duration
	// RateLimit runs after authentication so it can key on the caller.
	RateLimit func(http.Handler) http.Handler
}

func NewHandler(svc *booking.Service, log *logger.Logger, purgeAfter time.Duration) *Handler {
	return &Handler{Service: svc, Logger: log, PurgeAfter: purgeAfter}
}

func (h *Handler) WithRateLimit(mw func(http.Handler) http.Handler) *Handler {
	h.RateLimit = mw
	return h
}

func (h *Handler) limit(next http.Handler) http.Handler {
	if h.RateLimit == nil {
		return next
	}
	return h.RateLimit(next)
}

// Register mounts the booking routes on r.
func (h *Handler) Register(r chi.Router, authn *auth.Authenticator) {
	r.With(h.limit).Get("/api/properties/{propertyId}/availability", h.CheckAvailability)
	r.With(authn.Optional, h.limit).Post("/api/bookings", h.CreateBooking)

	r.Group(func(r chi.Router) {
		r.Use(authn.Required)
		r.Use(h.limit)

		r.Route("/api/bookings/{bookingId}", func(r chi.Router) {
			r.Get("/", h.GetBooking)
			r.Post("/accept", h.AcceptBooking)
			r.Post("/complete", h.CompleteBooking)
			r.Get("/cancellation", h.PreviewCancellation)
			r.Post("/cancel", h.CancelBooking)
			r.Post("/payment/retry", h.RetryPayment)
			r.Get("/qr", h.ConfirmationQR)
		})

		r.Post("/api/properties/{propertyId}/blocked-dates", h.BlockDates)
		r.Delete("/api/properties/{propertyId}/blocked-dates/{blockedDateId}", h.UnblockDates)

		r.With(auth.RequireAdmin).Post("/api/admin/bookings/purge", h.PurgeCancelled)
	})
}

type createBookingBody struct {
	PropertyID      string  `json:"property_id"`
	CheckIn         string  `json:"check_in"`
	CheckOut        string  `json:"check_out"`
	GuestName       string  `json:"guest_name"`
	GuestEmail      string  `json:"guest_email"`
	GuestCount      int     `json:"guest_count"`
	SpecialRequests string  `json:"special_requests"`
	TotalAmount     float64 `json:"total_amount"`
	Currency        string  `json:"currency"`
}

type cancelBody struct {
	Reason        string `json:"reason"`
	RequestRefund bool   `json:"request_refund"`
}

type blockDatesBody struct {
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	Reason        string   `json:"reason"`
	PriceOverride *float64 `json:"price_override"`
}

func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyId")
	q := r.URL.Query()

	dates, err := parseDays(map[string]string{"check_in": q.Get("check_in"), "check_out": q.Get("check_out")})
	if err != nil {
		h.writeError(w, "CheckAvailability", err)
		return
	}

	result, err := h.Service.CheckAvailability(r.Context(), propertyID, dates["check_in"], dates["check_out"])
	if err != nil {
		h.writeError(w, "CheckAvailability", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Availability retrieved", result))
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingBody
	if !h.decode(w, r, "CreateBooking", &body) {
		return
	}

	dates, err := parseDays(map[string]string{"check_in": body.CheckIn, "check_out": body.CheckOut})
	if err != nil {
		h.writeError(w, "CreateBooking", err)
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), booking.CreateBookingRequest{
		PropertyID:      body.PropertyID,
		CheckIn:         dates["check_in"],
		CheckOut:        dates["check_out"],
		GuestName:       body.GuestName,
		GuestEmail:      body.GuestEmail,
		GuestCount:      body.GuestCount,
		SpecialRequests: body.SpecialRequests,
		TotalAmount:     body.TotalAmount,
		Currency:        body.Currency,
		Guest:           auth.ActorFrom(r.Context()),
	})
	if err != nil {
		h.writeError(w, "CreateBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Booking requested", b))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBooking(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "GetBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking retrieved", b))
}

func (h *Handler) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.AcceptBooking(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "AcceptBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking confirmed", b))
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.CompleteBooking(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "CompleteBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking completed", b))
}

func (h *Handler) PreviewCancellation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.PreviewCancellation(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "PreviewCancellation", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Cancellation policy evaluated", res))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var body cancelBody
	if r.ContentLength != 0 && !h.decode(w, r, "CancelBooking", &body) {
		return
	}

	res, err := h.Service.CancelBooking(r.Context(), chi.URLParam(r, "bookingId"),
		auth.ActorFrom(r.Context()), body.Reason, body.RequestRefund)
	if err != nil {
		h.writeError(w, "CancelBooking", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking cancelled", res))
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.RetryPayment(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "RetryPayment", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment reset", b))
}

func (h *Handler) ConfirmationQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.Service.ConfirmationQR(r.Context(), chi.URLParam(r, "bookingId"), auth.ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, "ConfirmationQR", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) BlockDates(w http.ResponseWriter, r *http.Request) {
	var body blockDatesBody
	if !h.decode(w, r, "BlockDates", &body) {
		return
	}

	dates, err := parseDays(map[string]string{"start_date": body.StartDate, "end_date": body.EndDate})
	if err != nil {
		h.writeError(w, "BlockDates", err)
		return
	}

	bd, err := h.Service.BlockDates(r.Context(), auth.ActorFrom(r.Context()), booking.BlockDatesRequest{
		PropertyID:    chi.URLParam(r, "propertyId"),
		StartDate:     dates["start_date"],
		EndDate:       dates["end_date"],
		Reason:        body.Reason,
		PriceOverride: body.PriceOverride,
	})
	if err != nil {
		h.writeError(w, "BlockDates", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Dates blocked", bd))
}

func (h *Handler) UnblockDates(w http.ResponseWriter, r *http.Request) {
	err := h.Service.UnblockDates(r.Context(), auth.ActorFrom(r.Context()),
		chi.URLParam(r, "propertyId"), chi.URLParam(r, "blockedDateId"))
	if err != nil {
		h.writeError(w, "UnblockDates", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Dates unblocked", nil))
}

// PurgeCancelled accepts an optional older_than_days query parameter.
func (h *Handler) PurgeCancelled(w http.ResponseWriter, r *http.Request) {
	olderThan := h.PurgeAfter
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			h.writeError(w, "PurgeCancelled", &booking.ValidationError{
				Fields: map[string]string{"older_than_days": "must be a non-negative integer"},
			})
			return
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}

	n, err := h.Service.PurgeCancelled(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, "PurgeCancelled", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Cancelled bookings purged", map[string]int{"purged": n}))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s: invalid request body: %v", op, err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return false
	}
	return true
}

// parseDays parses each non-empty value as YYYY-MM-DD. Empty values stay zero
// so the service reports them as missing.
func parseDays(values map[string]string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(values))
	fields := map[string]string{}
	for name, raw := range values {
		if raw == "" {
			continue
		}
		day, err := availability.ParseDay(raw)
		if err != nil {
			fields[name] = "must be a date in YYYY-MM-DD format"
			continue
		}
		out[name] = day
	}
	if len(fields) > 0 {
		return nil, &booking.ValidationError{Fields: fields}
	}
	return out, nil
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var (
		validationErr *booking.ValidationError
		conflictErr   *booking.ConflictError
		authErr       *booking.AuthorizationError
		providerErr   *booking.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		utils.WriteJSON(w, http.StatusBadRequest,
			utils.ErrorResponse("Invalid request", validationErr.Error()).WithDetails(validationErr.Fields))
	case errors.As(err, &conflictErr):
		resp := utils.ErrorResponse("Conflict", conflictErr.Message)
		if len(conflictErr.Conflicts) > 0 {
			resp = resp.WithDetails(conflictErr.Conflicts)
		}
		utils.WriteJSON(w, http.StatusConflict, resp)
	case errors.As(err, &authErr):
		h.Logger.LogSecurity("FORBIDDEN", fmt.Sprintf("%s: %s", op, authErr.Message))
		utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", authErr.Message))
	case errors.As(err, &providerErr):
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse("Payment provider error", "the refund could not be issued, try again later"))
	case errors.Is(err, booking.ErrNotFound):
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Not found", err.Error()))
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal server error", "unexpected error"))
	}
}
