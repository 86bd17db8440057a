package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nivgold/parkswap/internal/domain"
	"github.com/nivgold/parkswap/internal/geo"
	"github.com/nivgold/parkswap/internal/ledger"
	"github.com/nivgold/parkswap/internal/models"
	"github.com/nivgold/parkswap/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parkswap_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parkswap_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	reservations  *service.Reservations
	notifications *service.Notifications
	wallets       *service.Wallets
	geocoder      *geo.Geocoder
	auth          Authenticator
}

func NewHandler(
	reservations *service.Reservations,
	notifications *service.Notifications,
	wallets *service.Wallets,
	geocoder *geo.Geocoder,
	auth Authenticator,
) *Handler {
	return &Handler{
		reservations:  reservations,
		notifications: notifications,
		wallets:       wallets,
		geocoder:      geocoder,
		auth:          auth,
	}
}

// Router wires all routes. /health and /metrics stay outside the
// authenticated subrouter.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(h.RequireAuth)
	apiV1.HandleFunc("/pins", h.SavePinHandler).Methods("POST")
	apiV1.HandleFunc("/pins", h.ListPinsHandler).Methods("GET")
	apiV1.HandleFunc("/pins/{id}/activate", h.ActivatePinHandler).Methods("POST")
	apiV1.HandleFunc("/pins/{id}/deactivate", h.DeactivatePinHandler).Methods("POST")
	apiV1.HandleFunc("/pins/{id}/reserve", h.ReserveHandler).Methods("POST")
	apiV1.HandleFunc("/pins/{id}/cancel-reservation", h.CancelReservationHandler).Methods("POST")
	apiV1.HandleFunc("/reservations/{id}/accept", h.AcceptHandler).Methods("POST")
	apiV1.HandleFunc("/reservations/{id}/decline", h.DeclineHandler).Methods("POST")
	apiV1.HandleFunc("/notifications", h.NotificationsHandler).Methods("GET")
	apiV1.HandleFunc("/wallet/balance", h.BalanceHandler).Methods("GET")
	apiV1.HandleFunc("/transactions", h.TransactionsHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SavePinHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/pins"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	var req models.SavePinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "POST", "/pins", http.StatusBadRequest, map[string]string{"error": "Malformed JSON body"})
		return
	}
	if len(req.Position) != 2 {
		h.respond(w, "POST", "/pins", http.StatusBadRequest, map[string]string{"error": "position must be [lat, lng]"})
		return
	}
	lat, lng := req.Position[0], req.Position[1]
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		h.respond(w, "POST", "/pins", http.StatusBadRequest, map[string]string{"error": "position out of range"})
		return
	}

	pin, err := h.reservations.SavePin(r.Context(), user.ID, lat, lng, req.ParkingZone)
	if err != nil {
		h.respondServiceError(w, "POST", "/pins", err)
		return
	}

	address := req.Address
	if address == "" {
		address = h.geocoder.Lookup(r.Context(), lat, lng)
	}
	h.respond(w, "POST", "/pins", http.StatusCreated, models.SavePinResponse{
		Success: true,
		Pin:     pin,
		Address: address,
	})
}

func (h *Handler) ListPinsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/pins"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	filter, err := pinFilterFromQuery(r)
	if err != nil {
		h.respond(w, "GET", "/pins", http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	pins, err := h.reservations.ListPins(r.Context(), user.ID, filter)
	if err != nil {
		h.respondServiceError(w, "GET", "/pins", err)
		return
	}
	if pins == nil {
		pins = []domain.Pin{}
	}
	h.respond(w, "GET", "/pins", http.StatusOK, models.ListPinsResponse{Success: true, Pins: pins})
}

func (h *Handler) ActivatePinHandler(w http.ResponseWriter, r *http.Request) {
	h.flipPin(w, r, "/pins/{id}/activate", h.reservations.Activate)
}

func (h *Handler) DeactivatePinHandler(w http.ResponseWriter, r *http.Request) {
	h.flipPin(w, r, "/pins/{id}/deactivate", h.reservations.Deactivate)
}

func (h *Handler) flipPin(w http.ResponseWriter, r *http.Request, endpoint string,
	op func(ctx context.Context, pinID, userID string) (*domain.Pin, error)) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	pin, err := op(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.respondServiceError(w, "POST", endpoint, err)
		return
	}
	h.respond(w, "POST", endpoint, http.StatusOK, models.PinActionResponse{Success: true, Pin: pin})
}

func (h *Handler) ReserveHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/pins/{id}/reserve"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	res, err := h.reservations.Reserve(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.respondServiceError(w, "POST", "/pins/{id}/reserve", err)
		return
	}
	h.respond(w, "POST", "/pins/{id}/reserve", http.StatusOK, models.ReserveResponse{
		Success:    true,
		TransferID: res.TransferID,
		Amount:     res.Amount,
		Status:     string(res.Status),
		Message:    "Reservation placed, awaiting the owner's decision",
	})
}

func (h *Handler) CancelReservationHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/pins/{id}/cancel-reservation"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	res, err := h.reservations.Cancel(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.respondServiceError(w, "POST", "/pins/{id}/cancel-reservation", err)
		return
	}
	h.respond(w, "POST", "/pins/{id}/cancel-reservation", http.StatusOK, models.CancelResponse{
		Success:      true,
		TransferID:   res.TransferID,
		RefundAmount: res.Amount,
		Message:      "Reservation cancelled and refund issued",
	})
}

func (h *Handler) AcceptHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/reservations/{id}/accept"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	res, err := h.reservations.Accept(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.respondServiceError(w, "POST", "/reservations/{id}/accept", err)
		return
	}
	h.respond(w, "POST", "/reservations/{id}/accept", http.StatusOK, models.AcceptResponse{
		Success:         true,
		TransferID:      res.TransferID,
		AmountReceived:  res.Amount,
		NewBalance:      res.NewBalance,
		BalanceIncrease: res.BalanceIncrease,
		Message:         "Reservation accepted, parking exchanged",
	})
}

func (h *Handler) DeclineHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/reservations/{id}/decline"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	res, err := h.reservations.Decline(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.respondServiceError(w, "POST", "/reservations/{id}/decline", err)
		return
	}
	h.respond(w, "POST", "/reservations/{id}/decline", http.StatusOK, models.DeclineResponse{
		Success:        true,
		TransferID:     res.TransferID,
		AmountRefunded: res.Amount,
		Message:        "Reservation declined, escrow returned to sender",
	})
}

func (h *Handler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/notifications"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	items, err := h.notifications.ListPending(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, "GET", "/notifications", err)
		return
	}
	if items == nil {
		items = []domain.PendingReservation{}
	}
	h.respond(w, "GET", "/notifications", http.StatusOK, models.NotificationsResponse{
		Success:       true,
		Notifications: items,
		Count:         len(items),
	})
}

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/wallet/balance"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	balance, currency, err := h.wallets.Balance(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, "GET", "/wallet/balance", err)
		return
	}
	h.respond(w, "GET", "/wallet/balance", http.StatusOK, models.BalanceResponse{
		Success:  true,
		Balance:  balance,
		Currency: currency,
	})
}

func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/transactions"))
	defer timer.ObserveDuration()
	user := identityFrom(r.Context())

	txs, err := h.wallets.History(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, "GET", "/transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.respond(w, "GET", "/transactions", http.StatusOK, models.TransactionsResponse{
		Success:      true,
		Transactions: txs,
	})
}

// respondServiceError maps the service error taxonomy onto HTTP codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, method, endpoint string, err error) {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		msg := lerr.Message
		if msg == "" {
			msg = "Wallet provider rejected the operation"
		}
		h.respond(w, method, endpoint, http.StatusBadGateway, map[string]string{"error": msg})
		return
	}

	var code int
	switch {
	case errors.Is(err, service.ErrPinNotFound), errors.Is(err, service.ErrRequestNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrAlreadyResolved),
		errors.Is(err, service.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, service.ErrSelfReservation),
		errors.Is(err, service.ErrDuplicateReservation),
		errors.Is(err, service.ErrWalletNotConfigured):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrExpired):
		code = http.StatusGone
	default:
		h.respond(w, method, endpoint, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	h.respond(w, method, endpoint, code, map[string]string{"error": err.Error()})
}

func pinFilterFromQuery(r *http.Request) (domain.PinFilter, error) {
	var f domain.PinFilter
	q := r.URL.Query()

	if zs := q.Get("zone"); zs != "" {
		zone, err := strconv.Atoi(zs)
		if err != nil {
			return f, errors.New("zone must be an integer")
		}
		f.Zone = &zone
	}

	lats, lngs := q.Get("lat"), q.Get("lng")
	if (lats == "") != (lngs == "") {
		return f, errors.New("lat and lng must be provided together")
	}
	if lats != "" {
		lat, err := strconv.ParseFloat(lats, 64)
		if err != nil {
			return f, errors.New("lat must be a number")
		}
		lng, err := strconv.ParseFloat(lngs, 64)
		if err != nil {
			return f, errors.New("lng must be a number")
		}
		f.Lat, f.Lng = &lat, &lng
		f.RadiusKm = 2 // default search radius
		if rs := q.Get("radius"); rs != "" {
			radius, err := strconv.ParseFloat(rs, 64)
			if err != nil || radius <= 0 {
				return f, errors.New("radius must be a positive number")
			}
			f.RadiusKm = radius
		}
	}
	return f, nil
}

func (h *Handler) respond(w http.ResponseWriter, method, endpoint string, code int, payload interface{}) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
