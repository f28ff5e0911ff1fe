package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

// ItemReader: чтение списка заказов
type ItemReader interface {
	ListItems(ctx context.Context, opts model.ListOptions) ([]model.OrderListItem, error)
	GetItem(ctx context.Context, id int64) (*model.OrderListItem, error)
}

// Lifecycle: операции, изменяющие список
type Lifecycle interface {
	Add(ctx context.Context, in model.NewItem, actor model.Actor) (*model.OrderListItem, error)
	ToggleOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor) (*model.OrderListItem, error)
	AddStock(ctx context.Context, id int64, actor model.Actor) (*model.StockReceipt, error)
	Remove(ctx context.Context, id int64, actor model.Actor) error
}

// CatalogReader: превью каталога SKU
type CatalogReader interface {
	List(ctx context.Context, limit int) ([]model.SKU, error)
}

// ReadinessCheck проверяет доступность зависимости для /readyz
type ReadinessCheck func(ctx context.Context) error

// Handler реализует HTTP API списка заказов
type Handler struct {
	items     ItemReader
	lifecycle Lifecycle
	catalog   CatalogReader
	log       logrus.FieldLogger
	checks    map[string]ReadinessCheck
}

// NewHandler создаёт HTTP Handler
func NewHandler(items ItemReader, lifecycle Lifecycle, catalog CatalogReader, log logrus.FieldLogger) *Handler {
	return &Handler{items: items, lifecycle: lifecycle, catalog: catalog, log: log, checks: map[string]ReadinessCheck{}}
}

// AddReadinessCheck регистрирует проверку для /readyz
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// RegisterRoutes регистрирует маршруты. Всё, кроме проверок здоровья, требует токен
func (h *Handler) RegisterRoutes(r *mux.Router, auth mux.MiddlewareFunc, limiter *ActorLimiter) {
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(auth)
	if limiter != nil {
		api.Use(RateLimitMiddleware(limiter))
	}
	api.HandleFunc("/skus/list", h.ListSKUs).Methods("GET")
	api.HandleFunc("/items/list", h.List).Methods("GET")
	api.HandleFunc("/item/get", h.Get).Methods("GET")
	api.HandleFunc("/item/create", h.Create).Methods("POST")
	api.HandleFunc("/item/ordered", h.SetOrdered).Methods("PATCH")
	api.HandleFunc("/item/receive", h.Receive).Methods("POST")
	api.HandleFunc("/item/remove", h.Remove).Methods("DELETE")
}

// ErrorResponse модель ошибки API
type ErrorResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrorResponse{1, msg, map[string]interface{}{"kind": apperr.KindValidation}})
}

// writeAppError переводит вид ошибки в HTTP-статус
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	details := map[string]interface{}{"kind": kind}
	switch kind {
	case apperr.KindValidation:
		var appErr *apperr.Error
		msg := err.Error()
		if errors.As(err, &appErr) && appErr.Msg != "" {
			msg = appErr.Msg
		}
		writeError(w, http.StatusBadRequest, ErrorResponse{1, msg, details})
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, ErrorResponse{3, "errors.common.notFound", details})
	case apperr.KindAuthorization:
		writeError(w, http.StatusForbidden, ErrorResponse{5, "errors.common.forbidden", details})
	case apperr.KindUnreachable:
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{4, "errors.common.unavailable", details})
	case apperr.KindUnknownOutcome:
		details["hint"] = "re-check current state before retrying"
		writeError(w, http.StatusGatewayTimeout, ErrorResponse{6, "errors.common.outcomeUnknown", details})
	default:
		h.log.WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("unexpected error")
		writeError(w, http.StatusInternalServerError, ErrorResponse{1, "errors.common.internal", map[string]interface{}{}})
	}
	if kind != "" {
		h.log.WithError(err).WithField("kind", kind).Debug("request rejected")
	}
}

// parseID извлекает положительный id из query
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func actorOf(r *http.Request) model.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// ListSKUs обрабатывает GET /skus/list?limit=N
func (h *Handler) ListSKUs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			badRequest(w, "invalid limit")
			return
		}
		limit = i
	}
	skus, err := h.catalog.List(r.Context(), limit)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"skus": skus})
}

// List обрабатывает GET /items/list[?sort=needs_ordering_first]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	opts := model.ListOptions{Sort: model.SortOrder(r.URL.Query().Get("sort"))}
	items, err := h.items.ListItems(r.Context(), opts)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"meta":  map[string]interface{}{"total": len(items), "sort": opts.Sort},
		"items": items,
	})
}

// Get обрабатывает GET /item/get?id=
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	it, err := h.items.GetItem(r.Context(), id)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// Create обрабатывает POST /item/create с телом {skuId, partType, quantity}
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.NewItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	it, err := h.lifecycle.Add(r.Context(), req, actorOf(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

// SetOrdered обрабатывает PATCH /item/ordered?id= с телом {ordered}
func (h *Handler) SetOrdered(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	var req struct {
		Ordered *bool `json:"ordered"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ordered == nil {
		badRequest(w, "invalid request body")
		return
	}
	it, err := h.lifecycle.ToggleOrdered(r.Context(), id, *req.Ordered, actorOf(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// Receive обрабатывает POST /item/receive?id=: оприходование и удаление из списка
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	rc, err := h.lifecycle.AddStock(r.Context(), id, actorOf(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "receipt": rc, "removed": true})
}

// Remove обрабатывает DELETE /item/remove?id=
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	if err := h.lifecycle.Remove(r.Context(), id, actorOf(r)); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "removed": true})
}

// Healthz возвращает статус работы сервиса
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz проверяет зависимости; 503, если хотя бы одна недоступна
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
