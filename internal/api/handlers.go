package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/matchbook/internal/auth"
	"github.com/xtrntr/matchbook/internal/db"
	"github.com/xtrntr/matchbook/internal/events"
	"github.com/xtrntr/matchbook/internal/exchange"
	"github.com/xtrntr/matchbook/internal/models"
	"github.com/xtrntr/matchbook/internal/money"

	"go.uber.org/zap"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Engine      *exchange.Engine
	AuthService *auth.AuthService
	Publisher   events.Publisher
	Log         *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, engine *exchange.Engine, authService *auth.AuthService, publisher events.Publisher, log *zap.Logger) *Handler {
	return &Handler{DB: database, Engine: engine, AuthService: authService, Publisher: publisher, Log: log}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error": "Username and password required"}`, http.StatusBadRequest)
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Failed to register user"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, `{"error": "Invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, `{"error": "Authorization header required"}`, http.StatusUnauthorized)
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			http.Error(w, `{"error": "Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Profile returns the authenticated user with their asset holdings
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetUser(r.Context(), h.DB.Pool, userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve profile"}`, http.StatusInternalServerError)
		return
	}

	assets, err := h.DB.GetUserAssets(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve assets"}`, http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []models.Asset{}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"balance":  user.Balance,
		"assets":   assets,
	})
}

// PlaceOrder reserves funds or assets, opens the order, and triggers a single
// matching attempt for it. The match failing (typically because no counter
// order exists) does not affect the placement response.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Symbol string       `json:"symbol"`
		Side   string       `json:"side"`
		Price  money.Price  `json:"price"`
		Amount money.Amount `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	if req.Symbol == "" || len(req.Symbol) > 10 {
		http.Error(w, `{"error": "Symbol must be 1-10 characters"}`, http.StatusBadRequest)
		return
	}
	side := models.OrderSide(req.Side)
	if !side.Valid() {
		http.Error(w, `{"error": "Side must be 'buy' or 'sell'"}`, http.StatusBadRequest)
		return
	}
	if req.Price.Cmp(money.Price{}) <= 0 || req.Amount.Cmp(money.Amount{}) <= 0 {
		http.Error(w, `{"error": "Price and amount must be positive"}`, http.StatusBadRequest)
		return
	}

	order, evts, err := h.Engine.Place(r.Context(), userID, exchange.PlaceRequest{
		Symbol: req.Symbol,
		Side:   side,
		Price:  req.Price,
		Amount: req.Amount,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.publish(r.Context(), evts)

	// automatic match trigger: a failure here is not the placer's problem
	if result, matchEvts, err := h.Engine.Match(r.Context(), userID, order.ID); err == nil {
		h.publish(r.Context(), matchEvts)
		order = result.Order
	} else if !errors.Is(err, exchange.ErrNoCounterOrder) {
		h.Log.Debug("auto-match failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// MatchOrder triggers matching for an order against its best counter order
func (h *Handler) MatchOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	result, evts, err := h.Engine.Match(r.Context(), userID, orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.publish(r.Context(), evts)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"order":         result.Order,
		"counter_order": result.Counter,
		"price":         result.Price,
		"amount":        result.Amount,
		"fee":           result.Fee,
	})
}

// CancelOrder cancels an open order and releases the reservation
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, `{"error": "Invalid order ID"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Engine.Cancel(r.Context(), userID, orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	json.NewEncoder(w).Encode(order)
}

// GetOpenOrders lists open orders, oldest first
func (h *Handler) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	orders, err := h.Engine.ListOpen(r.Context(), r.URL.Query().Get("symbol"), page, perPage)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	json.NewEncoder(w).Encode(orders)
}

// GetUserOrders lists the authenticated user's orders, newest first
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(int64)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	filter := db.OrderFilter{
		Status: models.OrderStatus(query.Get("status")),
		Side:   models.OrderSide(query.Get("side")),
		Symbol: query.Get("symbol"),
	}
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))

	orders, err := h.Engine.ListUserOrders(r.Context(), userID, filter, page, perPage)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve orders"}`, http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	json.NewEncoder(w).Encode(orders)
}

func (h *Handler) publish(ctx context.Context, evts []events.Event) {
	if h.Publisher == nil {
		return
	}
	for _, evt := range evts {
		h.Publisher.Publish(ctx, evt)
	}
}

// writeEngineError maps engine errors onto HTTP statuses: validation and
// lifecycle conflicts are the caller's problem, contention is retryable,
// anything else is a server fault.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrInsufficientFunds),
		errors.Is(err, exchange.ErrInsufficientAsset),
		errors.Is(err, exchange.ErrNotOpen):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrNoCounterOrder),
		errors.Is(err, exchange.ErrStaleOrder),
		errors.Is(err, exchange.ErrContention):
		status = http.StatusConflict
	default:
		h.Log.Error("engine operation failed", zap.Error(err))
		http.Error(w, `{"error": "Internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
