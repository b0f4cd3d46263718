package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/auth"
	"github.com/xtrntr/stocksim/internal/models"
	"github.com/xtrntr/stocksim/internal/notify"
)

// Store is the persistence the HTTP layer needs
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error
	GetPendingOrders(ctx context.Context, side string) ([]models.Order, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)
	GrantAccount(ctx context.Context, userID uuid.UUID, cash decimal.Decimal, shares int64) (models.Account, error)
	GetUserTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
}

// Matcher runs one matching pass
type Matcher interface {
	Run(ctx context.Context) (models.Report, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          Store
	Exchange    Matcher
	AuthService *auth.AuthService
	Publisher   notify.Publisher
	logger      *slog.Logger

	// TriggerWriteTimeout replaces the server write timeout on the trigger
	// route, so a long run can still deliver its report. Zero keeps the
	// server's.
	TriggerWriteTimeout time.Duration
}

// NewHandler creates a new handler. publisher may be nil.
func NewHandler(db Store, ex Matcher, authService *auth.AuthService, publisher notify.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{DB: db, Exchange: ex, AuthService: authService, Publisher: publisher, logger: logger}
}

type ctxKey int

const claimsKey ctxKey = iota

func claimsFrom(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(auth.Claims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// JWTAuthMiddleware verifies user tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		claims, err := h.AuthService.ParseToken(token)
		if err != nil || claims.IsService() {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServiceAuthMiddleware admits only tokens carrying the service role
func (h *Handler) ServiceAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, models.Report{Matches: []models.Match{}, Error: "Missing Authorization header"})
			return
		}

		claims, err := h.AuthService.ParseToken(token)
		if err != nil || !claims.IsService() {
			writeJSON(w, http.StatusUnauthorized, models.Report{Matches: []models.Match{}, Error: "Invalid service credential"})
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MatchOrders runs the matching engine once and reports the matches.
// Matches are published after the report has been flushed to the caller.
func (h *Handler) MatchOrders(w http.ResponseWriter, r *http.Request) {
	if h.Exchange == nil {
		writeJSON(w, http.StatusInternalServerError, models.Report{Matches: []models.Match{}, Error: "matching engine not configured"})
		return
	}

	rc := http.NewResponseController(w)
	if h.TriggerWriteTimeout > 0 {
		if err := rc.SetWriteDeadline(time.Now().Add(h.TriggerWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Warn("failed to extend write deadline", slog.String("error", err.Error()))
		}
	}

	// A run always finishes its snapshot, even if the caller hangs up.
	ctx := context.WithoutCancel(r.Context())
	report, err := h.Exchange.Run(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}

	writeJSON(w, http.StatusOK, report)
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("failed to flush report", slog.String("error", err.Error()))
	}

	if h.Publisher != nil && len(report.Matches) > 0 {
		if err := h.Publisher.PublishMatches(ctx, report.Matches); err != nil {
			h.logger.Warn("failed to publish matches",
				slog.Int("matches", len(report.Matches)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Warn("registration failed", slog.String("username", req.Username), slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
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
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// PlaceOrder stores a new pending limit order; it is matched on the next run
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Type   string          `json:"type"`
		Shares int64           `json:"shares"`
		Price  decimal.Decimal `json:"price"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order := models.Order{
		UserID: claims.UserID,
		Side:   req.Type,
		Shares: req.Shares,
		Price:  req.Price,
	}
	if err := order.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.DB.CreateOrder(r.Context(), &order)
	if err != nil {
		h.logger.Error("failed to create order", slog.String("user_id", claims.UserID.String()), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to create order")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetUserOrders retrieves a user's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orders, err := h.DB.GetUserOrders(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder cancels a pending order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	err = h.DB.CancelOrder(r.Context(), orderID, claims.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Order cancelled"})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, models.ErrOrderNotPending):
		writeError(w, http.StatusConflict, "Order is not pending")
	default:
		h.logger.Error("failed to cancel order", slog.String("order_id", orderID.String()), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to cancel order")
	}
}

// GetOrderBook returns the pending orders on both sides in priority order
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	buys, err := h.DB.GetPendingOrders(r.Context(), models.SideBuy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve order book")
		return
	}
	sells, err := h.DB.GetPendingOrders(r.Context(), models.SideSell)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve order book")
		return
	}
	if buys == nil {
		buys = []models.Order{}
	}
	if sells == nil {
		sells = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buyOrders":  buys,
		"sellOrders": sells,
	})
}

// GetAccount returns the caller's balance and shares
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	acct, err := h.DB.GetAccount(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to retrieve account")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetUserTransactions retrieves a user's transaction history
func (h *Handler) GetUserTransactions(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	txs, err := h.DB.GetUserTransactions(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve transactions")
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Grant credits cash and shares to a user; service role only
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID uuid.UUID       `json:"userId"`
		Cash   decimal.Decimal `json:"cash"`
		Shares int64           `json:"shares"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	if req.Cash.IsNegative() || req.Shares < 0 {
		writeError(w, http.StatusBadRequest, "Grants must not be negative")
		return
	}
	if !models.IsCents(req.Cash) {
		writeError(w, http.StatusBadRequest, "cash must have at most two decimal places")
		return
	}

	acct, err := h.DB.GrantAccount(r.Context(), req.UserID, req.Cash, req.Shares)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		h.logger.Error("grant failed", slog.String("user_id", req.UserID.String()), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to grant")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
