package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xtrntr/coinledger/internal/apperr"
	"github.com/xtrntr/coinledger/internal/auth"
	"github.com/xtrntr/coinledger/internal/catalog"
	"github.com/xtrntr/coinledger/internal/events"
	"github.com/xtrntr/coinledger/internal/ledger"
	"github.com/xtrntr/coinledger/internal/models"
	"github.com/xtrntr/coinledger/internal/trade"
	"go.uber.org/zap"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Auth    *auth.AuthService
	Trader  *trade.Executor
	Catalog *catalog.Catalog
	Ledger  ledger.Store
	Prices  trade.PriceSource
	Hub     *events.Hub
	Log     *zap.Logger
}

// Routes builds the router. Coin routes check the symbol before the bearer token.
func (h *Handler) Routes(corsOrigins []string) chi.Router {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Public endpoints
	r.Get("/health", h.Health)
	r.Get("/coins", h.ListCoins)
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Get("/balance", h.Balance)
		r.Get("/ws", h.Feed)
	})

	r.Route("/coins/{symbol}", func(r chi.Router) {
		r.Use(h.RequireCoin)
		r.Get("/", h.Price)
		r.With(h.Authenticate).Post("/buy", h.Buy)
		r.With(h.Authenticate).Post("/sell", h.Sell)
	})

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListCoins returns the names of active coins
func (h *Handler) ListCoins(w http.ResponseWriter, r *http.Request) {
	symbols, err := h.Catalog.ActiveSymbols(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, symbols)
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.Auth.Register(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type loginResponse struct {
	Key   *models.Key `json:"key"`
	Token string      `json:"token"`
}

// Login handles user login and returns a fresh credential
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	key, token, err := h.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Key: key, Token: token})
}

// Balance lists the caller's non-zero balances by symbol
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())

	assets, err := h.Ledger.Balances(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make(map[string]json.Number, len(assets))
	for _, a := range assets {
		out[a.Symbol] = json.Number(a.Balance.String())
	}
	writeJSON(w, http.StatusOK, out)
}

// Price returns the current unit price of a coin
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Prices.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.Number{"price": json.Number(quote.Price.String())})
}

// Buy spends cash on a coin
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.Buy)
}

// Sell converts a coin back to cash
func (h *Handler) Sell(w http.ResponseWriter, r *http.Request) {
	h.trade(w, r, models.Sell)
}

type tradeResponse struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"quantity"`
}

func (h *Handler) trade(w http.ResponseWriter, r *http.Request, side models.Side) {
	user, _ := UserFromContext(r.Context())

	var req tradeRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.Trader.Execute(r.Context(), user.ID, chi.URLParam(r, "symbol"), side, trade.Request{
		All:      bool(req.All),
		Quantity: string(req.Quantity),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeResponse{
		Price:    json.Number(t.Price.String()),
		Quantity: json.Number(t.Quantity.String()),
	})
}

// Feed streams the caller's executed trades over a websocket
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	h.Hub.Serve(w, r, user.ID)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.ErrBadRequest.Wrap(err)
	}
	return nil
}

// decodeOptional is decode that leaves v untouched for an empty body
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return apperr.ErrBadRequest.Wrap(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := apperr.StatusOf(err)

	msg := "internal server error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Msg
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": msg, "kind": string(kind)})
}
