package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"StableVault/internal/core"
	"StableVault/internal/observability"
	"StableVault/internal/pricing"
	"StableVault/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server exposes the vault over HTTP/JSON: state-changing operations go
// to the engine, reads go to the engine (live) or the query service
// (projected history).
type Server struct {
	engine  *core.Engine
	queries *query.QueryService
	valuer  *pricing.Valuer
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewServer(
	engine *core.Engine,
	queries *query.QueryService,
	valuer *pricing.Valuer,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		engine:  engine,
		queries: queries,
		valuer:  valuer,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/collateral/deposit", s.instrument("deposit", s.handleDeposit))
		r.Post("/collateral/redeem", s.instrument("redeem", s.handleRedeem))
		r.Post("/debt/mint", s.instrument("mint", s.handleMint))
		r.Post("/debt/burn", s.instrument("burn", s.handleBurn))
		r.Post("/positions/open", s.instrument("deposit_and_mint", s.handleDepositAndMint))
		r.Post("/positions/close", s.instrument("burn_and_redeem", s.handleBurnAndRedeem))
		r.Post("/liquidations", s.instrument("liquidate", s.handleLiquidate))

		r.Get("/users/{userID}/position", s.instrument("position", s.handlePosition))
		r.Get("/users/{userID}/health", s.instrument("health_factor", s.handleHealthFactor))
		r.Get("/users/{userID}/journal", s.instrument("journal", s.handleJournalHistory))
		r.Get("/assets/{asset}/value", s.instrument("asset_value", s.handleAssetValue))
		r.Get("/assets/{asset}/quantity", s.instrument("asset_quantity", s.handleAssetQuantity))
		r.Get("/events", s.instrument("events", s.handleEventHistory))

		r.Get("/admin/integrity", s.instrument("integrity", s.handleIntegrity))
	})

	return r
}

// ============================================================================
// Operation handlers
// ============================================================================

type depositRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, amount, ok := s.parseUserAmount(w, req.UserID, req.Amount)
	if !ok {
		return
	}
	err := s.engine.DepositCollateral(requestKey(r, req.RequestID), userID, req.Asset, amount)
	s.finishOp(w, err)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, amount, ok := s.parseUserAmount(w, req.UserID, req.Amount)
	if !ok {
		return
	}
	err := s.engine.RedeemCollateral(requestKey(r, req.RequestID), userID, req.Asset, amount)
	s.finishOp(w, err)
}

type debtRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, amount, ok := s.parseUserAmount(w, req.UserID, req.Amount)
	if !ok {
		return
	}
	err := s.engine.MintDebt(requestKey(r, req.RequestID), userID, amount)
	s.finishOp(w, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, amount, ok := s.parseUserAmount(w, req.UserID, req.Amount)
	if !ok {
		return
	}
	err := s.engine.BurnDebt(requestKey(r, req.RequestID), userID, amount)
	s.finishOp(w, err)
}

type openRequest struct {
	RequestID     string `json:"request_id"`
	UserID        string `json:"user_id"`
	Asset         string `json:"asset"`
	DepositAmount string `json:"deposit_amount"`
	MintAmount    string `json:"mint_amount"`
}

func (s *Server) handleDepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, deposit, ok := s.parseUserAmount(w, req.UserID, req.DepositAmount)
	if !ok {
		return
	}
	mint, ok := s.parseAmount(w, req.MintAmount)
	if !ok {
		return
	}
	err := s.engine.DepositAndMint(requestKey(r, req.RequestID), userID, req.Asset, deposit, mint)
	s.finishOp(w, err)
}

type closeRequest struct {
	RequestID    string `json:"request_id"`
	UserID       string `json:"user_id"`
	Asset        string `json:"asset"`
	BurnAmount   string `json:"burn_amount"`
	RedeemAmount string `json:"redeem_amount"`
}

func (s *Server) handleBurnAndRedeem(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if !s.decode(w, r, &req) {
		return
	}
	userID, burn, ok := s.parseUserAmount(w, req.UserID, req.BurnAmount)
	if !ok {
		return
	}
	redeem, ok := s.parseAmount(w, req.RedeemAmount)
	if !ok {
		return
	}
	err := s.engine.BurnAndRedeem(requestKey(r, req.RequestID), userID, req.Asset, burn, redeem)
	s.finishOp(w, err)
}

type liquidateRequest struct {
	RequestID    string `json:"request_id"`
	LiquidatorID string `json:"liquidator_id"`
	TargetID     string `json:"target_id"`
	Asset        string `json:"asset"`
	DebtToCover  string `json:"debt_to_cover"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	liquidatorID, err := uuid.Parse(req.LiquidatorID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid liquidator_id")
		return
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid target_id")
		return
	}
	cover, ok := s.parseAmount(w, req.DebtToCover)
	if !ok {
		return
	}
	err = s.engine.Liquidate(requestKey(r, req.RequestID), liquidatorID, targetID, req.Asset, cover)
	s.finishOp(w, err)
}

// ============================================================================
// Read handlers
// ============================================================================

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	// Live view from the engine; the projected view is available via the
	// query service when the engine is not the source of truth needed.
	pos := s.engine.PositionOf(userID)

	collateral := make(map[string]string, len(pos.Collateral))
	for asset, amt := range pos.Collateral {
		collateral[asset] = amt.Text(10)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"collateral": collateral,
		"debt":       pos.Debt.Text(10),
		"sequence":   s.engine.Sequence(),
	})
}

func (s *Server) handleHealthFactor(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	factor, err := s.engine.HealthFactorOf(userID)
	if err != nil {
		s.finishOp(w, err)
		return
	}
	value, err := s.engine.CollateralValueOf(userID)
	if err != nil {
		s.finishOp(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          userID,
		"health_factor":    factor.Text(10),
		"collateral_value": value.Text(10),
		"sequence":         s.engine.Sequence(),
	})
}

func (s *Server) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := queryLimit(r, 50)
	after := queryCursor(r)

	entries, err := s.queries.GetJournalHistory(r.Context(), userID, limit, after)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	after := queryCursor(r)

	var eventType *string
	if et := r.URL.Query().Get("type"); et != "" {
		eventType = &et
	}

	entries, err := s.queries.GetEventHistory(r.Context(), eventType, limit, after)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "event query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleAssetValue(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	amount, ok := s.parseAmount(w, r.URL.Query().Get("amount"))
	if !ok {
		return
	}

	value, err := s.valuer.ValueOf(asset, amount)
	if err != nil {
		s.finishValuation(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":  asset,
		"amount": amount.Text(10),
		"value":  value.Text(10),
	})
}

func (s *Server) handleAssetQuantity(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	value, ok := s.parseAmount(w, r.URL.Query().Get("value"))
	if !ok {
		return
	}

	quantity, err := s.valuer.QuantityFromValue(asset, value)
	if err != nil {
		s.finishValuation(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":    asset,
		"value":    value.Text(10),
		"quantity": quantity.Text(10),
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}

	// Also ask the live engine; the projected report only covers
	// persisted state.
	engineOK := s.engine.CheckInvariants() == nil
	tip := s.engine.StateHash()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":          report,
		"engine_balanced": engineOK,
		"engine_sequence": s.engine.Sequence(),
		"engine_hash_tip": hex.EncodeToString(tip[:]),
	})
}

// ============================================================================
// Plumbing
// ============================================================================

// instrument wraps a handler with query metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) parseUserAmount(w http.ResponseWriter, userRaw, amountRaw string) (uuid.UUID, *big.Int, bool) {
	userID, err := uuid.Parse(userRaw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid user_id")
		return uuid.Nil, nil, false
	}
	amount, ok := s.parseAmount(w, amountRaw)
	if !ok {
		return uuid.Nil, nil, false
	}
	return userID, amount, true
}

func (s *Server) parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "amount must be a base-10 integer string")
		return nil, false
	}
	return amount, true
}

// requestKey prefers the Idempotency-Key header, falling back to the
// request_id body field.
func requestKey(r *http.Request, bodyID string) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return bodyID
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func queryCursor(r *http.Request) *int64 {
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return &n
		}
	}
	return nil
}

// finishOp maps engine errors to HTTP statuses. nil writes the accepted
// response with the post-operation sequence.
func (s *Server) finishOp(w http.ResponseWriter, err error) {
	if err == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "applied",
			"sequence": s.engine.Sequence(),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrZeroAmount),
		errors.Is(err, core.ErrUnsupportedAsset):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrDuplicateRequest):
		status = http.StatusConflict
	case errors.Is(err, core.ErrHealthFactorBroken),
		errors.Is(err, core.ErrInsufficientCollateral),
		errors.Is(err, core.ErrBurnExceedsDebt),
		errors.Is(err, core.ErrHealthFactorOk),
		errors.Is(err, core.ErrHealthFactorNotImproved),
		errors.Is(err, core.ErrTransferFailed),
		errors.Is(err, core.ErrMintFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pricing.ErrStalePrice),
		errors.Is(err, pricing.ErrUnknownFeed),
		errors.Is(err, pricing.ErrInvalidPrice):
		status = http.StatusBadGateway
	}

	s.writeError(w, status, err.Error())
}

// finishValuation is like finishOp but treats an unconfigured asset as
// bad input rather than an upstream feed failure.
func (s *Server) finishValuation(w http.ResponseWriter, err error) {
	if errors.Is(err, pricing.ErrUnknownFeed) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.finishOp(w, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{"error": msg})
}
