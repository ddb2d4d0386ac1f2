package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/engine"
	"LendLedger/internal/observability"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/risk"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// accountHeader carries the caller's identity. A real deployment would put
// an authenticating proxy in front of this.
const accountHeader = "X-Account-ID"

type apiRoutes struct {
	eng     *engine.Engine
	qs      *query.Service
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func (api *apiRoutes) mount(r chi.Router) {
	r.Post("/assets", api.listAsset)
	r.Get("/assets", api.getAssets)
	r.Get("/assets/{symbol}", api.getAsset)
	r.Post("/assets/{symbol}/accrue", api.accrue)

	r.Post("/deposits", api.deposit)
	r.Post("/withdrawals", api.withdraw)
	r.Post("/borrows", api.borrow)
	r.Post("/repayments", api.repay)
	r.Post("/liquidations", api.liquidate)

	r.Get("/accounts/{id}/health", api.accountHealth)
	r.Get("/accounts/{id}/positions", api.accountPositions)
	r.Get("/accounts/{id}/positions/{symbol}", api.accountPosition)
	r.Get("/accounts/{id}/liquidations", api.accountLiquidations)

	r.Get("/events", api.events)

	r.Post("/admin/pause", api.pause)
	r.Post("/admin/unpause", api.unpause)
	r.Post("/admin/projections/rebuild", api.rebuildProjections)
	r.Get("/admin/integrity", api.integrity)
}

// instrument records request counts and latency per route pattern.
func (api *apiRoutes) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		api.metrics.QueryRequests.WithLabelValues(pattern, strconv.Itoa(ww.Status())).Inc()
		api.metrics.QueryDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

// --- mutations ---

type listAssetRequest struct {
	Symbol              string `json:"symbol"`
	OracleRef           string `json:"oracle_ref"`
	CollateralFactorBps uint64 `json:"collateral_factor_bps"`
}

func (api *apiRoutes) listAsset(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	var req listAssetRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Symbol == "" || req.OracleRef == "" {
		writeBadRequest(w, errors.New("symbol and oracle_ref are required"))
		return
	}

	if err := api.eng.ListAsset(caller, req.Symbol, req.OracleRef, req.CollateralFactorBps, nil); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "listed", "asset": req.Symbol})
}

type amountRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (api *apiRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	api.applyAmountOp(w, r, func(account uuid.UUID, asset string, amount *big.Int) error {
		return api.eng.Deposit(account, asset, amount)
	}, "deposited")
}

func (api *apiRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	api.applyAmountOp(w, r, func(account uuid.UUID, asset string, amount *big.Int) error {
		return api.eng.Withdraw(account, asset, amount)
	}, "withdrawn")
}

func (api *apiRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	api.applyAmountOp(w, r, func(account uuid.UUID, asset string, amount *big.Int) error {
		return api.eng.Borrow(account, asset, amount)
	}, "borrowed")
}

func (api *apiRoutes) applyAmountOp(
	w http.ResponseWriter,
	r *http.Request,
	op func(account uuid.UUID, asset string, amount *big.Int) error,
	status string,
) {
	caller, err := callerID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := op(caller, req.Asset, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "asset": req.Asset})
}

func (api *apiRoutes) repay(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	repaid, err := api.eng.Repay(caller, req.Asset, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "repaid",
		"asset":  req.Asset,
		"repaid": repaid.String(),
	})
}

type liquidationRequest struct {
	Borrower        string `json:"borrower"`
	DebtAsset       string `json:"debt_asset"`
	CollateralAsset string `json:"collateral_asset"`
}

func (api *apiRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	var req liquidationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	borrower, err := uuid.Parse(req.Borrower)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("invalid borrower: %w", err))
		return
	}

	repaid, seized, err := api.eng.Liquidate(caller, borrower, req.DebtAsset, req.CollateralAsset)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "liquidated",
		"debt_asset":       req.DebtAsset,
		"collateral_asset": req.CollateralAsset,
		"repaid":           repaid.String(),
		"seized":           seized.String(),
	})
}

func (api *apiRoutes) accrue(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if err := api.eng.Accrue(symbol); err != nil {
		writeEngineError(w, err)
		return
	}

	info, err := api.eng.AssetSnapshot(symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "accrued",
		"asset":        symbol,
		"borrow_index": info.BorrowIndex.String(),
	})
}

func (api *apiRoutes) pause(w http.ResponseWriter, r *http.Request) {
	api.setPaused(w, r, true)
}

func (api *apiRoutes) unpause(w http.ResponseWriter, r *http.Request) {
	api.setPaused(w, r, false)
}

func (api *apiRoutes) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	caller, err := callerID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if paused {
		err = api.eng.Pause(caller)
	} else {
		err = api.eng.Unpause(caller)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// --- reads ---

type assetView struct {
	Symbol              string `json:"symbol"`
	OracleRef           string `json:"oracle_ref"`
	CollateralFactorBps uint64 `json:"collateral_factor_bps"`
	TotalDeposits       string `json:"total_deposits"`
	TotalBorrows        string `json:"total_borrows"`
	BorrowIndex         string `json:"borrow_index"`
	LastAccrualUnix     int64  `json:"last_accrual_unix"`
}

func assetViewFrom(info engine.AssetInfo) assetView {
	return assetView{
		Symbol:              info.Symbol,
		OracleRef:           info.OracleRef,
		CollateralFactorBps: info.CollateralFactorBps,
		TotalDeposits:       info.TotalDeposits.String(),
		TotalBorrows:        info.TotalBorrows.String(),
		BorrowIndex:         info.BorrowIndex.String(),
		LastAccrualUnix:     info.LastAccrualUnix,
	}
}

func (api *apiRoutes) getAssets(w http.ResponseWriter, r *http.Request) {
	infos, err := api.eng.Assets()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	views := make([]assetView, 0, len(infos))
	for _, info := range infos {
		views = append(views, assetViewFrom(info))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assets": views})
}

func (api *apiRoutes) getAsset(w http.ResponseWriter, r *http.Request) {
	info, err := api.eng.AssetSnapshot(chi.URLParam(r, "symbol"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assetViewFrom(info))
}

func (api *apiRoutes) accountHealth(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	hf, err := api.eng.HealthFactor(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := map[string]interface{}{
		"account": account.String(),
		"healthy": hf.Cmp(risk.HealthyThreshold) >= 0,
	}
	if hf.Cmp(risk.MaxHealthFactor) == 0 {
		resp["health_factor"] = "max"
	} else {
		resp["health_factor"] = hf.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *apiRoutes) accountPositions(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	positions, err := api.qs.GetAccountPositions(r.Context(), account)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (api *apiRoutes) accountPosition(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	pos, err := api.qs.GetPosition(r.Context(), account, chi.URLParam(r, "symbol"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (api *apiRoutes) accountLiquidations(w http.ResponseWriter, r *http.Request) {
	account, err := pathAccount(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	limit, before, err := pagination(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	records, err := api.qs.GetLiquidations(r.Context(), account, limit, before)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": records})
}

func (api *apiRoutes) events(w http.ResponseWriter, r *http.Request) {
	limit, before, err := pagination(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	events, err := api.qs.GetEvents(r.Context(), limit, before)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (api *apiRoutes) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.Rebuild(r.Context(), api.db); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuild started"})
}

func (api *apiRoutes) integrity(w http.ResponseWriter, r *http.Request) {
	report, err := api.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func callerID(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get(accountHeader)
	if header == "" {
		return uuid.Nil, fmt.Errorf("%s header is required", accountHeader)
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", accountHeader, err)
	}
	return id, nil
}

func pathAccount(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid account id: %w", err)
	}
	return id, nil
}

func pagination(r *http.Request) (limit int, before *int64, err error) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			return 0, nil, fmt.Errorf("limit must be in 1..500")
		}
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		seq, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return 0, nil, fmt.Errorf("invalid before cursor: %w", parseErr)
		}
		before = &seq
	}
	return limit, before, nil
}

func decodeRequest(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	return amount, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, engineStatus(err), err)
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyListed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, engine.ErrInvalidFactor):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, engine.ErrInsufficientLiquidity),
		errors.Is(err, engine.ErrHealthFactorTooLow),
		errors.Is(err, engine.ErrPositionHealthy),
		errors.Is(err, engine.ErrInvalidPrice):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
