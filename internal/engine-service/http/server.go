package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/challenge-wager-engine/internal/engine"
	"github.com/radieske/challenge-wager-engine/internal/market"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
)

// API expõe o engine em REST/JSON. WS, quando presente, é montado em /ws.
type API struct {
	Engine *engine.Engine
	Log    *zap.Logger
	WS     http.HandlerFunc
}

// Router retorna o roteador HTTP com os endpoints REST
func (a *API) Router() http.Handler {
	if a.Log == nil {
		a.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1/accounts", func(r chi.Router) {
		r.Post("/", a.openAccount)
		r.Get("/{id}", a.getAccount)
		r.Post("/{id}/credit", a.credit)
		r.Post("/{id}/debit", a.debit)
		r.Post("/{id}/convert", a.convert)
		r.Get("/{id}/progression", a.getProgression)
		r.Post("/{id}/xp", a.addXP)
		r.Post("/{id}/class", a.changeClass)
		r.Post("/{id}/eligibility", a.eligibility)
	})
	r.Route("/v1/markets", func(r chi.Router) {
		r.Get("/", a.listMarkets)
		r.Post("/", a.createMarket)
		r.Get("/{id}", a.getMarket)
		r.Get("/{id}/odds", a.getOdds)
		r.Post("/{id}/bets", a.placeBet)
		r.Post("/{id}/close", a.closeMarket)
		r.Post("/{id}/settle", a.settle)
	})
	if a.WS != nil {
		r.Get("/ws", a.WS)
	}
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid json: " + err.Error()})
		return false
	}
	return true
}

var statusByKind = map[string]int{
	"invalid_amount":     http.StatusBadRequest,
	"invalid_side":       http.StatusBadRequest,
	"unknown_class":      http.StatusBadRequest,
	"unknown_account":    http.StatusNotFound,
	"unknown_market":     http.StatusNotFound,
	"insufficient_funds": http.StatusConflict,
	"daily_cap_exceeded": http.StatusConflict,
	"market_closed":      http.StatusConflict,
	"already_settled":    http.StatusConflict,
	"already_this_class": http.StatusConflict,
	"account_exists":     http.StatusConflict,
	"market_exists":      http.StatusConflict,
	"class_locked":       http.StatusForbidden,
	"tier_too_low":       http.StatusForbidden,
	"not_eligible":       http.StatusForbidden,
	"no_conversion_path": http.StatusUnprocessableEntity,
}

// writeErr devolve {"error": kind, "message": texto}; nenhum tipo é engolido.
func (a *API) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if kind == errs.KindInternal || kind == "no_conversion_path" {
		a.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: err.Error()})
}

func marketParams(req CreateMarketRequest) market.Params {
	return market.Params{
		ID:           req.ID,
		Title:        req.Title,
		Kind:         req.Kind,
		Currency:     req.Currency,
		MinBet:       req.MinBet,
		MaxBet:       req.MaxBet,
		EndTime:      req.EndTime,
		VirtualStake: req.VirtualStake,
		Requirement:  req.Requirement,
	}
}
