package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/eligibility"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
)

func (a *API) openAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := a.Engine.OpenAccount(r.Context(), req.ID, req.Balances, req.StartingClass)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	p, err := a.Engine.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Account)
}

func (a *API) credit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	bal, err := a.Engine.Credit(r.Context(), id, req.Currency, req.Amount, req.Ref)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: id, Currency: req.Currency, Balance: bal})
}

func (a *API) debit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	bal, err := a.Engine.Debit(r.Context(), id, req.Currency, req.Amount, req.Ref)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{AccountID: id, Currency: req.Currency, Balance: bal})
}

func (a *API) convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decode(w, r, &req) {
		return
	}
	acct, err := a.Engine.Convert(r.Context(), chi.URLParam(r, "id"), req.From, req.To, req.Amount)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) getProgression(w http.ResponseWriter, r *http.Request) {
	st, err := a.Engine.Progression.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) addXP(w http.ResponseWriter, r *http.Request) {
	var req XPRequest
	if !decode(w, r, &req) {
		return
	}
	adv, err := a.Engine.AddXP(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

func (a *API) changeClass(w http.ResponseWriter, r *http.Request) {
	var req ClassRequest
	if !decode(w, r, &req) {
		return
	}
	st, cost, err := a.Engine.ChangeClass(r.Context(), chi.URLParam(r, "id"), req.ClassID)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClassResponse{CurrentClass: st.CurrentClass, Cost: cost, Level: st.Level})
}

// eligibility responde 200 com eligible=false e o motivo; só ids desconhecidos viram erro.
func (a *API) eligibility(w http.ResponseWriter, r *http.Request) {
	var ch eligibility.Challenge
	if !decode(w, r, &ch) {
		return
	}
	err := a.Engine.CheckEligibility(r.Context(), chi.URLParam(r, "id"), ch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, EligibilityResponse{Eligible: true})
	case errs.Fatal(err) || errs.Kind(err) == errs.KindInternal:
		a.writeErr(w, r, err)
	default:
		writeJSON(w, http.StatusOK, EligibilityResponse{Eligible: false, Reason: errs.Kind(err)})
	}
}

func (a *API) listMarkets(w http.ResponseWriter, r *http.Request) {
	ms, err := a.Engine.ListMarkets(r.Context())
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) createMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Currency == "" {
		req.Currency = conversion.Coins
	}
	m, err := a.Engine.CreateMarket(r.Context(), marketParams(req))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) getMarket(w http.ResponseWriter, r *http.Request) {
	m, err := a.Engine.Market(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) getOdds(w http.ResponseWriter, r *http.Request) {
	o, err := a.Engine.Odds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := a.Engine.PlaceBet(r.Context(), chi.URLParam(r, "id"), req.AccountID, req.Side, req.Amount)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) closeMarket(w http.ResponseWriter, r *http.Request) {
	m, err := a.Engine.CloseMarket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) settle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := a.Engine.Settle(r.Context(), chi.URLParam(r, "id"), req.Outcome)
	if err != nil {
		a.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
