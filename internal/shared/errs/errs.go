package errs

import "errors"

// Tipos de erro do engine. Todos são sentinelas: componentes embrulham com %w
// e quem chama testa com errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSide       = errors.New("invalid side")
	ErrDailyCapExceeded  = errors.New("daily credit cap exceeded")

	ErrMarketClosed   = errors.New("market closed")
	ErrAlreadySettled = errors.New("market already settled")

	ErrClassLocked      = errors.New("class locked")
	ErrAlreadyThisClass = errors.New("already this class")
	ErrUnknownClass     = errors.New("unknown class")
	ErrTierTooLow       = errors.New("tier too low")
	ErrNotEligible      = errors.New("not eligible")

	ErrUnknownAccount = errors.New("unknown account")
	ErrUnknownMarket  = errors.New("unknown market")
	ErrAccountExists  = errors.New("account already exists")
	ErrMarketExists   = errors.New("market already exists")

	ErrNoConversionPath = errors.New("no conversion path")
)

// KindInternal é devolvido para qualquer erro fora da taxonomia (ex.: falha de persistência).
const KindInternal = "internal"

var kinds = []struct {
	err  error
	code string
}{
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidSide, "invalid_side"},
	{ErrDailyCapExceeded, "daily_cap_exceeded"},
	{ErrMarketClosed, "market_closed"},
	{ErrAlreadySettled, "already_settled"},
	{ErrClassLocked, "class_locked"},
	{ErrAlreadyThisClass, "already_this_class"},
	{ErrUnknownClass, "unknown_class"},
	{ErrTierTooLow, "tier_too_low"},
	{ErrUnknownAccount, "unknown_account"},
	{ErrUnknownMarket, "unknown_market"},
	{ErrAccountExists, "account_exists"},
	{ErrMarketExists, "market_exists"},
	{ErrNoConversionPath, "no_conversion_path"},
	// por último: a recusa do gate sempre embrulha um motivo mais específico
	{ErrNotEligible, "not_eligible"},
}

// Kind retorna o código estável do erro, usado pela UI e pelas métricas.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return KindInternal
}

// Fatal indica erros de integridade referencial ou de configuração:
// a requisição não deve ser repetida.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrUnknownMarket) ||
		errors.Is(err, ErrNoConversionPath)
}
