// Package eligibility é a camada de predicados consultada antes de qualquer
// mutação: tier, classe e saldo. Não tem efeitos colaterais; quem chama deve
// revalidar depois de pegar os locks.
package eligibility

import (
	"fmt"

	"github.com/radieske/challenge-wager-engine/internal/conversion"
	"github.com/radieske/challenge-wager-engine/internal/ledger"
	"github.com/radieske/challenge-wager-engine/internal/progression"
	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
)

// Challenge são os requisitos de entrada de um desafio ou mercado.
// Profession vazio aceita qualquer classe; Currency vazio é créditos diários.
type Challenge struct {
	ID           string              `json:"id,omitempty"`
	RequiredTier progression.Tier    `json:"requiredTier,omitempty"`
	Profession   string              `json:"profession,omitempty"`
	EntryCost    int64               `json:"entryCost,omitempty"`
	Currency     conversion.Currency `json:"currency,omitempty"`
}

func (c Challenge) currency() conversion.Currency {
	if c.Currency == "" {
		return conversion.Credits
	}
	return c.Currency
}

// Check devolve o primeiro requisito não atendido, ou nil.
func Check(acct ledger.Account, prog progression.State, ch Challenge) error {
	if ch.RequiredTier != "" && prog.CurrentTier.Rank() < ch.RequiredTier.Rank() {
		return fmt.Errorf("tier %s below %s: %w", prog.CurrentTier, ch.RequiredTier, errs.ErrTierTooLow)
	}
	if ch.Profession != "" && ch.Profession != prog.CurrentClass && !prog.Unlocked(ch.Profession) {
		return fmt.Errorf("profession %q: %w", ch.Profession, errs.ErrClassLocked)
	}
	if ch.EntryCost > 0 && acct.Balance(ch.currency()) < ch.EntryCost {
		return fmt.Errorf("entry cost %d %s: %w", ch.EntryCost, ch.currency(), errs.ErrInsufficientFunds)
	}
	return nil
}

// CanParticipate é Check reduzido a bool.
func CanParticipate(acct ledger.Account, prog progression.State, ch Challenge) bool {
	return Check(acct, prog, ch) == nil
}
