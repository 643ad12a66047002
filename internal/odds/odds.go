package odds

import (
	"fmt"

	"github.com/radieske/challenge-wager-engine/internal/shared/errs"
)

// Kind é o formato do mercado.
type Kind string

const (
	Binary Kind = "binary" // yes / no
	Duel   Kind = "duel"   // blue / red
)

type Side string

const (
	Yes  Side = "yes"
	No   Side = "no"
	Blue Side = "blue"
	Red  Side = "red"
)

// Sides retorna os dois lados do tipo de mercado, na ordem (A, B).
func (k Kind) Sides() ([2]Side, error) {
	switch k {
	case Binary:
		return [2]Side{Yes, No}, nil
	case Duel:
		return [2]Side{Blue, Red}, nil
	}
	return [2]Side{}, fmt.Errorf("market kind %q: %w", k, errs.ErrInvalidSide)
}

// Has diz se side pertence ao tipo de mercado.
func (k Kind) Has(side Side) bool {
	sides, err := k.Sides()
	if err != nil {
		return false
	}
	return side == sides[0] || side == sides[1]
}

// Pool é o total apostado em um lado.
type Pool struct {
	TotalStaked int64 `json:"totalStaked"`
	BetCount    int   `json:"betCount"`
}

// Odds é a projeção somente-leitura: multiplicador por lado.
type Odds map[Side]float64

// Ratio é o multiplicador exato Num/Den. É ele que fica na aposta e paga o
// prêmio; o float de Odds serve só para exibição.
type Ratio struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

func (r Ratio) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Exact calcula as odds a partir dos totais dos lados:
//
//	oddsA = (A + B) / (A + 1)
//	oddsB = (A + B) / (B + 1)
//
// O +1 evita divisão por zero. virtual soma um stake fictício em cada lado
// apenas para o cálculo (0 mantém a fórmula literal).
func Exact(kind Kind, pools map[Side]Pool, virtual int64) (map[Side]Ratio, error) {
	sides, err := kind.Sides()
	if err != nil {
		return nil, err
	}
	if virtual < 0 {
		virtual = 0
	}
	a := pools[sides[0]].TotalStaked + virtual
	b := pools[sides[1]].TotalStaked + virtual
	return map[Side]Ratio{
		sides[0]: {Num: a + b, Den: a + 1},
		sides[1]: {Num: a + b, Den: b + 1},
	}, nil
}

// Compute é a projeção em float de Exact.
func Compute(kind Kind, pools map[Side]Pool, virtual int64) (Odds, error) {
	exact, err := Exact(kind, pools, virtual)
	if err != nil {
		return nil, err
	}
	out := make(Odds, len(exact))
	for side, r := range exact {
		out[side] = r.Float()
	}
	return out, nil
}
