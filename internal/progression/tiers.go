package progression

import (
	"math"
)

// Tier é um rank ordenado; só avança.
type Tier string

const (
	Apprentice  Tier = "apprentice"
	Journeyman  Tier = "journeyman"
	Expert      Tier = "expert"
	Grandmaster Tier = "grandmaster"
	Ascended    Tier = "ascended"
)

var tierOrder = []Tier{Apprentice, Journeyman, Expert, Grandmaster, Ascended}

// Rank devolve a posição do tier (0 = apprentice) ou -1 se desconhecido.
func (t Tier) Rank() int {
	for i, x := range tierOrder {
		if x == t {
			return i
		}
	}
	return -1
}

func (t Tier) Valid() bool { return t.Rank() >= 0 }

func (t Tier) next() (Tier, bool) {
	r := t.Rank()
	if r < 0 || r+1 >= len(tierOrder) {
		return t, false
	}
	return tierOrder[r+1], true
}

// DefaultThresholds: XP acumulado dentro do tier para subir ao próximo.
// Ascended é terminal.
var DefaultThresholds = map[Tier]int64{
	Apprentice:  1000,
	Journeyman:  2500,
	Expert:      5000,
	Grandmaster: 10000,
}

// Class é uma profissão selecionável; fica liberada a partir de MinTier.
type Class struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	MinTier Tier   `json:"minTier"`
}

var DefaultClasses = []Class{
	{ID: "explorer", Name: "Explorer", MinTier: Apprentice},
	{ID: "creator", Name: "Creator", MinTier: Apprentice},
	{ID: "athlete", Name: "Athlete", MinTier: Journeyman},
	{ID: "scholar", Name: "Scholar", MinTier: Journeyman},
	{ID: "strategist", Name: "Strategist", MinTier: Expert},
	{ID: "mentor", Name: "Mentor", MinTier: Grandmaster},
	{ID: "legend", Name: "Legend", MinTier: Ascended},
}

// BaseXPPerLevel: L_n = floor(BaseXPPerLevel * n^1.2) para ir do nível n ao n+1.
const BaseXPPerLevel = 100

// Limites de XP. MaxTotalXP mantém LevelFor na casa de ~50 mil iterações
// (nível ~50k) e longe de overflow de int64.
const (
	MaxXPGrant int64 = 1_000_000_000
	MaxTotalXP int64 = 1_000_000_000_000
)

func xpForNextLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(level), 1.2))
}

// LevelFor calcula o nível a partir do XP total.
func LevelFor(totalXP int64) int {
	level := 1
	need := xpForNextLevel(level)
	for totalXP >= need {
		totalXP -= need
		level++
		need = xpForNextLevel(level)
	}
	return level
}
