package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa os coletores do engine. Registrados no Registerer recebido
// (prometheus.DefaultRegisterer no serviço, um registry novo nos testes).
type Metrics struct {
	Ops         *prometheus.CounterVec
	Wagered     *prometheus.CounterVec
	PaidOut     *prometheus.CounterVec
	TierUps     *prometheus.CounterVec
	OpenMarkets prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_operations_total",
			Help: "operações do engine por resultado (ok ou tipo de erro)",
		}, []string{"op", "result"}),
		Wagered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_wagered_total",
			Help: "valor apostado por moeda",
		}, []string{"currency"}),
		PaidOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_payout_total",
			Help: "prêmios pagos por moeda",
		}, []string{"currency"}),
		TierUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_tier_advances_total",
			Help: "promoções de tier por tier alcançado",
		}, []string{"tier"}),
		OpenMarkets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_markets",
			Help: "mercados abertos",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Ops, m.Wagered, m.PaidOut, m.TierUps, m.OpenMarkets)
	}
	return m
}
