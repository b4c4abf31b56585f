// Package commission models exchange commission on net winnings.
package commission

import "strings"

// DefaultRate applies to exchanges with no explicit rate.
const DefaultRate = 0.05

// Model is a static exchange membership set with per-exchange rates.
// Lookups are case-insensitive. A Model is safe for concurrent reads.
type Model struct {
	exchanges   map[string]bool
	rates       map[string]float64
	defaultRate float64
}

// New builds a Model. Every key in rates is also treated as an exchange.
func New(exchanges []string, rates map[string]float64, defaultRate float64) *Model {
	m := &Model{
		exchanges:   make(map[string]bool, len(exchanges)+len(rates)),
		rates:       make(map[string]float64, len(rates)),
		defaultRate: defaultRate,
	}
	for _, ex := range exchanges {
		m.exchanges[strings.ToLower(ex)] = true
	}
	for ex, r := range rates {
		key := strings.ToLower(ex)
		m.exchanges[key] = true
		m.rates[key] = r
	}
	return m
}

// Default returns the built-in exchange table.
func Default() *Model {
	return New(nil, map[string]float64{
		"betfair":       0.05,
		"betfair_ex_eu": 0.05,
		"betfair_ex_uk": 0.05,
		"betfair_ex_au": 0.05,
		"smarkets":      0.02,
		"matchbook":     0.02,
		"betdaq":        0.02,
	}, DefaultRate)
}

func (m *Model) IsExchange(bookmaker string) bool {
	return m.exchanges[strings.ToLower(bookmaker)]
}

// Rate returns the commission charged by bookmaker, zero for fixed-odds books.
func (m *Model) Rate(bookmaker string) float64 {
	key := strings.ToLower(bookmaker)
	if !m.exchanges[key] {
		return 0
	}
	if r, ok := m.rates[key]; ok {
		return r
	}
	return m.defaultRate
}

// EffectiveOdds converts raw decimal odds into odds net of commission.
func (m *Model) EffectiveOdds(raw float64, bookmaker string) float64 {
	if !m.IsExchange(bookmaker) {
		return raw
	}
	return Apply(raw, m.Rate(bookmaker))
}

// Apply returns 1 + (raw-1)*(1-rate).
func Apply(raw, rate float64) float64 {
	return 1 + (raw-1)*(1-rate)
}
