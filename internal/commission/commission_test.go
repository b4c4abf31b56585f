package commission

import (
	"math"
	"testing"
)

func TestEffectiveOdds_Smarkets(t *testing.T) {
	m := Default()
	got := m.EffectiveOdds(2.10, "smarkets")
	if math.Abs(got-2.078) > 1e-9 {
		t.Errorf("expected 2.078, got %v", got)
	}
}

func TestEffectiveOdds_BookmakerUnchanged(t *testing.T) {
	m := Default()
	if got := m.EffectiveOdds(2.10, "pinnacle"); got != 2.10 {
		t.Errorf("expected raw odds for fixed-odds bookmaker, got %v", got)
	}
}

func TestEffectiveOdds_CaseInsensitive(t *testing.T) {
	m := Default()
	got := m.EffectiveOdds(3.0, "Betfair_Ex_UK")
	if math.Abs(got-2.9) > 1e-9 {
		t.Errorf("expected 2.9, got %v", got)
	}
}

func TestRate_DefaultForUnlistedExchange(t *testing.T) {
	m := New([]string{"newexchange"}, map[string]float64{"smarkets": 0.02}, DefaultRate)
	if r := m.Rate("newexchange"); r != DefaultRate {
		t.Errorf("expected default rate %v, got %v", DefaultRate, r)
	}
	if !m.IsExchange("smarkets") {
		t.Error("expected rate table entries to count as exchanges")
	}
	if r := m.Rate("bet365"); r != 0 {
		t.Errorf("expected zero rate for bookmaker, got %v", r)
	}
}

func TestApply(t *testing.T) {
	if got := Apply(2.05, 0.02); math.Abs(got-2.029) > 1e-9 {
		t.Errorf("expected 2.029, got %v", got)
	}
	if got := Apply(1.5, 0); got != 1.5 {
		t.Errorf("expected zero commission to be identity, got %v", got)
	}
}
