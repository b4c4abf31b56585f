// Package odds defines the canonical shapes that provider adapters hand to
// the aggregator.
package odds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidOdds is returned for decimal odds that are not finite or not
// above 1.0.
var ErrInvalidOdds = errors.New("invalid decimal odds")

type Sport string

const (
	Tennis           Sport = "tennis"
	Soccer           Sport = "soccer"
	Basketball       Sport = "basketball"
	AmericanFootball Sport = "americanfootball"
	IceHockey        Sport = "icehockey"
	MMA              Sport = "mma"
	Boxing           Sport = "boxing"
)

var sports = []Sport{Tennis, Soccer, Basketball, AmericanFootball, IceHockey, MMA, Boxing}

// ParseSport maps a configured sport name onto a Sport.
func ParseSport(s string) (Sport, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, sp := range sports {
		if string(sp) == s {
			return sp, nil
		}
	}
	return "", fmt.Errorf("unknown sport %q", s)
}

// ParseSports parses every name, failing on the first unknown one.
func ParseSports(names []string) ([]Sport, error) {
	out := make([]Sport, 0, len(names))
	for _, n := range names {
		sp, err := ParseSport(n)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

type Market string

const (
	H2H     Market = "h2h"
	Spreads Market = "spreads"
	Totals  Market = "totals"
)

func ParseMarket(s string) (Market, error) {
	switch m := Market(strings.ToLower(strings.TrimSpace(s))); m {
	case H2H, Spreads, Totals:
		return m, nil
	}
	return "", fmt.Errorf("unknown market %q", s)
}

// Quote is one bookmaker's decimal price for one selection at one instant.
type Quote struct {
	Selection string    `json:"selection"`
	Odds      float64   `json:"odds"`
	Bookmaker string    `json:"bookmaker"`
	Timestamp time.Time `json:"timestamp"`
	Liquidity *float64  `json:"liquidity,omitempty"` // exchanges only
}

// Valid reports whether q carries usable decimal odds.
func (q Quote) Valid() bool {
	return ValidateOdds(q.Odds) == nil
}

// ValidateOdds returns ErrInvalidOdds unless odds is finite and above 1.0.
func ValidateOdds(odds float64) error {
	if math.IsNaN(odds) || math.IsInf(odds, 0) || odds <= 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidOdds, odds)
	}
	return nil
}

// Event is a provider's view of one fixture.
type Event struct {
	ID           string
	Sport        Sport
	League       string
	HomeTeam     string
	AwayTeam     string
	CommenceTime time.Time
	// Markets maps bookmaker -> market -> quotes.
	Markets map[string]map[Market][]Quote
}

func (e Event) DisplayName() string {
	return e.HomeTeam + " vs " + e.AwayTeam
}

// Batch is the result of one provider fetch for one sport.
type Batch struct {
	Source            string
	FetchedAt         time.Time
	Events            []Event
	RemainingRequests *int
}

// Provider is implemented by every odds feed adapter.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, sport Sport, markets []Market) (*Batch, error)
}
