package theoddsapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirdawaliby/autobet/internal/odds"
)

type apiEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime string         `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []apiBookmaker `json:"bookmakers"`
}

type apiBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate string      `json:"last_update"`
	Markets    []apiMarket `json:"markets"`
}

type apiMarket struct {
	Key      string       `json:"key"`
	Outcomes []apiOutcome `json:"outcomes"`
}

type apiOutcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// parseEvents converts raw API events, skipping any that fail to parse.
func parseEvents(raw []json.RawMessage, sport odds.Sport) []odds.Event {
	events := make([]odds.Event, 0, len(raw))
	for _, msg := range raw {
		var ae apiEvent
		if err := json.Unmarshal(msg, &ae); err != nil {
			slog.Warn("skipping unparseable event", "source", Name, "error", err)
			continue
		}
		ev, err := convertEvent(ae, sport)
		if err != nil {
			slog.Warn("skipping event", "source", Name, "event_id", ae.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

func convertEvent(ae apiEvent, sport odds.Sport) (odds.Event, error) {
	if ae.ID == "" || ae.HomeTeam == "" || ae.AwayTeam == "" {
		return odds.Event{}, errors.New("missing id or team names")
	}
	commence, err := time.Parse(time.RFC3339, ae.CommenceTime)
	if err != nil {
		return odds.Event{}, fmt.Errorf("parsing commence_time: %w", err)
	}

	ev := odds.Event{
		ID:           ae.ID,
		Sport:        sport,
		League:       ae.SportTitle,
		HomeTeam:     ae.HomeTeam,
		AwayTeam:     ae.AwayTeam,
		CommenceTime: commence.UTC(),
		Markets:      make(map[string]map[odds.Market][]odds.Quote, len(ae.Bookmakers)),
	}

	for _, bk := range ae.Bookmakers {
		if bk.Key == "" {
			continue
		}
		updated, err := time.Parse(time.RFC3339, bk.LastUpdate)
		if err != nil {
			return odds.Event{}, fmt.Errorf("parsing last_update for %s: %w", bk.Key, err)
		}

		markets := make(map[odds.Market][]odds.Quote, len(bk.Markets))
		for _, m := range bk.Markets {
			market, err := odds.ParseMarket(m.Key)
			if err != nil {
				continue
			}
			quotes := make([]odds.Quote, 0, len(m.Outcomes))
			for _, o := range m.Outcomes {
				if err := odds.ValidateOdds(o.Price); err != nil {
					slog.Warn("rejecting quote",
						"source", Name, "event_id", ae.ID, "bookmaker", bk.Key, "selection", o.Name, "error", err)
					continue
				}
				quotes = append(quotes, odds.Quote{
					Selection: o.Name,
					Odds:      o.Price,
					Bookmaker: bk.Key,
					Timestamp: updated.UTC(),
				})
			}
			markets[market] = quotes
		}
		ev.Markets[bk.Key] = markets
	}
	return ev, nil
}
