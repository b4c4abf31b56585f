package theoddsapi

import "github.com/samirdawaliby/autobet/internal/odds"

var sportKeys = map[odds.Sport][]string{
	odds.Tennis: {
		"tennis_atp",
		"tennis_wta",
		"tennis_itf_men",
		"tennis_itf_women",
	},
	odds.Soccer: {
		"soccer_epl",
		"soccer_spain_la_liga",
		"soccer_germany_bundesliga",
		"soccer_italy_serie_a",
		"soccer_france_ligue_one",
		"soccer_uefa_champs_league",
		"soccer_uefa_europa_league",
	},
	odds.Basketball:       {"basketball_nba"},
	odds.AmericanFootball: {"americanfootball_nfl"},
	odds.IceHockey:        {"icehockey_nhl"},
	odds.MMA:              {"mma_mixed_martial_arts"},
	odds.Boxing:           {"boxing_boxing"},
}

// SportKeys returns the API sport keys queried for sport.
func SportKeys(sport odds.Sport) []string {
	keys := sportKeys[sport]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}
