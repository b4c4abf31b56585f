// Package normalize maps provider selection names onto canonical
// home/away/draw labels.
package normalize

import (
	"sort"
	"strings"
)

const (
	Home = "home"
	Away = "away"
	Draw = "draw"
)

// Selection returns Home, Away or Draw for name, or name itself when it
// cannot be matched. Home is always checked before away.
func Selection(name, homeTeam, awayTeam string) string {
	sel := strings.ToLower(strings.TrimSpace(name))
	home := strings.ToLower(strings.TrimSpace(homeTeam))
	away := strings.ToLower(strings.TrimSpace(awayTeam))

	if sel == home || name == homeTeam {
		return Home
	}
	if sel == away || name == awayTeam {
		return Away
	}

	if fuzzyMatch(sel, home) {
		return Home
	}
	if fuzzyMatch(sel, away) {
		return Away
	}

	switch sel {
	case "draw", "tie", "x":
		return Draw
	}

	return name
}

// fuzzyMatch is true on substring containment either way or an equal last
// word ("N. Djokovic" vs "Novak Djokovic").
func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) > 0 && len(wb) > 0 && wa[len(wa)-1] == wb[len(wb)-1] {
		return true
	}
	return false
}

func rank(sel string) int {
	switch sel {
	case Home:
		return 0
	case Draw:
		return 1
	case Away:
		return 2
	}
	return 3
}

// Sort orders selections home, draw, away, then any unmatched names
// lexicographically.
func Sort(selections []string) {
	sort.Slice(selections, func(i, j int) bool {
		ri, rj := rank(selections[i]), rank(selections[j])
		if ri != rj {
			return ri < rj
		}
		return selections[i] < selections[j]
	})
}
