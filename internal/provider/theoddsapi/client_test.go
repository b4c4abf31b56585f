package theoddsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/odds"
)

const atpBody = `[
  {
    "id": "evt-1",
    "sport_key": "tennis_atp",
    "sport_title": "ATP Miami Open",
    "commence_time": "2026-03-20T15:00:00Z",
    "home_team": "Novak Djokovic",
    "away_team": "Carlos Alcaraz",
    "bookmakers": [
      {
        "key": "bet365",
        "title": "Bet365",
        "last_update": "2026-03-20T13:59:58Z",
        "markets": [
          {"key": "h2h", "outcomes": [
            {"name": "Novak Djokovic", "price": 2.10},
            {"name": "Carlos Alcaraz", "price": 1.75}
          ]},
          {"key": "outrights", "outcomes": [{"name": "Novak Djokovic", "price": 5.0}]}
        ]
      },
      {
        "key": "smarkets",
        "title": "Smarkets",
        "last_update": "2026-03-20T13:59:59Z",
        "markets": [
          {"key": "h2h", "outcomes": [
            {"name": "Novak Djokovic", "price": 1.0},
            {"name": "Carlos Alcaraz", "price": 2.05}
          ]}
        ]
      }
    ]
  }
]`

const itfWomenBody = `[
  {"id": "bad", "commence_time": 12345, "home_team": "A", "away_team": "B"},
  {"id": "evt-2", "sport_title": "ITF Women", "commence_time": "not-a-time", "home_team": "A", "away_team": "B"},
  {"id": "evt-3", "sport_title": "ITF Women", "commence_time": "2026-03-20T16:00:00Z", "home_team": "C", "away_team": "D", "bookmakers": []}
]`

type recorder struct {
	mu    sync.Mutex
	query map[string]string
}

func newTestServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec != nil && strings.HasSuffix(r.URL.Path, "/tennis_atp/odds") {
			rec.mu.Lock()
			rec.query = map[string]string{}
			for k := range r.URL.Query() {
				rec.query[k] = r.URL.Query().Get(k)
			}
			rec.mu.Unlock()
		}
		w.Header().Set("x-requests-remaining", "413")
		switch r.URL.Path {
		case "/sports":
			w.Write([]byte(`[{"key":"tennis_atp","group":"Tennis","title":"ATP","active":true}]`))
		case "/sports/tennis_atp/odds":
			w.Write([]byte(atpBody))
		case "/sports/tennis_wta/odds":
			http.NotFound(w, r)
		case "/sports/tennis_itf_women/odds":
			w.Write([]byte(itfWomenBody))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(baseURL string) *Client {
	return New(config.OddsAPIConfig{
		APIKey:     "secret",
		BaseURL:    baseURL,
		Bookmakers: []string{"bet365", "smarkets"},
	})
}

func TestFetch_MergesSportKeysAndSkipsFailures(t *testing.T) {
	rec := &recorder{}
	srv := newTestServer(t, rec)
	c := testClient(srv.URL)

	batch, err := c.Fetch(context.Background(), odds.Tennis, []odds.Market{odds.H2H})
	if err != nil {
		t.Fatal(err)
	}
	if batch.Source != Name {
		t.Errorf("expected source %s, got %s", Name, batch.Source)
	}
	// evt-1 from tennis_atp and evt-3 from tennis_itf_women; the rest are skipped.
	if len(batch.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(batch.Events))
	}
	if batch.RemainingRequests == nil || *batch.RemainingRequests != 413 {
		t.Errorf("expected remaining requests 413, got %v", batch.RemainingRequests)
	}

	var ev odds.Event
	for _, e := range batch.Events {
		if e.ID == "evt-1" {
			ev = e
		}
	}
	if ev.League != "ATP Miami Open" || ev.Sport != odds.Tennis {
		t.Errorf("unexpected event metadata %+v", ev)
	}
	if got := len(ev.Markets["bet365"][odds.H2H]); got != 2 {
		t.Errorf("expected 2 bet365 h2h quotes, got %d", got)
	}
	if len(ev.Markets["bet365"]) != 1 {
		t.Errorf("expected unsupported market to be dropped, got %v", ev.Markets["bet365"])
	}
	sm := ev.Markets["smarkets"][odds.H2H]
	if len(sm) != 1 || sm[0].Selection != "Carlos Alcaraz" {
		t.Errorf("expected odds of 1.0 to be rejected at ingestion, got %+v", sm)
	}
	if sm[0].Timestamp.Second() != 59 {
		t.Errorf("expected quote timestamp from last_update, got %v", sm[0].Timestamp)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := map[string]string{
		"apiKey":     "secret",
		"oddsFormat": "decimal",
		"markets":    "h2h",
		"regions":    "eu,uk,us,au",
		"bookmakers": "bet365,smarkets",
	}
	for k, v := range want {
		if rec.query[k] != v {
			t.Errorf("query %s: expected %q, got %q", k, v, rec.query[k])
		}
	}
}

func TestFetch_AllKeysFailed(t *testing.T) {
	srv := newTestServer(t, nil)
	c := testClient(srv.URL)

	if _, err := c.Fetch(context.Background(), odds.Basketball, []odds.Market{odds.H2H}); err == nil {
		t.Fatal("expected error when every sport key fails")
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	srv := newTestServer(t, nil)
	c := testClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Fetch(ctx, odds.MMA, nil); err == nil {
		t.Fatal("expected error for a cancelled context")
	}
}

func TestSports(t *testing.T) {
	srv := newTestServer(t, nil)
	c := testClient(srv.URL)

	sports, err := c.Sports(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sports) != 1 || sports[0].Key != "tennis_atp" || !sports[0].Active {
		t.Errorf("unexpected sports listing %+v", sports)
	}
	if rem, ok := c.RemainingRequests(); !ok || rem != 413 {
		t.Errorf("expected remaining requests tracked, got %d %v", rem, ok)
	}
}

func TestSportKeys(t *testing.T) {
	if keys := SportKeys(odds.Soccer); len(keys) != 7 || keys[0] != "soccer_epl" {
		t.Errorf("unexpected soccer keys %v", keys)
	}
	keys := SportKeys(odds.Tennis)
	keys[0] = "mutated"
	if SportKeys(odds.Tennis)[0] != "tennis_atp" {
		t.Error("SportKeys must return a copy")
	}
}
