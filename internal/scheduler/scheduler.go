package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samirdawaliby/autobet/internal/aggregator"
	"github.com/samirdawaliby/autobet/internal/cache"
	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/odds"
	"github.com/samirdawaliby/autobet/internal/performance"
	"github.com/samirdawaliby/autobet/internal/store"
	"github.com/samirdawaliby/autobet/internal/valuebet"
)

// ErrCycleInFlight is returned by ScanOnce when another cycle is running.
var ErrCycleInFlight = errors.New("scan cycle already in flight")

const lockKey = "scan"

type Mode string

const (
	ModeDry  Mode = "dry"
	ModeSemi Mode = "semi"
	ModeAuto Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDry, ModeSemi, ModeAuto:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

type Fetcher interface {
	FetchAll(ctx context.Context, sports []odds.Sport, markets []odds.Market) (*aggregator.Snapshot, error)
}

type RiskGate interface {
	CanScan(ctx context.Context) (bool, string, error)
	State(ctx context.Context) (*store.RiskState, error)
	Size(opp detector.Opportunity, state store.RiskState) (detector.Opportunity, bool)
}

type Repository interface {
	SaveOpportunities(ctx context.Context, opps []detector.Opportunity) error
	IncrementDailyScan(ctx context.Context, eventsScanned, opportunities int, bestEdge float64) error
	ExpireOpportunities(ctx context.Context, olderThan time.Time) (int64, error)
	SaveValueBets(ctx context.Context, bets []valuebet.Bet) error
}

type Recorder interface {
	Record(ctx context.Context, snap *aggregator.Snapshot) (int, error)
	Prune(ctx context.Context) (int64, error)
}

type Reporter interface {
	Generate(ctx context.Context) (*performance.Report, error)
}

// Alerter delivers opportunity and failure notifications. Opportunity
// reports whether a message was actually sent.
type Alerter interface {
	Opportunity(ctx context.Context, opp detector.Opportunity, mode string) (bool, error)
	ScanError(ctx context.Context, err error) error
}

// Publisher pushes each detected opportunity to a live feed.
type Publisher interface {
	Publish(ctx context.Context, opp detector.Opportunity) error
}

// Locker is a cross-process lock. Acquire returns cache.ErrLockHeld when
// another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Deps are the scheduler's collaborators. Collector, Tracker, ValueBets,
// Alerter, Publishers and Locker are optional.
type Deps struct {
	Fetcher    Fetcher
	Detector   *detector.Detector
	Risk       RiskGate
	Store      Repository
	Collector  Recorder
	Tracker    Reporter
	ValueBets  *valuebet.Detector
	Alerter    Alerter
	Publishers []Publisher
	Locker     Locker
}

// Options are the static scan settings.
type Options struct {
	Schedule config.ScheduleConfig
	Sports   []odds.Sport
	Markets  []odds.Market
	Mode     Mode
}

// Result describes one scan cycle.
type Result struct {
	StartedAt     time.Time              `json:"started_at"`
	Skipped       bool                   `json:"skipped"`
	SkipReason    string                 `json:"skip_reason,omitempty"`
	EventsScanned int                    `json:"events_scanned"`
	Opportunities []detector.Opportunity `json:"opportunities"`
	ValueBets     []valuebet.Bet         `json:"value_bets,omitempty"`
	AlertsSent    int                    `json:"alerts_sent"`
	Duration      time.Duration          `json:"duration"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Running           bool       `json:"running"`
	Paused            bool       `json:"paused"`
	Mode              Mode       `json:"mode"`
	MinEdge           float64    `json:"min_edge"`
	Sports            []string   `json:"sports"`
	ScanCount         int        `json:"scan_count"`
	LastScanAt        *time.Time `json:"last_scan_at,omitempty"`
	LastEvents        int        `json:"last_events_scanned"`
	LastOpportunities int        `json:"last_opportunities"`
	LastSkipReason    string     `json:"last_skip_reason,omitempty"`
}

// Scheduler orchestrates the scan loop.
type Scheduler struct {
	deps Deps
	opts Options
	now  func() time.Time

	// cycle serialises scans; ScanOnce never waits on it.
	cycle sync.Mutex

	mu       sync.RWMutex
	detector *detector.Detector
	mode     Mode
	paused   bool
	running  bool
	scans    int
	last     *Result
}

func New(opts Options, deps Deps) *Scheduler {
	if opts.Mode == "" {
		opts.Mode = ModeDry
	}
	if len(opts.Markets) == 0 {
		opts.Markets = []odds.Market{odds.H2H}
	}
	return &Scheduler{
		deps:     deps,
		opts:     opts,
		now:      time.Now,
		detector: deps.Detector,
		mode:     opts.Mode,
	}
}

// Run starts all periodic loops and blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler starting",
		"scan_interval", s.opts.Schedule.ScanInterval.Duration,
		"maintenance_interval", s.opts.Schedule.MaintenanceInterval.Duration,
		"performance_interval", s.opts.Schedule.PerformanceInterval.Duration,
		"mode", s.Mode(),
	)
	s.setRunning(true)
	defer s.setRunning(false)

	// Run first cycle immediately.
	s.runScan(ctx)

	scanTicker := time.NewTicker(s.opts.Schedule.ScanInterval.Duration)
	defer scanTicker.Stop()
	maintenance, stopMaintenance := ticker(s.opts.Schedule.MaintenanceInterval.Duration)
	defer stopMaintenance()
	perf, stopPerf := ticker(s.opts.Schedule.PerformanceInterval.Duration)
	defer stopPerf()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler shutting down")
			return ctx.Err()
		case <-scanTicker.C:
			s.runScan(ctx)
		case <-maintenance:
			s.RunMaintenance(ctx)
		case <-perf:
			s.runPerformanceReport(ctx)
		}
	}
}

// ticker returns a nil channel for a non-positive interval, which never fires.
func ticker(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (s *Scheduler) runScan(ctx context.Context) {
	if s.Paused() {
		slog.Debug("scan skipped: scheduler paused")
		return
	}
	if _, err := s.ScanOnce(ctx); err != nil {
		if errors.Is(err, ErrCycleInFlight) {
			slog.Warn("scan skipped: previous cycle still running")
			return
		}
		slog.Error("scan cycle failed", "error", err)
	}
}

// ScanOnce runs one full cycle: risk gate, fetch, detect, persist, record,
// publish, alert and the optional value-bet pass. A second call while a
// cycle is running fails fast with ErrCycleInFlight.
func (s *Scheduler) ScanOnce(ctx context.Context) (*Result, error) {
	if !s.cycle.TryLock() {
		return nil, ErrCycleInFlight
	}
	defer s.cycle.Unlock()

	start := s.now()
	res := &Result{StartedAt: start}

	if s.deps.Locker != nil {
		unlock, err := s.deps.Locker.Acquire(ctx, lockKey, s.lockTTL())
		if errors.Is(err, cache.ErrLockHeld) {
			return s.skip(res, "scan lock held by another instance"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("acquiring scan lock: %w", err)
		}
		defer unlock()
	}

	ok, reason, err := s.deps.Risk.CanScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking risk gate: %w", err)
	}
	if !ok {
		slog.Warn("scan skipped", "reason", reason)
		return s.skip(res, reason), nil
	}

	slog.Info("starting scan cycle", "sports", len(s.opts.Sports))
	snap, err := s.deps.Fetcher.FetchAll(ctx, s.opts.Sports, s.opts.Markets)
	if err != nil {
		s.alertError(ctx, err)
		return nil, fmt.Errorf("fetching odds: %w", err)
	}
	res.EventsScanned = snap.Len()

	opps := s.currentDetector().Detect(snap, start)

	var state *store.RiskState
	alertable := make([]bool, len(opps))
	if len(opps) > 0 || s.valueBetsEnabled() {
		state, err = s.deps.Risk.State(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading risk state: %w", err)
		}
		for i := range opps {
			opps[i], alertable[i] = s.deps.Risk.Size(opps[i], *state)
		}
	}
	res.Opportunities = opps

	if err := s.deps.Store.SaveOpportunities(ctx, opps); err != nil {
		slog.Error("failed to save opportunities", "count", len(opps), "error", err)
	}
	if s.deps.Collector != nil {
		if _, err := s.deps.Collector.Record(ctx, snap); err != nil {
			slog.Error("failed to record odds history", "error", err)
		}
	}

	bestEdge := 0.0
	if len(opps) > 0 {
		bestEdge = opps[0].Edge
	}
	if err := s.deps.Store.IncrementDailyScan(ctx, snap.Len(), len(opps), bestEdge); err != nil {
		slog.Error("failed to update daily stats", "error", err)
	}

	for _, opp := range opps {
		for _, p := range s.deps.Publishers {
			if err := p.Publish(ctx, opp); err != nil {
				slog.Warn("failed to publish opportunity", "opportunity_id", opp.ID, "error", err)
			}
		}
	}

	mode := s.Mode()
	if s.deps.Alerter != nil {
		for i, opp := range opps {
			if !alertable[i] {
				continue
			}
			sent, err := s.deps.Alerter.Opportunity(ctx, opp, string(mode))
			if err != nil {
				slog.Warn("failed to send opportunity alert", "opportunity_id", opp.ID, "error", err)
				continue
			}
			if sent {
				res.AlertsSent++
			}
		}
	}
	if mode == ModeAuto && len(opps) > 0 {
		slog.Warn("auto mode: bet execution is not supported, opportunities left for manual settlement",
			"opportunities", len(opps))
	}

	if s.valueBetsEnabled() {
		res.ValueBets = s.deps.ValueBets.Detect(snap, start, state.CurrentBankroll)
		if err := s.deps.Store.SaveValueBets(ctx, res.ValueBets); err != nil {
			slog.Error("failed to save value bets", "count", len(res.ValueBets), "error", err)
		}
	}

	res.Duration = s.now().Sub(start)
	s.finish(res)

	slog.Info("scan cycle complete",
		"events_scanned", res.EventsScanned,
		"opportunities", len(res.Opportunities),
		"best_edge", bestEdge,
		"value_bets", len(res.ValueBets),
		"alerts_sent", res.AlertsSent,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (s *Scheduler) skip(res *Result, reason string) *Result {
	res.Skipped = true
	res.SkipReason = reason
	res.Duration = s.now().Sub(res.StartedAt)
	s.finish(res)
	return res
}

func (s *Scheduler) finish(res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	s.last = res
}

func (s *Scheduler) alertError(ctx context.Context, err error) {
	if s.deps.Alerter == nil {
		return
	}
	if aerr := s.deps.Alerter.ScanError(ctx, err); aerr != nil {
		slog.Warn("failed to send scan error alert", "error", aerr)
	}
}

func (s *Scheduler) valueBetsEnabled() bool {
	return s.deps.ValueBets != nil && s.deps.ValueBets.Enabled()
}

// lockTTL bounds how long a crashed holder can block other instances.
func (s *Scheduler) lockTTL() time.Duration {
	if d := s.opts.Schedule.ScanInterval.Duration; d > 0 {
		return d
	}
	return time.Minute
}

// RunMaintenance expires stale opportunities and prunes odds history.
func (s *Scheduler) RunMaintenance(ctx context.Context) {
	if ttl := s.opts.Schedule.OpportunityTTL.Duration; ttl > 0 {
		n, err := s.deps.Store.ExpireOpportunities(ctx, s.now().Add(-ttl))
		if err != nil {
			slog.Error("failed to expire opportunities", "error", err)
		} else if n > 0 {
			slog.Info("opportunities expired", "count", n)
		}
	}
	if s.deps.Collector != nil {
		if _, err := s.deps.Collector.Prune(ctx); err != nil {
			slog.Error("failed to prune odds history", "error", err)
		}
	}
}

func (s *Scheduler) runPerformanceReport(ctx context.Context) {
	if s.deps.Tracker == nil {
		return
	}
	report, err := s.deps.Tracker.Generate(ctx)
	if err != nil {
		slog.Error("performance report failed", "error", err)
		return
	}
	performance.LogReport(report)
}

func (s *Scheduler) currentDetector() *detector.Detector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detector
}

func (s *Scheduler) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// Pause stops ticked scans. ScanOnce still runs when called directly.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	slog.Info("scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	slog.Info("scheduler resumed")
}

func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Scheduler) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *Scheduler) SetMode(m Mode) error {
	if _, err := ParseMode(string(m)); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	slog.Info("mode changed", "mode", m)
	if m == ModeAuto {
		slog.Warn("auto mode selected but bet execution is not supported")
	}
	return nil
}

// SetMinEdge swaps in a detector with a new minimum edge.
func (s *Scheduler) SetMinEdge(minEdge float64) error {
	if minEdge < 0 {
		return fmt.Errorf("min edge %.2f must not be negative", minEdge)
	}
	s.mu.Lock()
	cfg := s.detector.Config()
	cfg.MinEdge = minEdge
	s.detector = s.detector.WithConfig(cfg)
	s.mu.Unlock()
	slog.Info("min edge changed", "min_edge", minEdge)
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:   s.running,
		Paused:    s.paused,
		Mode:      s.mode,
		MinEdge:   s.detector.Config().MinEdge,
		ScanCount: s.scans,
	}
	for _, sp := range s.opts.Sports {
		st.Sports = append(st.Sports, string(sp))
	}
	if s.last != nil {
		at := s.last.StartedAt
		st.LastScanAt = &at
		st.LastEvents = s.last.EventsScanned
		st.LastOpportunities = len(s.last.Opportunities)
		st.LastSkipReason = s.last.SkipReason
	}
	return st
}
