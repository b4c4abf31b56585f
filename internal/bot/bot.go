// Package bot serves Telegram commands for the configured chat.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/notify"
	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/store"
)

const (
	telegramAPI = "https://api.telegram.org"
	pollTimeout = 30
	retryDelay  = 5 * time.Second
)

type Scanner interface {
	Status() scheduler.Status
	SetMode(m scheduler.Mode) error
}

type Stats interface {
	DashboardStats(ctx context.Context) (*store.DashboardStats, error)
	RecentOpportunities(ctx context.Context, limit int, status store.Status) ([]store.OpportunityRecord, error)
	StatusCounts(ctx context.Context) (map[store.Status]int, error)
}

type Risk interface {
	State(ctx context.Context) (*store.RiskState, error)
	SetKillSwitch(ctx context.Context, active bool, reason string) error
}

// Bot long-polls getUpdates and answers commands from one chat.
type Bot struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	replies *notify.TelegramSender

	scanner Scanner
	stats   Stats
	risk    Risk
	limits  config.RiskConfig

	offset int64
}

func New(cfg config.NotifyConfig, limits config.RiskConfig, scanner Scanner, stats Stats, risk Risk) *Bot {
	return &Bot{
		token:   cfg.TelegramToken,
		chatID:  cfg.TelegramChatID,
		apiBase: telegramAPI,
		client:  &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		replies: notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID),
		scanner: scanner,
		stats:   stats,
		risk:    risk,
		limits:  limits,
	}
}

// withAPIBase points polling and replies at another Bot API host.
func (b *Bot) withAPIBase(base string) *Bot {
	b.apiBase = base
	b.replies.WithAPIBase(base)
	return b
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// Run polls until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	slog.Info("telegram bot polling", "chat_id", b.chatID)
	for {
		if err := b.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
}

func (b *Bot) poll(ctx context.Context) error {
	updates, err := b.getUpdates(ctx)
	if err != nil {
		return err
	}
	for _, u := range updates {
		if u.UpdateID >= b.offset {
			b.offset = u.UpdateID + 1
		}
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		chat := strconv.FormatInt(u.Message.Chat.ID, 10)
		if chat != b.chatID {
			slog.Warn("ignoring message from unknown chat", "chat_id", chat)
			continue
		}
		reply := b.handle(ctx, u.Message.Text)
		if err := b.replies.SendHTML(ctx, chat, reply); err != nil {
			slog.Error("telegram reply failed", "error", err)
		}
	}
	return nil
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(b.offset, 10))
	q.Set("timeout", strconv.Itoa(pollTimeout))
	q.Set("allowed_updates", `["message"]`)
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", b.apiBase, b.token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram: %s", out.Description)
	}
	return out.Result, nil
}
