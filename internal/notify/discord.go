package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embed colours keyed on the alert title.
const (
	colorKillSwitch = 0xE74C3C
	colorAuto       = 0x2ECC71
	colorSemiAuto   = 0xF1C40F
	colorInfo       = 0x3498DB
)

// Discord rejects embed descriptions longer than this.
const maxEmbedDescription = 4096

type discordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Color       int           `json:"color"`
	Timestamp   string        `json:"timestamp,omitempty"`
	Footer      discordFooter `json:"footer"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// embedColor picks the colour from the execution label or alert kind at the
// start of the title.
func embedColor(title string) int {
	switch {
	case strings.HasPrefix(title, "KILL SWITCH"):
		return colorKillSwitch
	case strings.HasPrefix(title, "AUTO "):
		return colorAuto
	case strings.HasPrefix(title, "SEMI-AUTO"):
		return colorSemiAuto
	default:
		return colorInfo
	}
}

func (d *DiscordSender) payload(title, message string) discordPayload {
	const fence = "```\n"
	if limit := maxEmbedDescription - 2*len(fence); len(message) > limit {
		message = message[:limit-3] + "..."
	}
	return discordPayload{
		Username: "autobet",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: fence + message + "\n```",
			Color:       embedColor(title),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
			Footer:      discordFooter{Text: "autobet scanner"},
		}},
	}
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(d.payload(title, message))
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("discord: rate limited, retry after %ss", resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
