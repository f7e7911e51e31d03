package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skalibog/fgiagent/pkg/models"
)

const (
	colorInfo  = 0x0077cc
	colorBuy   = 0x33cc33
	colorSell  = 0xcccc00
	colorError = 0xcc3300
)

// DiscordNotifier отправляет события в Discord webhook
type DiscordNotifier struct {
	webhookURL string
	http       *http.Client
}

// NewDiscordNotifier создает канал Discord
func NewDiscordNotifier(webhookURL string, timeout time.Duration) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{webhookURL: webhookURL, http: &http.Client{Timeout: timeout}}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Notify отправляет одно событие как embed
func (d *DiscordNotifier) Notify(ctx context.Context, ev models.TradeEvent) error {
	data, err := json.Marshal(discordPayload{Embeds: []discordEmbed{embedFor(ev)}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord вернул статус %d", resp.StatusCode)
	}
	return nil
}

func embedFor(ev models.TradeEvent) discordEmbed {
	e := discordEmbed{
		Title:       titleFor(ev.Type),
		Description: ev.Message,
		Color:       colorInfo,
		Timestamp:   ev.Timestamp.Format(time.RFC3339),
	}

	switch ev.Type {
	case models.EventCycleFailed:
		e.Color = colorError
	case models.EventTradeOpened, models.EventTradeClosed, models.EventTradePartial:
		e.Color = colorBuy
		if ev.Direction == models.Sell {
			e.Color = colorSell
		}
		e.Fields = []discordField{
			{Name: "Направление", Value: string(ev.Direction), Inline: true},
			{Name: "Base", Value: fmt.Sprintf("%.6f", ev.BaseAmount), Inline: true},
			{Name: "Quote", Value: fmt.Sprintf("%.2f", ev.QuoteAmount), Inline: true},
			{Name: "Цена", Value: fmt.Sprintf("%.4f", ev.Price), Inline: true},
		}
		if ev.Type != models.EventTradeOpened {
			e.Fields = append(e.Fields, discordField{Name: "P&L", Value: fmt.Sprintf("%.2f", ev.RealizedPnL), Inline: true})
		}
		if ev.LotID != "" {
			e.Fields = append(e.Fields, discordField{Name: "Лот", Value: ev.LotID})
		}
	}
	return e
}

func titleFor(t models.EventType) string {
	switch t {
	case models.EventAgentStarted:
		return "Агент запущен"
	case models.EventTradeOpened:
		return "Открыт лот"
	case models.EventTradeClosed:
		return "Лот закрыт"
	case models.EventTradePartial:
		return "Лот закрыт частично"
	case models.EventCycleFailed:
		return "Ошибка цикла"
	}
	return string(t)
}
