package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/fgiagent/internal/agent"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

// Стили UI
var (
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const maxLogLines = 50

// Source данные агента для отображения
type Source interface {
	Strategy() string
	Running() bool
	LastCycle() *agent.CycleReport
	GetStatistics() models.Statistics
	GetOpenLots() []models.Lot
	GetClosedLots() []models.Lot
	CancelInFlight()
}

// TermUI терминальная панель состояния агента
type TermUI struct {
	source  Source
	pair    config.PairConfig
	refresh time.Duration
	logFile string
}

// NewTermUI создает панель
func NewTermUI(cfg config.UIConfig, pair config.PairConfig, logFile string, source Source) *TermUI {
	refresh := time.Duration(cfg.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	return &TermUI{source: source, pair: pair, refresh: refresh, logFile: logFile}
}

// Start запускает панель и блокируется до выхода пользователя или отмены контекста
func (ui *TermUI) Start(ctx context.Context) error {
	program := tea.NewProgram(newModel(ui), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

type tickMsg time.Time

type model struct {
	ui       *TermUI
	selected int
	width    int
	logs     []string
	notice   string

	last   *agent.CycleReport
	stats  models.Statistics
	open   []models.Lot
	closed int
	busy   bool
}

func newModel(ui *TermUI) model {
	m := model{ui: ui, width: 120}
	return m.reload()
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.ui.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) reload() model {
	src := m.ui.source
	m.last = src.LastCycle()
	m.stats = src.GetStatistics()
	m.open = src.GetOpenLots()
	m.closed = len(src.GetClosedLots())
	m.busy = src.Running()
	if logs, err := readLogs(m.ui.logFile, maxLogLines); err == nil && len(logs) > 0 {
		m.logs = logs
	}
	if m.selected >= len(m.open) {
		m.selected = max(0, len(m.open)-1)
	}
	return m
}

// Методы для bubbletea
func (m model) Init() tea.Cmd {
	return m.tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.selected = max(0, m.selected-1)
		case "down":
			m.selected = min(max(len(m.open)-1, 0), m.selected+1)
		case "c":
			m.ui.source.CancelInFlight()
			m.notice = "Запрошена отмена исполнения"
		case "r":
			m = m.reload()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m.reload(), m.tick()
	}
	return m, nil
}

func (m model) View() string {
	title := titleStyle.Render(fmt.Sprintf("FGI Agent %s/%s - стратегия %s",
		m.ui.pair.Base.Symbol, m.ui.pair.Quote.Symbol, m.ui.source.Strategy()))

	sections := []string{
		title,
		renderCycle(m.last, m.busy),
		renderPortfolio(m.stats, m.closed),
		renderLots(m.open, m.selected, m.stats.Portfolio.CurrentPrice),
		renderLogs(m.logs),
	}
	if m.notice != "" {
		sections = append(sections, lipgloss.NewStyle().Foreground(warningColor).Render(m.notice))
	}
	sections = append(sections, footerStyle.Render("Клавиши: ↑/↓ - лоты, C - отменить исполнение, R - обновить, Q - выход"))

	return appStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func renderCycle(last *agent.CycleReport, busy bool) string {
	var b strings.Builder
	switch {
	case busy:
		b.WriteString("  Цикл выполняется...\n")
	case last == nil:
		b.WriteString("  Ожидание первого цикла...\n")
	default:
		fmt.Fprintf(&b, "  Индекс: %s (%.1f)  Цена: %.4f\n", sentimentText(last.Sentiment), last.Value, last.Price)
		fmt.Fprintf(&b, "  Итог: %s  %s  за %s\n", resultText(last.Result), last.StartedAt.Format("15:04:05"), last.Duration.Round(time.Millisecond))
		if last.Trade != nil {
			fmt.Fprintf(&b, "  Сделка: %s %s %.6f по %.4f\n", last.Trade.Type, last.Trade.Direction, last.Trade.BaseAmount, last.Trade.Price)
		}
		if last.Error != "" {
			b.WriteString("  " + lipgloss.NewStyle().Foreground(errorColor).Render(last.Error) + "\n")
		}
	}
	return section("ЦИКЛ", b.String())
}

func renderPortfolio(st models.Statistics, closed int) string {
	p := st.Portfolio
	var b strings.Builder
	fmt.Fprintf(&b, "  Балансы: base %.6f  quote %.2f  Стоимость: %.2f\n", p.BaseBalance, p.QuoteBalance, p.CurrentValue)
	fmt.Fprintf(&b, "  Изменение: %s  против HODL: %s  Циклов: %d\n", signed(p.PortfolioChangePct, "%"), signed(p.VsHoldPct, "%"), p.CycleCount)
	fmt.Fprintf(&b, "  Лоты: открыто %d, закрыто %d, win rate %.1f%%  P&L: %s / %s\n",
		st.Lots.OpenCount, closed, st.Lots.WinRate, signed(st.Lots.TotalRealizedPnL, ""), signed(st.Lots.TotalUnrealizedPnL, ""))
	return section("ПОРТФЕЛЬ", b.String())
}

func renderLots(lots []models.Lot, selected int, price float64) string {
	var b strings.Builder
	if len(lots) == 0 {
		b.WriteString("  Открытых лотов нет\n")
	}
	for i, l := range lots {
		pnl := l.UnrealizedPnL
		if price > 0 {
			pnl = l.PnLAt(price)
		}
		line := fmt.Sprintf("  %-4s %.6f по %.4f  %s  %s", l.Direction, l.BaseAmount, l.EntryPrice, signed(pnl, ""), l.ID)
		if i == selected {
			line = "> " + line[2:]
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return section("ОТКРЫТЫЕ ЛОТЫ", b.String())
}

func renderLogs(logs []string) string {
	var b strings.Builder
	start := max(0, len(logs)-10)
	for _, line := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(line, "[ERROR]"):
			line = lipgloss.NewStyle().Foreground(errorColor).Render(line)
		case strings.Contains(line, "[WARN]"):
			line = lipgloss.NewStyle().Foreground(warningColor).Render(line)
		case strings.Contains(line, "[INFO]"):
			line = lipgloss.NewStyle().Foreground(successColor).Render(line)
		}
		b.WriteString("  " + line + "\n")
	}
	return section("ЛОГИ", b.String())
}

func section(name, body string) string {
	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, headerStyle.Render(name), body))
}

func sentimentText(s models.Sentiment) string {
	style := lipgloss.NewStyle().Foreground(warningColor)
	switch {
	case s.IsFear():
		style = lipgloss.NewStyle().Foreground(errorColor)
	case s.IsGreed():
		style = lipgloss.NewStyle().Foreground(successColor)
	}
	if s.IsExtreme() {
		style = style.Bold(true)
	}
	return style.Render(string(s))
}

func resultText(r string) string {
	switch r {
	case agent.CycleTraded:
		return lipgloss.NewStyle().Foreground(successColor).Render(r)
	case agent.CycleFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render(r)
	}
	return r
}

func signed(v float64, suffix string) string {
	s := fmt.Sprintf("%+.2f%s", v, suffix)
	switch {
	case v > 0:
		return lipgloss.NewStyle().Foreground(successColor).Render(s)
	case v < 0:
		return lipgloss.NewStyle().Foreground(errorColor).Render(s)
	}
	return s
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// readLogs читает последние limit строк JSON-лога и форматирует их для панели
func readLogs(path string, limit int) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > limit {
			logs = logs[1:]
		}
	}
	return logs, scanner.Err()
}

// formatLogLine приводит строку zap JSON к виду "[время] [УРОВЕНЬ] сообщение (поле: значение)"
func formatLogLine(line string) string {
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line
	}

	level, _ := entry["level"].(string)
	ts, _ := entry["ts"].(string)
	msg, _ := entry["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(entry))
	for k := range entry {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := fmt.Sprintf("[%s] [%s] %s", timestamp, strings.ToUpper(level), msg)
	for _, k := range keys {
		out += fmt.Sprintf(" (%s: %v)", k, entry[k])
	}
	return out
}
