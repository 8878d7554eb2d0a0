// Package tui provides a live terminal view of the query log. Rows are
// fetched from the log store on a fixed refresh interval and annotated
// with rule verdicts.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sqlsentry/internal/detect"
	"sqlsentry/internal/logstore"
)

// Config controls the viewer.
type Config struct {
	// Limit is the number of most recent records fetched per refresh.
	Limit int `yaml:"limit"`
	// Refresh is how often the view re-queries the log store.
	Refresh time.Duration `yaml:"refresh"`
}

// DefaultConfig returns viewer defaults.
func DefaultConfig() Config {
	return Config{
		Limit:   200,
		Refresh: 5 * time.Second,
	}
}

// RecordSource supplies the most recent log records, newest first.
type RecordSource interface {
	Recent(ctx context.Context, limit int) ([]logstore.Record, error)
}

type row struct {
	rec    logstore.Record
	reason string
	danger bool
}

type recordsMsg struct {
	rows []row
	err  error
}

type tickMsg time.Time

// Model is the bubbletea model for the viewer. Verdicts come from the
// rule matcher only: the viewer has no training window, so a forest
// verdict would read "model-untrained" for every benign row.
type Model struct {
	source  RecordSource
	matcher *detect.Matcher
	config  Config

	rows       []row
	err        error
	width      int
	height     int
	cursor     int
	offset     int
	maxRows    int
	loading    bool
	lastUpdate time.Time
}

// New builds a viewer over the given record source.
func New(source RecordSource, matcher *detect.Matcher, cfg Config) Model {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultConfig().Refresh
	}
	if matcher == nil {
		matcher = detect.NewMatcher()
	}
	return Model{
		source:  source,
		matcher: matcher,
		config:  cfg,
		maxRows: 15,
		loading: true,
	}
}

// Init starts the first fetch and the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tickCmd())
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	matcher := m.matcher
	limit := m.config.Limit
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := source.Recent(ctx, limit)
		if err != nil {
			return recordsMsg{err: err}
		}
		rows := make([]row, 0, len(records))
		for _, rec := range records {
			reason, danger := matcher.Match(rec.Query)
			rows = append(rows, row{rec: rec, reason: reason, danger: danger})
		}
		return recordsMsg{rows: rows}
	}
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.config.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles key presses, window resizes and refresh results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
				if m.cursor >= m.offset+m.maxRows {
					m.offset = m.cursor - m.maxRows + 1
				}
			}
		case "r":
			m.loading = true
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.maxRows = msg.Height - 9
		if m.maxRows < 5 {
			m.maxRows = 5
		}

	case recordsMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.lastUpdate = time.Now()
			if m.cursor >= len(m.rows) {
				m.cursor = len(m.rows) - 1
			}
			if m.cursor < 0 {
				m.cursor = 0
			}
			if m.offset > m.cursor {
				m.offset = m.cursor
			}
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tickCmd())
	}

	return m, nil
}

// View renders the record table.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  SQL Sentry: live query log"))
	b.WriteString("\n\n")

	if m.loading && len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("  Loading records..."))
		b.WriteString("\n")
		return b.String()
	}
	if m.err != nil {
		b.WriteString(dangerStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("  [r] to retry  [q] to quit"))
		b.WriteString("\n")
		return b.String()
	}
	if len(m.rows) == 0 {
		b.WriteString(mutedStyle.Render("  No records in the log store yet."))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("  Run the ingest bridge or the seeder to populate it."))
		b.WriteString("\n")
		return b.String()
	}

	header := fmt.Sprintf("  %-10s %-22s %-14s %-12s %s", "TIME", "VERDICT", "USER", "DATABASE", "QUERY")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	end := m.offset + m.maxRows
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if len(m.rows) > m.maxRows {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d-%d of %d", m.offset+1, end, len(m.rows))))
		b.WriteString("\n")
	}
	if !m.lastUpdate.IsZero() {
		b.WriteString(mutedStyle.Render("  Updated: " + m.lastUpdate.Format("15:04:05")))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("  [↑↓/jk] Scroll  [r] Refresh  [q] Quit"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderRow(i int) string {
	r := m.rows[i]

	queryWidth := m.width - 66
	if queryWidth < 20 {
		queryWidth = 20
	}
	query := strings.ReplaceAll(r.rec.Query, "\n", " ")

	line := fmt.Sprintf("  %-10s %s %-14s %-12s %s",
		r.rec.Timestamp.Format("15:04:05"),
		renderVerdict(r.reason, r.danger),
		clip(orDash(r.rec.User), 14),
		clip(orDash(r.rec.Database), 12),
		clip(query, queryWidth),
	)
	if i == m.cursor {
		return selectedStyle.Render(line)
	}
	return line
}

func renderVerdict(reason string, danger bool) string {
	const width = 22
	if danger {
		return dangerStyle.Render(fmt.Sprintf("%-*s", width, clip(reason, width)))
	}
	return okStyle.Render(fmt.Sprintf("%-*s", width, "ok"))
}

// Run starts the viewer in the alternate screen and blocks until quit.
func Run(source RecordSource, matcher *detect.Matcher, cfg Config) error {
	p := tea.NewProgram(New(source, matcher, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
