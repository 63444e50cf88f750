package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tally-go/internal/tally"

	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or a natural-language date relative to now
// ("today", "next monday", "in 2 weeks") and returns it as YYYY-MM-DD.
func parseDate(text string, now time.Time) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty date")
	}
	if t, err := time.Parse(tally.DateLayout, text); err == nil {
		return t.Format(tally.DateLayout), nil
	}
	if strings.EqualFold(text, "today") {
		return now.Format(tally.DateLayout), nil
	}

	r, err := dateParser.Parse(text, now)
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", text, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q", text)
	}
	return r.Time.Format(tally.DateLayout), nil
}

// parseAmount converts a decimal amount such as "1250", "1250.5" or
// "1,250.00" to cents.
func parseAmount(text string) (int64, error) {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	whole, frac, hasFrac := strings.Cut(text, ".")
	if whole == "" || strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("invalid amount %q", text)
	}
	if hasFrac && (len(frac) == 0 || len(frac) > 2) {
		return 0, fmt.Errorf("invalid amount %q: at most two decimal places", text)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", text)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("invalid amount %q", text)
	}
	return units*100 + cents, nil
}

func formatAmount(cents int64, currency string) string {
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}

// describe returns a one-line label for an entity.
func describe(entity tally.SyncableEntity) string {
	switch e := entity.(type) {
	case tally.Customer:
		if e.Email != "" {
			return fmt.Sprintf("%s <%s>", e.Name, e.Email)
		}
		return e.Name
	case tally.Dealer:
		if e.Region != "" {
			return fmt.Sprintf("%s (%s)", e.Name, e.Region)
		}
		return e.Name
	case tally.BankAccount:
		return fmt.Sprintf("%s %s %s", e.HolderName, e.BankName, maskAccount(e.AccountNumber))
	case tally.Invoice:
		s := fmt.Sprintf("#%s %s", e.Number, formatAmount(e.AmountCents, e.Currency))
		if e.DueDate != "" {
			s += " due " + e.DueDate
		}
		if e.Status != "" {
			s += " [" + string(e.Status) + "]"
		}
		return s
	default:
		return ""
	}
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

func formatStatus(status tally.SyncStatus) string {
	switch status {
	case tally.StatusSynced:
		return okStyle.Render("synced  ")
	case tally.StatusFailed:
		return errStyle.Render("failed  ")
	default:
		return warnStyle.Render("unsynced")
	}
}

// formatRow renders a row as one list line.
func formatRow(row *tally.Row) string {
	label := "?"
	if entity, err := row.Entity(); err == nil {
		label = describe(entity)
	}
	line := fmt.Sprintf("%s  %s  %s", row.LocalID, formatStatus(row.Status), label)
	if row.ServerID != "" {
		line += dimStyle.Render("  server:" + row.ServerID)
	}
	if row.SyncError != "" {
		line += "  " + errStyle.Render(row.SyncError)
	}
	return line
}

// formatRun renders a sync run as one history line.
func formatRun(run *tally.SyncRun) string {
	result := okStyle.Render("ok    ")
	if !run.Success {
		result = errStyle.Render("failed")
	}
	line := fmt.Sprintf("#%d  %-10s  %s  %s  synced:%d failed:%d deferred:%d  %s",
		run.ID,
		run.Trigger,
		run.StartedAt.Local().Format("2006-01-02 15:04:05"),
		result,
		run.Synced, run.Failed, run.Deferred,
		run.FinishedAt.Sub(run.StartedAt).Truncate(time.Millisecond),
	)
	if run.Error != "" {
		line += "  " + run.Error
	}
	return line
}

// statusView is the data behind `tally status`.
type statusView interface {
	Session() tally.Session
	Connectivity() tally.Connectivity
	BackgroundEnabled() bool
	NeedsReauth() bool
	UnsyncedCount() int
	PendingByKind() map[tally.Kind]int
}

func renderStatus(s statusView) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	sess := s.Session()
	switch {
	case !sess.SignedIn:
		row("Session", warnStyle.Render("signed out"))
	case s.NeedsReauth():
		row("Session", errStyle.Render(sess.Username+" (session expired: run `tally login`)"))
	default:
		row("Session", okStyle.Render(sess.Username))
	}

	switch conn := s.Connectivity(); conn {
	case tally.ConnectivityOnline:
		row("Network", okStyle.Render(conn.String()))
	case tally.ConnectivityOffline:
		row("Network", errStyle.Render(conn.String()))
	default:
		row("Network", dimStyle.Render(conn.String()))
	}

	if s.BackgroundEnabled() {
		row("Background", okStyle.Render("enabled"))
	} else {
		row("Background", dimStyle.Render("disabled"))
	}

	total := s.UnsyncedCount()
	if total == 0 {
		row("Pending", okStyle.Render("nothing to sync"))
		return b.String()
	}
	row("Pending", warnStyle.Render(fmt.Sprintf("%d record(s)", total)))

	pending := s.PendingByKind()
	kinds := make([]string, 0, len(pending))
	for k, n := range pending {
		if n > 0 {
			kinds = append(kinds, fmt.Sprintf("%s: %d", k, n))
		}
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		row("", dimStyle.Render(k))
	}
	return b.String()
}
