// Package render turns tracker updates, leaderboard snapshots and contest
// details into terminal text. It only reads what it is given.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"shodhcode/internal/cli/api"
	"shodhcode/internal/cli/leaderboard"
	"shodhcode/internal/cli/tracker"
	pkgerrors "shodhcode/pkg/errors"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

// Renderer holds the styles for one output stream.
type Renderer struct {
	lip *lipgloss.Renderer

	title   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	bad     lipgloss.Style
	warn    lipgloss.Style
	info    lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	mine    lipgloss.Style
	border  lipgloss.Style
	problem lipgloss.Style
}

// New builds a renderer for w. With color off every style renders plain
// text.
func New(w io.Writer, color bool) *Renderer {
	lip := lipgloss.NewRenderer(w)
	if color {
		lip.SetColorProfile(termenv.ANSI256)
	} else {
		lip.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		lip:     lip,
		title:   lip.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		muted:   lip.NewStyle().Foreground(lipgloss.Color("245")),
		ok:      lip.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		bad:     lip.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		warn:    lip.NewStyle().Foreground(lipgloss.Color("214")),
		info:    lip.NewStyle().Foreground(lipgloss.Color("75")),
		header:  lip.NewStyle().Bold(true).Padding(0, 1),
		cell:    lip.NewStyle().Padding(0, 1),
		mine:    lip.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("42")),
		border:  lip.NewStyle().Foreground(lipgloss.Color("240")),
		problem: lip.NewStyle().Bold(true),
	}
}

// Update renders one tracker transition.
func (r *Renderer) Update(u tracker.Update) string {
	id := u.Submission.ID.String()
	switch {
	case u.State == tracker.StateCreating:
		return r.muted.Render("Submitting...")
	case u.State == tracker.StatePending || u.State == tracker.StateRunning:
		return r.info.Render(fmt.Sprintf("Processing... submission %s is %s", id, u.State))
	case u.State == tracker.StateAccepted:
		return r.ok.Render("Accepted! All test cases passed.")
	case u.State == tracker.StateTimeout:
		return r.warn.Render(fmt.Sprintf(
			"Submission %s is still processing, stopped watching. The verdict is unknown; run status later.", id))
	case u.State == tracker.StateError:
		return r.Error(u.Err)
	case u.State.Verdict():
		text := string(u.State)
		if u.Submission.Result != "" {
			text += ": " + u.Submission.Result
		}
		return r.bad.Render(text)
	default:
		return r.muted.Render(string(u.State))
	}
}

// Submission renders the tracked submission for the status command.
func (r *Renderer) Submission(sub api.Submission, state tracker.State, watching bool, err error) string {
	if state == tracker.StateIdle {
		return r.muted.Render("No submission yet.")
	}
	var b strings.Builder
	id := sub.ID.String()
	if id == "" {
		id = "(not assigned)"
	}
	fmt.Fprintf(&b, "%s %s\n", r.title.Render("Submission"), id)
	fmt.Fprintf(&b, "  problem:  %s\n", sub.ProblemID)
	fmt.Fprintf(&b, "  language: %s\n", sub.Language)
	fmt.Fprintf(&b, "  state:    %s", state)
	if watching {
		b.WriteString(r.muted.Render(" (watching)"))
	}
	if sub.Result != "" {
		fmt.Fprintf(&b, "\n  result:   %s", sub.Result)
	}
	if sub.RunTime != nil {
		fmt.Fprintf(&b, "\n  runtime:  %dms", *sub.RunTime)
	}
	if sub.MemoryUsed != nil {
		fmt.Fprintf(&b, "\n  memory:   %dKB", *sub.MemoryUsed)
	}
	if err != nil {
		fmt.Fprintf(&b, "\n  %s", r.Error(err))
	}
	return b.String()
}

// Leaderboard renders a snapshot as a ranked table. The row of user, if
// present, is highlighted. A non-nil lastErr notes that the data may be
// stale.
func (r *Renderer) Leaderboard(snap *leaderboard.Snapshot, user string, lastErr error) string {
	if snap == nil {
		if lastErr != nil {
			return r.warn.Render("Leaderboard unavailable: " + lastErr.Error())
		}
		return r.muted.Render("Loading leaderboard...")
	}
	if len(snap.Entries) == 0 {
		return r.muted.Render("No submissions yet")
	}

	rows := make([][]string, 0, len(snap.Entries))
	mineRow := -1
	for i, entry := range snap.Entries {
		if entry.UserName == user {
			mineRow = i
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			entry.UserName,
			strconv.FormatInt(entry.Solved, 10),
			FormatDuration(entry.TotalTime),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.border).
		Headers("#", "USER", "SOLVED", "TIME").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return r.header
			case row == mineRow:
				return r.mine
			default:
				return r.cell
			}
		})

	footer := fmt.Sprintf("updated %s", snap.FetchedAt.Local().Format(time.TimeOnly))
	if lastErr != nil {
		footer += ", last refresh failed: " + lastErr.Error()
	}
	return fmt.Sprintf("%s\n%s\n%s", r.title.Render("Leaderboard"), t.Render(), r.muted.Render(footer))
}

// Contest renders contest details and its problem list.
func (r *Renderer) Contest(c api.Contest, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.title.Render(c.Title), r.muted.Render(fmt.Sprintf("(#%d, %s)", c.ID, c.Phase(now, time.Local))))
	if c.Description != "" {
		fmt.Fprintf(&b, "%s\n", c.Description)
	}
	if c.StartTime != "" || c.EndTime != "" {
		fmt.Fprintf(&b, "%s\n", r.muted.Render(fmt.Sprintf("%s -> %s", c.StartTime, c.EndTime)))
	}
	if len(c.Problems) == 0 {
		b.WriteString(r.muted.Render("No problems published"))
		return b.String()
	}
	b.WriteString("Problems:")
	for _, p := range c.Problems {
		fmt.Fprintf(&b, "\n  %s  %s", r.problem.Render(p.ID.String()), p.Title)
	}
	return b.String()
}

// Problem renders one statement.
func (r *Renderer) Problem(p api.Problem) string {
	return fmt.Sprintf("%s %s\n\n%s", r.problem.Render(p.ID.String()+"."), r.title.Render(p.Title), p.Statement)
}

// Error renders an error with its code when it has one.
func (r *Renderer) Error(err error) string {
	if err == nil {
		return ""
	}
	code := pkgerrors.GetCode(err)
	if code == pkgerrors.InternalServerError {
		return r.bad.Render("error: " + err.Error())
	}
	return r.bad.Render(fmt.Sprintf("error: %s (code %d)", err.Error(), int(code)))
}

// Muted renders secondary text.
func (r *Renderer) Muted(text string) string {
	return r.muted.Render(text)
}

// Title renders a heading.
func (r *Renderer) Title(text string) string {
	return r.title.Render(text)
}

// FormatDuration prints a leaderboard time in seconds, or "-" when the
// backend reported none.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return strconv.FormatFloat(d.Round(time.Millisecond).Seconds(), 'f', -1, 64) + "s"
}
