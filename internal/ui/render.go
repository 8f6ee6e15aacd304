// Package ui renders command output for the terminal and prompts for merge
// conflict decisions.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/vcs"
)

// Theme centralizes all styling.
type Theme struct {
	Ready    lipgloss.Style
	Busy     lipgloss.Style
	Failed   lipgloss.Style
	Inactive lipgloss.Style

	Header lipgloss.Style
	Dim    lipgloss.Style
	Hash   lipgloss.Style
}

// DefaultTheme is the theme used by the render functions.
var DefaultTheme = Theme{
	Ready:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00D75F")),
	Busy:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")),
	Failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
	Inactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

	Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
	Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	Hash:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
}

// DisableColor turns styling off, e.g. when output is not a terminal or
// NO_COLOR is set.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ConfigureColor disables styling unless stdout is a color terminal.
func ConfigureColor() {
	if os.Getenv("NO_COLOR") != "" || !IsTerminal() {
		DisableColor()
	}
}

func (t Theme) state(s coordinator.State) string {
	switch s {
	case coordinator.StateReady:
		return t.Ready.Render(s.String())
	case coordinator.StateInitializing:
		return t.Busy.Render(s.String())
	case coordinator.StateFailed:
		return t.Failed.Render(s.String())
	default:
		return t.Inactive.Render(s.String())
	}
}

// RenderStatus writes a coordinator status block.
func RenderStatus(w io.Writer, s coordinator.Status) {
	t := DefaultTheme
	orNone := func(v string) string {
		if v == "" {
			return t.Dim.Render("none")
		}
		return v
	}
	fmt.Fprintln(w, t.Header.Render("versync status"))
	fmt.Fprintf(w, "  workspace   %s\n", orNone(s.WorkspaceID))
	fmt.Fprintf(w, "  repository  %s\n", orNone(s.RepositoryID))
	fmt.Fprintf(w, "  project     %s\n", orNone(s.ProjectID))
	fmt.Fprintf(w, "  git         %s\n", t.state(s.Git))
	fmt.Fprintf(w, "  local       %s\n", t.state(s.Local))
}

// WorkspaceRow is one line of the workspace listing.
type WorkspaceRow struct {
	ID     string
	Name   string
	Active bool
}

// RenderWorkspaces writes a table of workspaces, marking the active one.
func RenderWorkspaces(w io.Writer, rows []WorkspaceRow) {
	t := DefaultTheme
	if len(rows) == 0 {
		fmt.Fprintln(w, t.Dim.Render("no workspaces"))
		return
	}
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(t.Dim).
		Headers("", "ID", "NAME").
		StyleFunc(func(row, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case row == table.HeaderRow:
				return cell.Inherit(t.Header)
			case row >= 0 && row < len(rows) && rows[row].Active:
				return cell.Inherit(t.Ready)
			}
			return cell
		})
	for _, r := range rows {
		marker := ""
		if r.Active {
			marker = "*"
		}
		tbl.Row(marker, r.ID, r.Name)
	}
	fmt.Fprintln(w, tbl.String())
}

// RenderNotification writes one reinitialization notice.
func RenderNotification(w io.Writer, n coordinator.Notification) {
	t := DefaultTheme
	style := t.Busy
	hint := ""
	switch {
	case n.ActionRequired:
		style = t.Failed
		hint = " (repair required)"
	case n.Retryable:
		hint = " (retry later)"
	}
	fmt.Fprintf(w, "%s %s: %s%s\n", t.Dim.Render(n.Time.Local().Format(time.Kitchen)), n.Handle, style.Render(n.Message), t.Dim.Render(hint))
}

// RenderHistory writes local snapshots newest first.
func RenderHistory(w io.Writer, snaps []localvcs.Snapshot) {
	t := DefaultTheme
	if len(snaps) == 0 {
		fmt.Fprintln(w, t.Dim.Render("no snapshots"))
		return
	}
	for _, s := range snaps {
		fmt.Fprintf(w, "%s %s %s  %s\n",
			t.Hash.Render(short(s.ID)),
			t.Dim.Render(s.Created.Local().Format("2006-01-02 15:04")),
			t.Dim.Render(s.Author),
			firstLine(s.Message))
	}
}

// RenderLog writes git commits newest first.
func RenderLog(w io.Writer, commits []vcs.CommitInfo) {
	t := DefaultTheme
	if len(commits) == 0 {
		fmt.Fprintln(w, t.Dim.Render("no commits"))
		return
	}
	for _, c := range commits {
		fmt.Fprintf(w, "%s %s %s  %s\n",
			t.Hash.Render(short(c.Hash)),
			t.Dim.Render(c.When.Local().Format("2006-01-02 15:04")),
			t.Dim.Render(c.Author),
			firstLine(c.Message))
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseSince turns "yesterday", "3 days ago", "last monday" or an RFC 3339
// timestamp into a point in time relative to now.
func ParseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if ts, err := time.Parse(time.RFC3339, text); err == nil {
		return ts, nil
	}
	r, err := parser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised time %q", text)
	}
	return r.Time, nil
}

// FilterSnapshots keeps snapshots created at or after since.
func FilterSnapshots(snaps []localvcs.Snapshot, since time.Time) []localvcs.Snapshot {
	out := snaps[:0:0]
	for _, s := range snaps {
		if !s.Created.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// FilterCommits keeps commits made at or after since.
func FilterCommits(commits []vcs.CommitInfo, since time.Time) []vcs.CommitInfo {
	out := commits[:0:0]
	for _, c := range commits {
		if !c.When.Before(since) {
			out = append(out, c)
		}
	}
	return out
}
