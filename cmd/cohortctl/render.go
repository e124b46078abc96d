package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// renderView writes the displayed rows as a table plus a count line.
func renderView(w io.Writer, v cohort.View) {
	rows := make([][]string, 0, len(v.Rows))
	for _, r := range v.Rows {
		rows = append(rows, r.Strings())
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(v.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, mutedStyle.Render(summaryLine(v)))
}

func summaryLine(v cohort.View) string {
	line := "Showing " + strconv.Itoa(len(v.Rows)) + " of " + strconv.Itoa(v.Total) + " samples (" + v.Mode.String() + ")"
	if v.HasMore {
		line += ", more with --pages"
	}
	return line
}

// renderNotes writes queued notifications, one per line.
func renderNotes(w io.Writer, notes []cohort.Notification) {
	for _, n := range notes {
		style := mutedStyle
		switch n.Level {
		case cohort.LevelSuccess:
			style = successStyle
		case cohort.LevelWarning:
			style = warningStyle
		case cohort.LevelError:
			style = errorStyle
		}
		msg := n.Message
		if n.Code != "" {
			msg += " (" + n.Code + ")"
		}
		fmt.Fprintln(w, style.Render(msg))
	}
}
