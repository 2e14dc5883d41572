package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	blue   = lipgloss.Color("75")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	grey   = lipgloss.Color("243")
	border = lipgloss.Color("238")
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(blue)
	successStyle = lipgloss.NewStyle().Foreground(green)
	failureStyle = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(grey)
	boldStyle    = lipgloss.NewStyle().Bold(true)
)

func Bold(s string) string    { return boldStyle.Render(s) }
func Muted(s string) string   { return mutedStyle.Render(s) }
func Success(s string) string { return successStyle.Render(s) }
func Failure(s string) string { return failureStyle.Render(s) }

func SuccessMsg(format string, a ...any) string { return line(successStyle, "✓", format, a...) }
func WarnMsg(format string, a ...any) string    { return line(warnStyle, "!", format, a...) }
func ErrorMsg(format string, a ...any) string   { return line(failureStyle, "✗", format, a...) }
func InfoMsg(format string, a ...any) string    { return line(infoStyle, "●", format, a...) }

// line is a single status line without a trailing newline.
func line(style lipgloss.Style, mark, format string, a ...any) string {
	return style.Render(mark) + " " + fmt.Sprintf(format, a...)
}

// Pair is one row of KeyValues.
type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders "key: value" lines with the values aligned.
func KeyValues(indent string, pairs ...Pair) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p.key)+1)
	}

	var sb strings.Builder
	for _, p := range pairs {
		sb.WriteString(indent)
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("%-*s", width, p.key+":")))
		sb.WriteString(" ")
		sb.WriteString(p.value)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Table renders rows under bold headers. Empty cells print as a muted "-".
func Table(headers []string, rows [][]string) string {
	head := boldStyle.Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			if v == "" {
				v = Muted("-")
			}
			cells[r][i] = v
		}
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(border)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return head
			}
			return cell
		}).
		Headers(headers...).
		Rows(cells...).
		String()
}
