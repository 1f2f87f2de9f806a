package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/goopsie/texresolve/pkg/scan"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(11)

	exactStyle     = labelStyle.Foreground(lipgloss.Color("2"))
	candidateStyle = labelStyle.Foreground(lipgloss.Color("3"))
	unknownStyle   = labelStyle.Foreground(lipgloss.Color("8"))
	errorStyle     = labelStyle.Foreground(lipgloss.Color("1"))

	idStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// statusLabel renders the colored status column of a scan result.
func statusLabel(res *scan.Result) string {
	switch {
	case res.Err != nil && res.Kind == scan.ResultUnknown:
		return errorStyle.Render("ERROR")
	case res.Kind == scan.ResultExact:
		return exactStyle.Render("EXACT")
	case res.Kind == scan.ResultCandidates:
		return candidateStyle.Render("GUESSED")
	default:
		return unknownStyle.Render("UNKNOWN")
	}
}
