package main

import "github.com/charmbracelet/lipgloss"

var (
	// Tool call styles.
	toolNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	toolArgsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))            // gray

	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
)

const toolPrefix = "⚙ "
