package cmd

import "github.com/charmbracelet/lipgloss"

// Status palette. lipgloss drops the colors when stdout is not a terminal,
// so scripts matching on "locked"/"unlocked" see plain text.
var (
	lockedStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B"))
	unlockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF")).Width(10)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	problemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
)
