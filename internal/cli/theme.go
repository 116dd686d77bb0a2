package cli

import (
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var spinnerStyle = lipgloss.NewStyle().MarginLeft(2).Foreground(primary)

func createHuhTheme() *huh.Theme {
	fg := lipgloss.Color("#dddddd")       // light gray
	fgSubtle := lipgloss.Color("#888888") // subtle gray

	theme := huh.ThemeBase16()

	base := lipgloss.NewStyle().Foreground(fg)

	theme.Focused.Base = base.MarginLeft(1)
	theme.Focused.Title = base.Foreground(primary).Bold(true)
	theme.Focused.Description = base.Foreground(fg)
	theme.Focused.ErrorIndicator = base.Foreground(errorCol)
	theme.Focused.ErrorMessage = base.Foreground(errorCol)
	theme.Focused.SelectSelector = base.Foreground(primary).Bold(true)
	theme.Focused.SelectedOption = base.Foreground(primary).Bold(true)
	theme.Focused.SelectedPrefix = base.Foreground(success).Bold(true).SetString("✓ ")
	theme.Focused.UnselectedPrefix = base.Foreground(muted).SetString("> ")
	theme.Focused.Option = base
	theme.Focused.NoteTitle = base.Foreground(primary).Bold(true)

	theme.Focused.TextInput.Cursor = base.Foreground(primary)
	theme.Focused.TextInput.Placeholder = base.Foreground(fgSubtle)
	theme.Focused.TextInput.Prompt = base.Foreground(primary)

	theme.Blurred.Base = base
	theme.Blurred.Title = base.Foreground(muted)
	theme.Blurred.Description = base.Foreground(fg)
	theme.Blurred.TextInput.Prompt = base.Foreground(muted)

	theme.Form = base
	return theme
}
