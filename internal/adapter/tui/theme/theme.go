// Package theme holds the adaptive color palette and shared styles for the
// TUI. Colors adapt to light and dark terminals; NO_COLOR is respected
// automatically through lipgloss profile detection.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	ColorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
)

var (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolBullet  = "•"
	SymbolTool    = "⚙"
	SymbolUser    = "You"
)

// MaxContentWidth caps message rendering so long lines stay readable on
// wide terminals.
const MaxContentWidth = 100

var (
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	TextError   = lipgloss.NewStyle().Foreground(ColorError)
	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)

	UserLabel      = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	AssistantLabel = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	ProgressLine   = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
	ToolLine       = lipgloss.NewStyle().Foreground(ColorWarning)

	StatusBar = lipgloss.NewStyle().Foreground(ColorMuted)
	InputRule = lipgloss.NewStyle().Foreground(ColorBorder)
)

// Divider renders a horizontal rule of the given width.
func Divider(width int) string {
	if width <= 0 {
		return ""
	}
	line := make([]rune, width)
	for i := range line {
		line[i] = '─'
	}
	return InputRule.Render(string(line))
}
