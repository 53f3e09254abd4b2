package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the application
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Upstream roster colours
	Upstream       pterm.Color
	BusyBusy       pterm.Color
	BusyAvailable  pterm.Color
	GradeReliable  pterm.Color
	GradeUnstable  pterm.Color
	GradeProbation pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Upstream:       pterm.FgCyan,
		BusyBusy:       pterm.FgYellow,
		BusyAvailable:  pterm.FgGreen,
		GradeReliable:  pterm.FgGreen,
		GradeUnstable:  pterm.FgRed,
		GradeProbation: pterm.FgYellow,
	}
}

var themes = map[string]func() *Theme{
	"default": Default,
}

// GetTheme returns a named theme, falling back to the default
func GetTheme(name string) *Theme {
	if fn, ok := themes[name]; ok {
		return fn()
	}
	return Default()
}

// ColourSplash styles startup banner text
func ColourSplash(text string) string {
	return pterm.NewStyle(pterm.FgCyan).Sprint(text)
}

// ColourVersion styles the version string in the banner
func ColourVersion(text string) string {
	return pterm.NewStyle(pterm.FgMagenta).Sprint(text)
}

// StyleUrl styles hyperlinks in the banner
func StyleUrl(text string) string {
	return pterm.NewStyle(pterm.FgBlue, pterm.Underscore).Sprint(text)
}
