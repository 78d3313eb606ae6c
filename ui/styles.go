package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorRed     = lipgloss.Color("#FF5555")
	colorYellow  = lipgloss.Color("#F1FA8C")
	colorGreen   = lipgloss.Color("#50FA7B")
	colorCyan    = lipgloss.Color("#8BE9FD")
	colorMagenta = lipgloss.Color("#FF79C6")
	colorOrange  = lipgloss.Color("#FFB86C")
	colorWhite   = lipgloss.Color("#F8F8F2")
	colorGray    = lipgloss.Color("#6272A4")
	colorPanel   = lipgloss.Color("#44475A")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	valueStyle    = lipgloss.NewStyle().Foreground(colorWhite)
	warnStyle     = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	critStyle     = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(colorGreen)
	headerStyle   = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(colorPanel).Foreground(colorWhite)
	helpStyle     = lipgloss.NewStyle().Foreground(colorGray)
	dimStyle      = lipgloss.NewStyle().Foreground(colorGray)
	orangeStyle   = lipgloss.NewStyle().Foreground(colorOrange)
)

// freeColor colors a free-memory percentage.
func freeColor(pct float64) lipgloss.Style {
	switch {
	case pct < 15:
		return critStyle
	case pct < 30:
		return warnStyle
	default:
		return okStyle
	}
}

// trendColor colors a normalized growth trend against the leak threshold.
func trendColor(trend, threshold float64) lipgloss.Style {
	switch {
	case trend > threshold:
		return critStyle
	case trend > threshold/2:
		return warnStyle
	case trend < 0:
		return okStyle
	default:
		return valueStyle
	}
}

// stageColor colors a pipeline stage outcome.
func stageColor(ran bool, errs int) lipgloss.Style {
	switch {
	case errs > 0:
		return critStyle
	case ran:
		return okStyle
	default:
		return dimStyle
	}
}
