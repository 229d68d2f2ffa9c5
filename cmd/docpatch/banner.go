package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/officestack/docpatch/pkg/engine"
)

var (
	colorSuccess = lipgloss.Color("#50C878")
	colorWarning = lipgloss.Color("#FFB347")
	colorError   = lipgloss.Color("#FF6961")
	colorMuted   = lipgloss.Color("#808080")
	colorBorder  = lipgloss.Color("#3A3A5C")
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleWarn = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleErr  = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleDim  = lipgloss.NewStyle().Foreground(colorMuted)

	styleBanner = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

// renderResultBanner summarizes one processed request: headline, repair
// counters, validator outcome, and where the generated code went.
func renderResultBanner(res *engine.ProcessingResult) string {
	var lines []string

	if res.Success {
		lines = append(lines, styleOK.Render("✓ "+res.Message))
	} else {
		lines = append(lines, styleErr.Render("✗ "+res.Message))
	}

	counters := fmt.Sprintf("retries: %d error / %d validator (total %d), validation attempts: %d",
		res.ErrorRetries, res.ValidatorCorrections, res.TotalCorrections, res.ValidationAttempts)
	lines = append(lines, styleDim.Render(counters))

	if res.ElapsedSeconds > 0 {
		lines = append(lines, styleDim.Render(fmt.Sprintf("elapsed: %.1fs", res.ElapsedSeconds)))
	}
	if !res.ValidationPassed && res.ValidationNote != "" {
		lines = append(lines, styleWarn.Render("! "+res.ValidationNote))
	}
	if res.Error != "" {
		lines = append(lines, styleErr.Render("error: "+res.Error))
	}
	if res.CodeSavedTo != "" {
		lines = append(lines, styleDim.Render("code: "+res.CodeSavedTo))
	}
	for _, f := range res.GeneratedFiles {
		lines = append(lines, styleDim.Render("new file: "+f))
	}

	return styleBanner.Render(strings.Join(lines, "\n"))
}

func renderErrorBanner(msg string) string {
	return styleBanner.Render(styleErr.Render("✗ " + msg))
}

func renderStage(stage string, attempt int) string {
	line := "  · " + stage
	if attempt > 0 {
		line = fmt.Sprintf("%s (attempt %d)", line, attempt)
	}
	return styleDim.Render(line)
}
