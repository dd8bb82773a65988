package output

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/tanq16/gdvl/internal/utils"
	"golang.org/x/term"
)

// progressBar renders current/total as a fixed-width bar. An unknown
// total shows the byte count alone.
func progressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		return debugStyle.Render(fmt.Sprintf("%s %s ", StyleSymbols["bullet"], utils.FormatBytes(uint64(max(current, 0)))))
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	bar += strings.Repeat(" ", width-filled)
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, percent*100, StyleSymbols["bullet"]))
}

// progressLine is the stream line under an active job.
func progressLine(downloaded, total int64, elapsed float64) string {
	sizeText := utils.FormatBytes(uint64(downloaded))
	if total > 0 {
		sizeText += " / " + utils.FormatBytes(uint64(total))
	}
	return fmt.Sprintf("%s%s %s %s", progressBar(downloaded, total, 30), debugStyle.Render(sizeText), StyleSymbols["bullet"], debugStyle.Render(utils.FormatSpeed(downloaded, elapsed)))
}

func getTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// IsTerminal reports whether stdout can host the live display.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 10 {
		maxWidth = 80
	}
	if utf8.RuneCountInString(text) <= maxWidth {
		return []string{text}
	}
	var lines []string
	var current strings.Builder
	width := 0
	for _, r := range text {
		if width == maxWidth {
			lines = append(lines, current.String())
			current.Reset()
			width = 0
		}
		current.WriteRune(r)
		width++
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
