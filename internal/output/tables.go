package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tanq16/pwrsync/internal/health"
	"github.com/tanq16/pwrsync/internal/utils"
	"github.com/tanq16/pwrsync/internal/versions"
)

func cell(width int, style lipgloss.Style, text string) string {
	return style.Width(width).Render(text)
}

// VersionsTable renders the lists of one or more sources, newest first.
// limit caps the rows shown per source; 0 shows everything.
func VersionsTable(lists []versions.List, limit int) string {
	var b strings.Builder
	for _, l := range lists {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%s %s %s/%s (%d versions)", l.SourceID, StyleSymbols["arrow"], l.OS, l.Arch, len(l.Entries))))
		b.WriteString("\n")
		if len(l.Entries) == 0 {
			b.WriteString("  " + warningStyle.Render("no versions listed") + "\n")
			continue
		}
		entries := l.Entries
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		for _, e := range entries {
			size := "-"
			if e.Size > 0 {
				size = utils.FormatBytes(uint64(e.Size))
			}
			b.WriteString("  ")
			b.WriteString(cell(8, successStyle, fmt.Sprintf("v%d", e.Version)))
			b.WriteString(cell(12, debugStyle, size))
			b.WriteString(streamStyle.Render(e.DownloadURL))
			b.WriteString("\n")
		}
		if hidden := len(l.Entries) - len(entries); hidden > 0 {
			b.WriteString("  " + debugStyle.Render(fmt.Sprintf("... %d older versions", hidden)) + "\n")
		}
	}
	return b.String()
}

// SpeedTable renders mirror measurements in the order given.
func SpeedTable(results []health.SpeedResult) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(cell(16, lipgloss.NewStyle(), "MIRROR") + cell(10, lipgloss.NewStyle(), "PING") + "SPEED"))
	b.WriteString("\n")
	for _, r := range results {
		ping, speed := "-", "-"
		style := successStyle
		switch {
		case !r.Tested():
			style = debugStyle
			speed = "not tested"
		case !r.Available:
			style = errorStyle
			speed = "unreachable"
		default:
			ping = fmt.Sprintf("%dms", r.PingMs)
			if r.ThroughputMBps >= 0 {
				speed = fmt.Sprintf("%.2f MB/s", r.ThroughputMBps)
			} else {
				style = warningStyle
				speed = "unknown"
			}
		}
		b.WriteString(cell(16, detailStyle, r.MirrorID))
		b.WriteString(cell(10, debugStyle, ping))
		b.WriteString(style.Render(speed))
		b.WriteString("\n")
	}
	return b.String()
}
