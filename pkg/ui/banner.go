package ui

import "strings"

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	honeyOrange = "\033[38;5;214m"
	beeYellow   = "\033[38;5;226m"
	mint        = "\033[38;5;121m"
	cobalt      = "\033[38;5;33m"
	fuchsia     = "\033[38;5;177m"
	oncpuFlame  = "\033[38;5;208m"
)

// Banner renders a colored oncpu wordmark.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{" ██████╗ ", "██╔═══██╗", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
		{"███╗   ██╗", "████╗  ██║", "██╔██╗ ██║", "██║╚██╗██║", "██║ ╚████║", "╚═╝  ╚═══╝"},
		{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
		{"██████╗  ", "██╔══██╗ ", "██████╔╝ ", "██╔═══╝  ", "██║      ", "╚═╝      "},
		{"██╗   ██╗", "██║   ██║", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
	}
	gradient := []string{oncpuFlame, honeyOrange, beeYellow, mint, cobalt, fuchsia}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + "  "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + fuchsia + "oncpu" + reset + "  •  per-task on-CPU time from the scheduler\n\n")

	return b.String()
}
