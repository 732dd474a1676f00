package tui

import (
	"fmt"
	"io"

	"github.com/aretw0/loom/pkg/state"
	"github.com/muesli/termenv"
)

var bannerLines = []struct {
	text  string
	color string
}{
	{"  _                         ", "#818cf8"},
	{" | |    ___   ___  _ __ ___ ", "#a78bfa"},
	{" | |   / _ \\ / _ \\| '_ ` _ \\", "#c084fc"},
	{" | |__| (_) | (_) | | | | | |", "#e879f9"},
	{" |_____\\___/ \\___/|_| |_| |_|", "#f472b6"},
}

// PrintBanner writes the loom banner, colored when w is a terminal.
func PrintBanner(w io.Writer) {
	out := termenv.NewOutput(w)
	fmt.Fprintln(w)
	for _, l := range bannerLines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w)
}

var statusColors = map[state.RunStatus]string{
	state.RunRunning:   "#60a5fa",
	state.RunPaused:    "#fbbf24",
	state.RunFulfilled: "#34d399",
	state.RunRejected:  "#f87171",
}

// Status renders a run status for w, bold and colored on terminals.
func Status(w io.Writer, s state.RunStatus) string {
	out := termenv.NewOutput(w)
	styled := out.String(string(s)).Bold()
	if c, ok := statusColors[s]; ok {
		styled = styled.Foreground(out.Color(c))
	}
	return styled.String()
}
