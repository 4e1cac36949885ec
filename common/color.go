package common

// ANSI escapes used by the debugger console and timeline.
const (
	ColorReset       = "\033[0m"
	ColorRed         = "\033[31m"
	ColorYellow      = "\033[33m"
	ColorBlue        = "\033[34m"
	ColorCyan        = "\033[36m"
	ColorBrightGreen = "\033[92m"
)

// Colorize wraps s in color, or returns it unchanged when on is false.
func Colorize(on bool, color, s string) string {
	if !on || color == "" {
		return s
	}
	return color + s + ColorReset
}
