package output

import "os"

// IsColorSupported reports whether stdout should receive ANSI colors.
// NO_COLOR disables and FORCE_COLOR enables regardless of the terminal.
// See https://no-color.org/.
func IsColorSupported() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("FORCE_COLOR"); ok {
		return true
	}

	stat, err := os.Stdout.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
