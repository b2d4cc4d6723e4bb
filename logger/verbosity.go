package logger

// Verbosity level constants for CLI flag counts.
const (
	VerbosityDefault = 0 // No flags: level from config
	VerbosityInfo    = 1 // -v
	VerbosityDebug   = 2 // -vv and above
)

// VerbosityToLevelName maps -v counts to a level name for Initialize.
// With no flags the configured level wins.
func VerbosityToLevelName(verbosity int, configured string) string {
	switch {
	case verbosity >= VerbosityDebug:
		return "debug"
	case verbosity == VerbosityInfo:
		return "info"
	default:
		return configured
	}
}
