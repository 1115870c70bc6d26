package unmta

import (
	"context"
	"log/slog"
)

// LevelSMTP is the level of protocol chatter: every line read is logged as
// "> line" and every line written as "< line". It sits below Debug so it is
// only visible when asked for.
const LevelSMTP = slog.LevelDebug - 4

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to Info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	case "smtp":
		return LevelSMTP
	default:
		return slog.LevelInfo
	}
}

// ReplaceLevelAttr renders LevelSMTP as "SMTP" instead of "DEBUG-4". Use it
// as slog.HandlerOptions.ReplaceAttr.
func ReplaceLevelAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelSMTP {
			a.Value = slog.StringValue("SMTP")
		}
	}
	return a
}

func logSMTP(logger *slog.Logger, direction, line string) {
	if !logger.Enabled(context.Background(), LevelSMTP) {
		return
	}
	logger.Log(context.Background(), LevelSMTP, direction+" "+line)
}
