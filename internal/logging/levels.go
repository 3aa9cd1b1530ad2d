package logging

import "go.uber.org/zap/zapcore"

// TraceLevel sits below Debug (-2; Debug is -1) for firehose output that
// would drown a debug log: per-iteration score deltas, raw prompt and
// response sizes. Filtered out everywhere except deep-dive sessions.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" on top of the
// names zapcore knows.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
