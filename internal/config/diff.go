package config

// ConfigDiff describes what changed between two configs.
// Only LogLevel can be applied to a running session; every other change
// takes effect on the next start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the sections whose changes need a new session.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if !playbackEqual(old.Playback, new.Playback) {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func playbackEqual(a, b PlaybackConfig) bool {
	return a.SkipOffset == b.SkipOffset &&
		ptrEqual(a.SpeculativeWindow, b.SpeculativeWindow) &&
		ptrEqual(a.Threshold, b.Threshold) &&
		ptrEqual(a.TranscriptDelay, b.TranscriptDelay) &&
		ptrEqual(a.HideFirstTurn, b.HideFirstTurn)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
