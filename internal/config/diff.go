package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PlaybackRateChanged and VolumesChanged are applied to the running
	// session's settings.
	PlaybackRateChanged bool
	VolumesChanged      bool

	// TimingChanged covers completion delay, mistake fade, skip step and
	// backtrack. These take effect for the next practice engine.
	TimingChanged bool

	// RestartRequired lists changed fields that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether d contains any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PlaybackRateChanged || d.VolumesChanged ||
		d.TimingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Practice, new.Practice
	if op.PlaybackRate != np.PlaybackRate {
		d.PlaybackRateChanged = true
	}
	if !floatPtrEqual(op.ContentVolume, np.ContentVolume) || !floatPtrEqual(op.EffectVolume, np.EffectVolume) {
		d.VolumesChanged = true
	}
	if op.CompletionDelay != np.CompletionDelay || op.MistakeFade != np.MistakeFade ||
		op.SkipSeconds != np.SkipSeconds || !floatPtrEqual(op.BacktrackSeconds, np.BacktrackSeconds) {
		d.TimingChanged = true
	}

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("relay.expected_origin", old.Relay.ExpectedOrigin != new.Relay.ExpectedOrigin)
	restart("relay.token", old.Relay.Token != new.Relay.Token)
	restart("relay.page_origin", old.Relay.PageOrigin != new.Relay.PageOrigin)
	restart("relay.buffer", old.Relay.Buffer != new.Relay.Buffer)
	restart("bridge.overlay_url", old.Bridge.OverlayURL != new.Bridge.OverlayURL)

	return d
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
