package catalog

import (
	"encoding/json"
	"fmt"
	"math"
)

// Playback rate bounds and the step used by rate buttons.
const (
	MinPlaybackRate  = 0.5
	MaxPlaybackRate  = 2.0
	PlaybackRateStep = 0.1
)

// Settings are the values the overlay needs from the host and from its own
// preferences.
type Settings struct {
	ContentVolume float64 `json:"content_volume"`
	EffectVolume  float64 `json:"effect_volume"`
	PlaybackRate  float64 `json:"playback_rate"`
}

// DefaultSettings returns full volume at normal speed.
func DefaultSettings() Settings {
	return Settings{ContentVolume: 1, EffectVolume: 1, PlaybackRate: 1}
}

// SettingsPatch is a partial update. Nil fields leave the current value alone.
type SettingsPatch struct {
	ContentVolume *float64
	EffectVolume  *float64
	PlaybackRate  *float64
}

// Merge returns s with every non-nil field of p applied. Values are clamped
// to their valid ranges; NaN values are ignored.
func (s Settings) Merge(p SettingsPatch) Settings {
	if v, ok := usable(p.ContentVolume); ok {
		s.ContentVolume = clamp(v, 0, 1)
	}
	if v, ok := usable(p.EffectVolume); ok {
		s.EffectVolume = clamp(v, 0, 1)
	}
	if v, ok := usable(p.PlaybackRate); ok {
		s.PlaybackRate = ClampPlaybackRate(v)
	}
	return s
}

// ClampPlaybackRate rounds r to two decimals and clamps it to
// [MinPlaybackRate, MaxPlaybackRate].
func ClampPlaybackRate(r float64) float64 {
	return clamp(math.Round(r*100)/100, MinPlaybackRate, MaxPlaybackRate)
}

func usable(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) {
		return 0, false
	}
	return *p, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// DecodeSettingsPatch parses the host settings payload. Only the "apps"
// section is read; a payload without it yields an empty patch.
func DecodeSettingsPatch(text string) (SettingsPatch, error) {
	var wire struct {
		Apps *struct {
			ContentVolume *float64 `json:"content_volume"`
			EffectVolume  *float64 `json:"effect_volume"`
		} `json:"apps"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return SettingsPatch{}, fmt.Errorf("catalog: decode settings: %w", err)
	}
	if wire.Apps == nil {
		return SettingsPatch{}, nil
	}
	return SettingsPatch{
		ContentVolume: wire.Apps.ContentVolume,
		EffectVolume:  wire.Apps.EffectVolume,
	}, nil
}
