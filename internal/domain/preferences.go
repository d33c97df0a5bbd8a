package domain

import (
	"strings"
	"time"
)

// UserPreferences are durable per-user assistant settings.
type UserPreferences struct {
	UserID       string    `json:"user_id"`
	VoiceEnabled bool      `json:"voice_enabled"`
	Volume       float64   `json:"volume"`
	Rate         float64   `json:"rate"`
	Pitch        float64   `json:"pitch"`
	Language     string    `json:"language"`
	DarkTheme    bool      `json:"dark_theme"`
	AutoOpen     bool      `json:"auto_open"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultPreferences returns the settings used until the user saves their own.
func DefaultPreferences(userID, language string) UserPreferences {
	return UserPreferences{
		UserID:       userID,
		VoiceEnabled: true,
		Volume:       1,
		Rate:         1,
		Pitch:        1,
		Language:     language,
		DarkTheme:    true,
	}
}

// Normalize clamps numeric settings into the ranges speech engines accept
// and fills an empty language with fallback.
func (p UserPreferences) Normalize(fallback string) UserPreferences {
	p.Volume = clamp(p.Volume, 0, 1)
	p.Rate = clamp(p.Rate, 0.1, 10)
	p.Pitch = clamp(p.Pitch, 0, 2)
	p.Language = strings.TrimSpace(p.Language)
	if p.Language == "" {
		p.Language = fallback
	}
	return p
}

// BaseLanguage returns the primary subtag of the language tag ("es-ES" -> "es").
func (p UserPreferences) BaseLanguage() string {
	lang := strings.ToLower(p.Language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
