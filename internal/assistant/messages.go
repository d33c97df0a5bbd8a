package assistant

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MessageKey names a localized string.
type MessageKey string

const (
	MsgWelcome        MessageKey = "welcome"
	MsgThinking       MessageKey = "thinking"
	MsgFailureTimeout MessageKey = "failure_timeout"
	MsgFailureRemote  MessageKey = "failure_remote"
	MsgFailureAuth    MessageKey = "failure_auth"
	MsgBusy           MessageKey = "busy"
	MsgCapability     MessageKey = "capability"
	MsgCaptureFailed  MessageKey = "capture_failed"
	MsgInterrupted    MessageKey = "interrupted"
	MsgRateLimited    MessageKey = "rate_limited"
)

// fallbackLanguage must exist in every catalog.
const fallbackLanguage = "es"

//go:embed messages.yaml
var defaultCatalog []byte

// Messages is a localized string catalog keyed by base language.
type Messages struct {
	byLang   map[string]map[MessageKey]string
	fallback string
}

// DefaultMessages returns the built-in catalog.
func DefaultMessages(defaultLang string) (*Messages, error) {
	return ParseMessages(defaultCatalog, defaultLang)
}

// ParseMessages decodes a YAML catalog. defaultLang is used when a requested
// language is missing; the catalog must contain it or "es".
func ParseMessages(data []byte, defaultLang string) (*Messages, error) {
	raw := make(map[string]map[MessageKey]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse message catalog: %w", err)
	}

	fallback := baseLanguage(defaultLang)
	if _, ok := raw[fallback]; !ok {
		fallback = fallbackLanguage
	}
	if _, ok := raw[fallback]; !ok {
		return nil, fmt.Errorf("message catalog has no %q entries", fallback)
	}

	byLang := make(map[string]map[MessageKey]string, len(raw))
	for lang, entries := range raw {
		byLang[strings.ToLower(lang)] = entries
	}
	return &Messages{byLang: byLang, fallback: fallback}, nil
}

// Get returns the string for key in lang, falling back to the default
// language and then to the key itself.
func (m *Messages) Get(lang string, key MessageKey) string {
	if entries, ok := m.byLang[baseLanguage(lang)]; ok {
		if s, ok := entries[key]; ok && s != "" {
			return s
		}
	}
	if s, ok := m.byLang[m.fallback][key]; ok && s != "" {
		return s
	}
	return string(key)
}

func baseLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return tag
}
