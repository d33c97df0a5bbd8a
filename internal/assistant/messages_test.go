package assistant

import (
	"testing"
)

func TestMessagesFallback(t *testing.T) {
	t.Parallel()

	msgs, err := DefaultMessages("es-ES")
	if err != nil {
		t.Fatalf("DefaultMessages failed: %v", err)
	}

	tests := []struct {
		lang string
		key  MessageKey
		want string
	}{
		{lang: "en-US", key: MsgBusy, want: "I'm still working on your previous message."},
		{lang: "EN", key: MsgBusy, want: "I'm still working on your previous message."},
		{lang: "es_MX", key: MsgBusy, want: "Ya estoy procesando tu mensaje anterior."},
		{lang: "fr-FR", key: MsgBusy, want: "Ya estoy procesando tu mensaje anterior."},
		{lang: "", key: MessageKey("missing"), want: "missing"},
	}
	for _, tt := range tests {
		if got := msgs.Get(tt.lang, tt.key); got != tt.want {
			t.Errorf("Get(%q, %q) = %q, want %q", tt.lang, tt.key, got, tt.want)
		}
	}
}

func TestParseMessagesDefaultLanguage(t *testing.T) {
	t.Parallel()

	catalog := []byte("en:\n  welcome: Hello\nes:\n  welcome: Hola\n")
	msgs, err := ParseMessages(catalog, "en-GB")
	if err != nil {
		t.Fatalf("ParseMessages failed: %v", err)
	}
	if got := msgs.Get("de", MsgWelcome); got != "Hello" {
		t.Fatalf("expected default language fallback, got %q", got)
	}

	if _, err := ParseMessages([]byte("de:\n  welcome: Hallo\n"), "de-DE"); err != nil {
		t.Fatalf("catalog with default language present should parse: %v", err)
	}
	if _, err := ParseMessages([]byte("de:\n  welcome: Hallo\n"), "en"); err == nil {
		t.Fatal("expected error when neither default nor es is present")
	}
	if _, err := ParseMessages([]byte(":\n- ["), "es"); err == nil {
		t.Fatal("expected parse error")
	}
}
