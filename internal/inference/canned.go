package inference

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// CannedReply maps keywords to a fixed answer. A keyword matches a whole
// word of the prompt; keywords of minStemLength runes or more also match
// as the start of a word, so "royalt" matches "royalties".
type CannedReply struct {
	Keywords []string
	Text     string
}

// CannedClient answers from a keyword table. It backs local development and
// the CLI when no inference endpoint is configured.
type CannedClient struct {
	replies  []CannedReply
	fallback string
	latency  time.Duration
}

// DefaultCannedReplies covers the common artist-management questions.
var DefaultCannedReplies = []CannedReply{
	{Keywords: []string{"estadística", "estadisticas", "stats", "statistics"}, Text: "Tus reproducciones crecieron un 12% esta semana."},
	{Keywords: []string{"concierto", "gira", "concert", "tour"}, Text: "Tu próximo concierto es el viernes a las 21:00."},
	{Keywords: []string{"regalía", "regalias", "royalt"}, Text: "Las regalías del último trimestre ya están disponibles."},
	{Keywords: []string{"hola", "hello", "hi"}, Text: "¡Hola! ¿En qué te puedo ayudar?"},
}

// NewCannedClient creates a client. A nil table uses DefaultCannedReplies.
func NewCannedClient(replies []CannedReply, fallback string, latency time.Duration) *CannedClient {
	if replies == nil {
		replies = DefaultCannedReplies
	}
	if fallback == "" {
		fallback = "Todavía no tengo una respuesta para eso."
	}
	return &CannedClient{replies: replies, fallback: fallback, latency: latency}
}

// Generate picks the first entry with a keyword matching a prompt word.
func (c *CannedClient) Generate(ctx context.Context, req Request) (Reply, error) {
	if c.latency > 0 {
		timer := time.NewTimer(c.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			if mapped := classifyContext(ctx.Err()); mapped != nil {
				return Reply{}, mapped
			}
			return Reply{}, ctx.Err()
		}
	}

	words := promptWords(req.Prompt)
	text := c.fallback
	for _, r := range c.replies {
		if matchesAny(words, r.Keywords) {
			text = r.Text
			break
		}
	}
	return Reply{MessageID: uuid.NewString(), Text: text}, nil
}

const minStemLength = 4

func promptWords(prompt string) []string {
	return strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchesAny(words, keywords []string) bool {
	for _, k := range keywords {
		k = strings.ToLower(k)
		stem := utf8.RuneCountInString(k) >= minStemLength
		for _, w := range words {
			if w == k || (stem && strings.HasPrefix(w, k)) {
				return true
			}
		}
	}
	return false
}

var _ Client = (*CannedClient)(nil)
