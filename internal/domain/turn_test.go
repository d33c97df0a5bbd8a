package domain

import (
	"testing"
	"time"
)

func TestTurnPatchResolvesPendingInPlace(t *testing.T) {
	t.Parallel()

	ts := time.Unix(100, 0)
	pending := Pending("t1", "thinking", ts)

	got, err := Resolve(TurnCommitted, "hola").Apply(pending)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got.TurnID != "t1" || got.Status != TurnCommitted || got.Content != "hola" {
		t.Fatalf("unexpected turn: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp changed: %v", got.Timestamp)
	}

	if _, err := Resolve(TurnFailed, "x").Apply(got); err == nil {
		t.Fatal("expected committed turn to reject a status change")
	}
}

func TestTurnValidateRejectsEmptyCommitted(t *testing.T) {
	t.Parallel()

	if err := Committed("t1", RoleUser, "", time.Now()).Validate(); err == nil {
		t.Fatal("expected empty committed turn to be invalid")
	}
	if err := Pending("t2", "", time.Now()).Validate(); err != nil {
		t.Fatalf("pending turn should allow empty content: %v", err)
	}
}

func TestCommittedHistoryKeepsMostRecent(t *testing.T) {
	t.Parallel()

	var turns []Turn
	for i := 0; i < 30; i++ {
		turns = append(turns, Committed(string(rune('a'+i%26)), RoleUser, "m", time.Unix(int64(i), 0)))
	}
	turns = append(turns, Pending("p", "", time.Unix(99, 0)))

	got := CommittedHistory(turns, 20)
	if len(got) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(got))
	}
	if got[0].Timestamp.Unix() != 10 || got[19].Timestamp.Unix() != 29 {
		t.Fatalf("unexpected window: first=%v last=%v", got[0].Timestamp, got[19].Timestamp)
	}
}

func TestPreferencesNormalize(t *testing.T) {
	t.Parallel()

	p := UserPreferences{Volume: 3, Rate: 0, Pitch: -1}.Normalize("es-ES")
	if p.Volume != 1 || p.Rate != 0.1 || p.Pitch != 0 {
		t.Fatalf("unexpected clamp result: %+v", p)
	}
	if p.Language != "es-ES" || p.BaseLanguage() != "es" {
		t.Fatalf("unexpected language: %q / %q", p.Language, p.BaseLanguage())
	}
}
