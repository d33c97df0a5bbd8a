package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":    {nil, false},
		"busy":   {errors.New("sqlite: step: SQLITE_BUSY"), true},
		"locked": {errors.New("database is locked (5)"), true},
		"other":  {errors.New("no such table"), false},
	}
	for name, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", name, got, tc.want)
		}
	}
}

func TestRetryOnConflictRetriesOnlyConflicts(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := RetryOnConflict(context.Background(), policy, "busy", func() error {
		calls++
		if calls < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	fatal := errors.New("constraint failed")
	err = RetryOnConflict(context.Background(), policy, "fatal", func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expected immediate failure, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = RetryOnConflict(context.Background(), policy, "exhausted", func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected exhaustion after 3 attempts, got err=%v calls=%d", err, calls)
	}
}
