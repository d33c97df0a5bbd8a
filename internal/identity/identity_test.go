package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
)

func TestMiddlewareAssignsIdentityAndDialog(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "zeus.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	var gotUser, gotDialog string
	handler := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotDialog = DialogIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/assistant/preferences", nil)
	req.Header.Set(DialogHeaderName, "tab-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("expected generated artist id, got %q", gotUser)
	}
	if gotDialog != "tab-7" {
		t.Fatalf("expected dialog id tab-7, got %q", gotDialog)
	}
	user, err := repo.GetUser(req.Context(), gotUser)
	if err != nil || user == nil {
		t.Fatalf("expected user to be created, got %v, %v", user, err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != gotUser {
		t.Fatalf("expected identity cookie, got %+v", cookies)
	}

	// The cookie is honored on the next request.
	again := httptest.NewRequest(http.MethodGet, "/?dialog_id=bad%20id", nil)
	again.AddCookie(cookies[0])
	handler.ServeHTTP(httptest.NewRecorder(), again)
	if gotUser != cookies[0].Value {
		t.Fatalf("expected cookie identity %q, got %q", cookies[0].Value, gotUser)
	}
	if gotDialog != DefaultDialogIDValue {
		t.Fatalf("expected invalid dialog id to fall back, got %q", gotDialog)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	if got := IPFromRequest(req); got != "192.0.2.10" {
		t.Fatalf("expected host only, got %q", got)
	}
	req.RemoteAddr = "garbage"
	if got := IPFromRequest(req); got != "garbage" {
		t.Fatalf("expected raw addr, got %q", got)
	}
}
