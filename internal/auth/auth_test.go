package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lelangbot/bid-engine/internal/auth"
)

func tempStore(t *testing.T) *auth.Store {
	t.Helper()
	return auth.NewStore(filepath.Join(t.TempDir(), "cfg", "token.json"))
}

func TestStore_RoundTrip(t *testing.T) {
	store := tempStore(t)

	if _, err := store.Load(); !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("Load on empty store = %v, want ErrNoToken", err)
	}

	if err := store.Save(&auth.Token{AccessToken: "tok", RefreshToken: "ref"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok.AccessToken != "tok" || tok.RefreshToken != "ref" {
		t.Errorf("token = %+v", tok)
	}
	if tok.SavedAt.IsZero() {
		t.Error("SavedAt not stamped")
	}
}

func TestStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	store := auth.NewStore(path)
	if err := store.Save(&auth.Token{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	store := tempStore(t)
	if err := store.Save(&auth.Token{AccessToken: "tok"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, auth.ErrNoToken) {
		t.Errorf("Load after Clear = %v, want ErrNoToken", err)
	}
}

func TestLogin_PersistsTokenPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "user@example.com" || req.Password != "secret" {
			t.Errorf("credentials = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"token":         "tok-1",
			"refresh_token": "ref-1",
		})
	}))
	defer srv.Close()

	store := tempStore(t)
	client := auth.NewClient(srv.URL, store, srv.Client())

	if err := client.Login(context.Background(), "user@example.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	tok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok.AccessToken != "tok-1" || tok.RefreshToken != "ref-1" {
		t.Errorf("stored token = %+v", tok)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := auth.NewClient(srv.URL, tempStore(t), srv.Client())
	err := client.Login(context.Background(), "user@example.com", "wrong")
	if !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestRefresh_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["refresh_token"] != "ref-1" {
			t.Errorf("refresh_token = %q", req["refresh_token"])
		}
		// Server rotates only the access token.
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-2"})
	}))
	defer srv.Close()

	store := tempStore(t)
	store.Save(&auth.Token{AccessToken: "tok-1", RefreshToken: "ref-1"})
	client := auth.NewClient(srv.URL, store, srv.Client())

	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	tok, _ := store.Load()
	if tok.AccessToken != "tok-2" {
		t.Errorf("access token = %q, want tok-2", tok.AccessToken)
	}
	if tok.RefreshToken != "ref-1" {
		t.Errorf("refresh token = %q, want ref-1 carried over", tok.RefreshToken)
	}
}

func TestRefresh_WithoutRefreshToken(t *testing.T) {
	store := tempStore(t)
	store.Save(&auth.Token{AccessToken: "tok-1"})
	client := auth.NewClient("http://unused.invalid", store, nil)

	if err := client.Refresh(context.Background()); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestMe_ParsesProfileEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"id":    "user-9",
				"nama":  "Budi",
				"email": "budi@example.com",
			},
		})
	}))
	defer srv.Close()

	store := tempStore(t)
	store.Save(&auth.Token{AccessToken: "tok-1"})
	client := auth.NewClient(srv.URL, store, srv.Client())

	profile, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if profile.ID != "user-9" || profile.Name != "Budi" {
		t.Errorf("profile = %+v", profile)
	}
}
