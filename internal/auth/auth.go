// Package auth manages the marketplace bearer token: file storage between
// CLI invocations, credential login, profile lookup, and refresh.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoToken means no stored token was found; the user must log in.
	ErrNoToken = errors.New("auth: no stored token, run login first")

	// ErrUnauthorized means the marketplace rejected the token and a
	// refresh did not help. During an active bidding session this is
	// fatal; no automatic re-login is attempted.
	ErrUnauthorized = errors.New("auth: token rejected by server")
)

// Token is the stored credential set.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// Store reads and writes the token file.
type Store struct {
	path string
}

// NewStore creates a token store at the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored token or ErrNoToken.
func (s *Store) Load() (*Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

// Save writes the token file, creating the parent directory if needed.
// The file is written with 0600 since it holds a live credential.
func (s *Store) Save(tok *Token) error {
	tok.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// Clear removes the token file. Missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// Client performs authentication calls against the marketplace auth API.
type Client struct {
	baseURL string
	http    *http.Client
	store   *Store
}

// NewClient creates an auth client. Pass nil for hc to use a default
// client with a 30s timeout.
func NewClient(baseURL string, store *Store, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, http: hc, store: store}
}

// Store exposes the underlying token store.
func (c *Client) Store() *Store { return c.store }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges credentials for a token pair and persists it.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("encode login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: HTTP %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("login failed: %s", lr.Message)
	}
	return c.store.Save(&Token{AccessToken: lr.Token, RefreshToken: lr.RefreshToken})
}

// Profile is the subset of the /me response the CLI displays.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"nama"`
	Email string `json:"email"`
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	tok, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile failed: HTTP %d", resp.StatusCode)
	}

	var envelope struct {
		Data Profile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode profile response: %w", err)
	}
	return &envelope.Data, nil
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges the stored refresh token for a new token pair and
// persists it. Returns ErrUnauthorized when the refresh token itself has
// expired.
func (c *Client) Refresh(ctx context.Context) error {
	tok, err := c.store.Load()
	if err != nil {
		return err
	}
	if tok.RefreshToken == "" {
		return ErrUnauthorized
	}
	body, err := json.Marshal(map[string]string{"refresh_token": tok.RefreshToken})
	if err != nil {
		return fmt.Errorf("encode refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token/refresh", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh failed: HTTP %d", resp.StatusCode)
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if rr.Token == "" {
		return ErrUnauthorized
	}
	next := &Token{AccessToken: rr.Token, RefreshToken: rr.RefreshToken}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	return c.store.Save(next)
}

// AccessToken returns the current access token string.
func (c *Client) AccessToken() (string, error) {
	tok, err := c.store.Load()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
