// Package auth handles OAuth2 authentication and per-user Gmail token
// management. Tokens are stored one file per user under <data>/tokens/,
// sealed with AES-GCM so a leaked data directory does not leak refresh
// tokens. OAuth client credentials come from the service configuration or a
// Google Cloud Console credentials.json.
package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/mailsteward/mailsteward/internal/config"
	"github.com/mailsteward/mailsteward/internal/model"
)

// Manager exchanges, stores, and refreshes per-user OAuth tokens.
type Manager struct {
	mu        sync.Mutex
	tokensDir string
	google    config.GoogleConfig
	key       []byte
	// pending maps OAuth state strings to the user awaiting a callback.
	pending map[string]string
}

// NewManager creates a token manager. key must be a hex-encoded 32-byte AES
// key; when empty, a key is generated and persisted next to the tokens.
func NewManager(tokensDir string, g config.GoogleConfig, key string) (*Manager, error) {
	if err := os.MkdirAll(tokensDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tokens directory: %w", err)
	}
	raw, err := loadOrCreateKey(tokensDir, key)
	if err != nil {
		return nil, err
	}
	return &Manager{
		tokensDir: tokensDir,
		google:    g,
		key:       raw,
		pending:   make(map[string]string),
	}, nil
}

func loadOrCreateKey(dir, hexKey string) ([]byte, error) {
	if hexKey != "" {
		raw, err := hex.DecodeString(hexKey)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("token key must be 64 hex characters (32 bytes)")
		}
		return raw, nil
	}
	path := filepath.Join(dir, ".key")
	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("corrupt token key file %s", path)
		}
		return raw, nil
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating token key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)), 0o600); err != nil {
		return nil, fmt.Errorf("persisting token key: %w", err)
	}
	return raw, nil
}

// oauthConfig builds the oauth2.Config from either a credentials.json file
// or the inline client id/secret.
func (m *Manager) oauthConfig(scopes []string) (*oauth2.Config, error) {
	if m.google.CredentialsFile != "" {
		data, err := os.ReadFile(m.google.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		cfg, err := google.ConfigFromJSON(data, scopes...)
		if err != nil {
			return nil, fmt.Errorf("parsing credentials file: %w", err)
		}
		if m.google.RedirectURL != "" {
			cfg.RedirectURL = m.google.RedirectURL
		}
		return cfg, nil
	}
	if m.google.ClientID == "" || m.google.ClientSecret == "" {
		return nil, fmt.Errorf("no Google OAuth client configured; set GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET or GOOGLE_CREDENTIALS_FILE")
	}
	return &oauth2.Config{
		ClientID:     m.google.ClientID,
		ClientSecret: m.google.ClientSecret,
		RedirectURL:  m.google.RedirectURL,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}, nil
}

func (m *Manager) tokenPath(userID string) string {
	return filepath.Join(m.tokensDir, userID+".token")
}

// HasToken reports whether a sealed token exists for the user.
func (m *Manager) HasToken(userID string) bool {
	_, err := os.Stat(m.tokenPath(userID))
	return err == nil
}

// RemoveToken deletes the user's stored token.
func (m *Manager) RemoveToken(userID string) error {
	err := os.Remove(m.tokenPath(userID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token for %s: %w", userID, err)
	}
	return nil
}

func (m *Manager) saveToken(userID string, token *oauth2.Token) error {
	plain, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	sealed, err := m.seal(plain)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.tokenPath(userID), sealed, 0o600); err != nil {
		return fmt.Errorf("writing token for %s: %w", userID, err)
	}
	return nil
}

func (m *Manager) loadToken(userID string) (*oauth2.Token, error) {
	sealed, err := os.ReadFile(m.tokenPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.Unauthorizedf("user %s has no stored Gmail authorization", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading token for %s: %w", userID, err)
	}
	plain, err := m.open(sealed)
	if err != nil {
		return nil, fmt.Errorf("unsealing token for %s: %w", userID, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(plain, &token); err != nil {
		return nil, fmt.Errorf("parsing token for %s: %w", userID, err)
	}
	return &token, nil
}

func (m *Manager) seal(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (m *Manager) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed token too short")
	}
	return gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
}

// StartAuth begins the authorization code flow for a user and returns the
// consent URL plus the state string. The flow completes when CompleteAuth is
// called with the same state.
func (m *Manager) StartAuth(userID string, scopes []string) (authURL, state string, err error) {
	cfg, err := m.oauthConfig(scopes)
	if err != nil {
		return "", "", err
	}
	state = uuid.NewString()
	m.mu.Lock()
	m.pending[state] = userID
	m.mu.Unlock()
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state, nil
}

// CompleteAuth exchanges the authorization code delivered to the callback
// and stores the sealed token. Returns the user the flow belonged to.
func (m *Manager) CompleteAuth(ctx context.Context, state, code string, scopes []string) (string, error) {
	m.mu.Lock()
	userID, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.mu.Unlock()
	if !ok {
		return "", model.Unauthorizedf("unknown OAuth state")
	}
	cfg, err := m.oauthConfig(scopes)
	if err != nil {
		return "", err
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchanging auth code: %w", err)
	}
	if err := m.saveToken(userID, token); err != nil {
		return "", err
	}
	return userID, nil
}

// Authenticate runs the full browser consent flow for a user, with a local
// callback listener. Used by the CLI; the MCP authenticate tool uses
// StartAuth/CompleteAuth instead.
func (m *Manager) Authenticate(ctx context.Context, userID string, scopes []string) error {
	cfg, err := m.oauthConfig(scopes)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting local listener: %w", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)

	type authResult struct {
		code string
		err  error
	}
	resultCh := make(chan authResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			resultCh <- authResult{err: fmt.Errorf("oauth error: %s", errMsg)}
			fmt.Fprintf(w, "Authorization failed: %s. You can close this tab.", errMsg)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			resultCh <- authResult{err: fmt.Errorf("no authorization code received")}
			fmt.Fprint(w, "No authorization code received. You can close this tab.")
			return
		}
		resultCh <- authResult{code: code}
		fmt.Fprint(w, "Authorization successful! You can close this tab.")
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			resultCh <- authResult{err: fmt.Errorf("callback server error: %w", err)}
		}
	}()
	defer server.Shutdown(ctx) //nolint:errcheck

	authURL := cfg.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("\nOpen this URL in your browser to authorize user %q:\n\n%s\n\nWaiting for authorization...\n", userID, authURL)

	select {
	case result := <-resultCh:
		if result.err != nil {
			return result.err
		}
		token, err := cfg.Exchange(ctx, result.code)
		if err != nil {
			return fmt.Errorf("exchanging auth code for token: %w", err)
		}
		return m.saveToken(userID, token)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TokenSource returns a token source for the user that refreshes expired
// tokens and persists the refreshed token back to the sealed file.
func (m *Manager) TokenSource(ctx context.Context, userID string, scopes []string) (oauth2.TokenSource, error) {
	token, err := m.loadToken(userID)
	if err != nil {
		return nil, err
	}
	cfg, err := m.oauthConfig(scopes)
	if err != nil {
		return nil, err
	}
	return &persistingTokenSource{
		base:    cfg.TokenSource(ctx, token),
		manager: m,
		userID:  userID,
		orig:    token,
	}, nil
}

// ClientOption returns a Google API client option for the user.
func (m *Manager) ClientOption(ctx context.Context, userID string, scopes []string) (option.ClientOption, error) {
	ts, err := m.TokenSource(ctx, userID, scopes)
	if err != nil {
		return nil, err
	}
	return option.WithTokenSource(ts), nil
}

// persistingTokenSource wraps a token source and saves refreshed tokens.
type persistingTokenSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	manager *Manager
	userID  string
	orig    *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.orig.AccessToken {
		s.orig = token
		_ = s.manager.saveToken(s.userID, token) // best-effort persist
	}
	return token, nil
}
