package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// ErrCredentials marks a missing, invalid or unrefreshable credential. It is
// a setup failure: no fetch is attempted when it is returned.
var ErrCredentials = errors.New("google credentials unavailable")

// Scopes requested during consent. Read-only access is all the coordinator needs.
var Scopes = []string{
	drive.DriveReadonlyScope,
	"https://www.googleapis.com/auth/documents.readonly",
}

type Config struct {
	CredentialsPath string
	TokenPath       string
}

// LoadOAuthConfig reads the OAuth client secrets downloaded from the cloud console.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading client secrets %s: %v", ErrCredentials, path, err)
	}
	oc, err := google.ConfigFromJSON(raw, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing client secrets: %v", ErrCredentials, err)
	}
	return oc, nil
}

// TokenSource returns a refreshable token source backed by the stored token.
// It verifies that a valid access token can be obtained right away, so a
// revoked or expired refresh token surfaces as ErrCredentials at startup.
// Refreshed tokens are written back to cfg.TokenPath.
func TokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	oc, err := LoadOAuthConfig(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	ts := NewPersistingTokenSource(oc.TokenSource(ctx, tok), cfg.TokenPath, tok)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: refreshing token: %v", ErrCredentials, err)
	}
	return ts, nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no token at %s (run `coordinator auth` first)", ErrCredentials, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading token: %v", ErrCredentials, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: decoding token: %v", ErrCredentials, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token at %s is empty", ErrCredentials, path)
	}
	return &tok, nil
}

// SaveToken writes tok with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting token permissions: %w", err)
	}
	return nil
}

type persistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

// NewPersistingTokenSource saves every newly issued token to path.
func NewPersistingTokenSource(base oauth2.TokenSource, path string, initial *oauth2.Token) oauth2.TokenSource {
	ts := &persistingTokenSource{base: base, path: path}
	if initial != nil {
		ts.last = initial.AccessToken
	}
	return ts
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "path", s.path, "error", err)
		} else {
			slog.Debug("persisted refreshed token", "path", s.path, "expiry", tok.Expiry)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// Authorize runs the installed-app consent flow with a loopback redirect and
// stores the resulting token. The consent URL is written to out.
func Authorize(ctx context.Context, cfg Config, out io.Writer) error {
	oc, err := LoadOAuthConfig(cfg.CredentialsPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listening for oauth redirect: %w", err)
	}
	defer ln.Close()
	oc.RedirectURL = fmt.Sprintf("http://%s/", ln.Addr().String())

	state, err := randomState()
	if err != nil {
		return err
	}

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           callbackHandler(state, codes, errs),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	url := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in your browser to authorize read-only access:\n\n  %s\n\n", url)

	var code string
	select {
	case code = <-codes:
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: exchanging code: %v", ErrCredentials, err)
	}
	if err := SaveToken(cfg.TokenPath, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.TokenPath)
	return nil
}

// callbackHandler accepts the consent redirect. Only the first outcome is
// delivered; repeated redirects are answered without blocking.
func callbackHandler(state string, codes chan<- string, errs chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "authorization denied", http.StatusForbidden)
			select {
			case errs <- fmt.Errorf("%w: consent denied: %s", ErrCredentials, e):
			default:
			}
			return
		}
		_, _ = io.WriteString(w, "Authorization complete. You can close this tab.\n")
		select {
		case codes <- q.Get("code"):
		default:
		}
	}
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
