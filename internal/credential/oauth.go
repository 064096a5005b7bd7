package credential

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// ErrAuthorizationDenied is returned when the consent redirect carries an
// error instead of a code.
var ErrAuthorizationDenied = errors.New("authorization denied")

// LoadConfig reads an installed-app client secret file as downloaded from
// the Google Cloud console and returns a read-only Gmail OAuth2 config.
func LoadConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return cfg, nil
}

// Authenticator produces an authenticated HTTP client, running the browser
// consent flow when no usable token is stored.
type Authenticator struct {
	config *oauth2.Config
	store  TokenStore

	// OpenURL presents the consent URL to the user. The default logs it.
	OpenURL func(url string) error

	// ListenAddr is the loopback address the redirect is received on.
	ListenAddr string

	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(config *oauth2.Config, store TokenStore, logger zerolog.Logger) *Authenticator {
	a := &Authenticator{
		config:     config,
		store:      store,
		ListenAddr: "127.0.0.1:0",
		logger:     logger.With().Str("component", "credential").Logger(),
	}
	a.OpenURL = func(url string) error {
		a.logger.Info().Str("url", url).Msg("Open this URL in a browser to authorize read-only Gmail access")
		return nil
	}
	return a
}

// Client returns an HTTP client that authorizes every request. Refreshed
// tokens are written back to the store.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	tok, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		base:   a.config.TokenSource(ctx, tok),
		store:  a.store,
		last:   tok.AccessToken,
		logger: a.logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// Token returns the stored token, or obtains and stores a new one through
// the consent flow.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := a.store.Load()
	switch {
	case err == nil && (tok.Valid() || tok.RefreshToken != ""):
		a.logger.Debug().Msg("Using stored token")
		return tok, nil
	case err != nil && !errors.Is(err, ErrNoToken):
		a.logger.Warn().Err(err).Msg("Ignoring unreadable stored token")
	}

	tok, err = a.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(tok); err != nil {
		a.logger.Error().Err(err).Msg("Failed to store token")
	}
	return tok, nil
}

type callback struct {
	code string
	err  error
}

// authorize runs the loopback redirect flow for installed applications.
func (a *Authenticator) authorize(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", a.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for oauth redirect: %w", err)
	}

	cfg := *a.config
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	results := make(chan callback, 1)
	var once sync.Once
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			var cb callback
			switch {
			case q.Get("state") != state:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				cb.err = fmt.Errorf("%w: %s", ErrAuthorizationDenied, q.Get("error"))
			default:
				cb.code = q.Get("code")
			}
			_, _ = fmt.Fprintln(w, "Authorization received. You can close this window.")
			once.Do(func() { results <- cb })
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
	if err := a.OpenURL(authURL); err != nil {
		return nil, fmt.Errorf("open authorization url: %w", err)
	}

	var cb callback
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case cb = <-results:
	}
	if cb.err != nil {
		return nil, cb.err
	}

	tok, err := cfg.Exchange(ctx, cb.code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	a.logger.Info().Msg("Authorization complete")
	return tok, nil
}

// persistingSource saves every newly minted token.
type persistingSource struct {
	base   oauth2.TokenSource
	store  TokenStore
	mu     sync.Mutex
	last   string
	logger zerolog.Logger
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.store.Save(tok); err != nil {
			s.logger.Error().Err(err).Msg("Failed to store refreshed token")
		}
	}
	return tok, nil
}
