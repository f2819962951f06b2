package drive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jkarvonen/topdf/internal/tokenfile"
)

// ScopeDriveFile limits access to files this app creates or opens. The
// converter never needs to see the rest of the user's Drive.
const ScopeDriveFile = "https://www.googleapis.com/auth/drive.file"

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// OAuthSettings carries the installed-app client credentials and token
// location. Built by the CLI from resolved config.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
}

// validate rejects missing credentials before any flow starts, so the user
// gets a pointed message instead of an opaque 401 from the token endpoint.
func (s OAuthSettings) validate() error {
	if s.ClientID == "" || s.ClientSecret == "" {
		return errors.New("drive: missing OAuth2 client credentials — set auth.client_id/client_secret " +
			"in the config file or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET in the environment")
	}

	return nil
}

// oauthConfig builds the oauth2.Config for Google's endpoints with the
// drive.file scope.
func (s OAuthSettings) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Scopes:       []string{ScopeDriveFile},
		Endpoint:     google.Endpoint,
	}
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on a random port
//  2. Opens the browser to Google's authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//  5. Saves the token to disk at settings.TokenPath
//  6. Returns a TokenSource for use with Client
//
// openURL is called with the authorization URL; the CLI uses it to launch
// the default browser. If openURL returns an error, the URL is printed to
// stderr so the user can open it manually.
func LoginWithBrowser(
	ctx context.Context,
	settings OAuthSettings,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	return doAuthCodeLogin(ctx, settings.oauthConfig(), settings.TokenPath, openURL, logger)
}

// doAuthCodeLogin implements the authorization code + PKCE flow. Accepts a
// pre-built oauth2.Config so tests can inject a mock endpoint.
func doAuthCodeLogin(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("path", tokenPath),
	)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d/", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("drive: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	// access_type=offline is what makes Google return a refresh token.
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	return exchangeAndSave(ctx, cfg, tokenPath, code, verifier, logger)
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with
// the given mux. Returns the server, the bound port, and any error.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("drive: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("drive: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("drive: callback server error: %w", serveErr)}
		}
	}()

	return srv, port, nil
}

// registerCallbackHandler adds the callback route to the mux.
// Must be called before the browser redirects back.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Validate state to prevent CSRF.
	if r.URL.Query().Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("drive: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	// Check for error from the authorization server.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		desc := r.URL.Query().Get("error_description")
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("drive: authorization failed: %s: %s", errParam, desc)}

		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("drive: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Best-effort shutdown — log but don't propagate since we're in a defer.
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr as a fallback so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("drive: browser auth canceled: %w", ctx.Err())
	}
}

// exchangeAndSave exchanges the auth code for a token and persists it.
func exchangeAndSave(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath, code, verifier string,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("drive: token exchange failed: %w", err)
	}

	if saveErr := tokenfile.Save(tokenPath, tok, nil); saveErr != nil {
		return nil, fmt.Errorf("drive: saving token: %w", saveErr)
	}

	logger.Info("browser login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return newPersistingSource(cfg.TokenSource(ctx, tok), tok, tokenPath, nil, logger), nil
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource with
// silent refresh; refreshed tokens are persisted back to the same file.
// Returns ErrNotLoggedIn if no token file exists at the path.
//
// The returned TokenSource binds ctx to the underlying oauth2 token source.
// ctx must outlive the TokenSource — pass context.Background() for
// long-lived sessions such as watch mode.
func TokenSourceFromPath(ctx context.Context, settings OAuthSettings, logger *slog.Logger) (TokenSource, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	tok, meta, err := tokenfile.Load(settings.TokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Debug("loaded saved token",
		slog.String("path", settings.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	src := settings.oauthConfig().TokenSource(ctx, tok)

	return newPersistingSource(src, tok, settings.TokenPath, meta, logger), nil
}

// ServiceAccountTokenSource builds a TokenSource from a service-account JSON
// key file, skipping the browser flow entirely. Nothing is persisted —
// service-account tokens are minted on demand from the key.
func ServiceAccountTokenSource(ctx context.Context, keyPath string, logger *slog.Logger) (TokenSource, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("drive: reading service account key %s: %w", keyPath, err)
	}

	jwtCfg, err := google.JWTConfigFromJSON(data, ScopeDriveFile)
	if err != nil {
		return nil, fmt.Errorf("drive: parsing service account key %s: %w", keyPath, err)
	}

	logger.Info("using service account credentials",
		slog.String("path", keyPath),
		slog.String("email", jwtCfg.Email),
	)

	return &tokenBridge{src: jwtCfg.TokenSource(ctx), logger: logger}, nil
}

// Logout removes the saved token file at the given path.
// Returns nil if the token file does not exist (already logged out).
func Logout(tokenPath string, logger *slog.Logger) error {
	if err := tokenfile.Remove(tokenPath); err != nil {
		return err
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// persistingSource adapts oauth2.TokenSource to drive.TokenSource and writes
// the token file whenever the access token changes, so silent refreshes
// survive process restarts. oauth2.ReuseTokenSource handles the actual
// refresh; we only observe its output.
type persistingSource struct {
	src       oauth2.TokenSource
	tokenPath string
	meta      map[string]string
	logger    *slog.Logger

	mu         sync.Mutex
	lastAccess string
}

func newPersistingSource(
	src oauth2.TokenSource, current *oauth2.Token, tokenPath string,
	meta map[string]string, logger *slog.Logger,
) *persistingSource {
	return &persistingSource{
		src:        src,
		tokenPath:  tokenPath,
		meta:       meta,
		logger:     logger,
		lastAccess: current.AccessToken,
	}
}

func (p *persistingSource) Token() (string, error) {
	t, err := p.src.Token()
	if err != nil {
		p.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	p.mu.Lock()
	changed := t.AccessToken != p.lastAccess
	if changed {
		p.lastAccess = t.AccessToken
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("token refreshed", slog.Time("new_expiry", t.Expiry))

		if saveErr := tokenfile.Save(p.tokenPath, t, p.meta); saveErr != nil {
			// Persistence failure is not fatal — the in-memory token still works.
			p.logger.Warn("failed to persist refreshed token",
				slog.String("path", p.tokenPath),
				slog.String("error", saveErr.Error()),
			)
		}
	}

	return t.AccessToken, nil
}

// tokenBridge adapts oauth2.TokenSource to drive.TokenSource without
// persistence, for service-account credentials.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("drive: obtaining token: %w", err)
	}

	return t.AccessToken, nil
}
