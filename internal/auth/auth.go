// Package auth implements the OAuth device-code login flow and the
// mutex-serialized validate() state machine that restores or establishes a
// session against the platform (spec.md §4.5), generalized from the
// teacher's OAuth Provider/Exchange/UserInfo shape (auth/auth.go,
// auth/github.go) to a device-code grant instead of an authorization-code
// exchange.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	dmerrors "github.com/dropsminer/core/internal/errors"
	"github.com/dropsminer/core/internal/httpclient"
	"github.com/dropsminer/core/internal/logger"
)

// The OAuth endpoints are variables rather than constants so tests can
// point them at a local server.
var (
	deviceEndpoint   = "https://id.twitch.tv/oauth2/device"
	tokenEndpoint    = "https://id.twitch.tv/oauth2/token"
	validateEndpoint = "https://id.twitch.tv/oauth2/validate"
)

const hexLower = "0123456789abcdef"

// Prompter surfaces a device-code login challenge to whatever is running
// the process (a CLI prompt, a GUI dialog). It is the generalized
// replacement for the original implementation's ask_enter_code GUI call.
type Prompter interface {
	AskEnterCode(ctx context.Context, verificationURI, userCode string) error
}

// ConsolePrompter logs the device code at Info level via the package logger
// (stdout with the console encoder, stderr with JSON output); it is the
// default Prompter for headless/CLI operation.
type ConsolePrompter struct{}

func (ConsolePrompter) AskEnterCode(_ context.Context, verificationURI, userCode string) error {
	logger.Infow("enter the code below to finish logging in",
		"verification_uri", verificationURI, "user_code", userCode)
	return nil
}

// State holds the credentials and identifiers a logged-in session needs,
// and the one-shot gate dependents await before issuing authenticated
// requests. validate() is the only place that mutates it, and is itself
// serialized by mu so concurrent callers collapse onto a single attempt.
type State struct {
	mu sync.Mutex

	session     *httpclient.Session
	client      ClientInfo
	prompt      Prompter
	cookiesPath string

	sessionID     string
	deviceID      string
	accessToken   string
	userID        int
	clientVersion string

	loggedInOnce sync.Once
	loggedIn     chan struct{}
}

// New builds a State bound to session for all Twitch API traffic and
// cookiesPath as the file validate() deletes entirely on a client-id
// mismatch (the jar itself is already persisted through session.Close).
func New(session *httpclient.Session, client ClientInfo, prompt Prompter, cookiesPath string) *State {
	if prompt == nil {
		prompt = ConsolePrompter{}
	}
	return &State{
		session:     session,
		client:      client,
		prompt:      prompt,
		cookiesPath: cookiesPath,
		loggedIn:    make(chan struct{}),
	}
}

// LoggedIn returns a channel closed once validate() has completed
// successfully at least once; dependents select on it before using
// UserID/AccessToken.
func (s *State) LoggedIn() <-chan struct{} {
	return s.loggedIn
}

func (s *State) markLoggedIn() {
	s.loggedInOnce.Do(func() { close(s.loggedIn) })
}

// UserID returns the authenticated user's numeric id. Only meaningful after
// LoggedIn() has fired.
func (s *State) UserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// AccessToken returns the current bearer token. Only meaningful after
// LoggedIn() has fired; the websocket pool uses it to authenticate
// LISTEN/UNLISTEN requests (spec.md §4.7).
func (s *State) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// Invalidate clears the access token, forcing the next Validate to restore
// or re-authenticate.
func (s *State) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
}

// Validate restores or establishes the session, serialized so a second
// caller racing the first simply waits for it rather than double-logging
// in. Each step is idempotent and skipped when already satisfied, matching
// the original implementation's _hasattrs checks.
func (s *State) Validate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessionID == "" {
		s.sessionID = createNonce(hexLower, 16)
	}

	if s.deviceID == "" {
		if err := s.adoptDeviceID(ctx); err != nil {
			return dmerrors.Wrap(err, "auth: adopt device id")
		}
	}

	if s.accessToken == "" || s.userID == 0 {
		if err := s.establishToken(ctx); err != nil {
			return dmerrors.Wrap(err, "auth: establish session")
		}
	}

	s.markLoggedIn()
	return nil
}

// ValidateAndGQLHeaders validates the session and returns the headers a
// GraphQL request needs, satisfying gql.HeaderSource.
func (s *State) ValidateAndGQLHeaders(ctx context.Context) (http.Header, error) {
	if err := s.Validate(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headersLocked(true), nil
}

// Headers builds the headers for a non-GraphQL API request; it does not
// validate first, since REST-ish calls (e.g. the initial client-URL GET
// used to mint device_id) must work before a token exists.
func (s *State) Headers() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headersLocked(false)
}

func (s *State) headersLocked(gql bool) http.Header {
	h := http.Header{
		"Accept":          {"*/*"},
		"Accept-Encoding": {"gzip"},
		"Accept-Language": {"en-US"},
		"Pragma":          {"no-cache"},
		"Cache-Control":   {"no-cache"},
		"Client-Id":       {s.client.ClientID},
	}
	if s.sessionID != "" {
		h.Set("Client-Session-Id", s.sessionID)
	}
	if s.deviceID != "" {
		h.Set("X-Device-Id", s.deviceID)
	}
	if gql {
		h.Set("Origin", s.client.ClientURL)
		h.Set("Referer", s.client.ClientURL)
		h.Set("Authorization", "OAuth "+s.accessToken)
	}
	return h
}

// adoptDeviceID GETs the client URL so the platform sets its "unique_id"
// cookie, then adopts that value as device_id.
func (s *State) adoptDeviceID(ctx context.Context) error {
	resp, err := s.session.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     s.client.ClientURL,
		Headers: s.headersLocked(false),
	}, nil)
	if err != nil {
		return dmerrors.Wrap(err, "fetch client url")
	}
	resp.Body.Close()

	u, err := url.Parse(s.client.ClientURL)
	if err != nil {
		return dmerrors.Wrap(err, "parse client url")
	}
	id, ok := s.session.Jar().Get(u.Hostname(), "unique_id")
	if !ok {
		return dmerrors.New("auth: platform did not set a unique_id cookie")
	}
	s.deviceID = id
	return nil
}

// establishToken implements the two-outer-loop restore/reauth/validate
// sequence from spec.md §4.5 step 4: up to two client-id-mismatch attempts,
// each allowing up to two invalid-token attempts before giving up.
func (s *State) establishToken(ctx context.Context) error {
	idURL, err := url.Parse(s.client.ClientURL)
	if err != nil {
		return dmerrors.Wrap(err, "parse client url")
	}
	host := idURL.Hostname()

	for clientMismatchAttempt := 0; clientMismatchAttempt < 2; clientMismatchAttempt++ {
		validateResp, err := s.restoreOrLogin(ctx, host)
		if err != nil {
			return err
		}
		if validateResp == nil {
			return dmerrors.New("auth: login verification failure (step #2)")
		}
		if validateResp.ClientID == s.client.ClientID {
			s.userID = validateResp.UserID
			s.persistSession(idURL)
			logger.Infow("login successful", "user_id", s.userID)
			return nil
		}

		logger.Infow("cookie client id mismatch, clearing jar")
		s.session.Jar().ClearAll()
		if s.cookiesPath != "" {
			os.Remove(s.cookiesPath)
		}
	}
	return dmerrors.New("auth: login verification failure (step #1)")
}

// restoreOrLogin runs the inner 2-attempt loop: try the cookie's
// auth-token (or a freshly minted one), validate it, and on 401 clear the
// host's cookies and retry once.
func (s *State) restoreOrLogin(ctx context.Context, host string) (*validateResponse, error) {
	for invalidTokenAttempt := 0; invalidTokenAttempt < 2; invalidTokenAttempt++ {
		if token, ok := s.session.Jar().Get(host, "auth-token"); ok && s.accessToken == "" {
			logger.Infow("restoring session from cookie")
			s.accessToken = token
		}
		if s.accessToken == "" {
			token, err := s.oauthLogin(ctx)
			if err != nil {
				return nil, dmerrors.Wrap(err, "device code login")
			}
			s.accessToken = token
		}

		resp, err := s.introspectToken(ctx)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			logger.Infow("restored session is invalid")
			s.session.Jar().ClearHost(host)
			s.accessToken = ""
			continue
		}
		return resp, nil
	}
	return nil, nil
}

type validateResponse struct {
	ClientID string `json:"client_id"`
	UserID   int    `json:"user_id,string"`
}

// introspectToken validates s.accessToken; a 401 is reported by returning
// (nil, nil) rather than an error, since it is an expected branch of the
// restore loop, not a failure of introspectToken itself.
func (s *State) introspectToken(ctx context.Context) (*validateResponse, error) {
	resp, err := s.session.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     validateEndpoint,
		Headers: http.Header{"Authorization": {"OAuth " + s.accessToken}},
	}, nil)
	if err != nil {
		return nil, dmerrors.Wrap(err, "validate access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, dmerrors.Newf("auth: validate endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var out validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, dmerrors.Wrap(err, "decode validate response")
	}
	return &out, nil
}

// persistSession writes the "persistent" user-id cookie and flushes the jar
// to disk immediately, so a crash right after login doesn't lose it.
func (s *State) persistSession(clientURL *url.URL) {
	s.session.Jar().SetCookies(clientURL, []*http.Cookie{
		{Name: "auth-token", Value: s.accessToken},
		{Name: "persistent", Value: fmt.Sprintf("%d", s.userID)},
	})
	if s.cookiesPath != "" {
		if err := s.session.Jar().Save(s.cookiesPath); err != nil {
			logger.Errorw("failed to save cookie jar after login", "error", err.Error())
		}
	}
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	Interval        int    `json:"interval"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// oauthLogin performs the OAuth 2.0 Device Authorization Grant: request a
// device code, show it to the user, then poll the token endpoint every
// interval seconds until it's granted or the device code expires, in which
// case a fresh device code is requested and the whole thing restarts.
func (s *State) oauthLogin(ctx context.Context) (string, error) {
	deviceHeaders := http.Header{
		"Accept":          {"application/json"},
		"Accept-Encoding": {"gzip"},
		"Accept-Language": {"en-US"},
		"Cache-Control":   {"no-cache"},
		"Client-Id":       {s.client.ClientID},
		"Origin":          {s.client.ClientURL},
		"Pragma":          {"no-cache"},
		"Referer":         {s.client.ClientURL},
		"User-Agent":      {s.client.UserAgent},
		"X-Device-Id":     {s.deviceID},
	}

	for {
		now := time.Now()
		payload := url.Values{
			"client_id": {s.client.ClientID},
			"scopes":    {""},
		}
		resp, err := s.session.Do(ctx, httpclient.Request{
			Method:  http.MethodPost,
			URL:     deviceEndpoint,
			Headers: deviceHeaders,
			Body:    []byte(payload.Encode()),
		}, nil)
		if err != nil {
			return "", dmerrors.Wrap(err, "request device code")
		}
		var device deviceCodeResponse
		decErr := json.NewDecoder(resp.Body).Decode(&device)
		resp.Body.Close()
		if decErr != nil {
			return "", dmerrors.Wrap(decErr, "decode device code response")
		}

		expiresAt := now.Add(time.Duration(device.ExpiresIn) * time.Second)
		if err := s.prompt.AskEnterCode(ctx, device.VerificationURI, device.UserCode); err != nil {
			return "", dmerrors.Wrap(err, "prompt for device code entry")
		}

		token, err := s.pollForToken(ctx, device.DeviceCode, device.Interval, expiresAt)
		if err != nil {
			if dmerrors.Is(err, dmerrors.ErrInvalidRequest) {
				// device_code expired before the user entered it; request a
				// fresh one.
				continue
			}
			return "", err
		}
		return token, nil
	}
}

func (s *State) pollForToken(ctx context.Context, deviceCode string, interval int, expiresAt time.Time) (string, error) {
	if interval <= 0 {
		interval = 5
	}
	payload := url.Values{
		"client_id":   {s.client.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}
	headers := http.Header{
		"Client-Id":    {s.client.ClientID},
		"Content-Type": {"application/x-www-form-urlencoded"},
	}

	for {
		select {
		case <-ctx.Done():
			return "", dmerrors.Wrap(dmerrors.ErrExitRequested, "device code poll cancelled")
		case <-time.After(time.Duration(interval) * time.Second):
		}

		resp, err := s.session.Do(ctx, httpclient.Request{
			Method:  http.MethodPost,
			URL:     tokenEndpoint,
			Headers: headers,
			Body:    []byte(payload.Encode()),
		}, &expiresAt)
		if err != nil {
			if dmerrors.Is(err, dmerrors.ErrInvalidRequest) {
				return "", err
			}
			return "", dmerrors.Wrap(err, "poll token endpoint")
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}
		var tok tokenResponse
		decErr := json.NewDecoder(resp.Body).Decode(&tok)
		resp.Body.Close()
		if decErr != nil {
			return "", dmerrors.Wrap(decErr, "decode token response")
		}
		return tok.AccessToken, nil
	}
}

// createNonce returns a random string of length drawn uniformly from
// chars, used for session_id (hex) the way the original create_nonce is.
func createNonce(chars string, length int) string {
	buf := make([]byte, length)
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// fixed-but-unique-enough value rather than panicking mid-login.
		for i := range buf {
			buf[i] = chars[i%len(chars)]
		}
		return string(buf)
	}
	for i, b := range randomBytes {
		buf[i] = chars[int(b)%len(chars)]
	}
	return string(buf)
}
