package lookout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oremus-labs/lookout-stream/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenURL is the production OAuth2 token endpoint.
const DefaultTokenURL = "https://api.lookout.com/oauth2/token"

// DefaultRefreshSkew is how long before expires_at a cached token is replaced.
const DefaultRefreshSkew = 30 * time.Second

// exchangeTimeout bounds a shared exchange, which outlives any one caller's context.
const exchangeTimeout = 30 * time.Second

// ProviderOptions configure a TokenProvider.
type ProviderOptions struct {
	// AppKey is the application key presented as the bearer credential of
	// the token exchange.
	AppKey     string
	TokenURL   string
	HTTPClient *http.Client
	// RefreshSkew controls expiry-driven re-authentication. Zero selects
	// DefaultRefreshSkew; a negative value disables it and a cached token
	// is reused until Invalidate is called.
	RefreshSkew time.Duration
	Now         func() time.Time
}

// TokenProvider exchanges the application key for a bearer token and caches it.
// It is safe for concurrent use; concurrent exchanges collapse into one request.
type TokenProvider struct {
	appKey   string
	tokenURL string
	client   *http.Client
	skew     time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	token *oauth2.Token

	group     singleflight.Group
	exMu      sync.Mutex
	exchanges atomic.Int64
}

// NewTokenProvider validates opts and returns a provider with an empty cache.
// No request is made until the first AuthHeader or Authenticate call.
func NewTokenProvider(opts ProviderOptions) (*TokenProvider, error) {
	if strings.TrimSpace(opts.AppKey) == "" {
		return nil, NewConfigError("application key is required")
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	skew := opts.RefreshSkew
	if skew == 0 {
		skew = DefaultRefreshSkew
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &TokenProvider{
		appKey:   opts.AppKey,
		tokenURL: tokenURL,
		client:   client,
		skew:     skew,
		now:      now,
	}, nil
}

// Authenticate performs a client-credentials exchange and replaces the cached token.
func (p *TokenProvider) Authenticate(ctx context.Context) error {
	return p.refresh(ctx, true)
}

// refresh runs at most one exchange at a time. Unless forced, a caller that
// queued behind a completed exchange reuses its token. Forced and lazy callers
// use separate flights so a forced call always gets a fresh exchange. The
// exchange runs detached from ctx; a caller whose ctx ends stops waiting
// without failing the others.
func (p *TokenProvider) refresh(ctx context.Context, force bool) error {
	key := "token"
	if force {
		key = "token:force"
	}
	ch := p.group.DoChan(key, func() (interface{}, error) {
		p.exMu.Lock()
		defer p.exMu.Unlock()
		if !force {
			if tok := p.cached(); tok != nil && !p.expired(tok) {
				return nil, nil
			}
		}
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()
		p.exchanges.Add(1)
		tok, err := p.exchange(exCtx)
		if err != nil {
			metrics.ObserveTokenExchange("failed")
			return nil, err
		}
		p.mu.Lock()
		p.token = tok
		p.mu.Unlock()
		metrics.ObserveTokenExchange("success")
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return NewAuthError("token request abandoned", ctx.Err())
	}
}

// AuthHeader returns the Authorization header for API requests, authenticating
// first when no usable token is cached.
func (p *TokenProvider) AuthHeader(ctx context.Context) (http.Header, error) {
	tok := p.cached()
	if tok == nil || p.expired(tok) {
		if err := p.refresh(ctx, false); err != nil {
			return nil, err
		}
		if tok = p.cached(); tok == nil {
			return nil, NewAuthError("token was invalidated during exchange", nil)
		}
	}
	header := http.Header{}
	header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	return header, nil
}

// Invalidate drops the cached token so the next AuthHeader re-authenticates.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = nil
	p.mu.Unlock()
}

// Token returns a copy of the cached token.
func (p *TokenProvider) Token() (oauth2.Token, bool) {
	tok := p.cached()
	if tok == nil {
		return oauth2.Token{}, false
	}
	return *tok, true
}

// Exchanges reports how many token requests have been issued.
func (p *TokenProvider) Exchanges() int64 {
	return p.exchanges.Load()
}

func (p *TokenProvider) cached() *oauth2.Token {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

func (p *TokenProvider) expired(tok *oauth2.Token) bool {
	if p.skew < 0 || tok.Expiry.IsZero() {
		return false
	}
	return !p.now().Add(p.skew).Before(tok.Expiry)
}

type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   json.RawMessage `json:"expires_at"`
}

func (p *TokenProvider) exchange(ctx context.Context) (*oauth2.Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, NewAuthError("failed to create token request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.appKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewAuthError("token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(KindAuth, "token exchange rejected", resp, excerpt(resp.Body))
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, malformed("failed to parse token response", err)
	}
	var missing []string
	if payload.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if payload.TokenType == "" {
		missing = append(missing, "token_type")
	}
	if len(payload.ExpiresAt) == 0 || string(payload.ExpiresAt) == "null" {
		missing = append(missing, "expires_at")
	}
	if len(missing) > 0 {
		return nil, malformed("token response missing "+strings.Join(missing, ", "), nil)
	}
	expiry, err := parseExpiry(payload.ExpiresAt)
	if err != nil {
		return nil, malformed("invalid expires_at in token response", err)
	}
	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   payload.TokenType,
		Expiry:      expiry,
	}, nil
}

func malformed(message string, cause error) *Error {
	return &Error{Kind: KindAuth, Message: message, Malformed: true, Cause: cause}
}

// parseExpiry accepts epoch seconds, epoch milliseconds or an RFC 3339 string.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if t, err := time.Parse(time.RFC3339, text); err == nil {
			return t.UTC(), nil
		}
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return epoch(n), nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, err
	}
	return epoch(int64(f)), nil
}

func epoch(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
