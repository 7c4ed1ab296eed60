// Package remote is the HTTP client for the authoritative session
// service. Every failure is classified into one of the package's sentinel
// errors so callers can decide whether to fall back to the local cache.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/domain"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultProbeTimeout = 2 * time.Second
)

var (
	// ErrNotFound means the resource or the whole capability is absent (404).
	ErrNotFound = errors.New("remote: not found")

	// ErrUnauthorized means the service rejected the credentials (401/403).
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrUnavailable covers network failures, timeouts, and 5xx responses.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrConflict means the service refused a duplicate create (409).
	ErrConflict = errors.New("remote: conflict")

	// ErrRejected covers any other non-2xx response.
	ErrRejected = errors.New("remote: rejected")
)

// StatusError carries the HTTP status behind a classified error.
type StatusError struct {
	Method string
	Path   string
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// Unwrap classifies the status into one of the package sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status >= 500, e.Status == http.StatusTooManyRequests:
		return ErrUnavailable
	default:
		return ErrRejected
	}
}

// Client talks to the session service over REST with a bearer token.
type Client struct {
	base         *url.URL
	http         *http.Client
	timeout      time.Duration
	probeTimeout time.Duration
	token        string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request except the probe.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProbeTimeout bounds the reachability probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithToken sets the token used when the context carries none.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:         u,
		http:         &http.Client{},
		timeout:      DefaultTimeout,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.base.String() }

// Probe checks reachability within the probe timeout.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// ListSessions returns saved sessions, filtered by client email when
// email is non-empty.
func (c *Client) ListSessions(ctx context.Context, email string) ([]domain.Session, error) {
	q := url.Values{}
	if email = strings.TrimSpace(email); email != "" {
		q.Set("email", email)
	}
	var resp struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/sessions", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Sessions == nil {
		resp.Sessions = []domain.Session{}
	}
	return resp.Sessions, nil
}

// GetSession fetches one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var s domain.Session
	if err := c.call(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, nil, &s); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// PutSession stores a session under its key and returns the stored copy.
// The credential secret is stripped before sending.
func (c *Client) PutSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	s = s.Sanitized()
	if s.Key() == "" {
		return domain.Session{}, fmt.Errorf("put session: %w", ErrRejected)
	}
	var out domain.Session
	if err := c.call(ctx, http.MethodPut, "/v1/sessions/"+url.PathEscape(s.Key()), nil, s, &out); err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

// ListAssignments returns questionnaire assignments, optionally filtered
// by client email.
func (c *Client) ListAssignments(ctx context.Context, email string) ([]domain.QuestionnaireAssignment, error) {
	q := url.Values{}
	if email = strings.TrimSpace(email); email != "" {
		q.Set("email", email)
	}
	var resp struct {
		Assignments []domain.QuestionnaireAssignment `json:"assignments"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/assignments", q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Assignments == nil {
		resp.Assignments = []domain.QuestionnaireAssignment{}
	}
	return resp.Assignments, nil
}

// PutAssignment stores an assignment under its id.
func (c *Client) PutAssignment(ctx context.Context, a domain.QuestionnaireAssignment) error {
	id := a.ID
	if id == "" {
		id = a.LegacyID
	}
	if id == "" {
		return fmt.Errorf("put assignment: %w", ErrRejected)
	}
	return c.call(ctx, http.MethodPut, "/v1/assignments/"+url.PathEscape(id), nil, a, nil)
}

// AccountRequest is the body of an account creation call. It is the only
// request that carries the client's secret.
type AccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateAccount asks the service to create a portal login.
func (c *Client) CreateAccount(ctx context.Context, req AccountRequest) error {
	return c.call(ctx, http.MethodPost, "/v1/accounts", nil, req, nil)
}

func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.do(ctx, method, path, q, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: decode response: %v", ErrUnavailable, method, path, err)
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) string {
	if token, ok := auth.TokenFromContext(ctx); ok {
		return token
	}
	return c.token
}

func classify(method, path string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)

	return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Msg: payload.Error}
}

// Degradable reports whether a failed read should be served from the
// local cache: network failures, 5xx, 404, 409, and any other non-2xx.
// Authentication failures are not.
func Degradable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrRejected) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
