package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/muurk/acond/internal/htmlform"
	"github.com/muurk/acond/internal/logging"
	"github.com/muurk/acond/internal/version"
	"go.uber.org/zap"
)

const (
	// DefaultUsername is the factory user of the controller web interface
	DefaultUsername = "acond"

	// DefaultLoginPath is the login form of the controller web interface
	DefaultLoginPath = "/SYSWWW/LOGIN.XML"

	// DefaultTimeout bounds one top-level operation including login and retry
	DefaultTimeout = 30 * time.Second

	// MinTimeout and MaxTimeout bound configurable timeouts
	MinTimeout = 10 * time.Second
	MaxTimeout = 30 * time.Second

	// DefaultMaxBodySize caps how much of a page is read
	DefaultMaxBodySize = 4 << 20

	formContentType = "application/x-www-form-urlencoded; charset=utf-8"
)

// DefaultPages are the data pages read for a snapshot. The first one also
// accepts writes.
var DefaultPages = []string{"/PAGE115.XML", "/PAGE116.XML"}

// Client talks to the web interface of one Acond controller. Operations are
// serialized; each one runs in its own session (see SessionStore), logs in
// when the controller redirects and retries the original request once.
type Client struct {
	// BaseURL is the base URL for the controller (e.g., "https://192.168.1.50")
	BaseURL string

	// Username and Password for the login form
	Username string
	Password string

	// LoginPath is the path of the login form
	LoginPath string

	// Pages are the data pages merged into a snapshot, later pages winning
	Pages []string

	// Timeout bounds a whole operation
	Timeout time.Duration

	// Sessions provides the cookie jar of each operation
	Sessions SessionStore

	// Transport is shared by all sessions (nil = NewTransport())
	Transport http.RoundTripper

	// MaxBodySize caps the bytes read from one response
	MaxBodySize int64

	mu            sync.Mutex
	transportOnce sync.Once
	transport     http.RoundTripper
}

// NewClient creates a client for a controller address such as
// "192.168.1.50" or "heatpump.lan:8443". HTTPS is assumed unless the
// address carries a scheme.
func NewClient(address, username, password string) *Client {
	base := address
	if !strings.Contains(address, "://") {
		base = "https://" + address
	}
	return NewClientWithURL(base, username, password)
}

// NewClientWithURL creates a client with a full base URL
func NewClientWithURL(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Username:    username,
		Password:    password,
		LoginPath:   DefaultLoginPath,
		Pages:       append([]string(nil), DefaultPages...),
		Timeout:     DefaultTimeout,
		Sessions:    DisposableSessions{},
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Address returns the host part of BaseURL
func (c *Client) Address() string {
	if u, err := url.Parse(c.BaseURL); err == nil && u.Host != "" {
		return u.Hostname()
	}
	return c.BaseURL
}

// FetchSnapshot reads every data page and merges the fields into one
// snapshot. Any failing page fails the whole call.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.withSession(ctx, "fetch", func(ctx context.Context, hc *http.Client) error {
		merged := make(map[string]string)
		for _, page := range c.pages() {
			body, err := c.cycle(ctx, hc, request{method: http.MethodGet, path: page})
			if err != nil {
				return err
			}
			for k, v := range htmlform.Extract(body) {
				merged[k] = v
			}
		}
		snap = NewSnapshot(merged, time.Now())
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	logging.Debug("Snapshot fetched",
		zap.String("device", c.Address()),
		zap.Int("keys", snap.Len()),
	)
	return snap, nil
}

// WriteValue posts a single field to the primary data page and returns the
// fields of the confirmation page.
func (c *Client) WriteValue(ctx context.Context, key, value string) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, &Error{Type: ErrTypeUnknown, Op: "write", Message: "nothing to write", Err: ErrEmptyKey, Address: c.Address()}
	}
	form := url.Values{key: []string{value}}

	var snap Snapshot
	err := c.withSession(ctx, "write", func(ctx context.Context, hc *http.Client) error {
		body, err := c.cycle(ctx, hc, request{method: http.MethodPost, path: c.pages()[0], form: form})
		if err != nil {
			return err
		}
		snap = NewSnapshot(htmlform.Extract(body), time.Now())
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	logging.Info("Value written",
		zap.String("device", c.Address()),
		zap.String("key", key),
		zap.String("value", value),
	)
	return snap, nil
}

// Login submits the credentials once. It fails with an authentication error
// when the controller sends the browser back to the login page.
func (c *Client) Login(ctx context.Context) error {
	return c.withSession(ctx, "login", func(ctx context.Context, hc *http.Client) error {
		out, err := c.submitLogin(ctx, hc)
		if err != nil {
			return err
		}
		if nextStep(phaseLogin, out, c.loginPath()) == stepFailAuth {
			return NewAuthError("login", "controller redirected back to the login page")
		}
		return nil
	})
}

// Ping checks that the controller web server answers. It does not log in.
func (c *Client) Ping(ctx context.Context) error {
	return c.withSession(ctx, "ping", func(ctx context.Context, hc *http.Client) error {
		_, err := c.do(ctx, hc, request{method: http.MethodGet, path: c.loginPath()})
		return err
	})
}

type request struct {
	method string
	path   string
	form   url.Values
}

func (r request) op() string {
	return strings.ToLower(r.method) + " " + r.path
}

// SetPassword replaces the login password. It waits for an operation in
// progress to finish.
func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	c.Password = password
	c.mu.Unlock()
}

// withSession runs fn with the operation timeout and a session from the
// store. Errors come back classified.
func (c *Client) withSession(ctx context.Context, op string, fn func(context.Context, *http.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store := c.Sessions
	if store == nil {
		store = DisposableSessions{}
	}
	jar, err := store.Begin()
	if err != nil {
		return &Error{Type: ErrTypeUnknown, Op: op, Message: "cannot create session", Err: err, Address: c.Address()}
	}
	defer store.End(jar)

	hc := &http.Client{
		Transport: c.roundTripper(),
		Jar:       jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if err := fn(ctx, hc); err != nil {
		devErr := ClassifyNetworkError(err, c.Address())
		if devErr.Op == "" {
			devErr.Op = op
		}
		if devErr.Address == "" {
			devErr.Address = c.Address()
		}
		return devErr
	}
	return nil
}

// cycle sends r, logs in on a redirect and retries r once.
func (c *Client) cycle(ctx context.Context, hc *http.Client, r request) ([]byte, error) {
	out, err := c.do(ctx, hc, r)
	if err != nil {
		return nil, err
	}
	if nextStep(phaseRequest, out, c.loginPath()) == stepDone {
		return out.Body, nil
	}

	logging.Debug("Session expired, logging in",
		zap.String("device", c.Address()),
		zap.String("path", r.path),
		zap.String("location", out.Location),
	)
	login, err := c.submitLogin(ctx, hc)
	if err != nil {
		return nil, err
	}
	if nextStep(phaseLogin, login, c.loginPath()) == stepFailAuth {
		return nil, NewAuthError(r.op(), "controller redirected back to the login page")
	}

	retried, err := c.do(ctx, hc, r)
	if err != nil {
		return nil, err
	}
	if nextStep(phaseRetry, retried, c.loginPath()) == stepFailAuth {
		return nil, NewAuthError(r.op(), "session not established after login")
	}
	return retried.Body, nil
}

func (c *Client) submitLogin(ctx context.Context, hc *http.Client) (Outcome, error) {
	form := url.Values{
		"USER": []string{c.Username},
		"PASS": []string{c.Password},
	}
	return c.do(ctx, hc, request{method: http.MethodPost, path: c.loginPath(), form: form})
}

// do sends one request without following redirects and tags the result.
// 401 and 403 are authentication errors; any other status outside 2xx and
// 3xx is a communication error.
func (c *Client) do(ctx context.Context, hc *http.Client, r request) (Outcome, error) {
	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.BaseURL+r.path, body)
	if err != nil {
		return Outcome{}, &Error{Type: ErrTypeUnknown, Op: r.op(), Message: "cannot build request", Err: err, Address: c.Address()}
	}
	if r.form != nil {
		req.Header.Set("Content-Type", formContentType)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	logging.LogDeviceRequest(r.method, req.URL.String())

	resp, err := hc.Do(req)
	if err != nil {
		devErr := ClassifyNetworkError(err, c.Address())
		devErr.Op = r.op()
		return Outcome{}, devErr
	}
	defer resp.Body.Close()

	limit := c.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logging.LogDeviceResponse(r.method, req.URL.String(), resp.StatusCode, "", 0)
		return Outcome{}, NewAuthError(r.op(), fmt.Sprintf("controller answered HTTP %d", resp.StatusCode))

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, limit))
		logging.LogDeviceResponse(r.method, req.URL.String(), resp.StatusCode, location, 0)
		return RedirectTo(resp.StatusCode, location), nil

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		logging.LogDeviceResponse(r.method, req.URL.String(), resp.StatusCode, "", 0)
		return Outcome{}, NewStatusError(r.op(), resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		devErr := ClassifyNetworkError(err, c.Address())
		devErr.Op = r.op()
		return Outcome{}, devErr
	}
	logging.LogDeviceResponse(r.method, req.URL.String(), resp.StatusCode, "", len(data))
	logging.LogRawBody(r.path, data)
	return Ok(resp.StatusCode, data), nil
}

func (c *Client) roundTripper() http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	c.transportOnce.Do(func() {
		c.transport = NewTransport()
	})
	return c.transport
}

func (c *Client) loginPath() string {
	if c.LoginPath == "" {
		return DefaultLoginPath
	}
	return c.LoginPath
}

func (c *Client) pages() []string {
	if len(c.Pages) == 0 {
		return DefaultPages
	}
	return c.Pages
}
