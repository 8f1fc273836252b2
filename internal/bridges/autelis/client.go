package autelis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Appliance HTTP endpoints.
const (
	statusPath  = "/status.xml"
	commandPath = "/set.cgi"

	// maxResponseSize bounds status.xml reads.
	maxResponseSize = 1 << 20

	defaultRequestTimeout = 10 * time.Second
	defaultPollInterval   = 60 * time.Second
)

// DeviceClient is the appliance-facing contract used by the engine.
type DeviceClient interface {
	// FetchStatus reads the full appliance status.
	FetchStatus(ctx context.Context) (*Snapshot, error)

	// SendCommand writes value to the named appliance element.
	SendCommand(ctx context.Context, name string, value int) error
}

// ClientConfig holds the appliance connection settings.
type ClientConfig struct {
	// Address is the appliance host, optionally with port or scheme.
	Address string

	Username string
	Password string

	// PollInterval is the minimum spacing between FetchStatus calls.
	PollInterval time.Duration

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration

	// Catalog identifies setpoint elements. Defaults to DefaultCatalog.
	Catalog *Catalog

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client talks to the Autelis Pool Control over HTTP.
//
// Every request carries basic auth; no session is kept. FetchStatus is rate
// limited to one call per poll interval.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	username  string
	password  string
	http      *http.Client
	limiter   *rate.Limiter
	setpoints map[string]bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates an appliance client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("appliance address is required")
	}

	raw := cfg.Address
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing appliance address: %w", err)
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	setpoints := make(map[string]bool)
	for _, d := range catalog.Descriptors() {
		if d.Settable && d.SetpointKey != "" {
			setpoints[d.SetpointKey] = true
		}
	}

	return &Client{
		baseURL:   base,
		username:  cfg.Username,
		password:  cfg.Password,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		setpoints: setpoints,
	}, nil
}

// FetchStatus reads /status.xml and parses it into a Snapshot.
// It blocks until the rate ceiling allows another call.
func (c *Client) FetchStatus(ctx context.Context) (*Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for poll slot: %v", ErrConnectivity, err)
	}

	body, err := c.get(ctx, statusPath, nil)
	if err != nil {
		return nil, err
	}

	snap, err := ParseStatus(body, time.Now())
	if err != nil {
		return nil, err
	}
	c.logDebug("status fetched", "unit", snap.Unit, "equipment", len(snap.equipment))
	return snap, nil
}

// SendCommand writes a value through /set.cgi. Setpoint elements are sent
// as temp=, everything else as value=.
func (c *Client) SendCommand(ctx context.Context, name string, value int) error {
	q := url.Values{}
	q.Set("name", name)
	if c.setpoints[name] {
		q.Set("temp", strconv.Itoa(value))
	} else {
		q.Set("value", strconv.Itoa(value))
	}

	body, err := c.get(ctx, commandPath, q)
	if err != nil {
		return err
	}

	if strings.TrimSpace(string(body)) == "0" {
		return fmt.Errorf("%w: appliance rejected %s=%d", ErrProtocol, name, value)
	}
	c.logDebug("command sent", "name", name, "value", value)
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := *c.baseURL
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrConnectivity, err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectivity, path, unwrapURLError(err))
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s: credentials rejected (%d)", ErrConnectivity, path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrConnectivity, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConnectivity, path, err)
	}
	return body, nil
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
