// Package modem polls cellular and bonded-uplink modems over their HTTP
// status API.
//
// The status document is JSON; it is flattened into dotted property names
// ("wan.signal.rssi") so that any vendor layout can be published without a
// schema. Modems that require a login get a form POST first; the session
// cookie is kept in a cookie jar and a 401 or 403 starts a fresh session.
package modem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/studio-core/internal/device"
)

// Defaults.
const (
	DefaultInterval   = 10 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultStatusPath = "/api/status"

	maxBody = 1 << 20
)

var (
	// ErrUnauthorized is returned when the modem rejects the session.
	ErrUnauthorized = errors.New("modem: unauthorized")

	// ErrLoginFailed is returned when the login form is rejected.
	ErrLoginFailed = errors.New("modem: login failed")
)

// Config configures a modem.
type Config struct {
	Name       string
	Host       string
	Port       int
	WOL        string
	Scheme     string
	StatusPath string
	LoginPath  string // empty disables login
	Username   string
	Password   string
	Interval   time.Duration
	Timeout    time.Duration
}

// Modem is a polled modem.
type Modem struct {
	*device.Base

	cfg      Config
	baseURL  *url.URL
	poller   *device.Poller
	commands device.Commands

	clientMu sync.Mutex
	client   *http.Client
	loggedIn bool

	mu         sync.RWMutex
	properties map[string]any

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a modem adapter.
func New(cfg Config, logger device.Logger) *Modem {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = DefaultStatusPath
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}

	host := cfg.Host
	if cfg.Port != 0 {
		host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	m := &Modem{
		Base: device.NewBase(device.BaseConfig{
			Type:          device.TypeModem,
			Name:          cfg.Name,
			Hostname:      cfg.Host,
			WOL:           cfg.WOL,
			RetryInterval: cfg.Interval,
			Logger:        logger,
		}),
		cfg:        cfg,
		baseURL:    &url.URL{Scheme: cfg.Scheme, Host: host},
		properties: make(map[string]any),
		commands:   device.Commands{},
	}
	m.resetSession()
	m.poller = device.NewPoller(m.Lifecycle(), cfg.Interval, cfg.Timeout, m.poll)
	return m
}

// Invoke runs a named command. Modems expose no commands beyond wake.
func (m *Modem) Invoke(method string, args ...any) bool {
	return m.commands.Invoke(method, args...)
}

// Start begins polling.
func (m *Modem) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poller.Run(ctx)
	}()
}

// Stop ends polling.
func (m *Modem) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// resetSession drops cookies and forces a new login.
func (m *Modem) resetSession() {
	jar, _ := cookiejar.New(nil)

	m.clientMu.Lock()
	m.client = &http.Client{Jar: jar, Timeout: m.cfg.Timeout}
	m.loggedIn = false
	m.clientMu.Unlock()
}

func (m *Modem) session() (*http.Client, bool) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	return m.client, m.loggedIn
}

func (m *Modem) endpoint(path string) string {
	return m.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

func (m *Modem) poll(ctx context.Context) error {
	err := m.fetch(ctx)
	if errors.Is(err, ErrUnauthorized) {
		m.Logger().Debug("modem session rejected, logging in again", "device", m.Name())
		m.resetSession()
		err = m.fetch(ctx)
	}
	return err
}

func (m *Modem) fetch(ctx context.Context) error {
	client, loggedIn := m.session()
	if m.cfg.LoginPath != "" && !loggedIn {
		if err := m.login(ctx, client); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint(m.cfg.StatusPath), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("get status: %s", resp.Status)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&doc); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	props := make(map[string]any)
	Flatten("", doc, props)
	m.setProperties(props)
	return nil
}

func (m *Modem) login(ctx context.Context, client *http.Client) error {
	form := url.Values{"username": {m.cfg.Username}, "password": {m.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(m.cfg.LoginPath), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.Status)
	}

	m.clientMu.Lock()
	if m.client == client {
		m.loggedIn = true
	}
	m.clientMu.Unlock()
	return nil
}

func (m *Modem) setProperties(props map[string]any) {
	m.mu.Lock()
	changed := !maps.Equal(m.properties, props)
	if changed {
		m.properties = props
	}
	m.mu.Unlock()

	if changed {
		m.EmitUpdated(m.Properties())
	}
}

// Flatten writes every leaf of v into out under a dotted key. Array
// elements use their index as the key segment.
func Flatten(prefix string, v any, out map[string]any) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			Flatten(join(k), child, out)
		}
	case []any:
		for i, child := range v {
			Flatten(join(strconv.Itoa(i)), child, out)
		}
	default:
		if prefix != "" {
			out[prefix] = v
		}
	}
}

// Properties returns a copy of the flattened status.
func (m *Modem) Properties() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.properties)
}

// Status returns the published snapshot.
func (m *Modem) Status() device.Status {
	s := m.Summary()
	s.Details = map[string]any{"properties": m.Properties()}
	return s
}

// Telemetry implements device.TelemetrySource with the numeric and boolean
// properties.
func (m *Modem) Telemetry() map[string]any {
	out := make(map[string]any)
	for k, v := range m.Properties() {
		switch v.(type) {
		case float64, bool:
			out[k] = v
		}
	}
	return out
}
