// CLAUDE:SUMMARY Owns the single Chrome session (managed launch or attached CDP endpoint), health-checks it lazily, recycles it, and lends pooled stealth pages.
// Package browser manages the one browser session pagewatch drives and a
// bounded pool of reusable pages on top of it.
//
// In managed mode the manager launches Chrome with its own profile
// directory and tears it down on Shutdown. In attached mode it connects to
// a browser the operator already runs, never stops it, only closes the
// tabs it opened, and lends at most one page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned once Shutdown has been called.
var ErrClosed = errors.New("browser: manager is closed")

// Mode selects who owns the browser process.
type Mode string

const (
	ModeManaged  Mode = "managed"
	ModeAttached Mode = "attached"
)

// Config configures the manager.
type Config struct {
	Mode Mode
	// RemoteURL is the debugging endpoint of an attached browser, either
	// http://host:port or a ws:// URL.
	RemoteURL string

	Headless bool
	// ProfileDir is the user data directory of a managed browser.
	// Default: <tmp>/pagewatch-profile.
	ProfileDir string
	// XvfbDisplay starts Xvfb on this display for a headful managed browser.
	XvfbDisplay string
	// RecycleInterval relaunches a managed browser once it is this old and
	// no page is lent out. Zero disables recycling.
	RecycleInterval time.Duration
	// BlockResources lists resource types pooled pages refuse
	// (images, fonts, media, stylesheets).
	BlockResources []string

	// MaxPages bounds the pool. Forced to 1 in attached mode. Default: 2.
	MaxPages int

	UserAgent      string
	AcceptLanguage string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeManaged
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 2
	}
	if c.Mode == ModeAttached {
		c.MaxPages = 1
	}
	if c.ProfileDir == "" {
		c.ProfileDir = filepath.Join(os.TempDir(), "pagewatch-profile")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg Config
	sem *semaphore.Weighted

	mu      sync.Mutex
	browser *rod.Browser
	cancel  context.CancelFunc
	lnch    *launcher.Launcher
	xvfb    *display
	startAt time.Time
	gen     int
	idle    []*Page
	lent    int
	closed  bool
	lastErr string
}

// NewManager returns a Manager. No browser is started until first use.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxPages))}
}

// Mode returns the configured mode.
func (m *Manager) Mode() Mode { return m.cfg.Mode }

// Size returns the pool bound.
func (m *Manager) Size() int { return m.cfg.MaxPages }

// Connected reports whether a session handle is currently held. It does
// not probe the browser.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser != nil
}

// LastError returns the last session error, if any.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// EnsureSession returns a live browser, reconnecting or relaunching when
// the previous session died and recycling an old managed browser when no
// page is lent out.
func (m *Manager) EnsureSession(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx)
}

func (m *Manager) ensureLocked(ctx context.Context) (*rod.Browser, error) {
	if m.closed {
		return nil, ErrClosed
	}
	log := m.cfg.Logger

	if m.browser != nil {
		switch {
		case m.cfg.Mode == ModeManaged && m.cfg.RecycleInterval > 0 &&
			time.Since(m.startAt) > m.cfg.RecycleInterval && m.lent == 0:
			log.Info("browser: recycle interval reached", "uptime", time.Since(m.startAt))
			m.teardownLocked()
		default:
			_, err := m.browser.Context(ctx).Version()
			if err == nil {
				return m.browser, nil
			}
			log.Warn("browser: session lost, reconnecting", "error", err)
			m.teardownLocked()
		}
	}

	b, err := m.connectLocked(ctx)
	if err != nil {
		m.lastErr = err.Error()
		return nil, err
	}
	m.lastErr = ""
	return b, nil
}

func (m *Manager) connectLocked(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.Mode == ModeAttached {
		if m.cfg.RemoteURL == "" {
			return nil, fmt.Errorf("browser: attached mode needs a remote url")
		}
		u, err := launcher.ResolveURL(m.cfg.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve %s: %w", m.cfg.RemoteURL, err)
		}
		wsURL = u
		log.Info("browser: attaching", "url", wsURL)
	} else {
		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
		}
		if err := os.MkdirAll(m.cfg.ProfileDir, 0o700); err != nil {
			return nil, fmt.Errorf("browser: profile dir: %w", err)
		}
		l := launcher.New().
			Headless(m.cfg.Headless).
			UserDataDir(m.cfg.ProfileDir).
			Set("disable-blink-features", "AutomationControlled")
		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		u, err := l.Launch()
		if err != nil {
			m.stopXvfb()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	// The session context outlives the caller's: it ends on teardown.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b := rod.New().ControlURL(wsURL).Context(sessCtx)
	if err := b.Connect(); err != nil {
		cancel()
		m.cleanupProcessLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	m.browser = b
	m.cancel = cancel
	m.startAt = time.Now()
	m.gen++
	return b, nil
}

// teardownLocked drops the current session and its idle pages. Lent
// pages belong to the old generation and are closed on release.
func (m *Manager) teardownLocked() {
	for _, p := range m.idle {
		p.close()
	}
	m.idle = nil

	if m.browser != nil && m.cfg.Mode == ModeManaged {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.browser = nil
	m.cleanupProcessLocked()
}

func (m *Manager) cleanupProcessLocked() {
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

// Acquire lends a page, waiting for a free slot. The caller must Release it.
func (m *Manager) Acquire(ctx context.Context) (*Page, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("browser: acquire: %w", err)
	}
	p, err := m.acquire(ctx)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}
	return p, nil
}

func (m *Manager) acquire(ctx context.Context) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.ensureLocked(ctx)
	if err != nil {
		return nil, err
	}
	for len(m.idle) > 0 {
		p := m.idle[len(m.idle)-1]
		m.idle = m.idle[:len(m.idle)-1]
		if p.gen == m.gen {
			m.lent++
			return p, nil
		}
		p.close()
	}

	p, err := newPage(b, m.gen, m.cfg)
	if err != nil {
		m.lastErr = err.Error()
		return nil, err
	}
	m.lent++
	return p, nil
}

// Release returns p to the pool. Pages of a previous session, or that
// failed a load or could not be parked, are closed instead.
func (m *Manager) Release(p *Page) {
	if p == nil {
		return
	}
	defer m.sem.Release(1)

	// Parking navigates, so it runs without holding the pool lock.
	if !p.broken && m.current(p) {
		p.reset()
	}

	m.mu.Lock()
	m.lent--
	keep := !m.closed && p.gen == m.gen && !p.broken
	if keep {
		m.idle = append(m.idle, p)
	}
	m.mu.Unlock()

	if !keep {
		p.close()
	}
}

// current reports whether p belongs to the live session.
func (m *Manager) current(p *Page) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && p.gen == m.gen
}

// Shutdown closes every idle page and tears the session down. A managed
// browser is stopped; an attached one is only disconnected.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.teardownLocked()
	m.cfg.Logger.Info("browser: shut down", "mode", m.cfg.Mode)
}
