// Package circuit controls the anonymizing proxy daemon: it requests fresh
// network identities over the local control port and can verify the exit
// address through the SOCKS proxy.
package circuit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// Config holds the proxy daemon endpoints.
type Config struct {
	// ControlAddr is the daemon's control port, e.g. "127.0.0.1:9051".
	ControlAddr string
	// SOCKSAddr is the SOCKS5 proxy address, e.g. "127.0.0.1:9050".
	SOCKSAddr string
	// Password authenticates the control connection. Empty for a local-only
	// controller with no credential.
	Password string
	// CheckURL returns the caller's public IP; used only for verification.
	CheckURL string
	// DialTimeout bounds the control connection dial.
	DialTimeout time.Duration
	// IOTimeout bounds each control command round-trip.
	IOTimeout time.Duration
}

// Controller issues NEWNYM signals to the proxy daemon. Rotation requests are
// serialized because the daemon serializes circuit changes; identity checks
// may run concurrently. The controller applies no internal cooldown: callers
// own their own rotation cadence.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	rotateMu sync.Mutex
}

// New constructs a Controller with defaulted timeouts.
func New(cfg Config, logger *zap.Logger) *Controller {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 5 * time.Second
	}
	if cfg.CheckURL == "" {
		cfg.CheckURL = "https://api.ipify.org"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger}
}

// Rotate requests a new circuit: AUTHENTICATE, then SIGNAL NEWNYM, each
// acknowledged with a 250 line. A failed rotation is returned as an error and
// is never fatal; callers retry with their own backoff. Callers must also
// wait a stabilization interval after success, since the new path is not
// ready instantaneously.
func (c *Controller) Rotate(ctx context.Context) error {
	c.rotateMu.Lock()
	defer c.rotateMu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("dial control port: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(2 * c.cfg.IOTimeout))
	}

	tp := textproto.NewConn(conn)
	defer tp.Close()

	if err := c.command(tp, authenticateLine(c.cfg.Password)); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := c.command(tp, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("signal newnym: %w", err)
	}
	c.logger.Debug("circuit rotated")
	return nil
}

func (c *Controller) command(tp *textproto.Conn, line string) error {
	id, err := tp.Cmd("%s", line)
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	tp.StartResponse(id)
	defer tp.EndResponse(id)
	if _, _, err := tp.ReadResponse(250); err != nil {
		return fmt.Errorf("read acknowledgment: %w", err)
	}
	return nil
}

func authenticateLine(password string) string {
	if password == "" {
		return `AUTHENTICATE ""`
	}
	return fmt.Sprintf("AUTHENTICATE %q", password)
}

// ExitAddress fetches the current exit IP through the SOCKS proxy. It exists
// for verification and diagnostics only; extraction never depends on it.
func (c *Controller) ExitAddress(ctx context.Context) (string, error) {
	socks, err := proxy.SOCKS5("tcp", c.cfg.SOCKSAddr, nil, proxy.Direct)
	if err != nil {
		return "", fmt.Errorf("build socks dialer: %w", err)
	}
	contextDialer, ok := socks.(proxy.ContextDialer)
	if !ok {
		return "", fmt.Errorf("socks dialer does not support contexts")
	}
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: contextDialer.DialContext,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.CheckURL, nil)
	if err != nil {
		return "", fmt.Errorf("build check request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch exit address: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("read exit address: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
