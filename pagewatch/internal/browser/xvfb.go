package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	xvfbScreen      = "1920x1080x24"
	xvfbReadyWithin = 5 * time.Second
)

// display is a virtual X server owned by a managed headful browser.
type display struct {
	name string
	cmd  *exec.Cmd
}

// socketPath returns the unix socket Xvfb listens on for name (":99" or
// ":99.0"), or "" when name is not a local display.
func socketPath(name string) string {
	n, ok := strings.CutPrefix(name, ":")
	if !ok {
		return ""
	}
	n, _, _ = strings.Cut(n, ".")
	if _, err := strconv.Atoi(n); err != nil {
		return ""
	}
	return filepath.Join("/tmp/.X11-unix", "X"+n)
}

// startDisplay runs Xvfb on name and waits until its socket appears.
func startDisplay(name string) (*display, error) {
	cmd := exec.Command("Xvfb", name, "-screen", "0", xvfbScreen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start xvfb: %w", err)
	}
	d := &display{name: name, cmd: cmd}

	sock := socketPath(name)
	if sock == "" {
		time.Sleep(500 * time.Millisecond)
		return d, nil
	}
	deadline := time.Now().Add(xvfbReadyWithin)
	for {
		if _, err := os.Stat(sock); err == nil {
			return d, nil
		}
		if time.Now().After(deadline) {
			d.stop()
			return nil, errors.New("xvfb: display did not come up")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (d *display) stop() {
	if d == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
}

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	d, err := startDisplay(m.cfg.XvfbDisplay)
	if err != nil {
		return err
	}
	m.xvfb = d
	m.cfg.Logger.Info("browser: xvfb started", "display", d.name, "pid", d.cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	m.xvfb.stop()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.xvfb.name)
	m.xvfb = nil
}
