package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// display is the virtual X server headful replays render into.
type display struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger
}

// startDisplay runs Xvfb on name (":99") and waits until its socket exists.
func startDisplay(name string, ready time.Duration, logger *slog.Logger) (*display, error) {
	sock, err := socketPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start xvfb: %w", err)
	}
	d := &display{name: name, cmd: cmd, logger: logger}

	deadline := time.Now().Add(ready)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			d.stop()
			return nil, fmt.Errorf("xvfb %s: no socket at %s after %s", name, sock, ready)
		}
		time.Sleep(50 * time.Millisecond)
	}

	logger.Info("browser: xvfb started", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

func (d *display) stop() {
	if d == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Kill()
	_ = d.cmd.Wait()
	d.logger.Info("browser: xvfb stopped", "display", d.name)
}

// socketPath maps ":99" or ":99.0" to the X server's unix socket.
func socketPath(name string) (string, error) {
	num, ok := strings.CutPrefix(name, ":")
	if !ok || num == "" {
		return "", errors.New("xvfb: display must look like :99")
	}
	num, _, _ = strings.Cut(num, ".")
	for _, r := range num {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("xvfb: bad display %q", name)
		}
	}
	return filepath.Join("/tmp/.X11-unix", "X"+num), nil
}
