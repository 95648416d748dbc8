package localai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Plugin process state.
type pluginState int

const (
	pluginStopped pluginState = iota
	pluginStarting
	pluginRunning
	pluginStopping
)

// PluginRunner is the plugin process lifecycle as the controller sees it.
// The default implementation manages a real OS process; tests substitute
// a fake.
type PluginRunner interface {
	// Start launches the runtime serving the given model artifact and
	// waits for it to become ready.
	Start(ctx context.Context, modelPath string) error

	// Stop shuts the runtime down, killing it after a grace period.
	Stop() error

	// Restart stops and starts the runtime.
	Restart(ctx context.Context, modelPath string) error

	// IsRunning reports whether the runtime is serving.
	IsRunning() bool

	// ExitError returns the error from the last process exit, if any.
	ExitError() error
}

// Plugin manages the model runtime process lifecycle.
type Plugin struct {
	cfg Config

	mu      sync.RWMutex
	state   pluginState
	cmd     *exec.Cmd
	stderr  io.ReadCloser
	done    chan struct{} // Closed when process exits
	exitErr error
}

// NewPlugin creates a plugin manager.
func NewPlugin(cfg Config) *Plugin {
	return &Plugin{cfg: cfg, state: pluginStopped}
}

// Start launches the runtime process and waits for it to accept
// connections on the configured host.
func (p *Plugin) Start(ctx context.Context, modelPath string) error {
	p.mu.Lock()
	if p.state != pluginStopped {
		p.mu.Unlock()
		return fmt.Errorf("plugin already %s", p.stateString())
	}
	p.state = pluginStarting
	p.mu.Unlock()

	cmd := exec.Command(p.cfg.PluginPath,
		"--model", modelPath,
		"--host", p.cfg.PluginHost)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.setState(pluginStopped)
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		p.setState(pluginStopped)
		return fmt.Errorf("start plugin: %w", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stderr = stderr
	p.done = make(chan struct{})
	p.exitErr = nil
	p.mu.Unlock()

	go p.waitForExit()
	go p.drainStderr()

	if err := p.waitReady(ctx); err != nil {
		_ = p.Stop()
		return fmt.Errorf("plugin not ready: %w", err)
	}

	p.setState(pluginRunning)
	slog.Debug("plugin started",
		slog.String("model", modelPath),
		slog.String("host", p.cfg.PluginHost))

	return nil
}

// Stop gracefully shuts down the runtime process.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	if p.state == pluginStopped || p.state == pluginStopping {
		p.mu.Unlock()
		return nil
	}
	p.state = pluginStopping
	cmd := p.cmd
	done := p.done
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case <-done:
		// Process exited
	case <-time.After(p.cfg.StopTimeout):
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}

	p.setState(pluginStopped)
	slog.Debug("plugin stopped")

	return nil
}

// Restart stops and starts the runtime.
func (p *Plugin) Restart(ctx context.Context, modelPath string) error {
	if err := p.Stop(); err != nil {
		slog.Warn("error stopping plugin during restart", slog.Any("error", err))
	}
	return p.Start(ctx, modelPath)
}

// IsRunning reports whether the runtime is serving.
func (p *Plugin) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == pluginRunning
}

// ExitError returns the error from the last process exit, if any.
func (p *Plugin) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// waitReady polls the runtime address until it accepts connections.
func (p *Plugin) waitReady(ctx context.Context) error {
	if p.cfg.PluginHost == "" {
		return nil
	}

	p.mu.RLock()
	done := p.done
	p.mu.RUnlock()

	deadline := time.Now().Add(p.cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", p.cfg.PluginHost, time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return fmt.Errorf("plugin exited during startup: %v", p.ExitError())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("no response on %s within %v", p.cfg.PluginHost, p.cfg.StartupTimeout)
}

// waitForExit waits for the process to exit and captures the error.
func (p *Plugin) waitForExit() {
	p.mu.RLock()
	cmd := p.cmd
	done := p.done
	p.mu.RUnlock()

	if cmd == nil {
		return
	}

	err := cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	close(done)
}

// drainStderr reads and logs runtime stderr output.
func (p *Plugin) drainStderr() {
	p.mu.RLock()
	stderr := p.stderr
	p.mu.RUnlock()

	if stderr == nil {
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			slog.Debug("plugin stderr", slog.String("output", string(buf[:n])))
		}
		if err != nil {
			break
		}
	}
}

// setState updates the plugin state.
func (p *Plugin) setState(state pluginState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

// stateString returns a human-readable state string.
func (p *Plugin) stateString() string {
	switch p.state {
	case pluginStopped:
		return "stopped"
	case pluginStarting:
		return "starting"
	case pluginRunning:
		return "running"
	case pluginStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
