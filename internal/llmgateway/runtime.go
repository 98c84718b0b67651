package llmgateway

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// RuntimeConfig describes how to launch a child-process runtime for a
// given model file. Host and Port are passed to the binary as given, and
// the base URL is built from them as soon as the process starts; no port
// discovery is performed, so Port 0 yields a base URL ending in ":0".
type RuntimeConfig struct {
	ModelPath string
	Format    Format
	BinaryPath string
	Host      string
	Port      int
	ExtraArgs []string
}

// runtimeHolder is the atomically-swapped snapshot of the active
// child process, mirroring the source's ArcSwap<RuntimeHolder>.
type runtimeHolder struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	config RuntimeConfig
	baseURL string
}

// RuntimeManager owns at most one active child-process runtime and
// hot-swaps it atomically. Grounded on model_runtime/runtime_manager.rs
// (ArcSwap-based lock-free access) and the teacher's services.go
// process-supervision pattern (exec.CommandContext + cancel + Wait
// with a timeout before Kill).
type RuntimeManager struct {
	holder atomic.Pointer[runtimeHolder]
}

// NewRuntimeManager returns an idle manager with no active runtime.
func NewRuntimeManager() *RuntimeManager {
	m := &RuntimeManager{}
	m.holder.Store(&runtimeHolder{})
	return m
}

// InitializeAuto detects the format from the model path's extension
// and initializes the corresponding runtime.
func (m *RuntimeManager) InitializeAuto(ctx context.Context, cfg RuntimeConfig) (string, error) {
	format, ok := DetectFormat(cfg.ModelPath)
	if !ok {
		return "", fmt.Errorf("could not detect model format from file: %s (supported: %v)", cfg.ModelPath, SupportedExtensions())
	}
	cfg.Format = format
	return m.Initialize(ctx, cfg)
}

// Initialize shuts down any active runtime and launches a new one for
// cfg.Format. Every format launches the same unified-API binary
// (BinaryPath) with the same --model/--host/--port arguments plus
// cfg.ExtraArgs; the binary itself is responsible for loading
// cfg.ModelPath in the right mode.
func (m *RuntimeManager) Initialize(ctx context.Context, cfg RuntimeConfig) (string, error) {
	if err := m.Shutdown(); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	args := append([]string{"--model", cfg.ModelPath, "--host", cfg.Host, "--port", fmt.Sprintf("%d", cfg.Port)}, cfg.ExtraArgs...)

	cmd := exec.CommandContext(runCtx, cfg.BinaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Info().Str("format", cfg.Format.Name()).Str("model_path", cfg.ModelPath).Msg("llmgateway: starting runtime")
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("failed to start %s runtime: %w", cfg.Format.Name(), err)
	}

	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	m.holder.Store(&runtimeHolder{cmd: cmd, cancel: cancel, config: cfg, baseURL: baseURL})
	log.Info().Str("base_url", baseURL).Msg("llmgateway: runtime initialized")
	return baseURL, nil
}

// HotSwap shuts down the active runtime and initializes a new one,
// atomically from the caller's perspective.
func (m *RuntimeManager) HotSwap(ctx context.Context, cfg RuntimeConfig) (string, error) {
	log.Info().Str("model_path", cfg.ModelPath).Msg("llmgateway: hot-swapping runtime")
	return m.Initialize(ctx, cfg)
}

// BaseURL returns the active runtime's base URL, or "" if none.
func (m *RuntimeManager) BaseURL() string {
	return m.holder.Load().baseURL
}

// IsReady reports whether a runtime process is currently running.
func (m *RuntimeManager) IsReady() bool {
	h := m.holder.Load()
	return h.cmd != nil && h.cmd.Process != nil
}

// CurrentConfig returns the active runtime's config, or the zero
// value if none is active.
func (m *RuntimeManager) CurrentConfig() RuntimeConfig {
	return m.holder.Load().config
}

// Shutdown stops the active runtime, if any: cancelling its context
// kills the process, then Shutdown waits up to 5s for it to exit and
// kills it again if it has not — mirroring StopAllServices.
func (m *RuntimeManager) Shutdown() error {
	old := m.holder.Swap(&runtimeHolder{})
	if old == nil || old.cmd == nil {
		return nil
	}
	if old.cancel != nil {
		old.cancel()
	}

	done := make(chan struct{})
	go func() {
		_ = old.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("llmgateway: force-killing runtime after shutdown timeout")
		if old.cmd.Process != nil {
			_ = old.cmd.Process.Kill()
		}
	}
	return nil
}
