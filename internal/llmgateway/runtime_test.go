package llmgateway_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/llmgateway"
)

// fakeBinary writes a tiny shell script that ignores its arguments
// and sleeps, standing in for a real model-runtime child process.
func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-runtime.sh")
	script := "#!/bin/sh\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestInitializeStartsAndShutdownStopsRuntime(t *testing.T) {
	m := llmgateway.NewRuntimeManager()
	require.False(t, m.IsReady())

	base, err := m.Initialize(context.Background(), llmgateway.RuntimeConfig{
		ModelPath:  "model.gguf",
		Format:     llmgateway.FormatGGUF,
		BinaryPath: fakeBinary(t),
		Host:       "127.0.0.1",
		Port:       38123,
	})
	require.NoError(t, err)
	require.Contains(t, base, "38123")
	require.True(t, m.IsReady())

	require.NoError(t, m.Shutdown())
	require.False(t, m.IsReady())
}

func TestInitializeAutoDetectsFormatFromPath(t *testing.T) {
	m := llmgateway.NewRuntimeManager()
	t.Cleanup(func() { _ = m.Shutdown() })

	_, err := m.InitializeAuto(context.Background(), llmgateway.RuntimeConfig{
		ModelPath:  "model.onnx",
		BinaryPath: fakeBinary(t),
		Host:       "127.0.0.1",
		Port:       38124,
	})
	require.NoError(t, err)
	require.Equal(t, llmgateway.FormatONNX, m.CurrentConfig().Format)
}

func TestInitializeAutoRejectsUnknownExtension(t *testing.T) {
	m := llmgateway.NewRuntimeManager()
	_, err := m.InitializeAuto(context.Background(), llmgateway.RuntimeConfig{ModelPath: "model.xyz"})
	require.Error(t, err)
}

func TestHotSwapReplacesActiveRuntime(t *testing.T) {
	m := llmgateway.NewRuntimeManager()
	t.Cleanup(func() { _ = m.Shutdown() })

	_, err := m.Initialize(context.Background(), llmgateway.RuntimeConfig{
		ModelPath: "a.gguf", Format: llmgateway.FormatGGUF, BinaryPath: fakeBinary(t), Host: "127.0.0.1", Port: 38125,
	})
	require.NoError(t, err)

	base, err := m.HotSwap(context.Background(), llmgateway.RuntimeConfig{
		ModelPath: "b.onnx", Format: llmgateway.FormatONNX, BinaryPath: fakeBinary(t), Host: "127.0.0.1", Port: 38126,
	})
	require.NoError(t, err)
	require.Contains(t, base, "38126")
	require.Equal(t, llmgateway.FormatONNX, m.CurrentConfig().Format)
}

func TestShutdownOnIdleManagerIsNoop(t *testing.T) {
	m := llmgateway.NewRuntimeManager()
	require.NoError(t, m.Shutdown())
}
