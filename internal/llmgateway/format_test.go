package llmgateway_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/llmgateway"
)

func TestDetectFormatGGUF(t *testing.T) {
	f, ok := llmgateway.DetectFormat("model.gguf")
	require.True(t, ok)
	require.Equal(t, llmgateway.FormatGGUF, f)
}

func TestDetectFormatONNX(t *testing.T) {
	f, ok := llmgateway.DetectFormat("/models/net.onnx")
	require.True(t, ok)
	require.Equal(t, llmgateway.FormatONNX, f)
}

func TestDetectFormatTensorRT(t *testing.T) {
	f, ok := llmgateway.DetectFormat("model.trt")
	require.True(t, ok)
	require.Equal(t, llmgateway.FormatTensorRT, f)
}

func TestDetectFormatBinRequiresGGMLInFilename(t *testing.T) {
	_, ok := llmgateway.DetectFormat("weights.bin")
	require.False(t, ok)

	f, ok := llmgateway.DetectFormat("ggml-model-q4.bin")
	require.True(t, ok)
	require.Equal(t, llmgateway.FormatGGML, f)
}

func TestDetectFormatUnknownExtension(t *testing.T) {
	_, ok := llmgateway.DetectFormat("model.xyz")
	require.False(t, ok)
}

func TestSupportedExtensionsIncludesAllFormats(t *testing.T) {
	exts := llmgateway.SupportedExtensions()
	require.Contains(t, exts, "gguf")
	require.Contains(t, exts, "safetensors")
	require.Contains(t, exts, "mlpackage")
}
