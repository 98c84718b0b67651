// Package llmgateway adapts the engine's single logical LLM interface
// (§4.9) onto a locally-spawned child-process runtime: format
// auto-detection by file extension, atomic-pointer hot-swap lifecycle
// management, and an HTTP client that speaks the unified chat/embed
// API the child process serves.
// Grounded on original_source/crates/offline-intelligence/src/model_runtime/{format_detector,runtime_manager,runtime_trait}.rs.
package llmgateway

import (
	"path/filepath"
	"strings"
)

// Format mirrors the source's ModelFormat enum.
type Format string

const (
	FormatGGUF        Format = "gguf"
	FormatGGML        Format = "ggml"
	FormatONNX        Format = "onnx"
	FormatTensorRT    Format = "tensorrt"
	FormatSafetensors Format = "safetensors"
	FormatCoreML      Format = "coreml"
)

var formatExtensions = []struct {
	format Format
	exts   []string
}{
	{FormatGGUF, []string{"gguf"}},
	{FormatGGML, []string{"ggml", "bin"}},
	{FormatONNX, []string{"onnx"}},
	{FormatTensorRT, []string{"trt", "engine", "plan"}},
	{FormatSafetensors, []string{"safetensors"}},
	{FormatCoreML, []string{"mlmodel", "mlpackage"}},
}

// Name returns the human-readable runtime label, used in logs.
func (f Format) Name() string {
	switch f {
	case FormatGGUF:
		return "GGUF (llama.cpp)"
	case FormatGGML:
		return "GGML (llama.cpp legacy)"
	case FormatONNX:
		return "ONNX Runtime"
	case FormatTensorRT:
		return "TensorRT"
	case FormatSafetensors:
		return "Safetensors"
	case FormatCoreML:
		return "CoreML"
	default:
		return string(f)
	}
}

// DetectFormat implements detect_from_path: the extension alone picks
// the format, except ".bin" — shared between GGML and arbitrary
// tensor dumps — which additionally requires "ggml" in the filename.
func DetectFormat(path string) (Format, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "", false
	}

	for _, fe := range formatExtensions {
		if !containsStr(fe.exts, ext) {
			continue
		}
		if fe.format == FormatGGML && ext == "bin" {
			if !strings.Contains(strings.ToLower(filepath.Base(path)), "ggml") {
				return "", false
			}
		}
		return fe.format, true
	}
	return "", false
}

// SupportedExtensions lists every extension any format recognizes.
func SupportedExtensions() []string {
	var out []string
	for _, fe := range formatExtensions {
		out = append(out, fe.exts...)
	}
	return out
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
