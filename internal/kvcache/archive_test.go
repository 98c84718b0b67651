package kvcache

import "testing"

func TestArchiveKeyFormat(t *testing.T) {
	got := archiveKey("sess-1", 42)
	want := "kvcache/sess-1/42.json"
	if got != want {
		t.Fatalf("archiveKey() = %q, want %q", got, want)
	}
}
