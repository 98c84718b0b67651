package ctxbuild_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/ctxbuild"
)

func TestBuildPreservesSystemMessageAndOrder(t *testing.T) {
	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{
			{Role: "system", Content: "you are a helpful assistant"},
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi there"},
		},
	}
	out := ctxbuild.Build(in, ctxbuild.DefaultConfig())
	require.NotEmpty(t, out)
	require.Equal(t, "system", out[0].Role)
	last := out[len(out)-1]
	require.Equal(t, "hi there", last.Content)
}

func TestBuildInsertsCrossSessionBridge(t *testing.T) {
	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{
			{Role: "user", Content: "hello"},
		},
		CrossSessionMessages: []ctxbuild.Message{
			{Role: "user", Content: "we spoke about pricing"},
		},
	}
	out := ctxbuild.Build(in, ctxbuild.DefaultConfig())

	found := false
	for _, m := range out {
		if m.Content == "[Context from previous conversations]" {
			found = true
		}
	}
	require.True(t, found)
}

func TestBuildDropsLowScoringSummaries(t *testing.T) {
	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{{Role: "user", Content: "hi"}},
		Tier2Summaries: []ctxbuild.Summary{
			{Text: "an old unrelated summary", Ratio: 0.1, GeneratedAt: time.Now().Add(-1000 * time.Hour)},
		},
	}
	out := ctxbuild.Build(in, ctxbuild.DefaultConfig())
	for _, m := range out {
		require.NotContains(t, m.Content, "an old unrelated summary")
	}
}

func TestBuildIncludesHighScoringSummary(t *testing.T) {
	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{
			{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hi"},
			{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hi"},
		},
		Tier2Summaries: []ctxbuild.Summary{
			{Text: "discussed the budget proposal", Ratio: 0.9, Topics: []string{"budget"}, GeneratedAt: time.Now()},
		},
		QueryTopics: []string{"budget"},
	}
	out := ctxbuild.Build(in, ctxbuild.DefaultConfig())
	found := false
	for _, m := range out {
		if m.Role == "system" {
			found = found || (m.Content != "")
		}
	}
	require.True(t, found)
}

func TestBuildInjectsDetailBeforeLastUserMessage(t *testing.T) {
	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{
			{Role: "user", Content: "tell me the specific budget number again"},
		},
		Tier3Messages: []ctxbuild.Message{
			{Role: "assistant", Content: "the specific budget number was 4200"},
		},
		UserQuery: "tell me the specific budget number again",
	}
	out := ctxbuild.Build(in, ctxbuild.DefaultConfig())

	detailIdx, userIdx := -1, -1
	for i, m := range out {
		if m.Content == "[Earlier detail: the specific budget number was 4200]" {
			detailIdx = i
		}
		if m.Role == "user" {
			userIdx = i
		}
	}
	require.GreaterOrEqual(t, detailIdx, 0)
	require.Less(t, detailIdx, userIdx)
}

func TestBuildTrimsToBudgetTailFirst(t *testing.T) {
	cfg := ctxbuild.DefaultConfig()
	cfg.MaxTotalTokens = 5 // ~20 chars total

	in := ctxbuild.Input{
		CurrentMessages: []ctxbuild.Message{
			{Role: "user", Content: "short one"},
			{Role: "assistant", Content: "this is a much longer reply that should be dropped"},
		},
		Tier1Content: []ctxbuild.Message{
			{Role: "user", Content: "short one"},
			{Role: "assistant", Content: "this is a much longer reply that should be dropped"},
		},
	}
	out := ctxbuild.Build(in, cfg)
	for _, m := range out {
		require.NotContains(t, m.Content, "should be dropped")
	}
}
