package retrieval_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctxmem/engine/internal/retrieval"
)

func TestHasPastReferencesInText(t *testing.T) {
	require.True(t, retrieval.HasPastReferencesInText("what did we discuss earlier"))
	require.False(t, retrieval.HasPastReferencesInText("what is the capital of France"))
}

func TestIsCrossSessionQuery(t *testing.T) {
	require.True(t, retrieval.IsCrossSessionQuery("do you remember what we talked about"))
	require.False(t, retrieval.IsCrossSessionQuery("what's 2+2"))
}

func TestQueryComplexitySimpleQuery(t *testing.T) {
	c := retrieval.QueryComplexity("hi")
	require.Less(t, c, 0.2)
}

func TestQueryComplexityClampedToOne(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "word "
	}
	c := retrieval.QueryComplexity(long)
	require.Equal(t, 1.0, c)
}

func TestBuildPlanSkipsRetrievalForShortSimpleTurn(t *testing.T) {
	in := retrieval.Input{
		CurrentMessages:  []retrieval.Message{{Role: "user", Content: "hello"}},
		MaxContextTokens: 4096,
		UserQuery:        "hello",
	}
	plan := retrieval.BuildPlan(in)
	require.False(t, plan.NeedsRetrieval)
	require.True(t, plan.UseTier1)
	require.False(t, plan.UseTier3)
}

func TestBuildPlanTriggersTier3ForPastReference(t *testing.T) {
	in := retrieval.Input{
		CurrentMessages:      []retrieval.Message{{Role: "user", Content: "what did we discuss earlier about pricing"}},
		MaxContextTokens:     4096,
		UserQuery:            "what did we discuss earlier about pricing",
		SessionHasDBMessages: true,
	}
	plan := retrieval.BuildPlan(in)
	require.True(t, plan.NeedsRetrieval)
	require.True(t, plan.UseTier3)
	require.True(t, plan.KeywordSearch)
}

func TestBuildPlanTargetCompressionLongConversation(t *testing.T) {
	in := retrieval.Input{
		CurrentMessages:    []retrieval.Message{{Role: "user", Content: "do you remember our earlier talk"}},
		MaxContextTokens:   4096,
		UserQuery:          "do you remember our earlier talk",
		ConversationLength: 150,
	}
	plan := retrieval.BuildPlan(in)
	require.Equal(t, 0.2, plan.TargetCompression)
}

func TestBuildPlanMaxMessagesClamped(t *testing.T) {
	in := retrieval.Input{
		CurrentMessages:  []retrieval.Message{{Role: "user", Content: "do you remember our earlier talk"}},
		MaxContextTokens: 100,
		UserQuery:        "do you remember our earlier talk",
	}
	plan := retrieval.BuildPlan(in)
	require.GreaterOrEqual(t, plan.MaxMessages, 10)
	require.LessOrEqual(t, plan.MaxMessages, 100)
}

func TestExtractTopicsAboutPhrase(t *testing.T) {
	topics := retrieval.ExtractTopics([]retrieval.Message{
		{Role: "user", Content: "tell me about the quarterly budget report"},
	})
	require.NotEmpty(t, topics)
}

func TestExtractTopicsCapsAtThree(t *testing.T) {
	topics := retrieval.ExtractTopics([]retrieval.Message{
		{Role: "user", Content: "what about cats, what about dogs, what about birds, what about fish"},
	})
	require.LessOrEqual(t, len(topics), 3)
}
