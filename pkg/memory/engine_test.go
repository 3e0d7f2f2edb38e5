package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mofoxlab/corebot/pkg/types"
)

// unitEmbedder returns the same unit vector for every text, which makes
// every stored chunk maximally similar to every query; ranking then
// depends entirely on the metadata stages under test.
type unitEmbedder struct{}

func (unitEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	v[0] = 1
	return v, nil
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(t.TempDir(), DefaultEngineConfig(), unitEmbedder{}, nil, nil, nil)
	require.NoError(t, err)
	return e
}

func TestProcessConversationExtractsBirthday(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	result := e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now)

	require.True(t, result.Success)
	require.NotZero(t, result.MemoryCount)

	var birthday *types.MemoryChunk
	for _, m := range result.CreatedMemories {
		if m.MemoryType == types.MemoryPersonalFact {
			birthday = m
		}
	}
	require.NotNil(t, birthday)
	require.Contains(t, birthday.Object, "11月23日")
	require.Equal(t, "u3", birthday.UserID)
}

func TestRetrieveReturnsBirthdayAtRankOne(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	built := e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now)
	require.NotZero(t, built.MemoryCount)

	got, err := e.RetrieveRelevant(context.Background(), "我什么时候生日", "u3", 3, now+1)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.Equal(t, types.MemoryPersonalFact, got[0].MemoryType)
	require.Contains(t, got[0].Object, "11月23日")
}

func TestRetrieveUpdatesAccessBookkeeping(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now)

	got, err := e.RetrieveRelevant(context.Background(), "生日", "u3", 1, now+10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.EqualValues(t, 1, got[0].AccessCount)
	require.Equal(t, now+10, got[0].LastAccessed)

	entry, ok := e.index.GetEntry(got[0].MemoryID)
	require.True(t, ok)
	require.EqualValues(t, 1, entry.AccessCount)
}

func TestProcessConversationIdempotentWithinThrottleWindow(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	first := e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now)
	require.NotZero(t, first.MemoryCount)

	second := e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now+1)
	require.True(t, second.Success)
	require.Zero(t, second.MemoryCount)
	require.Equal(t, "throttled", second.Status)
}

func TestRetrieveUnknownUserReturnsEmpty(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	e.ProcessConversation(context.Background(), "我生日是11月23日", BuildContext{UserID: "u3"}, now)

	got, err := e.RetrieveRelevant(context.Background(), "生日", "nobody", 3, now+1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoredChunkRetrievableFromBothStores(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	result := e.ProcessConversation(context.Background(), "我住在上海", BuildContext{UserID: "u7"}, now)
	require.NotZero(t, result.MemoryCount)
	stored := result.CreatedMemories[0]

	fromVectors, ok := e.vectors.Get(context.Background(), stored.MemoryID)
	require.True(t, ok)
	entry, ok := e.index.GetEntry(stored.MemoryID)
	require.True(t, ok)

	// The two stores agree on identity and classification.
	require.Equal(t, entry.MemoryType, string(fromVectors.MemoryType))
	require.Equal(t, entry.Subjects, []string{fromVectors.Subject})
	require.ElementsMatch(t, entry.Keywords, fromVectors.Keywords)
	require.Equal(t, entry.CreatedAt, fromVectors.CreatedAt)
}

func TestForgetSweepRemovesExpiredFromBothStores(t *testing.T) {
	e := newEngine(t)
	now := time.Now().Unix()

	result := e.ProcessConversation(context.Background(), "我住在上海", BuildContext{UserID: "u7"}, now)
	require.NotZero(t, result.MemoryCount)
	id := result.CreatedMemories[0].MemoryID

	// A sweep far in the future hard-expires everything.
	future := now + int64(e.cfg.Forget.RetentionHours*3600) + 10
	swept, err := e.forgetter.Sweep(context.Background(), future, false)
	require.NoError(t, err)
	require.Contains(t, swept.HardExpiredIDs, id)

	_, ok := e.vectors.Get(context.Background(), id)
	require.False(t, ok)
	_, ok = e.index.GetEntry(id)
	require.False(t, ok)
}

func TestLLMExtractionFailureFallsBackToRules(t *testing.T) {
	// A long text selects LLM-based extraction, but with no model wired
	// the builder must degrade to rules rather than fail the pipeline.
	e := newEngine(t)
	now := time.Now().Unix()

	long := "我喜欢吃辣的东西，" + strings.Repeat("而且我们聊了很多别的话题，", 5)
	result := e.ProcessConversation(context.Background(), long, BuildContext{UserID: "u9"}, now)
	require.True(t, result.Success)

	var pref bool
	for _, m := range result.CreatedMemories {
		if m.MemoryType == types.MemoryPreference {
			pref = true
		}
	}
	require.True(t, pref)
}
