package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type streamingGenerator struct {
	chunks []string
}

func (g *streamingGenerator) GenerateReply(ctx context.Context, actx ActionContext, hint string) (string, error) {
	return strings.Join(g.chunks, ""), nil
}

func (g *streamingGenerator) GenerateReplyStream(ctx context.Context, actx ActionContext, hint string, onDelta func(delta string)) error {
	for _, c := range g.chunks {
		onDelta(c)
	}
	return nil
}

func TestReplyActionStreamsPartialUpdates(t *testing.T) {
	rec := &sendRecorder{}
	var partials []string

	action := NewReplyAction(&streamingGenerator{chunks: []string{"今天", "天气", "不错"}}, rec.send)
	// A zero interval pushes the accumulated text on every delta.
	action.EnableStreaming(func(streamID, partial string) {
		require.Equal(t, "s1", streamID)
		partials = append(partials, partial)
	}, 0)

	result := action.Run(context.Background(), ActionContext{StreamID: "s1"}, map[string]string{})

	require.True(t, result.Success)
	require.Equal(t, "今天天气不错", result.Text)
	require.Equal(t, []string{"今天", "今天天气", "今天天气不错"}, partials)
	require.Equal(t, []string{"今天天气不错"}, rec.sent)
}

func TestReplyActionWithoutStreamingUsesPlainGenerator(t *testing.T) {
	rec := &sendRecorder{}
	action := NewReplyAction(&streamingGenerator{chunks: []string{"你好"}}, rec.send)

	result := action.Run(context.Background(), ActionContext{StreamID: "s1"}, map[string]string{})

	require.True(t, result.Success)
	require.Equal(t, "你好", result.Text)
}
