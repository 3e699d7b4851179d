package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analysis "github.com/zhouzirui/qinghe-assistant/internal/analysis/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
)

type fakeChatModel struct {
	reply string
	err   error
}

func (f *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

func TestAnalyzeFallbackWithoutModel(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Config{Enabled: true}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	g := svc.Analyze(context.Background(), nil, "舌苔发白，总是没胃口", "")
	assert.Equal(t, analysis.Tongue, g.Decision.Intent)
	assert.Equal(t, "fallback", g.Reason)
}

func TestAnalyzeUsesClassifier(t *testing.T) {
	fake := &fakeChatModel{reply: "结果如下：{\"intent\":\"face\",\"confidence\":0.9,\"reason\":\"提到气色差\"}"}
	svc, err := NewService(context.Background(), fake, Config{Enabled: true}, nil)
	require.NoError(t, err)
	require.True(t, svc.Enabled())

	history := []chat.HistoryMessage{{Role: "user", Content: "最近气色很差"}}
	g := svc.Analyze(context.Background(), history, "怎么办", "")
	assert.Equal(t, analysis.Face, g.Decision.Intent)
	assert.InDelta(t, 0.9, g.Confidence, 1e-6)
	assert.Equal(t, "提到气色差", g.Reason)
}

func TestAnalyzeFallsBackOnBadOutput(t *testing.T) {
	for name, fake := range map[string]*fakeChatModel{
		"error":         {err: errors.New("timeout")},
		"no json":       {reply: "tongue"},
		"unknown label": {reply: `{"intent":"happy"}`},
	} {
		t.Run(name, func(t *testing.T) {
			svc, err := NewService(context.Background(), fake, Config{Enabled: true}, nil)
			require.NoError(t, err)
			g := svc.Analyze(context.Background(), nil, "你好", "")
			assert.Equal(t, "fallback", g.Reason)
			assert.Equal(t, analysis.None, g.Decision.Intent)
		})
	}
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "无历史对话", formatHistory(nil, 3))

	msgs := []chat.HistoryMessage{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}
	assert.Equal(t, "AI: b\n用户: c", formatHistory(msgs, 2))
}
