//go:build bedrock

package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
)

type mockConverse struct {
	got *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (m *mockConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.got = in
	return m.out, m.err
}

type mockAPIError struct{ code, message string }

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func textOutput(s string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: s}},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(4)},
	}
}

func testBedrock(client converseAPI) *Bedrock {
	cfg := config.SynthesizerConfig{Provider: "bedrock", Region: "us-east-1", Model: "anthropic.claude-3-haiku"}
	return newBedrockWithClient(cfg, client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBedrockSynthesize(t *testing.T) {
	mock := &mockConverse{out: textOutput("Here are your files.")}
	b := testBedrock(mock)

	reply, err := b.Synthesize(context.Background(), domain.SynthesisInput{
		Message: "list /tmp",
		History: []domain.Message{
			{Kind: domain.KindAI, Content: "stray greeting"},
			{Kind: domain.KindUser, Content: "hi"},
			{Kind: domain.KindAI, Content: "hello"},
			{Kind: domain.KindSystem, Content: "Sorry"},
			{Kind: domain.KindUser, Content: "list /tmp"},
		},
		Outcomes: []domain.ToolOutcome{
			{Name: "filesystem", Result: &domain.ToolResult{Content: "a.txt"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Here are your files.", reply)

	in := mock.got
	require.NotNil(t, in)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(in.ModelId))
	assert.Equal(t, int32(1024), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.Len(t, in.Messages, 3)
	assert.Equal(t, types.ConversationRoleUser, in.Messages[0].Role)
	assert.Equal(t, types.ConversationRoleAssistant, in.Messages[1].Role)
	last := in.Messages[2]
	assert.Equal(t, types.ConversationRoleUser, last.Role)
	require.Len(t, last.Content, 2)
	toolText := last.Content[1].(*types.ContentBlockMemberText).Value
	assert.Contains(t, toolText, `<tool name="filesystem" status="ok">a.txt</tool>`)
}

func TestBedrockAddsMessageWhenHistoryEmpty(t *testing.T) {
	mock := &mockConverse{out: textOutput("ok")}
	_, err := testBedrock(mock).Synthesize(context.Background(), domain.SynthesisInput{Message: "hello"})
	require.NoError(t, err)
	require.Len(t, mock.got.Messages, 1)
	assert.Equal(t, "hello", mock.got.Messages[0].Content[0].(*types.ContentBlockMemberText).Value)
}

func TestBedrockEmptyReply(t *testing.T) {
	mock := &mockConverse{out: &bedrockruntime.ConverseOutput{}}
	_, err := testBedrock(mock).Synthesize(context.Background(), domain.SynthesisInput{Message: "x"})
	assert.ErrorIs(t, err, domain.ErrSynthesisFailed)
}

func TestBedrockErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"throttling", &mockAPIError{"ThrottlingException", "slow down"}, domain.ErrTransport},
		{"unavailable", &mockAPIError{"ServiceUnavailableException", "down"}, domain.ErrTransport},
		{"validation", &mockAPIError{"ValidationException", "bad model"}, domain.ErrSynthesisFailed},
		{"access denied", &mockAPIError{"AccessDeniedException", "no"}, domain.ErrSynthesisFailed},
		{"network", errors.New("dial tcp: connection refused"), domain.ErrTransport},
		{"deadline", context.DeadlineExceeded, domain.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := testBedrock(&mockConverse{err: tc.err}).Synthesize(context.Background(), domain.SynthesisInput{Message: "x"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
