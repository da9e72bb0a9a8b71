//go:build bedrock

package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
	"mcpchat/internal/infra/tracer"
)

const defaultSystemPrompt = "You are a helpful assistant. Tool results gathered for the user's latest message are included with it; use them when answering."

// converseAPI is the part of the Bedrock runtime client the synthesizer uses.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Bedrock synthesizes replies with the Bedrock Converse API.
type Bedrock struct {
	model     string
	maxTokens int32
	system    string
	client    converseAPI
	logger    *slog.Logger
}

// NewBedrock creates a synthesizer using the default AWS credential chain.
func NewBedrock(ctx context.Context, cfg config.SynthesizerConfig, logger *slog.Logger) (*Bedrock, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newBedrockWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockWithClient(cfg config.SynthesizerConfig, client converseAPI, logger *slog.Logger) *Bedrock {
	system := cfg.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Bedrock{
		model:     cfg.Model,
		maxTokens: int32(maxTokens),
		system:    system,
		client:    client,
		logger:    logger,
	}
}

// Name implements domain.Synthesizer.
func (b *Bedrock) Name() string { return "bedrock" }

// Synthesize implements domain.Synthesizer.
func (b *Bedrock) Synthesize(ctx context.Context, in domain.SynthesisInput) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "synth.bedrock.converse",
		trace.WithAttributes(tracer.StringAttr("llm.model", b.model)),
	)
	defer span.End()

	out, err := b.client.Converse(ctx, b.buildInput(in))
	if err != nil {
		tracer.RecordError(span, err)
		return "", mapBedrockError(err)
	}

	reply := replyText(out)
	if reply == "" {
		return "", fmt.Errorf("bedrock: empty reply: %w", domain.ErrSynthesisFailed)
	}
	if out.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("llm.input_tokens", int(aws.ToInt32(out.Usage.InputTokens))),
			tracer.IntAttr("llm.output_tokens", int(aws.ToInt32(out.Usage.OutputTokens))),
		)
	}
	tracer.SetOK(span)
	b.logger.DebugContext(ctx, "bedrock reply", "model", b.model, "chars", len(reply))
	return reply, nil
}

// buildInput maps the session history onto Converse turns. System messages
// are dropped, consecutive turns of the same role are merged and the
// conversation always starts with a user turn.
func (b *Bedrock) buildInput(in domain.SynthesisInput) *bedrockruntime.ConverseInput {
	var msgs []types.Message
	for _, m := range in.History {
		var role types.ConversationRole
		switch m.Kind {
		case domain.KindUser:
			role = types.ConversationRoleUser
		case domain.KindAI:
			role = types.ConversationRoleAssistant
		default:
			continue
		}
		if len(msgs) == 0 && role != types.ConversationRoleUser {
			continue
		}
		block := &types.ContentBlockMemberText{Value: m.Content}
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content = append(msgs[n-1].Content, block)
			continue
		}
		msgs = append(msgs, types.Message{Role: role, Content: []types.ContentBlock{block}})
	}

	if len(msgs) == 0 || msgs[len(msgs)-1].Role != types.ConversationRoleUser {
		msgs = append(msgs, types.Message{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: in.Message}},
		})
	}
	if ctxText := toolContext(in.Outcomes); ctxText != "" {
		last := &msgs[len(msgs)-1]
		last.Content = append(last.Content, &types.ContentBlockMemberText{Value: ctxText})
	}

	return &bedrockruntime.ConverseInput{
		ModelId:  aws.String(b.model),
		Messages: msgs,
		System:   []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: b.system}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(b.maxTokens),
		},
	}
}

func toolContext(outcomes []domain.ToolOutcome) string {
	if len(outcomes) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Tool results:\n")
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			fmt.Fprintf(&sb, "<tool name=%q status=\"error\">%v</tool>\n", o.Name, o.Err)
		case o.Result != nil:
			status := "ok"
			if o.Result.IsError {
				status = "error"
			}
			fmt.Fprintf(&sb, "<tool name=%q status=%q>%s</tool>\n", o.Name, status, o.Result.Content)
		}
	}
	return sb.String()
}

func replyText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var parts []string
	for _, block := range msg.Value.Content {
		if t, ok := block.(*types.ContentBlockMemberText); ok {
			parts = append(parts, t.Value)
		}
	}
	return strings.Join(parts, "")
}

// mapBedrockError sorts Bedrock failures into the transport class (retryable,
// trips the breaker) or a plain synthesis failure.
func mapBedrockError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException",
			"ModelNotReadyException", "ServiceUnavailableException",
			"InternalServerException", "ModelTimeoutException":
			return fmt.Errorf("bedrock: %w: %s", domain.ErrTransport, err.Error())
		default:
			return fmt.Errorf("bedrock: %w: %s", domain.ErrSynthesisFailed, err.Error())
		}
	}
	// No API error means the request never got an answer (network, deadline).
	return fmt.Errorf("bedrock: %w: %s", domain.ErrTransport, err.Error())
}

var _ domain.Synthesizer = (*Bedrock)(nil)
