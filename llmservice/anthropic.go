package llmservice

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// AnthropicProvider adapts llm.AnthropicProvider to the normalized Provider
// interface: content blocks concatenate into TextDelta events and tool_use
// blocks become one complete FunctionCallEvent each (Anthropic does not
// stream tool-call arguments incrementally the way OpenAI does).
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates an Anthropic-backed Provider.
func NewAnthropicProvider(apiKey, model string, maxTokens uint32, temperature float32) *AnthropicProvider {
	return &AnthropicProvider{
		client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

func (p *AnthropicProvider) SupportsFunctionCalling() bool { return true }

// CountTokens has no dedicated Anthropic endpoint wired here; callers fall
// back to the compress package's estimator when ok is false.
func (p *AnthropicProvider) CountTokens(ctx context.Context, history types.History) (int, bool, error) {
	return 0, false, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	messages := convertHistoryToAnthropic(req.History)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(p.temperature),
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)

		var inputTokens uint32
		toolUseArgs := map[int64]*anthropic.ToolUseBlock{}

		for stream.Next() {
			if req.Abort != nil && req.Abort.Tripped() {
				out <- FinishEvent{Reason: FinishError}
				return
			}
			event := stream.Current()
			switch v := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				inputTokens = uint32(v.Message.Usage.InputTokens)
			case anthropic.ContentBlockStartEvent:
				if tu, ok := v.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					cp := tu
					toolUseArgs[v.Index] = &cp
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := v.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" {
						out <- TextDeltaEvent{Text: d.Text}
					}
				}
			case anthropic.ContentBlockStopEvent:
				if tu, ok := toolUseArgs[v.Index]; ok {
					out <- FunctionCallEvent{Call: types.FunctionCall{
						ID:   tu.ID,
						Name: tu.Name,
						Args: marshalArgs(tu.Input),
					}}
					delete(toolUseArgs, v.Index)
				}
			case anthropic.MessageDeltaEvent:
				out <- UsageUpdateEvent{
					InputTokens:  inputTokens,
					OutputTokens: uint32(v.Usage.OutputTokens),
				}
			}
		}

		if stream.Err() != nil {
			out <- FinishEvent{Reason: FinishError}
			return
		}
		if len(toolUseArgs) > 0 {
			out <- FinishEvent{Reason: FinishToolCalls}
			return
		}
		out <- FinishEvent{Reason: FinishStop}
	}()
	return out, nil
}

func convertHistoryToAnthropic(history types.History) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, c := range history {
		switch c.Role {
		case types.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(c.Text())))
		case types.RoleModel:
			msg := anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant}
			for _, p := range c.Parts {
				switch v := p.(type) {
				case types.TextPart:
					if v.Text != "" {
						msg.Content = append(msg.Content, anthropic.NewTextBlock(v.Text))
					}
				case types.FunctionCallPart:
					var input map[string]interface{}
					_ = json.Unmarshal(v.Call.Args, &input)
					msg.Content = append(msg.Content, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{ID: v.Call.ID, Name: v.Call.Name, Input: input},
					})
				}
			}
			out = append(out, msg)
		case types.RoleFunction:
			for _, p := range c.Parts {
				if v, ok := p.(types.FunctionResponsePart); ok {
					body := v.Response.Response
					isErr := false
					if body == nil {
						body = v.Response.Error
						isErr = true
					}
					out = append(out, anthropic.NewUserMessage(
						anthropic.NewToolResultBlock(v.Response.ID, string(body), isErr),
					))
				}
			}
		}
	}
	return out
}

func convertAnthropicTools(decls []tools.LLMFunctionDeclaration) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(decls))
	for _, d := range decls {
		var schema map[string]interface{}
		_ = json.Unmarshal(d.Parameters, &schema)
		properties, _ := schema["properties"].(map[string]interface{})
		var required []string
		if req, ok := schema["required"].([]interface{}); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		toolParam := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties, Required: required},
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return result
}

var _ Provider = (*AnthropicProvider)(nil)
