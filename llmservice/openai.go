package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// OpenAIProvider adapts llm.OpenAIProvider to the normalized Provider
// interface. OpenAI streams tool-call arguments as incremental JSON
// fragments keyed by a per-delta index; pendingCall buffers each index's
// id/name/arguments until they parse as complete JSON, then emits one
// FunctionCallEvent.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates an OpenAI-backed Provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model, maxTokens: int(maxTokens), temperature: temperature}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) SupportsFunctionCalling() bool { return true }

func (p *OpenAIProvider) CountTokens(ctx context.Context, history types.History) (int, bool, error) {
	return 0, false, nil
}

type pendingCall struct {
	id   string
	name string
	args string
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	messages := convertHistoryToOpenAI(req.History, req.SystemInstruction)
	apiReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: req.GenConfig.Temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, errs.Wrap(errs.LLMTransportError, "openai stream creation failed", err)
	}

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)
		defer stream.Close()

		pending := map[int]*pendingCall{}
		finishReason := ""

		for {
			if req.Abort != nil && req.Abort.Tripped() {
				out <- FinishEvent{Reason: FinishError}
				return
			}
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				out <- FinishEvent{Reason: FinishError}
				return
			}
			if resp.Usage != nil {
				out <- UsageUpdateEvent{
					InputTokens:  uint32(resp.Usage.PromptTokens),
					OutputTokens: uint32(resp.Usage.CompletionTokens),
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				out <- TextDeltaEvent{Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := pending[idx]
				if !ok {
					pc = &pendingCall{}
					pending[idx] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
		}

		for _, pc := range pending {
			var probe json.RawMessage
			args := pc.args
			if args == "" {
				args = "{}"
			}
			if err := json.Unmarshal([]byte(args), &probe); err != nil {
				out <- FinishEvent{Reason: FinishError}
				return
			}
			out <- FunctionCallEvent{Call: types.FunctionCall{ID: pc.id, Name: pc.name, Args: probe}}
		}

		switch finishReason {
		case "tool_calls":
			out <- FinishEvent{Reason: FinishToolCalls}
		case "length":
			out <- FinishEvent{Reason: FinishLength}
		case "":
			out <- FinishEvent{Reason: FinishStop}
		default:
			out <- FinishEvent{Reason: FinishStop}
		}
	}()
	return out, nil
}

func convertHistoryToOpenAI(history types.History, systemInstruction string) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if systemInstruction != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemInstruction})
	}
	for _, c := range history {
		switch c.Role {
		case types.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: c.Text()})
		case types.RoleModel:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: c.Text()}
			for _, p := range c.Parts {
				if fc, ok := p.(types.FunctionCallPart); ok {
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   fc.Call.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      fc.Call.Name,
							Arguments: string(fc.Call.Args),
						},
					})
				}
			}
			out = append(out, msg)
		case types.RoleFunction:
			for _, p := range c.Parts {
				if fr, ok := p.(types.FunctionResponsePart); ok {
					body := fr.Response.Response
					if body == nil {
						body = fr.Response.Error
					}
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						ToolCallID: fr.Response.ID,
						Content:    string(body),
					})
				}
			}
		}
	}
	return out
}

func convertOpenAITools(decls []tools.LLMFunctionDeclaration) []openai.Tool {
	result := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		var schema map[string]interface{}
		_ = json.Unmarshal(d.Parameters, &schema)
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			},
		})
	}
	return result
}

var _ Provider = (*OpenAIProvider)(nil)
