package llmservice

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/dbrheo/dbrheo/errs"
	"github.com/dbrheo/dbrheo/tools"
	"github.com/dbrheo/dbrheo/types"
)

// GeminiProvider adapts llm.GeminiProvider to the normalized Provider
// interface: one genai stream maps 1:1 onto parts, so conversion is the
// simplest of the three providers.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	initErr     error
}

// NewGeminiProvider creates a Gemini-backed Provider. Client init errors are
// stored and returned on first use, preserving the constructor signature.
func NewGeminiProvider(apiKey, model string, maxTokens uint32, temperature float32) *GeminiProvider {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiProvider{model: model, maxTokens: int32(maxTokens), temperature: temperature,
			initErr: fmt.Errorf("failed to initialize Gemini client: %w", err)}
	}
	return &GeminiProvider{client: client, model: model, maxTokens: int32(maxTokens), temperature: temperature}
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.model }

func (p *GeminiProvider) SupportsFunctionCalling() bool { return true }

func (p *GeminiProvider) CountTokens(ctx context.Context, history types.History) (int, bool, error) {
	if p.initErr != nil {
		return 0, false, p.initErr
	}
	contents := convertHistoryToGemini(history)
	resp, err := p.client.Models.CountTokens(ctx, p.model, contents, nil)
	if err != nil {
		return 0, false, errs.Wrap(errs.LLMTransportError, "gemini count tokens failed", err)
	}
	return int(resp.TotalTokens), true, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if p.initErr != nil {
		return nil, errs.Wrap(errs.LLMTransportError, "gemini client unavailable", p.initErr)
	}

	contents := convertHistoryToGemini(req.History)
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.GenConfig.Temperature),
		MaxOutputTokens: req.GenConfig.MaxOutputTokens,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = convertGeminiTools(req.Tools)
	}

	out := make(chan StreamEvent, 8)
	go func() {
		defer close(out)
		var reason string
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				out <- FinishEvent{Reason: FinishError}
				return
			}
			if req.Abort != nil && req.Abort.Tripped() {
				out <- FinishEvent{Reason: FinishError}
				return
			}

			if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
				for _, part := range resp.Candidates[0].Content.Parts {
					if part.Text != "" {
						out <- TextDeltaEvent{Text: part.Text}
					}
					if part.FunctionCall != nil {
						out <- FunctionCallEvent{Call: types.FunctionCall{
							ID:   part.FunctionCall.Name,
							Name: part.FunctionCall.Name,
							Args: marshalArgs(part.FunctionCall.Args),
						}}
						reason = FinishToolCalls
					}
				}
			}
			if resp.UsageMetadata != nil {
				var cached *uint32
				if resp.UsageMetadata.CachedContentTokenCount > 0 {
					c := uint32(resp.UsageMetadata.CachedContentTokenCount)
					cached = &c
				}
				out <- UsageUpdateEvent{
					InputTokens:  uint32(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: uint32(resp.UsageMetadata.CandidatesTokenCount),
					CachedTokens: cached,
				}
			}
		}
		if reason == "" {
			reason = FinishStop
		}
		out <- FinishEvent{Reason: reason}
	}()
	return out, nil
}

func convertHistoryToGemini(history types.History) []*genai.Content {
	var contents []*genai.Content
	for _, c := range history {
		switch c.Role {
		case types.RoleUser:
			content := &genai.Content{Role: genai.RoleUser}
			for _, p := range c.Parts {
				switch v := p.(type) {
				case types.TextPart:
					content.Parts = append(content.Parts, &genai.Part{Text: v.Text})
				}
			}
			contents = append(contents, content)
		case types.RoleModel:
			content := &genai.Content{Role: genai.RoleModel}
			for _, p := range c.Parts {
				switch v := p.(type) {
				case types.TextPart:
					content.Parts = append(content.Parts, &genai.Part{Text: v.Text})
				case types.FunctionCallPart:
					var args map[string]any
					_ = json.Unmarshal(v.Call.Args, &args)
					content.Parts = append(content.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{Name: v.Call.Name, Args: args},
					})
				}
			}
			contents = append(contents, content)
		case types.RoleFunction:
			content := &genai.Content{Role: genai.RoleUser}
			for _, p := range c.Parts {
				if v, ok := p.(types.FunctionResponsePart); ok {
					result := map[string]any{}
					body := v.Response.Response
					if body == nil {
						body = v.Response.Error
					}
					_ = json.Unmarshal(body, &result)
					content.Parts = append(content.Parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{Name: v.Response.Name, Response: result},
					})
				}
			}
			contents = append(contents, content)
		}
	}
	return contents
}

func convertGeminiTools(decls []tools.LLMFunctionDeclaration) []*genai.Tool {
	fns := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		var schemaMap map[string]interface{}
		_ = json.Unmarshal(d.Parameters, &schemaMap)
		fns = append(fns, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  convertGeminiSchema(schemaMap),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fns}}
}

func convertGeminiSchema(params map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject}
	if t, ok := params["type"].(string); ok {
		schema.Type = mapGeminiType(t)
	}
	if req, ok := params["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				schema.Properties[name] = convertGeminiProperty(propMap)
			}
		}
	}
	return schema
}

func convertGeminiProperty(prop map[string]interface{}) *genai.Schema {
	schema := &genai.Schema{}
	if t, ok := prop["type"].(string); ok {
		schema.Type = mapGeminiType(t)
	}
	if d, ok := prop["description"].(string); ok {
		schema.Description = d
	}
	if e, ok := prop["enum"].([]interface{}); ok {
		for _, v := range e {
			if s, ok := v.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if schema.Type == genai.TypeArray {
		if items, ok := prop["items"].(map[string]interface{}); ok {
			schema.Items = convertGeminiProperty(items)
		} else {
			schema.Items = &genai.Schema{Type: genai.TypeString}
		}
	}
	if schema.Type == genai.TypeObject {
		if props, ok := prop["properties"].(map[string]interface{}); ok {
			schema.Properties = make(map[string]*genai.Schema)
			for name, p := range props {
				if pMap, ok := p.(map[string]interface{}); ok {
					schema.Properties[name] = convertGeminiProperty(pMap)
				}
			}
		}
	}
	return schema
}

func mapGeminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer", "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

var _ Provider = (*GeminiProvider)(nil)
