package types

import (
	"encoding/json"
	"fmt"
)

// wireContent is the Gemini-normalized wire form: a role plus an ordered
// list of tagged parts. Round-tripping through this shape must yield a
// structurally equal Content (§8 Round-trip / idempotence).
type wireContent struct {
	Role  Role        `json:"role"`
	Parts []wirePart  `json:"parts"`
}

type wirePart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *wireFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *wireFuncResponse `json:"functionResponse,omitempty"`
}

type wireFunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type wireFuncResponse struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

// MarshalJSON renders Content in the Gemini-normalized wire form.
func (c Content) MarshalJSON() ([]byte, error) {
	wc := wireContent{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}
	for _, p := range c.Parts {
		switch v := p.(type) {
		case TextPart:
			wc.Parts = append(wc.Parts, wirePart{Text: v.Text})
		case FunctionCallPart:
			wc.Parts = append(wc.Parts, wirePart{FunctionCall: &wireFunctionCall{
				ID: v.Call.ID, Name: v.Call.Name, Args: v.Call.Args,
			}})
		case FunctionResponsePart:
			wc.Parts = append(wc.Parts, wirePart{FunctionResponse: &wireFuncResponse{
				ID: v.Response.ID, Name: v.Response.Name,
				Response: v.Response.Response, Error: v.Response.Error,
			}})
		default:
			return nil, fmt.Errorf("types: unknown Part variant %T", p)
		}
	}
	return json.Marshal(wc)
}

// UnmarshalJSON parses the Gemini-normalized wire form back into Content.
func (c *Content) UnmarshalJSON(data []byte) error {
	var wc wireContent
	if err := json.Unmarshal(data, &wc); err != nil {
		return err
	}
	c.Role = wc.Role
	c.Parts = make([]Part, 0, len(wc.Parts))
	for _, wp := range wc.Parts {
		switch {
		case wp.FunctionCall != nil:
			c.Parts = append(c.Parts, FunctionCallPart{Call: FunctionCall{
				ID: wp.FunctionCall.ID, Name: wp.FunctionCall.Name, Args: wp.FunctionCall.Args,
			}})
		case wp.FunctionResponse != nil:
			c.Parts = append(c.Parts, FunctionResponsePart{Response: FunctionResponse{
				ID: wp.FunctionResponse.ID, Name: wp.FunctionResponse.Name,
				Response: wp.FunctionResponse.Response, Error: wp.FunctionResponse.Error,
			}})
		default:
			c.Parts = append(c.Parts, TextPart{Text: wp.Text})
		}
	}
	return nil
}
