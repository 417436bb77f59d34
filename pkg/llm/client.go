// Package llm wraps a langchaingo model behind the two call shapes the
// pipeline needs: free-form completion the caller validates itself, and
// JSON-mode completion checked against a target schema before it is returned.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/Gmelendi/listeando-app/pkg/schema"
)

// GenerationError reports a transport or model failure, or structured output
// that did not conform to its target schema.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client adapts an llms.Model for structured use. The zero value is not
// usable; construct with New.
type Client struct {
	model llms.Model
}

func New(model llms.Model) *Client {
	return &Client{model: model}
}

// Complete runs the conversation and returns the model's raw text.
func (c *Client) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := c.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Err: fmt.Errorf("model returned no choices")}
	}
	return resp.Choices[0].Content, nil
}

// CompleteJSON runs the conversation in JSON mode and returns the raw content
// without validating it. Callers own parsing and validation; the schema
// generation stage uses this since its target is itself a schema.
func (c *Client) CompleteJSON(ctx context.Context, messages []llms.MessageContent) (string, error) {
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithJSONMode())
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &GenerationError{Err: fmt.Errorf("model returned no choices")}
	}
	return resp.Choices[0].Content, nil
}

// CompleteStructured runs the conversation in JSON mode with schemaText
// appended as the response format, validates the output against it, and
// returns the conforming document. Non-conforming output is a
// GenerationError, not a retry trigger.
func (c *Client) CompleteStructured(ctx context.Context, messages []llms.MessageContent, schemaText string) (json.RawMessage, error) {
	prompted := make([]llms.MessageContent, 0, len(messages)+1)
	prompted = append(prompted, messages...)
	prompted = append(prompted, llms.TextParts(llms.ChatMessageTypeSystem,
		"Return the JSON object directly without any formatting or additional text. "+
			"The JSON object must have the structure defined in the following schema. "+
			"Answer in valid JSON and include all required properties:\n"+schemaText))

	content, err := c.CompleteJSON(ctx, prompted)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateAgainst(schemaText, []byte(content)); err != nil {
		return nil, &GenerationError{Err: err}
	}
	return json.RawMessage(content), nil
}
