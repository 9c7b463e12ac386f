// Package tool provides the tool framework: definitions, argument
// validation, the registry and the executor that runs tool calls.
package tool

import (
	"context"
	"encoding/json"

	"github.com/opencode-ai/agentcore/internal/permission"
)

// Parameter types accepted in a Definition.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       string   `json:"items,omitempty"` // element type of arrays
}

// Definition is the schema a model sees for a tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	// ReadOnly tools never modify the project. They are allowed without a
	// prompt unless a rule says otherwise.
	ReadOnly bool `json:"readOnly"`
}

// Param returns the named parameter.
func (d Definition) Param(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Handler executes a tool call. Input has already been validated against
// the tool's Definition. Handlers must return promptly once ctx is done.
type Handler interface {
	Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	return f(ctx, input, tc)
}

// Tool is a Handler that carries its own Definition.
type Tool interface {
	Handler
	Definition() Definition
}

// Keyed is implemented by handlers whose calls conflict when they touch the
// same resource. Calls sharing any key run one after another.
type Keyed interface {
	ResourceKeys(input json.RawMessage, workDir string) []string
}

// Describer is implemented by handlers that can say what a call will touch,
// for permission checks.
type Describer interface {
	Action(input json.RawMessage, workDir string) permission.Action
}

// Context is what a handler knows about the call it is serving.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	Tool      string
	WorkDir   string
	Sink      Sink
}

// Stream forwards a chunk of partial output to the sink, if any.
func (c *Context) Stream(chunk string) {
	if c != nil && c.Sink != nil && chunk != "" {
		c.Sink.Write(chunk)
	}
}

// Sink receives incremental output from long-running tools.
type Sink interface {
	Write(chunk string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(chunk string)

func (f SinkFunc) Write(chunk string) { f(chunk) }

// Result is the output of a successful tool call.
type Result struct {
	Title       string         `json:"title"`
	Output      string         `json:"output"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// Attachment is a file produced by a tool, e.g. an image read from disk.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"` // data: URL or file path
}
