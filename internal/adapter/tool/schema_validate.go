package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"scholarbot/internal/domain"
)

// validatedTool checks arguments against the tool's declared JSON Schema
// before the tool runs. Rejections come back as error results, so the model
// can read the message and correct its call.
type validatedTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps a tool so Execute validates params against the
// tool's declared parameter schema. A tool that declares no parameters gets
// the empty schema and accepts any argument object. Returns an error if the
// schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte(`{}`)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &validatedTool{Tool: t, schema: compiled}, nil
}

func (v *validatedTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var args any
	if err := json.Unmarshal(params, &args); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}

	if err := v.schema.Validate(args); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}

	return v.Tool.Execute(ctx, params)
}
