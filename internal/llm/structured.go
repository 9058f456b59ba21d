package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// OutputError reports model output that could not be decoded into the
// expected shape, even after repair.
type OutputError struct {
	Capability string
	Raw        string
	Err        error
}

func (e *OutputError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("%s: malformed model output: %v", e.Capability, e.Err)
	}
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// CompileSchema compiles an inline JSON Schema document.
func CompileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return schema, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name, src string) *jsonschema.Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses model output into T. Markdown fences and surrounding prose
// are stripped, broken JSON is repaired, and the document is checked against
// schema when one is given.
func Decode[T any](raw string, schema *jsonschema.Schema) (T, error) {
	var zero T
	text := extractJSON(raw)
	if text == "" {
		return zero, errors.New("empty output")
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return zero, fmt.Errorf("invalid json: %w", err)
		}
		if err := json.Unmarshal([]byte(fixed), &doc); err != nil {
			return zero, fmt.Errorf("invalid json after repair: %w", err)
		}
		text = fixed
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return zero, fmt.Errorf("does not match schema: %w", err)
		}
	}
	var out T
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return zero, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// Generate completes req in JSON mode and decodes the result, asking again up
// to attempts times when the output is malformed. Provider errors are not
// retried here; the transport already does that.
func Generate[T any](ctx context.Context, p Provider, capability string, req Request, schema *jsonschema.Schema, attempts int) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}
	req.JSON = true
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return zero, err
		}
		out, err := Decode[T](resp.Content, schema)
		if err == nil {
			return out, nil
		}
		lastErr = &OutputError{Capability: capability, Raw: resp.Content, Err: err}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
