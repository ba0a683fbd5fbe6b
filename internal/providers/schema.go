package providers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// chatResponseSchema is the minimum shape we rely on. Everything else the
// server sends is ignored.
const chatResponseSchema = `{
  "type": "object",
  "required": ["choices"],
  "properties": {
    "choices": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["message"],
        "properties": {
          "message": {
            "type": "object",
            "required": ["content"],
            "properties": {
              "content": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

// responseSchemaURL is absolute so the compiler never resolves it against
// the working directory.
const responseSchemaURL = "mem://dococr/chat_response.json"

var compileResponseSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(responseSchemaURL, strings.NewReader(chatResponseSchema)); err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}
	return compiler.Compile(responseSchemaURL)
})

// decodeChatResponse validates body against the response schema and
// decodes it. Violations are reported as ResponseFormatError.
func decodeChatResponse(body []byte) (*chatResponse, error) {
	schema, err := compileResponseSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ResponseFormatError{Reason: "body is not JSON", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		return nil, &ResponseFormatError{Reason: "missing choices[0].message.content", Err: err}
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ResponseFormatError{Reason: "body does not match chat completion", Err: err}
	}
	return &resp, nil
}
