package toolgateway

import (
	"encoding/json"
	"fmt"
)

// Result is the raw JSON payload returned by a tool.
type Result struct {
	raw json.RawMessage
}

// NewResult wraps a raw payload.
func NewResult(raw []byte) Result {
	return Result{raw: json.RawMessage(raw)}
}

// Decode unmarshals the payload into v.
func (r Result) Decode(v any) error {
	if len(r.raw) == 0 {
		return fmt.Errorf("empty tool result")
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("decoding tool result: %w", err)
	}
	return nil
}

// Raw returns the payload bytes.
func (r Result) Raw() json.RawMessage { return r.raw }
