// internal/browser/payload.go
package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/pdp-injector/internal/mutation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BindingName is the Runtime binding the page bridge reports through.
const BindingName = "__pdpinject"

// Payload kinds sent by the bridge.
const (
	KindMutations = "mutations"
	KindAction    = "action"
	KindReady     = "ready"
)

// payload is one message from the page bridge.
type payload struct {
	Kind   string          `json:"kind"`
	Action string          `json:"action,omitempty"`
	Batch  *mutation.Batch `json:"batch,omitempty"`
	Doc    string          `json:"doc,omitempty"`
}

func decodePayload(raw string) (payload, error) {
	var p payload
	if err := json.UnmarshalFromString(raw, &p); err != nil {
		return payload{}, fmt.Errorf("decode binding payload: %w", err)
	}
	switch p.Kind {
	case KindMutations:
		if p.Batch == nil {
			return payload{}, fmt.Errorf("mutations payload without batch")
		}
	case KindAction:
		if p.Action == "" {
			return payload{}, fmt.Errorf("action payload without action")
		}
	case KindReady:
	default:
		return payload{}, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return p, nil
}

// callExpr builds the expression invoking a bridge op. The result is
// stringified so every op, including those returning null, comes back as a
// JSON document.
func callExpr(op string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encodedOp, err := json.MarshalToString(op)
	if err != nil {
		return "", err
	}
	encodedArgs, err := json.MarshalToString(args)
	if err != nil {
		return "", fmt.Errorf("encode args for %s: %w", op, err)
	}
	return fmt.Sprintf("JSON.stringify(window.__pdp.call(%s, %s))", encodedOp, encodedArgs), nil
}
