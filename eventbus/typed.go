package eventbus

import (
	"context"
	"fmt"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/json"
)

// TypedHandler receives the payload already converted to T.
type TypedHandler[T any] func(ctx context.Context, payload T, meta Metadata) error

// Typed adapts a TypedHandler to Handler. Payloads of type T or *T are passed
// through; raw JSON and maps (what a networked backend delivers) are decoded
// into T. Anything else fails the invocation with an invalid-payload error.
func Typed[T any](h TypedHandler[T]) Handler {
	return func(ctx context.Context, payload any, meta Metadata) error {
		v, err := DecodePayload[T](payload)
		if err != nil {
			return err
		}
		return h(ctx, v, meta)
	}
}

// DecodePayload converts an event payload to T.
func DecodePayload[T any](payload any) (T, error) {
	var zero T

	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	case []byte:
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return zero, errors.WrapWithType(err, errors.ErrorTypeInvalid, "decode event payload")
		}
		return v, nil
	case json.RawMessage:
		var v T
		if err := json.Unmarshal(p, &v); err != nil {
			return zero, errors.WrapWithType(err, errors.ErrorTypeInvalid, "decode event payload")
		}
		return v, nil
	case map[string]any:
		var v T
		if err := json.Convert(p, &v); err != nil {
			return zero, errors.WrapWithType(err, errors.ErrorTypeInvalid, "convert event payload")
		}
		return v, nil
	}
	return zero, errors.NewInvalid("payload", fmt.Sprintf("%T", payload), fmt.Sprintf("expected %T", zero))
}
