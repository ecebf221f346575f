// Copyright (C) 2026 RDK Management. All Rights Reserved.

// Package handler provides adapters to the wire.Handler type for functions
// with typed parameters and results.
//
// Parameters may be []byte or string, or a type whose pointer implements
// encoding.BinaryUnmarshaler. Results may be []byte or string, or a type that
// implements encoding.BinaryMarshaler.
package handler

import (
	"bytes"
	"context"
	"encoding"
	"fmt"

	"github.com/rdkcmf/waymetric/wire"
)

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a wire.Handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) wire.Handler {
	return func(ctx context.Context, req *wire.Request) ([]byte, error) {
		var p P
		if err := unmarshal(req.Data, &p); err != nil {
			return nil, err
		}
		r, err := f(ctx, p)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a wire.Handler.
func ResultError[R any](f func(context.Context) (R, error)) wire.Handler {
	return func(ctx context.Context, _ *wire.Request) ([]byte, error) {
		r, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return marshal(r)
	}
}

func unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
	case *string:
		*t = string(data)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case encoding.BinaryMarshaler:
		return t.MarshalBinary()
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
}
