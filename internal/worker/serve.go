package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Serve is the child side of ProcessRunner: it reads one request from in,
// runs it and writes one response to out.
func Serve(ctx context.Context, reg *Registry, in io.Reader, out io.Writer) error {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}

	resp := Response{Success: true}
	res, err := reg.Execute(ctx, req.Type, req.Payload)
	if err != nil {
		resp = Response{Success: false, Error: err.Error()}
	} else {
		resp.Result = res
	}

	if err := json.NewEncoder(out).Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}
