package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/clouddfe/cfsq/internal/domain"
)

// ComputeFunc is the opaque simulation: a pure, deterministic function of
// the parameter tuple producing the result blob.
type ComputeFunc func(ctx context.Context, p domain.Params) (io.Reader, error)

// Solver wraps an external solver binary as a ComputeFunc. The parameter
// tuple goes in as JSON on stdin; stdout is the result blob; a non-zero
// exit is a computation failure with stderr as the reason.
func Solver(bin string) ComputeFunc {
	return func(ctx context.Context, p domain.Params) (io.Reader, error) {
		input, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		var out, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin)
		cmd.Stdin = bytes.NewReader(input)
		cmd.Stdout = &out
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			reason := strings.TrimSpace(stderr.String())
			if reason == "" {
				reason = err.Error()
			}
			return nil, fmt.Errorf("solver: %s", reason)
		}
		return &out, nil
	}
}
