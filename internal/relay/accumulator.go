package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
)

// ExecFunc runs a completed tool call and returns the content string to
// splice into the outgoing stream.
type ExecFunc func(ctx context.Context, name string, args json.RawMessage) (string, error)

// Accumulator reassembles tool-call arguments that arrive fragmented across
// stream chunks. Buffers are keyed by tool name and live for a single
// response; a buffer is cleared the moment it parses and its call executes.
type Accumulator struct {
	exec  ExecFunc
	known map[string]bool
	bufs  map[string]*strings.Builder
	names map[int]string
}

// NewAccumulator tracks the given tool names. Calls to any other tool are
// ignored rather than treated as errors.
func NewAccumulator(names []string, exec ExecFunc) *Accumulator {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return &Accumulator{
		exec:  exec,
		known: known,
		bufs:  make(map[string]*strings.Builder),
		names: make(map[int]string),
	}
}

// Ingest feeds one chunk's tool-call deltas into the buffers. Each buffer
// that completes (parses as valid JSON) triggers exactly one execution; the
// returned strings are the tool results to emit, in completion order.
// An unparseable buffer is the expected mid-stream state, not an error.
func (a *Accumulator) Ingest(ctx context.Context, calls []llm.ToolCallDelta) ([]string, error) {
	var results []string
	for _, call := range calls {
		if call.Function.Name != "" {
			a.names[call.Index] = call.Function.Name
		}
		name := a.names[call.Index]
		if name == "" || !a.known[name] {
			continue
		}

		buf, ok := a.bufs[name]
		if !ok {
			buf = &strings.Builder{}
			a.bufs[name] = buf
		}
		buf.WriteString(call.Function.Arguments)

		raw := buf.String()
		if raw == "" || !json.Valid([]byte(raw)) {
			continue
		}

		delete(a.bufs, name)
		delete(a.names, call.Index)
		out, err := a.exec(ctx, name, json.RawMessage(raw))
		if err != nil {
			return results, err
		}
		results = append(results, out)
	}
	return results, nil
}
