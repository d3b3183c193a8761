package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// chunkReader returns the underlying data in fixed-size reads so tests can
// split the stream at arbitrary byte boundaries.
type chunkReader struct {
	data []byte
	size int
	pos  int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func contentChunk(text string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]interface{}{"content": text}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

func toolChunk(name, fragment string) string {
	fn := map[string]interface{}{"arguments": fragment}
	if name != "" {
		fn["name"] = name
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]interface{}{
				"tool_calls": []map[string]interface{}{
					{"index": 0, "function": fn},
				},
			}},
		},
	})
	return "data: " + string(payload) + "\n\n"
}

func runRelay(t *testing.T, input io.Reader, opts Options) string {
	t.Helper()
	var out bytes.Buffer
	if opts.Writer == nil {
		opts.Writer = NewFrameWriter(&out)
	}
	r := New(opts)
	require.NoError(t, r.Run(context.Background(), input))
	return out.String()
}

func TestChunkingInvariance(t *testing.T) {
	t.Parallel()

	input := ": heartbeat\n\n" +
		contentChunk("Hello") +
		contentChunk(" there") +
		"data: [DONE]\n\n"

	var reference string
	for _, size := range []int{1, 2, 3, 7, 16, len(input)} {
		var out bytes.Buffer
		r := New(Options{Writer: NewFrameWriter(&out)})
		err := r.Run(context.Background(), &chunkReader{data: []byte(input), size: size})
		require.NoError(t, err, "chunk size %d", size)
		if reference == "" {
			reference = out.String()
		}
		require.Equal(t, reference, out.String(), "output must not depend on chunk boundaries (size %d)", size)
	}

	require.Contains(t, reference, `"content":"Hello"`)
	require.True(t, strings.HasSuffix(reference, "data: [DONE]\n\n"))
}

func TestCommentAndBlankLinesDiscarded(t *testing.T) {
	t.Parallel()

	input := ": keep-alive\n\n\n\nretry: 500\n" + contentChunk("x") + "data: [DONE]\n\n"
	out := runRelay(t, strings.NewReader(input), Options{})

	require.NotContains(t, out, "keep-alive")
	require.NotContains(t, out, "retry")
	require.Contains(t, out, `"content":"x"`)
}

func TestMalformedFrameDroppedNotFatal(t *testing.T) {
	t.Parallel()

	input := "data: {not json}\n\n" + contentChunk("ok") + "data: [DONE]\n\n"
	out := runRelay(t, strings.NewReader(input), Options{})

	require.NotContains(t, out, "not json")
	require.Contains(t, out, `"content":"ok"`)
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestToolCallSplicedIntoStream(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotArgs string
	var callCount int
	exec := func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		callCount++
		gotName = name
		gotArgs = string(args)
		return "Found 1 events near you:\n\nThe Gig", nil
	}

	input := contentChunk("Let me look that up.") +
		toolChunk("search_events", `{"latit`) +
		toolChunk("", `ude":41.38,"longitude"`) +
		toolChunk("", `:2.17}`) +
		contentChunk(" Done.") +
		"data: [DONE]\n\n"

	out := runRelay(t, strings.NewReader(input), Options{
		Accumulator: NewAccumulator([]string{"search_events"}, exec),
	})

	require.Equal(t, 1, callCount, "executor must fire exactly once, after the final fragment")
	require.Equal(t, "search_events", gotName)
	require.JSONEq(t, `{"latitude":41.38,"longitude":2.17}`, gotArgs)

	// Tool delta frames are consumed, not relayed.
	require.NotContains(t, out, "tool_calls")
	// Ordering: lead-in content, tool result, trailing content, terminal.
	lookIdx := strings.Index(out, "look that up")
	foundIdx := strings.Index(out, "Found 1 events")
	doneTextIdx := strings.Index(out, "Done.")
	termIdx := strings.LastIndex(out, "data: [DONE]")
	require.True(t, lookIdx < foundIdx && foundIdx < doneTextIdx && doneTextIdx < termIdx,
		"tool result must be spliced between surrounding content frames: %q", out)
}

func TestExecutorNotCalledBeforeArgumentsComplete(t *testing.T) {
	t.Parallel()

	var callCount int
	exec := func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		callCount++
		return "done", nil
	}

	// Arguments never complete; the stream ends without execution.
	input := toolChunk("create_event", `{"name":"Test`) + "data: [DONE]\n\n"
	runRelay(t, strings.NewReader(input), Options{
		Accumulator: NewAccumulator([]string{"create_event"}, exec),
	})
	require.Zero(t, callCount)
}

func TestUnknownToolIgnored(t *testing.T) {
	t.Parallel()

	var callCount int
	exec := func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		callCount++
		return "", nil
	}

	input := toolChunk("delete_everything", `{}`) + "data: [DONE]\n\n"
	out := runRelay(t, strings.NewReader(input), Options{
		Accumulator: NewAccumulator([]string{"search_events"}, exec),
	})
	require.Zero(t, callCount)
	require.Equal(t, "data: [DONE]\n\n", out)
}

func TestDuplicateCompletedArgumentsExecuteTwice(t *testing.T) {
	t.Parallel()

	// Locks in the documented non-idempotent behavior: the same completed
	// arguments arriving twice trigger two executions.
	var calls []string
	exec := func(ctx context.Context, name string, args json.RawMessage) (string, error) {
		calls = append(calls, string(args))
		return "inserted", nil
	}

	args := `{"name":"Test Gig","venue":"The Venue","city":"Barcelona","event_date":"2025-06-01T20:00:00"}`
	input := toolChunk("create_event", args) +
		toolChunk("create_event", args) +
		"data: [DONE]\n\n"

	runRelay(t, strings.NewReader(input), Options{
		Accumulator: NewAccumulator([]string{"create_event"}, exec),
	})
	require.Len(t, calls, 2)
}

func TestSentinelShortCircuit(t *testing.T) {
	t.Parallel()

	input := contentChunk("Here is your event! __EVENT_EX") +
		contentChunk(`TRACTED__{"name":"Test Gig","city":"Barcelona"}__EVENT_EXTRACTED__`) +
		contentChunk("this never reaches the client") +
		"data: [DONE]\n\n"

	detector := &SentinelDetector{}
	out := runRelay(t, strings.NewReader(input), Options{Detector: detector})

	require.Contains(t, out, "event: extracted_event\n")
	require.Contains(t, out, `"name":"Test Gig"`)
	require.NotContains(t, out, "never reaches the client")
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestTerminalFrameAlwaysLastAndOnce(t *testing.T) {
	t.Parallel()

	input := contentChunk("a") + "data: [DONE]\n\ndata: [DONE]\n\n"
	out := runRelay(t, strings.NewReader(input), Options{})
	require.Equal(t, 1, strings.Count(out, "data: [DONE]"))
	require.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}
