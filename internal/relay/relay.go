// Package relay pumps an upstream streaming chat completion into a
// downstream SSE response, splicing server-side tool results into the
// stream as their argument buffers complete.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dialogoo/laiive-cbd51641-sub000/internal/llm"
	"github.com/dialogoo/laiive-cbd51641-sub000/internal/logutil"
)

const doneSentinel = "[DONE]"

// ExtractedEventName is the SSE event type carrying an extracted event.
const ExtractedEventName = "extracted_event"

// Options configure one relay invocation. Writer is required; Accumulator
// and Detector are armed per endpoint.
type Options struct {
	Writer      *FrameWriter
	Accumulator *Accumulator
	Detector    *SentinelDetector
}

// Relay owns the per-request pump loop. It is single-use.
type Relay struct {
	writer   *FrameWriter
	acc      *Accumulator
	detector *SentinelDetector
}

// New builds a relay for one request.
func New(opts Options) *Relay {
	return &Relay{
		writer:   opts.Writer,
		acc:      opts.Accumulator,
		detector: opts.Detector,
	}
}

// Run consumes the upstream SSE body until the terminal sentinel or EOF,
// then emits the downstream terminal frame. Malformed frames are logged and
// dropped; a read failure aborts the relay with the error. In every exit
// path that is not a write failure the terminal frame goes out last.
func (r *Relay) Run(ctx context.Context, upstream io.Reader) error {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := line[len("data: "):]
		if payload == doneSentinel {
			return r.writer.WriteDone()
		}

		var chunk llm.StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logutil.Warn("relay_frame_dropped", map[string]interface{}{"reason": err.Error()})
			continue
		}

		if err := r.dispatch(ctx, payload, &chunk); err != nil {
			if err == errShortCircuit {
				return r.writer.WriteDone()
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("upstream read failed: %w", err)
	}
	return r.writer.WriteDone()
}

// errShortCircuit signals that the detector found a complete extracted
// event and the stream should terminate early.
var errShortCircuit = fmt.Errorf("relay: short circuit")

func (r *Relay) dispatch(ctx context.Context, payload string, chunk *llm.StreamChunk) error {
	if len(chunk.Choices) == 0 {
		// Keep-alive or usage-only chunk; relay untouched.
		return r.writer.WriteRaw([]byte(payload))
	}
	delta := chunk.Choices[0].Delta

	if len(delta.ToolCalls) > 0 {
		if r.acc == nil {
			return nil
		}
		results, err := r.acc.Ingest(ctx, delta.ToolCalls)
		if err != nil {
			return err
		}
		for _, result := range results {
			if err := r.writer.WriteContent(result); err != nil {
				return err
			}
		}
		return nil
	}

	if err := r.writer.WriteRaw([]byte(payload)); err != nil {
		return err
	}

	if r.detector != nil && delta.Content != nil {
		if extracted, found := r.detector.Feed(*delta.Content); found {
			if err := r.writer.WriteEvent(ExtractedEventName, []byte(extracted)); err != nil {
				return err
			}
			return errShortCircuit
		}
	}
	return nil
}
