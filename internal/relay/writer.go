package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// FrameWriter serializes frames onto the downstream SSE response. Content
// frames use the chat-completions delta shape the browser client expects;
// the terminal frame is always `data: [DONE]`.
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
	done    bool
}

// NewFrameWriter wraps a response writer. Flushing is enabled when the
// writer supports it.
func NewFrameWriter(w io.Writer) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

type contentEnvelope struct {
	Choices []contentChoice `json:"choices"`
}

type contentChoice struct {
	Delta contentDelta `json:"delta"`
}

type contentDelta struct {
	Content string `json:"content"`
}

// WriteContent emits one synthetic content frame.
func (fw *FrameWriter) WriteContent(text string) error {
	payload, err := json.Marshal(contentEnvelope{
		Choices: []contentChoice{{Delta: contentDelta{Content: text}}},
	})
	if err != nil {
		return err
	}
	return fw.writeFrame("", payload)
}

// WriteRaw relays an upstream JSON payload verbatim, reframed.
func (fw *FrameWriter) WriteRaw(payload []byte) error {
	return fw.writeFrame("", payload)
}

// WriteEvent emits a typed SSE frame, e.g. `event: extracted_event`.
func (fw *FrameWriter) WriteEvent(event string, payload []byte) error {
	return fw.writeFrame(event, payload)
}

// WriteDone emits the terminal frame. Subsequent writes are no-ops so the
// terminal frame is always last and emitted once.
func (fw *FrameWriter) WriteDone() error {
	if fw.done {
		return nil
	}
	if _, err := io.WriteString(fw.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	fw.done = true
	fw.flush()
	return nil
}

func (fw *FrameWriter) writeFrame(event string, payload []byte) error {
	if fw.done {
		return nil
	}
	if event != "" {
		if _, err := fmt.Fprintf(fw.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(fw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	fw.flush()
	return nil
}

func (fw *FrameWriter) flush() {
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
}
