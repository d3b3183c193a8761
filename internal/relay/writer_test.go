package relay

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteContentShape(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	fw := NewFrameWriter(&out)
	require.NoError(t, fw.WriteContent("hello\nworld"))

	frame := out.String()
	require.True(t, len(frame) > 8 && frame[:6] == "data: ")
	require.True(t, frame[len(frame)-2:] == "\n\n")

	var envelope struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal([]byte(frame[6:len(frame)-2]), &envelope))
	require.Len(t, envelope.Choices, 1)
	require.Equal(t, "hello\nworld", envelope.Choices[0].Delta.Content)
}

func TestWritesAfterDoneAreNoOps(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	fw := NewFrameWriter(&out)
	require.NoError(t, fw.WriteDone())
	require.NoError(t, fw.WriteContent("late"))
	require.NoError(t, fw.WriteDone())
	require.Equal(t, "data: [DONE]\n\n", out.String())
}

func TestWriteEventFrame(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	fw := NewFrameWriter(&out)
	require.NoError(t, fw.WriteEvent("extracted_event", []byte(`{"name":"x"}`)))
	require.Equal(t, "event: extracted_event\ndata: {\"name\":\"x\"}\n\n", out.String())
}
