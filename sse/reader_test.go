package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r *Reader) []string {
	t.Helper()
	var out []string
	for r.Next() {
		out = append(out, string(r.Data()))
	}
	return out
}

func TestReader_Payloads(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "data lines",
			input: "data: {\"a\":1}\n\ndata: {\"a\":2}\n\n",
			want:  []string{`{"a":1}`, `{"a":2}`},
		},
		{
			name:  "no space after colon and CRLF",
			input: "data:{\"a\":1}\r\n\r\n",
			want:  []string{`{"a":1}`},
		},
		{
			name:  "comments and unknown fields ignored",
			input: ": OPENROUTER PROCESSING\n\nid: 7\nretry: 100\ndata: x\n\n",
			want:  []string{"x"},
		},
		{
			name:  "sentinel stops the stream",
			input: "data: one\n\ndata: [DONE]\n\ndata: after\n\n",
			want:  []string{"one"},
		},
		{
			name:  "final line without newline",
			input: "data: one\n\ndata: two",
			want:  []string{"one", "two"},
		},
		{
			name:  "empty data lines skipped",
			input: "data:\n\ndata:   \n\ndata: z\n",
			want:  []string{"z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input))
			assert.Equal(t, tt.want, collect(t, r))
			assert.NoError(t, r.Err())
			assert.True(t, r.Finished())
		})
	}
}

func TestReader_RecombinesSplitReads(t *testing.T) {
	input := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
		"data: [DONE]\n\n"

	r := NewReader(iotest.OneByteReader(strings.NewReader(input)))
	got := collect(t, r)

	require.Len(t, got, 2)
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	r2 := NewReader(strings.NewReader("data: " + got[1] + "\n"))
	require.True(t, r2.Next())
	require.NoError(t, r2.DecodeJSON(&chunk))
	assert.Equal(t, " world", chunk.Choices[0].Delta.Content)
}

func TestReader_Event(t *testing.T) {
	r := NewReader(strings.NewReader("event: content_block_delta\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"))
	require.True(t, r.Next())
	assert.Equal(t, "content_block_delta", r.Event())
	require.True(t, r.Next())
	assert.Equal(t, "message_stop", r.Event())
	assert.False(t, r.Next())

	// Only the single space after the colon is dropped.
	r = NewReader(strings.NewReader("event:ping\ndata: {}\n\nevent:  padded\ndata: {}\n\n"))
	require.True(t, r.Next())
	assert.Equal(t, "ping", r.Event())
	require.True(t, r.Next())
	assert.Equal(t, " padded", r.Event())
}

func TestReader_DecodeJSON_SkipsMalformed(t *testing.T) {
	r := NewReader(strings.NewReader("data: {\"n\":1}\ndata: {\"n\":\ndata: {\"n\":3}\n"))

	var got []int
	for r.Next() {
		var v struct {
			N int `json:"n"`
		}
		if err := r.DecodeJSON(&v); err != nil {
			require.ErrorIs(t, err, ErrMalformed)
			continue
		}
		got = append(got, v.N)
	}

	assert.Equal(t, []int{1, 3}, got)
	assert.Equal(t, 1, r.Skipped())
}

func TestReader_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReader(io.MultiReader(strings.NewReader("data: a\n"), iotest.ErrReader(boom)))

	assert.True(t, r.Next())
	assert.Equal(t, "a", string(r.Data()))
	assert.False(t, r.Next())
	assert.ErrorIs(t, r.Err(), boom)
}
