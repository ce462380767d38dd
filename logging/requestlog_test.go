package logging

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/provider"
)

func TestRequestLog_Lifecycle(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRequestLog(logger)

	id := r.LogRequest(llm.RequestMeta{EntityID: "scene-1", Operation: "summary", Provider: provider.KindOpenRouter, Model: "openai/o3"})
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())
	assert.Equal(t, "llm request", hook.LastEntry().Message)

	r.LogSuccess(id, "A short summary.", 1500*time.Millisecond)
	assert.Equal(t, 0, r.Pending())

	last := hook.LastEntry()
	assert.Equal(t, "llm request succeeded", last.Message)
	assert.Equal(t, int64(1500), last.Data["duration_ms"])
	assert.Equal(t, "scene-1", last.Data["entity_id"])

	recent := r.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, StatusSuccess, recent[0].Status)
	assert.Equal(t, "A short summary.", recent[0].Text)
	assert.Equal(t, "openai/o3", recent[0].Model)
	assert.False(t, recent[0].StartedAt.IsZero())
}

func TestRequestLog_TerminalEvents(t *testing.T) {
	tests := []struct {
		name       string
		finish     func(r *RequestLog, id string)
		wantStatus Status
		wantMsg    string
		wantLevel  logrus.Level
	}{
		{
			name:       "error",
			finish:     func(r *RequestLog, id string) { r.LogError(id, "Rate limit reached.", time.Second) },
			wantStatus: StatusError,
			wantMsg:    "llm request failed",
			wantLevel:  logrus.WarnLevel,
		},
		{
			name:       "aborted",
			finish:     func(r *RequestLog, id string) { r.LogAborted(id, time.Second) },
			wantStatus: StatusAborted,
			wantMsg:    "llm request aborted",
			wantLevel:  logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			r := NewRequestLog(logger)

			id := r.LogRequest(llm.RequestMeta{})
			tt.finish(r, id)

			assert.Equal(t, tt.wantMsg, hook.LastEntry().Message)
			assert.Equal(t, tt.wantLevel, hook.LastEntry().Level)
			assert.Equal(t, tt.wantStatus, r.Recent()[0].Status)
		})
	}
}

func TestRequestLog_SecondTerminalIgnored(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRequestLog(logger)

	id := r.LogRequest(llm.RequestMeta{})
	r.LogAborted(id, time.Millisecond)
	r.LogSuccess(id, "late", time.Millisecond)
	r.LogError("unknown", "boom", time.Millisecond)

	assert.Len(t, hook.AllEntries(), 2)
	require.Len(t, r.Recent(), 1)
	assert.Equal(t, StatusAborted, r.Recent()[0].Status)
}

func TestRequestLog_RecentRing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRequestLog(logger, WithHistorySize(3))

	for i := range 5 {
		id := r.LogRequest(llm.RequestMeta{EntityID: fmt.Sprint(i)})
		r.LogSuccess(id, "", 0)
	}

	var got []string
	for _, e := range r.Recent() {
		got = append(got, e.EntityID)
	}
	assert.Equal(t, []string{"4", "3", "2"}, got)
}

func TestRequestLog_Concurrent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRequestLog(logger, WithHistorySize(1000))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := r.LogRequest(llm.RequestMeta{})
			r.LogSuccess(id, "ok", 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Pending())
	assert.Len(t, r.Recent(), 100)
}
