package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
)

// readEvents collects SSE event names until n have arrived or the
// deadline passes.
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []string {
	t.Helper()
	var names []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for scanner.Scan() {
			line := scanner.Text()
			if name, ok := strings.CutPrefix(line, "event: "); ok {
				names = append(names, name)
				if len(names) == n {
					return
				}
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %d events", n)
	}
	return names
}

func TestSSE_StreamsRunEvents(t *testing.T) {
	bus := events.New(100)
	srv := httptest.NewServer(NewServer(&fakeResearcher{}, WithEventBus(bus)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?run=run-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.Equal(t, []string{"connected"}, readEvents(t, scanner, 1))

	bus.Publish(events.NewPhaseChangedEvent("other-run", "PLANNING", "RESEARCHING", 1))
	bus.Publish(events.NewPhaseChangedEvent("run-1", "PLANNING", "RESEARCHING", 1))
	bus.Publish(events.NewRunCompletedEvent("run-1", "DONE", true, 85, 12, false, time.Second, ""))

	assert.Equal(t, []string{events.TypePhaseChanged, events.TypeRunCompleted}, readEvents(t, scanner, 2))
}

func TestSSE_WithoutBus(t *testing.T) {
	srv := NewServer(&fakeResearcher{})
	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
