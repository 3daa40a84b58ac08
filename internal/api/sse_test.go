package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/hub"
	"github.com/fetcharr/fetcharr/internal/models"
)

// openStream subscribes to one SSE topic and returns a line reader plus a
// cancel that tears the request down.
func openStream(t *testing.T, e *env, topic string) (*bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.http.URL+"/api/events?topic="+topic, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	t.Cleanup(func() {
		cancel()
		_ = resp.Body.Close()
	})
	return bufio.NewReader(resp.Body), cancel
}

// nextData reads lines until the next data event, skipping heartbeats.
func nextData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	t.Fatal("no data event before deadline")
	return ""
}

func TestStreamSendsInitialSnapshot(t *testing.T) {
	e := newEnv(t)
	p := e.createProfile(t, "hd")
	e.createList(t, "chan", p.ID)

	r, _ := openStream(t, e, hub.TopicLists)
	var lists []*models.List
	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &lists))
	require.Len(t, lists, 1)
	require.Equal(t, "chan", lists[0].Name)
}

func TestStreamPushesOnPublish(t *testing.T) {
	e := newEnv(t)
	p := e.createProfile(t, "hd")

	r, _ := openStream(t, e, hub.TopicLists)
	var lists []*models.List
	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &lists))
	require.Empty(t, lists)

	// Wait for the subscription before mutating state.
	require.Eventually(t, func() bool {
		return e.hub.SubscriberCount(hub.TopicLists) == 1
	}, time.Second, 5*time.Millisecond)

	e.createList(t, "chan", p.ID)
	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &lists))
	require.Len(t, lists, 1)
}

func TestStreamHeartbeat(t *testing.T) {
	e := newEnv(t)
	r, _ := openStream(t, e, hub.TopicProgress)
	nextData(t, r) // initial snapshot

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": heartbeat") {
			return
		}
	}
	t.Fatal("no heartbeat before deadline")
}

func TestStreamRejectsUnknownTopic(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.http.URL + "/api/events?topic=bogus")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamPerListTopics(t *testing.T) {
	e := newEnv(t)
	p := e.createProfile(t, "hd")
	l := e.createList(t, "chan", p.ID)
	_, err := e.store.InsertVideo(context.Background(), &models.Video{
		ListID: l.ID, ExternalID: "v1", Title: "First", URL: "u", MediaType: models.MediaTypeVideo,
	})
	require.NoError(t, err)

	r, _ := openStream(t, e, hub.TopicListVideos(l.ID))
	var videos []*models.Video
	require.NoError(t, json.Unmarshal([]byte(nextData(t, r)), &videos))
	require.Len(t, videos, 1)
	require.Equal(t, "First", videos[0].Title)
}
