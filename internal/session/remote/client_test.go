package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	iriserrors "iris/internal/errors"
	"iris/internal/session"
	"iris/internal/session/remote"
	"iris/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestClientAgainstStoreAPI(t *testing.T) {
	t.Parallel()

	store := testutil.NewRemoteStore()
	srv := httptest.NewServer(store.Handler())
	defer srv.Close()

	client, err := remote.New(srv.URL+"/", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.GetSession(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, client.CreateSession(ctx, session.RemoteSession{ID: "s1", Agent: "iris"}))
	meta, err := client.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "iris", meta.Agent)

	require.NoError(t, client.UpdateSessionAgent(ctx, "s1", "codex"))
	meta, err = client.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "codex", meta.Agent)

	require.NoError(t, client.AppendMessage(ctx, "s1", session.Message{ID: "m1", Role: "user", Content: "hi"}))
	require.NoError(t, client.AppendMessage(ctx, "s1", session.Message{ID: "m2", Role: "assistant", Content: "hello"}))

	msgs, err := client.ListMessages(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
}

func TestClientAcceptsBareMessageArrays(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "200" {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"a","role":"user","content":"one"},{"id":"b","role":"assistant","content":"two"}]`))
	}))
	defer srv.Close()

	client, err := remote.New(srv.URL, time.Second)
	require.NoError(t, err)
	msgs, err := client.ListMessages(context.Background(), "x", 200)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "two", msgs[1].Content)
}

func TestClientClassifiesServerErrors(t *testing.T) {
	t.Parallel()

	store := testutil.NewRemoteStore()
	store.SetDown(true)
	srv := httptest.NewServer(store.Handler())
	defer srv.Close()

	client, err := remote.New(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.GetSession(context.Background(), "s")
	require.Error(t, err)
	require.True(t, iriserrors.IsTransient(err))
	require.False(t, errors.Is(err, session.ErrNotFound))
}

func TestClientTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := remote.New(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.GetSession(context.Background(), "slow")
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestLatestScreenshotRawImage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/pad-1/screenshots/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	client, err := remote.New(srv.URL, time.Second)
	require.NoError(t, err)
	shot, err := client.LatestScreenshot(context.Background(), "pad-1")
	require.NoError(t, err)
	require.Equal(t, "image/png", shot.MediaType)
	require.NotEmpty(t, shot.Data)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := remote.New("  ", time.Second)
	require.Error(t, err)
}
