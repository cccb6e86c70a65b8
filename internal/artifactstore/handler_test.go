package artifactstore_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/artifactstore"
)

var errNoSuchArtifact = errors.New("no such artifact")

type fakeGetter struct {
	objects map[string][]byte
}

func (f *fakeGetter) Get(_ context.Context, key string) ([]byte, string, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, "", errNoSuchArtifact
	}

	return data, "audio/mpeg", nil
}

func handlerLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "handler_test.log")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newHandlerServer(t *testing.T, clock func() time.Time) (*httptest.Server, *artifactstore.Signer) {
	t.Helper()

	signer, err := artifactstore.NewSigner("http://placeholder", []byte("secret"), clock)
	require.NoError(t, err)

	getter := &fakeGetter{objects: map[string][]byte{
		"prayers/a@x.com/run.mp3": []byte("mp3-bytes"),
	}}

	router := mux.NewRouter()
	artifactstore.NewHandler(getter, signer, handlerLogger(t)).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return srv, signer
}

func signedPath(t *testing.T, signer *artifactstore.Signer, key string, ttl time.Duration) string {
	t.Helper()

	link, err := signer.Sign(key, ttl)
	require.NoError(t, err)

	parsed, err := url.Parse(link)
	require.NoError(t, err)

	return parsed.Path + "?" + parsed.RawQuery
}

func TestHandler_ServesSignedArtifact(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	srv, signer := newHandlerServer(t, fixedClock(now))

	path := signedPath(t, signer, "prayers/a@x.com/run.mp3", time.Hour)

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
}

func TestHandler_RejectsExpiredLink(t *testing.T) {
	t.Parallel()

	issued := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	clock := issued
	srv, signer := newHandlerServer(t, func() time.Time { return clock })

	path := signedPath(t, signer, "prayers/a@x.com/run.mp3", time.Hour)

	clock = issued.Add(time.Hour + time.Second)

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_RejectsUnsignedRequest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	srv, _ := newHandlerServer(t, fixedClock(now))

	resp, err := http.Get(srv.URL + "/artifacts/prayers/a@x.com/run.mp3")
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_MissingArtifactIsNotFound(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	srv, signer := newHandlerServer(t, fixedClock(now))

	path := signedPath(t, signer, "prayers/missing@x.com/run.mp3", time.Hour)

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_SignedLinkBodyMatchesStored(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 29, 7, 0, 0, 0, time.UTC)
	srv, signer := newHandlerServer(t, fixedClock(now))

	path := signedPath(t, signer, "prayers/a@x.com/run.mp3", time.Hour)

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", string(body))
}
