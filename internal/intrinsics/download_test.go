package intrinsics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/stratabuild/strata/internal/digest"
)

func newTestDownloader(st *fakeStore, versionHdr string) *Downloader {
	d := NewDownloader(http.DefaultClient, st, versionHdr)
	d.newBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	return d
}

func TestDownloader_Download_VerifiesDigestAndStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("artifact bytes"))
	}))
	defer srv.Close()

	st := newFakeStore()
	d := newTestDownloader(st, "")

	expected := digest.Of([]byte("artifact bytes"))
	got, err := d.Download(context.Background(), srv.URL, expected, "")
	require.NoError(t, err)
	require.Equal(t, expected, got)

	b, ok, err := st.LoadBytes(context.Background(), got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "artifact bytes", string(b))
}

func TestDownloader_Download_DigestMismatchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wrong bytes"))
	}))
	defer srv.Close()

	st := newFakeStore()
	d := newTestDownloader(st, "")

	_, err := d.Download(context.Background(), srv.URL, digest.Of([]byte("expected bytes")), "")
	require.Error(t, err)
}

func TestDownloader_Download_VersionConstraintSatisfied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Artifact-Version", "1.4.0")
		_, _ = w.Write([]byte("v1.4.0 content"))
	}))
	defer srv.Close()

	st := newFakeStore()
	d := newTestDownloader(st, "X-Artifact-Version")

	expected := digest.Of([]byte("v1.4.0 content"))
	_, err := d.Download(context.Background(), srv.URL, expected, ">= 1.0.0")
	require.NoError(t, err)
}

func TestDownloader_Download_VersionConstraintViolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Artifact-Version", "0.9.0")
		_, _ = w.Write([]byte("v0.9.0 content"))
	}))
	defer srv.Close()

	st := newFakeStore()
	d := newTestDownloader(st, "X-Artifact-Version")

	expected := digest.Of([]byte("v0.9.0 content"))
	_, err := d.Download(context.Background(), srv.URL, expected, ">= 1.0.0")
	require.Error(t, err)
}

func TestDownloader_Download_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st := newFakeStore()
	d := newTestDownloader(st, "")

	_, err := d.Download(context.Background(), srv.URL, digest.Of([]byte("x")), "")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
