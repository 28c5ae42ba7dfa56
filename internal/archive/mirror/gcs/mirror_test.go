package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/ledger-batch/internal/archive/mirror/gcs"
)

func newTestMirror(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.Mirror {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	m, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck
	_, err = gcs.New(client, gcs.Config{})
	assert.Error(t, err)
}

func TestPutObject(t *testing.T) {
	payload := []byte("archive-bytes")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/archives/o")
		assert.Equal(t, "ledger/weekly/Weekly_Report_2024-W01.zip", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		fmt.Fprintln(w, `{"name": "ledger/weekly/Weekly_Report_2024-W01.zip", "bucket": "archives"}`)
	})

	m := newTestMirror(t, handler, gcs.Config{Bucket: "archives", Prefix: "/ledger/"})
	uri, err := m.PutObject(context.Background(), "weekly/Weekly_Report_2024-W01.zip", "application/zip", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://archives/ledger/weekly/Weekly_Report_2024-W01.zip", uri)
}

func TestPutObjectError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	m := newTestMirror(t, handler, gcs.Config{Bucket: "archives"})
	_, err := m.PutObject(context.Background(), "monthly/Monthly_Report_2024-01.zip", "application/zip", bytes.NewReader([]byte("x")))
	assert.Error(t, err)

	_, err = m.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	m, err := gcs.New(client, gcs.Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "weekly/x.zip", m.ObjectName("weekly/x.zip"))
}
