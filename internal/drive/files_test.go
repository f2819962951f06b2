package drive

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWithConversion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "id", r.URL.Query().Get("fields"))

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/related", mediaType)

		mr := multipart.NewReader(r.Body, params["boundary"])

		// First part: JSON metadata naming the target Google type.
		metaPart, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "application/json; charset=UTF-8", metaPart.Header.Get("Content-Type"))

		metaBody, err := io.ReadAll(metaPart)
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"report.docx","mimeType":"application/vnd.google-apps.document"}`, string(metaBody))

		// Second part: the file bytes with the source MIME type.
		mediaPart, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t,
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			mediaPart.Header.Get("Content-Type"))

		mediaBody, err := io.ReadAll(mediaPart)
		require.NoError(t, err)
		assert.Equal(t, "file-bytes", string(mediaBody))

		io.WriteString(w, `{"id":"doc-123"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	id, err := c.CreateWithConversion(context.Background(),
		"report.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.google-apps.document",
		strings.NewReader("file-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "doc-123", id)
}

func TestCreateWithConversionRetriesWholeBody(t *testing.T) {
	// The multipart body is buffered, so a 503 on the first attempt must be
	// retried with the complete payload.
	var bodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)

		if len(bodies) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		io.WriteString(w, `{"id":"doc-9"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	id, err := c.CreateWithConversion(context.Background(),
		"a.xls", "application/vnd.ms-excel", "application/vnd.google-apps.spreadsheet",
		strings.NewReader("cells"))
	require.NoError(t, err)
	assert.Equal(t, "doc-9", id)

	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
}

func TestCreateWithConversionMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.CreateWithConversion(context.Background(),
		"a.doc", "application/msword", "application/vnd.google-apps.document",
		strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing file id")
}

func TestExportPDF(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake content")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/files/doc-123/export", r.URL.Path)
		assert.Equal(t, "application/pdf", r.URL.Query().Get("mimeType"))
		w.Write(pdf)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var buf bytes.Buffer

	n, err := c.ExportPDF(context.Background(), "doc-123", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(pdf)), n)
	assert.Equal(t, pdf, buf.Bytes())
}

func TestExportPDFTooLarge(t *testing.T) {
	// Drive rejects exports above its 10 MB output cap with 403.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":{"code":403,"message":"This file is too large to be exported.","errors":[{"reason":"exportSizeLimitExceeded"}]}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.ExportPDF(context.Background(), "doc-big", io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "exportSizeLimitExceeded", apiErr.Reason)
}

func TestDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/files/doc-123", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	require.NoError(t, c.Delete(context.Background(), "doc-123"))
}

func TestDeleteNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	err := c.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAbout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("fields"))
		io.WriteString(w, `{"user":{"displayName":"Test User","emailAddress":"user@example.com"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	user, err := c.About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Test User", user.DisplayName)
	assert.Equal(t, "user@example.com", user.Email)
}
