package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/imagehost/service/internal/response"
	"github.com/imagehost/service/internal/storage"
)

type formField struct {
	name, filename, contentType, value string
}

func multipartBody(t *testing.T, fields ...formField) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		header := make(map[string][]string)
		disposition := fmt.Sprintf(`form-data; name=%q`, f.name)
		if f.filename != "" {
			disposition += fmt.Sprintf(`; filename=%q`, f.filename)
		}
		header["Content-Disposition"] = []string{disposition}
		if f.contentType != "" {
			header["Content-Type"] = []string{f.contentType}
		}
		w, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.value))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postUpload(t *testing.T, h *Handler, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, Result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return rec, res
}

func TestHandlerUpload(t *testing.T) {
	uploader := &fakeUploader{name: "r2"}
	svc := NewService(newTestRepository(t, DefaultHistoryLimit), zerolog.Nop())
	svc.SetUploader(uploader)
	h := NewHandler(svc, 1<<20)

	body, ct := multipartBody(t, formField{name: "file", filename: "cat.png", contentType: "image/png", value: "meow"})
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Success)
	require.False(t, res.FromCache)
	require.NotNil(t, res.URL)
	require.Nil(t, res.Error)
	require.NotContains(t, rec.Body.String(), `"data"`)

	body, ct = multipartBody(t, formField{name: "file", filename: "again.png", value: "meow"})
	rec, again := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, again.FromCache)
	require.Equal(t, *res.URL, *again.URL)
	require.Equal(t, 1, uploader.callCount())
	require.Equal(t, []string{"image/png"}, uploader.contentTypes)
}

func TestHandlerUploadSkipsNonFileParts(t *testing.T) {
	uploader := &fakeUploader{name: "r2"}
	svc := NewService(nil, zerolog.Nop())
	svc.SetUploader(uploader)
	h := NewHandler(svc, 1<<20)

	body, ct := multipartBody(t,
		formField{name: "note", value: "not a file"},
		formField{name: "image", filename: "dog.jpg", value: "woof"},
		formField{name: "second", filename: "ignored.gif", value: "later"},
	)
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, res.Success)
	require.True(t, strings.HasSuffix(*res.URL, "dog.jpg"))
	require.Equal(t, []string{"image/jpeg"}, uploader.contentTypes)
}

func TestHandlerUploadWithoutFilePart(t *testing.T) {
	svc := NewService(nil, zerolog.Nop())
	svc.SetUploader(&fakeUploader{})
	h := NewHandler(svc, 1<<20)

	body, ct := multipartBody(t, formField{name: "note", value: "hello"})
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, res.Success)
	require.Nil(t, res.URL)
	require.Contains(t, *res.Error, "no file found")
}

func TestHandlerUploadMalformedBody(t *testing.T) {
	svc := NewService(nil, zerolog.Nop())
	svc.SetUploader(&fakeUploader{})
	h := NewHandler(svc, 1<<20)

	rec, res := postUpload(t, h, bytes.NewBufferString("plain text"), "text/plain")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, res.Success)
	require.Contains(t, *res.Error, "invalid multipart data")
}

func TestHandlerUploadTooLarge(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewService(nil, zerolog.Nop())
	svc.SetUploader(uploader)
	h := NewHandler(svc, 64)

	body, ct := multipartBody(t, formField{name: "file", filename: "big.png", value: strings.Repeat("x", 1024)})
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, res.Success)
	require.Zero(t, uploader.callCount())
}

func TestHandlerUploadNotConfigured(t *testing.T) {
	h := NewHandler(NewService(nil, zerolog.Nop()), 1<<20)

	body, ct := multipartBody(t, formField{name: "file", filename: "cat.png", value: "meow"})
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.False(t, res.Success)
	require.Equal(t, ErrNotConfigured.Error(), *res.Error)
}

func TestHandlerUploadBackendFailure(t *testing.T) {
	svc := NewService(nil, zerolog.Nop())
	svc.SetUploader(&fakeUploader{err: fmt.Errorf("%w: Access Denied", storage.ErrUploadFailed)})
	h := NewHandler(svc, 1<<20)

	body, ct := multipartBody(t, formField{name: "file", filename: "cat.png", value: "meow"})
	rec, res := postUpload(t, h, body, ct)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.False(t, res.Success)
	require.Contains(t, *res.Error, "Access Denied")
}

func TestHandlerHistory(t *testing.T) {
	repo := newTestRepository(t, DefaultHistoryLimit)
	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.Insert(context.Background(), testRecord(i)))
	}
	h := NewHandler(NewService(repo, zerolog.Nop()), 1<<20)

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Success bool     `json:"success"`
		Data    []Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	require.Len(t, env.Data, 2)
	require.Equal(t, "id-003", env.Data[0].ID)

	rec = get("/history")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 3)

	rec = get("/history?limit=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerHistoryWithoutStore(t *testing.T) {
	h := NewHandler(NewService(nil, zerolog.Nop()), 1<<20)

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/history", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env response.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.Equal(t, ErrStoreUnavailable.Error(), env.Error)
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusOK, StatusCode(succeeded("u", false)))
	require.Equal(t, http.StatusServiceUnavailable, StatusCode(failed(ErrNotConfigured)))
	require.Equal(t, http.StatusBadRequest, StatusCode(failed(ErrMissingFile)))
	require.Equal(t, http.StatusInternalServerError, StatusCode(failed(storage.ErrUploadFailed)))
	require.Equal(t, http.StatusInternalServerError, StatusCode(failed(errors.New("boom"))))
}
