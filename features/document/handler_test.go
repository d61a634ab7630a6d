package document_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docbrief/features/document"
	"docbrief/internal/storage"
)

func multipartUpload(t *testing.T, filename, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_Upload(t *testing.T) {
	f := newFixture()
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	h := document.NewHandler(f.svc, 1<<20)

	req := multipartUpload(t, "report.pdf", "application/pdf", samplePDF(), map[string]string{
		"user_id": "user-1",
		"profile": "summary",
	})
	w := httptest.NewRecorder()
	h.Upload(w, req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var body struct {
		Data document.Handle `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.NotEmpty(t, body.Data.TaskID)
	assert.Equal(t, 2, body.Data.Pages)
}

func TestHandler_Upload_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "Not PDF",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "notes.txt", "text/plain", []byte("hello"), map[string]string{"user_id": "u", "profile": "summary"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "Missing File",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/documents/upload", bytes.NewBufferString("--x--"))
				req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name: "Bad Page Number",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "a.pdf", "application/pdf", samplePDF(), map[string]string{"user_id": "u", "profile": "summary", "start_page": "one"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "Oversize",
			req: func(t *testing.T) *http.Request {
				return multipartUpload(t, "a.pdf", "application/pdf", make([]byte, 3<<20), map[string]string{"user_id": "u", "profile": "summary"})
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			h := document.NewHandler(f.svc, 1<<20)
			w := httptest.NewRecorder()
			h.Upload(w, tt.req(t))
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		})
	}
}

func TestHandler_Submit(t *testing.T) {
	f := newFixture()
	f.pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	h := document.NewHandler(f.svc, 1<<20)

	w := httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/tasks",
		bytes.NewBufferString(`{"object_name":"u/a.pdf","user_id":"u","profile":"summary"}`)))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/tasks",
		bytes.NewBufferString(`{"object_name":"u/a.pdf","user_id":"u","profile":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListGetDelete(t *testing.T) {
	f := newFixture()
	h := document.NewHandler(f.svc, 1<<20)
	ctx := context.Background()

	for _, sum := range []string{"a", "b", "c"} {
		rec := &storage.Record{Name: sum + ".pdf", Checksum: sum, StoragePath: "derived/" + sum + ".md"}
		require.NoError(t, f.repo.CreateDocument(ctx, rec, []string{"v-" + sum}))
	}

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/documents?page=1&size=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []storage.Record `json:"data"`
		Meta map[string]int   `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Len(t, list.Data, 2)
	assert.Equal(t, 2, list.Meta["size"])

	w = httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/documents?page=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := list.Data[0].ID
	req := httptest.NewRequest(http.MethodGet, "/documents/"+id, nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "artifact_url")

	req = httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.Delete(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/documents/"+id, nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
