package job_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docbrief/features/job"
)

func TestHandler_List(t *testing.T) {
	repo := new(MockRepo)
	h := job.NewHandler(job.NewService(repo, nil, nil))

	repo.On("List", mock.Anything).Return([]job.Job{{ID: "1", TaskID: "t-1", Stage: "extracted"}}, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []job.Job `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Meta.Count)
	assert.Equal(t, "extracted", resp.Data[0].Stage)
}

func TestHandler_List_Empty(t *testing.T) {
	repo := new(MockRepo)
	h := job.NewHandler(job.NewService(repo, nil, nil))
	repo.On("List", mock.Anything).Return(nil, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestHandler_List_Error(t *testing.T) {
	repo := new(MockRepo)
	h := job.NewHandler(job.NewService(repo, nil, nil))
	repo.On("List", mock.Anything).Return(nil, errors.New("database error"))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(repo *MockRepo, pub *MockPublisher)
		status int
	}{
		{
			name: "Requeued",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "j-1").Return(&job.Job{ID: "j-1", Payload: json.RawMessage(`{}`)}, nil)
				pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
				repo.On("Delete", mock.Anything, "j-1").Return(nil)
			},
			status: http.StatusAccepted,
		},
		{
			name: "Not Found",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "j-1").Return(nil, sql.ErrNoRows)
			},
			status: http.StatusNotFound,
		},
		{
			name: "Publish Error",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "j-1").Return(&job.Job{ID: "j-1", Payload: json.RawMessage(`{}`)}, nil)
				pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsq down"))
			},
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			pub := new(MockPublisher)
			tt.setup(repo, pub)
			h := job.NewHandler(job.NewService(repo, pub, nil))

			req := httptest.NewRequest(http.MethodPost, "/jobs/j-1/retry", nil)
			req.SetPathValue("id", "j-1")
			w := httptest.NewRecorder()
			h.Retry(w, req)

			assert.Equal(t, tt.status, w.Code)
			repo.AssertExpectations(t)
		})
	}
}
