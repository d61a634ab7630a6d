package profile_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docbrief/features/profile"
	"docbrief/internal/config"
	"docbrief/internal/pipeline"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, name string) (*profile.Profile, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profile.Profile), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context) ([]profile.Profile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]profile.Profile), args.Error(1)
}

func (m *MockRepository) Upsert(ctx context.Context, p *profile.Profile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func TestService_Instruction(t *testing.T) {
	t.Run("BuiltIn With Language", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything, "translate").Return(nil, profile.ErrNotFound)
		svc := profile.NewService(repo, "German")

		got, err := svc.Instruction(context.Background(), "translate")
		require.NoError(t, err)
		assert.Contains(t, got, "into German")
		assert.NotContains(t, got, profile.LanguagePlaceholder)
	})

	t.Run("Stored Overrides BuiltIn", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything, "summary").Return(&profile.Profile{Name: "summary", Instruction: "Be brief."}, nil)
		svc := profile.NewService(repo, "")

		got, err := svc.Instruction(context.Background(), "summary")
		require.NoError(t, err)
		assert.Equal(t, "Be brief.", got)
	})

	t.Run("Unknown", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything, "poetry").Return(nil, profile.ErrNotFound)
		svc := profile.NewService(repo, "")

		_, err := svc.Instruction(context.Background(), "poetry")
		assert.ErrorIs(t, err, pipeline.ErrUnknownProfile)
		assert.ErrorIs(t, err, profile.ErrNotFound)
	})

	t.Run("Repository Error Is Not Unknown", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything, "summary").Return(nil, errors.New("db down"))
		svc := profile.NewService(repo, "")

		_, err := svc.Instruction(context.Background(), "summary")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, pipeline.ErrUnknownProfile)
	})
}

func TestService_List_MergesBuiltIns(t *testing.T) {
	repo := new(MockRepository)
	repo.On("List", mock.Anything).Return([]profile.Profile{
		{Name: "glossary", Instruction: "Build a glossary."},
		{Name: "summary", Instruction: "Custom summary."},
	}, nil)
	svc := profile.NewService(repo, "")

	got, err := svc.List(context.Background())
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"glossary", "keywords", "summary", "translate"}, names)
	assert.Equal(t, "Custom summary.", got[2].Instruction)
	assert.False(t, got[2].BuiltIn)
	assert.True(t, got[1].BuiltIn)
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       profile.Profile
		wantErr bool
	}{
		{"Valid", profile.Profile{Name: "legal-brief", Instruction: "x"}, false},
		{"Uppercase", profile.Profile{Name: "Legal", Instruction: "x"}, true},
		{"Empty Name", profile.Profile{Name: "", Instruction: "x"}, true},
		{"Blank Instruction", profile.Profile{Name: "a", Instruction: "  "}, true},
		{"Instruction At Limit", profile.Profile{Name: "a", Instruction: strings.Repeat("x", config.InstructionTokens)}, false},
		{"Instruction Too Long", profile.Profile{Name: "a", Instruction: strings.Repeat("x", config.InstructionTokens+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, profile.ErrInvalidProfile)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandler_Put(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Upsert", mock.Anything, mock.MatchedBy(func(p *profile.Profile) bool {
			return p.Name == "glossary" && p.Instruction == "Build a glossary."
		})).Return(nil)
		h := profile.NewHandler(profile.NewService(repo, ""))

		req := httptest.NewRequest(http.MethodPut, "/profiles/glossary", bytes.NewBufferString(`{"instruction":"Build a glossary."}`))
		req.SetPathValue("name", "glossary")
		w := httptest.NewRecorder()
		h.Put(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("Invalid Name", func(t *testing.T) {
		repo := new(MockRepository)
		h := profile.NewHandler(profile.NewService(repo, ""))

		req := httptest.NewRequest(http.MethodPut, "/profiles/Bad%20Name", bytes.NewBufferString(`{"instruction":"x"}`))
		req.SetPathValue("name", "Bad Name")
		w := httptest.NewRecorder()
		h.Put(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
		repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	})

	t.Run("Bad JSON", func(t *testing.T) {
		h := profile.NewHandler(profile.NewService(new(MockRepository), ""))
		req := httptest.NewRequest(http.MethodPut, "/profiles/a", bytes.NewBufferString(`{`))
		req.SetPathValue("name", "a")
		w := httptest.NewRecorder()
		h.Put(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_List(t *testing.T) {
	repo := new(MockRepository)
	repo.On("List", mock.Anything).Return(nil, nil)
	h := profile.NewHandler(profile.NewService(repo, ""))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/profiles", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []profile.Profile `json:"data"`
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 3, body.Meta.Count)
}

func TestPostgresRepo(t *testing.T) {
	db, sm, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := profile.NewPostgresRepo(db)
	now := time.Now()

	sm.ExpectQuery("SELECT name, instruction, updated_at FROM profiles WHERE name").
		WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"name", "instruction", "updated_at"}))
	sm.ExpectQuery("INSERT INTO profiles").
		WithArgs("glossary", "Build a glossary.").
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, profile.ErrNotFound)

	p := &profile.Profile{Name: "glossary", Instruction: "Build a glossary."}
	require.NoError(t, repo.Upsert(context.Background(), p))
	assert.Equal(t, now, p.UpdatedAt)
	assert.NoError(t, sm.ExpectationsWereMet())
}
