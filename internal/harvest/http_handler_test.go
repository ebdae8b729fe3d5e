package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harvester/internal/rawstore"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, opts Options) (*Dataset, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Dataset), args.Error(1)
}

func (m *mockRunner) Latest() (string, *Dataset, error) {
	args := m.Called()
	if args.Get(1) == nil {
		return args.String(0), nil, args.Error(2)
	}
	return args.String(0), args.Get(1).(*Dataset), args.Error(2)
}

func serve(h *HTTPHandler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Routes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHTTPHandler_Trigger(t *testing.T) {
	ds := &Dataset{Summary: Summary{Attempted: 3, Successful: 2, Failed: 1, FailedIDs: []ItemID{9}}}

	t.Run("decodes options", func(t *testing.T) {
		r := new(mockRunner)
		r.On("Run", mock.Anything, mock.MatchedBy(func(o Options) bool {
			return o.MaxItems != nil && *o.MaxItems == 10 && len(o.Sources) == 1 && o.Sources[0] == "netflix"
		})).Return(ds, nil)

		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/harvest", strings.NewReader(`{"max_items":10,"sources":["netflix"]}`))
		rec := serve(NewHTTPHandler(r), req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Success bool    `json:"success"`
			Data    Summary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, ds.Summary, body.Data)
		r.AssertExpectations(t)
	})

	t.Run("empty body", func(t *testing.T) {
		r := new(mockRunner)
		r.On("Run", mock.Anything, Options{}).Return(ds, nil)

		rec := serve(NewHTTPHandler(r), httptest.NewRequest(http.MethodPost, "/internal/jobs/harvest", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("resume file name", func(t *testing.T) {
		name := rawstore.FailedName("20260101_010000.000")
		r := new(mockRunner)
		r.On("Run", mock.Anything, Options{ResumeFrom: name}).Return(ds, nil)

		req := httptest.NewRequest(http.MethodPost, "/internal/jobs/harvest", strings.NewReader(`{"resume_from":"`+name+`"}`))
		rec := serve(NewHTTPHandler(r), req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("resume path rejected", func(t *testing.T) {
		for _, from := range []string{"/etc/passwd", "../raw/failed_ids_20260101_010000.000.json", "raw_dataset_20260101_010000.000.json"} {
			r := new(mockRunner)
			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/harvest", strings.NewReader(`{"resume_from":"`+from+`"}`))
			rec := serve(NewHTTPHandler(r), req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, from)
			assert.Contains(t, rec.Body.String(), "INVALID_RESUME_FILE")
			r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		}
	})

	tests := []struct {
		name string
		body string
		ds   *Dataset
		err  error
		want int
	}{
		{"bad body", "{", nil, nil, http.StatusBadRequest},
		{"in progress", "", nil, ErrRunInProgress, http.StatusConflict},
		{"unknown source", "", nil, ErrUnknownSource, http.StatusBadRequest},
		{"fatal", "", nil, errors.New("disk"), http.StatusInternalServerError},
		{"not persisted", "", ds, errors.New("disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(mockRunner)
			r.On("Run", mock.Anything, mock.Anything).Return(tt.ds, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/internal/jobs/harvest", strings.NewReader(tt.body))
			rec := serve(NewHTTPHandler(r), req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHTTPHandler_Latest(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		r := new(mockRunner)
		r.On("Latest").Return("/data/raw/raw_dataset_1.json", &Dataset{Summary: Summary{Attempted: 4}}, nil)

		rec := serve(NewHTTPHandler(r), httptest.NewRequest(http.MethodGet, "/internal/jobs/harvest/latest", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"total_movies_attempted":4`)
		assert.Contains(t, rec.Body.String(), `raw_dataset_1.json`)
	})

	t.Run("none yet", func(t *testing.T) {
		r := new(mockRunner)
		r.On("Latest").Return("", nil, rawstore.ErrNotFound)

		rec := serve(NewHTTPHandler(r), httptest.NewRequest(http.MethodGet, "/internal/jobs/harvest/latest", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
