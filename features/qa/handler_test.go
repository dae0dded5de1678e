package qa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"confluenceqa/internal/pipeline"
)

type MockService struct{ mock.Mock }

func (m *MockService) Configure(ctx context.Context, cfg pipeline.Config) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockService) Answer(ctx context.Context, question string) (string, error) {
	args := m.Called(ctx, question)
	return args.String(0), args.Error(1)
}

func (m *MockService) AnswerStream(ctx context.Context, question string) (Stream, error) {
	args := m.Called(ctx, question)
	if s := args.Get(0); s != nil {
		return s.(Stream), args.Error(1)
	}
	return nil, args.Error(1)
}

type stubStream struct {
	tokens  []string
	sources []pipeline.Source
	pos     int
	done    bool
}

func (s *stubStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		s.done = true
		return "", io.EOF
	}
	t := s.tokens[s.pos]
	s.pos++
	return t, nil
}

func (s *stubStream) Sources() []pipeline.Source {
	if !s.done {
		return nil
	}
	return s.sources
}

func TestHandler_Configure(t *testing.T) {
	defaults := pipeline.Config{
		ConfluenceURL: "https://templates.atlassian.net/wiki/",
		SpaceKey:      "RD",
	}

	tests := []struct {
		name       string
		body       string
		setup      func(*MockService)
		wantStatus int
		wantCode   string
	}{
		{
			name: "success with defaults",
			body: `{}`,
			setup: func(s *MockService) {
				s.On("Configure", mock.Anything, defaults).Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "request overrides defaults",
			body: `{"space_key":"DOCS","username":"bot@x","api_key":"tok"}`,
			setup: func(s *MockService) {
				s.On("Configure", mock.Anything, pipeline.Config{
					ConfluenceURL: "https://templates.atlassian.net/wiki/",
					Username:      "bot@x",
					APIKey:        "tok",
					SpaceKey:      "DOCS",
				}).Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid json",
			body:       `{`,
			setup:      func(s *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "missing config",
			body: `{}`,
			setup: func(s *MockService) {
				s.On("Configure", mock.Anything, mock.Anything).Return(pipeline.ErrMissingConfig)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "MISSING_CONFIG",
		},
		{
			name: "busy",
			body: `{}`,
			setup: func(s *MockService) {
				s.On("Configure", mock.Anything, mock.Anything).Return(pipeline.ErrBusy)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "BUSY",
		},
		{
			name: "source failure",
			body: `{}`,
			setup: func(s *MockService) {
				s.On("Configure", mock.Anything, mock.Anything).
					Return(errors.Join(pipeline.ErrSource, errors.New("404")))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "SOURCE_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setup(service)
			h := NewHandler(service, defaults)

			req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Configure(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				errObj := body["error"].(map[string]interface{})
				assert.Equal(t, tt.wantCode, errObj["code"])
			}
			service.AssertExpectations(t)
		})
	}
}

func TestHandler_Ask(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockService)
		wantStatus int
		wantAnswer string
		wantCode   string
	}{
		{
			name: "success",
			body: `{"question":"How do I make a space public?"}`,
			setup: func(s *MockService) {
				s.On("Answer", mock.Anything, "How do I make a space public?").
					Return("Enable anonymous access in space permissions.", nil)
			},
			wantStatus: http.StatusOK,
			wantAnswer: "Enable anonymous access in space permissions.",
		},
		{
			name:       "empty question",
			body:       `{"question":"  "}`,
			setup:      func(s *MockService) {},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name: "not ready",
			body: `{"question":"q"}`,
			setup: func(s *MockService) {
				s.On("Answer", mock.Anything, "q").Return("", pipeline.ErrNotReady)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "NOT_READY",
		},
		{
			name: "provider failure",
			body: `{"question":"q"}`,
			setup: func(s *MockService) {
				s.On("Answer", mock.Anything, "q").
					Return("", errors.Join(pipeline.ErrProvider, errors.New("quota")))
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   "PROVIDER_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockService)
			tt.setup(service)
			h := NewHandler(service, pipeline.Config{})

			req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Ask(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantAnswer != "" {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, tt.wantAnswer, data["answer"])
			}
			if tt.wantCode != "" {
				errObj := body["error"].(map[string]interface{})
				assert.Equal(t, tt.wantCode, errObj["code"])
			}
			service.AssertExpectations(t)
		})
	}
}

func TestHandler_AskStream(t *testing.T) {
	service := new(MockService)
	service.On("AnswerStream", mock.Anything, "q").Return(&stubStream{
		tokens: []string{"Hel", "lo"},
		sources: []pipeline.Source{
			{Source: "https://wiki/p/1", Title: "One"},
			{Source: "https://wiki/p/2", Title: "Two"},
		},
	}, nil)
	h := NewHandler(service, pipeline.Config{})

	req := httptest.NewRequest(http.MethodGet, "/ask/stream?question=q", nil)
	rec := httptest.NewRecorder()
	h.AskStream(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	msgIdx := strings.Index(body, `event: message`)
	srcIdx := strings.Index(body, `event: sources`)
	doneIdx := strings.Index(body, `event: done`)
	require.NotEqual(t, -1, msgIdx)
	require.NotEqual(t, -1, srcIdx)
	require.NotEqual(t, -1, doneIdx)
	assert.Less(t, msgIdx, srcIdx, "tokens come before citations")
	assert.Less(t, srcIdx, doneIdx)

	assert.Contains(t, body, `data: "Hel"`)
	assert.Contains(t, body, `data: "lo"`)
	assert.Contains(t, body, `"source":"https://wiki/p/1"`)
	assert.Contains(t, body, `"title":"Two"`)
	assert.Contains(t, body, "data: [DONE]")
	assert.Equal(t, 2, strings.Count(body, "event: message"))
	assert.Equal(t, 1, strings.Count(body, "event: sources"), "citations arrive exactly once")
}

func TestHandler_AskStream_EmptySources(t *testing.T) {
	service := new(MockService)
	service.On("AnswerStream", mock.Anything, "q").Return(&stubStream{
		tokens: []string{"I don't know."},
	}, nil)
	h := NewHandler(service, pipeline.Config{})

	req := httptest.NewRequest(http.MethodGet, "/ask/stream?question=q", nil)
	rec := httptest.NewRecorder()
	h.AskStream(rec, req)

	assert.Contains(t, rec.Body.String(), "event: sources\ndata: []")
}

func TestHandler_AskStream_Validation(t *testing.T) {
	h := NewHandler(new(MockService), pipeline.Config{})

	req := httptest.NewRequest(http.MethodGet, "/ask/stream", nil)
	rec := httptest.NewRecorder()
	h.AskStream(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AskStream_SetupErrorStaysJSON(t *testing.T) {
	service := new(MockService)
	service.On("AnswerStream", mock.Anything, "q").Return(nil, pipeline.ErrNotReady)
	h := NewHandler(service, pipeline.Config{})

	req := httptest.NewRequest(http.MethodGet, "/ask/stream?question=q", nil)
	rec := httptest.NewRecorder()
	h.AskStream(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
