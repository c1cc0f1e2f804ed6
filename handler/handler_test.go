package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/baonguyen3197/Cloud-Kinetics/internal/domain"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/session"
	"github.com/baonguyen3197/Cloud-Kinetics/internal/usecase"
)

type memoryStore struct {
	recs []domain.SessionRecord
}

func (s *memoryStore) Put(_ context.Context, rec domain.SessionRecord) error {
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memoryStore) QueryByIdentity(context.Context, string) ([]domain.SessionRecord, error) {
	return nil, nil
}

func (s *memoryStore) DeleteByChatName(context.Context, string, string) (int, error) {
	return 0, nil
}

func (s *memoryStore) DeleteAllForIdentity(context.Context, string) (int, error) {
	return 0, nil
}

type stubAsker struct {
	out    usecase.AskOutput
	err    error
	lastQ  string
	called bool
}

func (s *stubAsker) Ask(_ context.Context, _ usecase.Sessions, question string) (usecase.AskOutput, error) {
	s.called = true
	s.lastQ = question
	return s.out, s.err
}

type stubUploader struct {
	err     error
	lastKey string
	content []byte
}

func (s *stubUploader) Upload(_ context.Context, key string, body io.Reader, _ int64, progress func(float64)) error {
	s.lastKey = key
	s.content, _ = io.ReadAll(body)
	if progress != nil {
		progress(1)
	}
	return s.err
}

type stubReader struct {
	rec   domain.SessionRecord
	found bool
	err   error
}

func (s *stubReader) Get(context.Context, string, string) (domain.SessionRecord, bool, error) {
	return s.rec, s.found, s.err
}

type fixture struct {
	router   *gin.Engine
	asker    *stubAsker
	uploader *stubUploader
	reader   *stubReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry, err := session.NewRegistry(&memoryStore{}, session.WithObserver(session.NopObserver{}))
	require.NoError(t, err)

	asker := &stubAsker{}
	uploader := &stubUploader{}
	reader := &stubReader{}

	h, err := NewHandler(registry, asker, uploader, reader, "docs/", nil)
	require.NoError(t, err)

	router := gin.New()
	h.Register(router)
	return &fixture{router: router, asker: asker, uploader: uploader, reader: reader}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func parseBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	registry, err := session.NewRegistry(&memoryStore{})
	require.NoError(t, err)

	_, err = NewHandler(nil, &stubAsker{}, &stubUploader{}, &stubReader{}, "", nil)
	require.Error(t, err)
	_, err = NewHandler(registry, nil, &stubUploader{}, &stubReader{}, "", nil)
	require.Error(t, err)
	_, err = NewHandler(registry, &stubAsker{}, nil, &stubReader{}, "", nil)
	require.Error(t, err)
	_, err = NewHandler(registry, &stubAsker{}, &stubUploader{}, nil, "", nil)
	require.Error(t, err)
}

func TestGetChats_ReturnsDefaultSnapshot(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := parseBody[session.Snapshot](t, w)
	require.Equal(t, []string{"Intros"}, snap.Titles)
	require.Equal(t, "Intros", snap.Current)
	require.NotEmpty(t, w.Header().Get("X-Correlation-Id"))
}

func TestCorrelationID_Echoed(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/chats", nil, func(r *http.Request) {
		r.Header.Set("x-correlation-id", "corr-123")
	})
	require.Equal(t, "corr-123", w.Header().Get("X-Correlation-Id"))
}

func TestCreateChat(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`))
	require.Equal(t, http.StatusOK, w.Code)

	out := parseBody[createChatResponse](t, w)
	require.True(t, out.Created)
	require.Equal(t, "Trip", out.Snapshot.Current)

	// Duplicate create is reported but does not fail the request.
	w = f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`))
	require.Equal(t, http.StatusOK, w.Code)
	out = parseBody[createChatResponse](t, w)
	require.False(t, out.Created)
}

func TestCreateChat_MalformedBody(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`not-json`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	out := parseBody[errorResponse](t, w)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestDeleteChat_ReturnsUpdatedSnapshot(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`))

	w := f.do(t, http.MethodDelete, "/api/chats/Trip", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snap := parseBody[session.Snapshot](t, w)
	require.NotContains(t, snap.Titles, "Trip")
	require.Contains(t, snap.Titles, snap.Current)
}

func TestSetCurrentChat(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`))

	w := f.do(t, http.MethodPut, "/api/chats/current", bytes.NewBufferString(`{"name":"Intros"}`))
	require.Equal(t, http.StatusOK, w.Code)
	snap := parseBody[session.Snapshot](t, w)
	require.Equal(t, "Intros", snap.Current)
}

func TestResetSession(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`))

	w := f.do(t, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := parseBody[session.Snapshot](t, w)
	require.Equal(t, []string{"Intros"}, snap.Titles)
}

func TestAsk_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.asker.out = usecase.AskOutput{Answer: "Paris"}

	w := f.do(t, http.MethodPost, "/api/ask", bytes.NewBufferString(`{"question":"Where to go?"}`))
	require.Equal(t, http.StatusOK, w.Code)

	out := parseBody[askResponse](t, w)
	require.Equal(t, "Paris", out.Answer)
	require.Empty(t, out.Warning)
	require.Equal(t, "Where to go?", f.asker.lastQ)
}

func TestAsk_SurfacesWarning(t *testing.T) {
	f := newFixture(t)
	f.asker.out = usecase.AskOutput{Answer: "Paris", Warning: usecase.SaveWarning}

	w := f.do(t, http.MethodPost, "/api/ask", bytes.NewBufferString(`{"question":"Where to go?"}`))
	out := parseBody[askResponse](t, w)
	require.Equal(t, usecase.SaveWarning, out.Warning)
}

func TestAsk_MapsErrorCodes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "upload_failed"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.asker.err = tc.err

			w := f.do(t, http.MethodPost, "/api/ask", bytes.NewBufferString(`{"question":"Where to go?"}`))
			require.Equal(t, tc.status, w.Code)

			out := parseBody[errorResponse](t, w)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestUpload_HappyPath(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartBody(t, "file", "./report.txt", "quarterly numbers")

	w := f.do(t, http.MethodPost, "/api/upload", body, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	require.Equal(t, http.StatusOK, w.Code)

	out := parseBody[uploadResponse](t, w)
	require.Equal(t, "docs/report.txt", out.Key)
	require.Equal(t, "docs/report.txt", f.uploader.lastKey)
	require.Equal(t, "quarterly numbers", string(f.uploader.content))
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/upload", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_Failure_MapsToUpstream(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("s3 unavailable")
	body, contentType := multipartBody(t, "file", "report.txt", "data")

	w := f.do(t, http.MethodPost, "/api/upload", body, func(r *http.Request) {
		r.Header.Set("Content-Type", contentType)
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	out := parseBody[errorResponse](t, w)
	require.Equal(t, string(usecase.ErrorUpstream), out.Error)
}

func TestGetSession_Found(t *testing.T) {
	f := newFixture(t)
	f.reader.found = true
	f.reader.rec = domain.SessionRecord{
		SessionID: "Session#2024-05-01T10:00:00Z",
		ChatName:  "Trip",
		Messages:  []domain.QA{{Question: "Where to go?", Answer: "Paris"}},
	}

	w := f.do(t, http.MethodGet, "/api/sessions/Session%232024-05-01T10:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := parseBody[sessionResponse](t, w)
	require.Equal(t, "Trip", out.ChatName)
	require.Len(t, out.Messages, 1)
}

func TestGetSession_NotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/sessions/Session%23missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdentityHeader_ScopesManagers(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/chats", bytes.NewBufferString(`{"name":"Trip"}`), func(r *http.Request) {
		r.Header.Set("X-User-Id", "alice")
	})

	w := f.do(t, http.MethodGet, "/api/chats", nil, func(r *http.Request) {
		r.Header.Set("X-User-Id", "bob")
	})
	snap := parseBody[session.Snapshot](t, w)
	require.NotContains(t, snap.Titles, "Trip", "identities must not share conversation state")
}
