package handler_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/model"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/handler"
	"github.com/kart-io/sentinel-rag/internal/rag/history"
	"github.com/kart-io/sentinel-rag/internal/rag/router"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu          sync.Mutex
	collections map[string]int
	indexed     map[string]string // name -> file content seen while indexing
	paths       []string
	histories   [][]model.Message
	genErr      error
	fragments   []string
	streamErr   error
	indexPanic  any
}

func newFakeService() *fakeService {
	return &fakeService{collections: map[string]int{}, indexed: map[string]string{}}
}

func (f *fakeService) IndexDocuments(_ context.Context, paths, names []string, collection string) (int, error) {
	if f.indexPanic != nil {
		panic(f.indexPanic)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return 0, err
		}
		f.indexed[names[i]] = string(b)
		f.paths = append(f.paths, p)
		if len(b) > 0 {
			n++
		}
	}
	f.collections[collection] += n
	return n, nil
}

func (f *fakeService) IndexScrapedURLs(_ context.Context, urls, _ []string, collection string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[collection] += len(urls)
	return len(urls), nil
}

func (f *fakeService) GenerateResponse(_ context.Context, query, _ string, h []model.Message) (*model.Answer, error) {
	f.mu.Lock()
	f.histories = append(f.histories, h)
	f.mu.Unlock()
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &model.Answer{
		Answer:  "answer to " + query,
		Sources: []model.ChunkSource{{Source: "a.txt", Page: "1", Score: 0.9}},
	}, nil
}

func (f *fakeService) StreamResponse(context.Context, string, string, []model.Message) ([]model.ChunkSource, iter.Seq2[string, error]) {
	return []model.ChunkSource{{Source: "a.txt", Page: "1"}}, func(yield func(string, error) bool) {
		for _, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}
}

func (f *fakeService) SuggestQuestions(_ context.Context, collection string, _ []model.Message, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collections[collection] == 0 {
		return nil, errors.ErrCollectionNotFound
	}
	out := make([]string, n)
	for i := range out {
		out[i] = "question?"
	}
	return out, nil
}

func (f *fakeService) CleanupCollection(_ context.Context, collection string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[collection]
	delete(f.collections, collection)
	return ok
}

func (f *fakeService) CollectionInfo(_ context.Context, collection string) *store.CollectionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.collections[collection]
	if !ok {
		return nil
	}
	return &store.CollectionInfo{Name: collection, PointsCount: uint64(n), Status: "green"}
}

func (f *fakeService) SupportedExtensions() []string {
	return []string{".docx", ".pdf", ".txt"}
}

func (f *fakeService) Stats() map[string]any {
	return map[string]any{"queries": map[string]any{"total": 0}}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine  *gin.Engine
	svc     *fakeService
	history *history.MemoryStore
	dir     string
}

func newTestServer(t *testing.T, ingest *pool.Pool) *testServer {
	t.Helper()
	ts := &testServer{
		engine:  gin.New(),
		svc:     newFakeService(),
		history: history.NewMemoryStore(0),
		dir:     t.TempDir(),
	}
	h := handler.NewRAGHandler(ts.svc, ts.history, ingest, handler.Config{UploadDir: ts.dir, MaxFileBytes: 1 << 10})
	router.Register(ts.engine, h)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, r)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func multipartBody(t *testing.T, sessionID string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sessionID != "" {
		require.NoError(t, mw.WriteField("session_id", sessionID))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, sessionID string, files map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	body, ct := multipartBody(t, sessionID, files)
	r := httptest.NewRequest(http.MethodPost, "/v1/rag/upload-docs", body)
	r.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestUploadDocs(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.upload(t, "s1", map[string]string{
		"notes.txt":   "FastAPI is great for backend development.",
		"../evil.TXT": "escaped",
		"tool.exe":    "binary",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res handler.UploadResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, 2, res.Points)
	assert.ElementsMatch(t, []string{"notes.txt", "evil.TXT"}, res.Accepted)
	assert.Equal(t, []string{"tool.exe"}, res.Rejected)

	assert.Equal(t, "FastAPI is great for backend development.", ts.svc.indexed["notes.txt"])
	assert.Equal(t, 2, ts.svc.collections[biz.CollectionName("s1")])
	for _, p := range ts.svc.paths {
		assert.True(t, strings.HasPrefix(p, ts.dir), p)
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "upload %s must be removed after indexing", p)
	}
}

func TestUploadDocs_NewSessionAndFailures(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.upload(t, "", map[string]string{"a.txt": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var res handler.UploadResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.SessionID)

	w, env = ts.upload(t, "s1", map[string]string{"a.exe": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrUnsupportedFormat.Code, env.Code)

	w, env = ts.upload(t, "s1", map[string]string{"empty.txt": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, errors.ErrParseFailure.Code, env.Code)

	w, env = ts.upload(t, "s1", map[string]string{"big.txt": strings.Repeat("x", 2<<10)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrUnsupportedFormat.Code, env.Code)

	w, env = ts.upload(t, "bad id", map[string]string{"a.txt": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
}

func TestUploadDocs_IngestPool(t *testing.T) {
	p, err := pool.NewPool("ingest-test", pool.IngestPool, pool.IngestPoolConfig())
	require.NoError(t, err)
	t.Cleanup(p.Release)

	ts := newTestServer(t, p)
	w, _ := ts.upload(t, "s1", map[string]string{"a.txt": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ts.svc.collections[biz.CollectionName("s1")])
	assert.EqualValues(t, 1, p.Stats().Submitted)
}

func TestUploadDocs_IngestTaskPanic(t *testing.T) {
	p, err := pool.NewPool("ingest-panic", pool.IngestPool, pool.IngestPoolConfig())
	require.NoError(t, err)
	t.Cleanup(p.Release)

	ts := newTestServer(t, p)
	ts.svc.indexPanic = "index exploded"

	type reply struct {
		w   *httptest.ResponseRecorder
		env envelope
	}
	got := make(chan reply, 1)
	go func() {
		w, env := ts.upload(t, "s1", map[string]string{"a.txt": "hello"})
		got <- reply{w, env}
	}()

	select {
	case r := <-got:
		assert.Equal(t, http.StatusInternalServerError, r.w.Code, r.w.Body.String())
		assert.Equal(t, errors.ErrInternal.Code, r.env.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not return after the ingest task panicked")
	}
	assert.Zero(t, ts.svc.collections[biz.CollectionName("s1")])
}

func TestUploadURLs(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, http.MethodPost, "/v1/rag/upload-urls", map[string]any{
		"session_id": "s1",
		"urls":       []string{"https://example.com/a", "http://example.com/b"},
		"selectors":  []string{"article p"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var res handler.UploadResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Points)

	w, env = ts.do(t, http.MethodPost, "/v1/rag/upload-urls", map[string]any{
		"session_id": "s1",
		"urls":       []string{"ftp://example.com/a"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
	assert.Contains(t, env.Message, "urls[0]")

	w, _ = ts.do(t, http.MethodPost, "/v1/rag/upload-urls", map[string]any{"urls": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_RecordsHistory(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, http.MethodPost, "/v1/rag/chat", map[string]string{"session_id": "s1", "message": "What is FastAPI?"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp handler.ChatResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "answer to What is FastAPI?", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "a.txt", resp.Sources[0].Source)

	_, _ = ts.do(t, http.MethodPost, "/v1/rag/chat", map[string]string{"session_id": "s1", "message": "And Go?"})

	require.Len(t, ts.svc.histories, 2)
	assert.Empty(t, ts.svc.histories[0])
	assert.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "What is FastAPI?"},
		{Role: model.RoleBot, Content: "answer to What is FastAPI?"},
	}, ts.svc.histories[1])

	msgs, err := ts.history.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChat_GenerationFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.svc.genErr = errors.ErrGenerationFailed.WithCause(stderrors.New("quota"))

	w, env := ts.do(t, http.MethodPost, "/v1/rag/chat", map[string]string{"session_id": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp handler.ChatResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, handler.ErrorAnswer, resp.Answer)
	assert.NotNil(t, resp.Sources)

	w, env = ts.do(t, http.MethodPost, "/v1/rag/chat", map[string]string{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
}

func TestChatStream(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.svc.fragments = []string{"Fast", "API"}

	w, _ := ts.do(t, http.MethodPost, "/v1/rag/chat-stream", map[string]string{"session_id": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: {\"chunk\":\"Fast\"}\n\n"+
			"data: {\"chunk\":\"API\"}\n\n"+
			"data: {\"sources\":[{\"source\":\"a.txt\",\"page\":\"1\",\"score\":0}]}\n\n",
		w.Body.String())

	msgs, err := ts.history.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleBot, Content: "FastAPI"},
	}, msgs)
}

func TestChatStream_Error(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.svc.fragments = []string{"partial"}
	ts.svc.streamErr = stderrors.New("connection reset")

	w, _ := ts.do(t, http.MethodPost, "/v1/rag/chat-stream", map[string]string{"session_id": "s1", "message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data: {"error":"`+handler.ErrorAnswer+`"}`)

	msgs, err := ts.history.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, handler.ErrorAnswer, msgs[1].Content)
}

func TestSuggestedQuestions(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, http.MethodPost, "/v1/rag/suggested-questions", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrCollectionNotFound.Code, env.Code)

	ts.svc.collections[biz.CollectionName("s1")] = 3
	w, env = ts.do(t, http.MethodPost, "/v1/rag/suggested-questions", map[string]any{"session_id": "s1", "count": 3})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.Questions, 3)

	_, env = ts.do(t, http.MethodPost, "/v1/rag/suggested-questions", map[string]any{"session_id": "s1"})
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.Questions, 5)
}

func TestSessions(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	w, env := ts.do(t, http.MethodGet, "/v1/rag/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrSessionNotFound.Code, env.Code)

	ts.svc.collections[biz.CollectionName("s1")] = 4
	require.NoError(t, ts.history.Append(ctx, "s1", model.Message{Role: model.RoleUser, Content: "hi"}))

	w, env = ts.do(t, http.MethodGet, "/v1/rag/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info handler.SessionInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	require.NotNil(t, info.Collection)
	assert.EqualValues(t, 4, info.Collection.PointsCount)
	assert.Len(t, info.History, 1)

	var deleted struct {
		Deleted bool `json:"deleted"`
	}
	w, env = ts.do(t, http.MethodDelete, "/v1/rag/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.True(t, deleted.Deleted)
	assert.Zero(t, ts.history.Len())

	// 再次删除不报错
	w, env = ts.do(t, http.MethodDelete, "/v1/rag/sessions/s1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.False(t, deleted.Deleted)

	w, env = ts.do(t, http.MethodDelete, "/v1/rag/sessions/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrValidationFailed.Code, env.Code)
}

func TestStatsAndHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, http.MethodGet, "/v1/rag/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "queries")

	w, env = ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}
