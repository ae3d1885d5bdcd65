package handlers

import (
	"c4chat/internal/api/respond"
	"c4chat/internal/app"
	"c4chat/internal/auth"
	"c4chat/internal/repository/db"
	chatService "c4chat/internal/service/chat"
	"c4chat/internal/service/llm"
	"c4chat/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const freeModel = "openai/gpt-4o-mini"

type fixture struct {
	db       *testutil.MemoryDB
	blobs    *testutil.MemoryBlobStore
	config   *app.Config
	relay    *testutil.MockRelay
	handlers *ChatHandlers
	user     *db.User
	thread   *db.Thread
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memDB := testutil.NewMemoryDB()
	blobs := testutil.NewMemoryBlobStore()
	cfg := testutil.NewMockConfig(memDB, blobs)
	cfg.AppConfig.LLM.CheckpointInterval = 10 * time.Millisecond

	user := testutil.SeedUser(memDB, cfg, "alice")
	thread, err := memDB.CreateThread(context.Background(), user.ID, "Existing chat")
	require.NoError(t, err)

	relay := &testutil.MockRelay{}
	svc := chatService.NewChatService(memDB, cfg, relay, &testutil.MockTitler{})
	t.Cleanup(svc.Wait)

	return &fixture{
		db:       memDB,
		blobs:    blobs,
		config:   cfg,
		relay:    relay,
		handlers: NewChatHandlers(cfg, svc),
		user:     user,
		thread:   thread,
	}
}

// serve runs handler as userID, with path values given as name/value pairs
func serve(handler http.HandlerFunc, userID string, req *http.Request, pathValues ...string) *httptest.ResponseRecorder {
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	req = req.WithContext(auth.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorResponse {
	t.Helper()
	var resp respond.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func (f *fixture) postMessage(threadID, model string) *httptest.ResponseRecorder {
	body := `{"threadId":"` + threadID + `","userMessage":"Hi there","model":"` + model + `","reasoning":"default","search":false}`
	return serve(f.handlers.PostMessageHandler, f.user.ID, httptest.NewRequest(http.MethodPost, "/postMessage", strings.NewReader(body)))
}

func TestPostMessageHandler_Streams(t *testing.T) {
	f := newFixture(t)
	f.relay.StreamCompletionFunc = testutil.StreamTokens(0, "Hello", ", ", "world")

	rec := f.postMessage(f.thread.ID, freeModel)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, world", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	messageID := rec.Header().Get(MessageIDHeader)
	require.NotEmpty(t, messageID)
	msg, err := f.db.GetMessage(context.Background(), messageID)
	require.NoError(t, err)
	assert.True(t, msg.Completed)
	assert.Equal(t, db.StatusCompleted, msg.Status())
	assert.Equal(t, "Hello, world", msg.Message)
	assert.Equal(t, "Hi there", msg.UserMessage)
}

func TestPostMessageHandler_UpstreamFailureStillReturns200(t *testing.T) {
	f := newFixture(t)
	f.relay.StreamCompletionFunc = func(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error) {
		_, _ = io.WriteString(sink, "partial")
		return &llm.Completion{Text: "partial"}, &llm.UpstreamError{StatusCode: http.StatusBadGateway}
	}

	rec := f.postMessage(f.thread.ID, freeModel)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
	msg, err := f.db.GetMessage(context.Background(), rec.Header().Get(MessageIDHeader))
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, msg.Status())
	assert.Equal(t, "partial", msg.Message)
}

func TestPostMessageHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *fixture) string // returns the thread id to post to
		model      string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed body",
			body:       `{"threadId":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   respond.CodeInvalidRequest,
		},
		{
			name:       "missing model",
			body:       `{"threadId":"t","userMessage":"hi"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   respond.CodeInvalidRequest,
		},
		{
			name:       "unknown reasoning effort",
			body:       `{"threadId":"t","userMessage":"hi","model":"openai/gpt-4o-mini","reasoning":"extreme"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   respond.CodeInvalidRequest,
		},
		{
			name:       "premium model on free tier",
			model:      "anthropic/claude-sonnet-4",
			wantStatus: http.StatusForbidden,
			wantCode:   respond.CodeModelNotAllowed,
		},
		{
			name: "unknown thread",
			setup: func(t *testing.T, f *fixture) string {
				return "missing-thread"
			},
			wantStatus: http.StatusNotFound,
			wantCode:   respond.CodeNotFound,
		},
		{
			name: "foreign thread",
			setup: func(t *testing.T, f *fixture) string {
				other := testutil.SeedUser(f.db, f.config, "bob")
				thread, err := f.db.CreateThread(context.Background(), other.ID, "Bob's")
				require.NoError(t, err)
				return thread.ID
			},
			wantStatus: http.StatusForbidden,
			wantCode:   respond.CodeForbidden,
		},
		{
			name: "no free requests left",
			setup: func(t *testing.T, f *fixture) string {
				_, err := f.db.ChargeUser(context.Background(), f.user.ID, func(u *db.User) error {
					u.FreeRequestsLeft = 0
					return nil
				})
				require.NoError(t, err)
				return f.thread.ID
			},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   respond.CodeInsufficientCredit,
		},
		{
			name: "thread already generating",
			setup: func(t *testing.T, f *fixture) string {
				_, err := f.db.StartMessage(context.Background(), db.StartMessageParams{
					UserID: f.user.ID, ThreadID: f.thread.ID, Model: freeModel, UserMessage: "first",
				}, f.config.Ledger.MessageCharge(freeModel))
				require.NoError(t, err)
				return f.thread.ID
			},
			wantStatus: http.StatusConflict,
			wantCode:   respond.CodeThreadGenerating,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.relay.StreamCompletionFunc = func(ctx context.Context, req llm.ChatRequest, apiKey string, sink io.Writer, onProgress llm.ProgressFunc) (*llm.Completion, error) {
				return nil, errors.New("relay must not be called")
			}

			var rec *httptest.ResponseRecorder
			if tt.body != "" {
				rec = serve(f.handlers.PostMessageHandler, f.user.ID,
					httptest.NewRequest(http.MethodPost, "/postMessage", strings.NewReader(tt.body)))
			} else {
				threadID := f.thread.ID
				if tt.setup != nil {
					threadID = tt.setup(t, f)
				}
				model := tt.model
				if model == "" {
					model = freeModel
				}
				rec = f.postMessage(threadID, model)
			}

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
			assert.Empty(t, f.relay.Requests())
			assert.Empty(t, rec.Header().Get(MessageIDHeader))
		})
	}
}

func TestStopMessageHandler(t *testing.T) {
	f := newFixture(t)
	msg, err := f.db.StartMessage(context.Background(), db.StartMessageParams{
		UserID: f.user.ID, ThreadID: f.thread.ID, Model: freeModel, UserMessage: "hi",
	}, f.config.Ledger.MessageCharge(freeModel))
	require.NoError(t, err)

	stop := func() StopResponse {
		rec := serve(f.handlers.StopMessageHandler, f.user.ID,
			httptest.NewRequest(http.MethodPost, "/api/messages/"+msg.ID+"/stop", nil), "id", msg.ID)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp StopResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp
	}

	assert.True(t, stop().Stopped)
	assert.False(t, stop().Stopped)

	thread, err := f.db.GetThread(context.Background(), f.thread.ID)
	require.NoError(t, err)
	assert.False(t, thread.Generating)

	other := testutil.SeedUser(f.db, f.config, "bob")
	rec := serve(f.handlers.StopMessageHandler, other.ID,
		httptest.NewRequest(http.MethodPost, "/api/messages/"+msg.ID+"/stop", nil), "id", msg.ID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMessageHandler(t *testing.T) {
	f := newFixture(t)
	msg, err := f.db.StartMessage(context.Background(), db.StartMessageParams{
		UserID: f.user.ID, ThreadID: f.thread.ID, Model: freeModel, UserMessage: "hi",
	}, f.config.Ledger.MessageCharge(freeModel))
	require.NoError(t, err)

	rec := serve(f.handlers.DeleteMessageHandler, f.user.ID,
		httptest.NewRequest(http.MethodDelete, "/api/messages/"+msg.ID, nil), "id", msg.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.db.MessageCount())

	rec = serve(f.handlers.DeleteMessageHandler, f.user.ID,
		httptest.NewRequest(http.MethodDelete, "/api/messages/"+msg.ID, nil), "id", msg.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingWriter struct {
	*httptest.ResponseRecorder
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("client gone")
}

func TestStreamWriter_DropsWritesAfterDisconnect(t *testing.T) {
	w := &failingWriter{ResponseRecorder: httptest.NewRecorder()}
	sink := newStreamWriter(w)

	n, err := sink.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, sink.disconnected)

	n, err = sink.Write([]byte("def"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, w.writes)
}
