package handlers

import (
	"bytes"
	"c4chat/internal/api/respond"
	"c4chat/internal/repository/db"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadHandlers(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handlers.CreateThreadHandler, f.user.ID, httptest.NewRequest(http.MethodPost, "/api/threads", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ThreadInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, db.DefaultThreadTitle, created.Title)
	assert.False(t, created.Pinned)
	assert.False(t, created.Generating)

	rec = serve(f.handlers.UpdateThreadHandler, f.user.ID,
		httptest.NewRequest(http.MethodPatch, "/api/threads/"+created.ID, strings.NewReader(`{"title":"Trip plans","pinned":true}`)),
		"id", created.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated ThreadInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, "Trip plans", updated.Title)
	assert.True(t, updated.Pinned)

	list := func(query string) []ThreadInfo {
		rec := serve(f.handlers.GetThreadsHandler, f.user.ID, httptest.NewRequest(http.MethodGet, "/api/threads"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ThreadsResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp.Threads
	}

	pinned := list("?pinned=true")
	require.Len(t, pinned, 1)
	assert.Equal(t, created.ID, pinned[0].ID)
	unpinned := list("")
	require.Len(t, unpinned, 1)
	assert.Equal(t, f.thread.ID, unpinned[0].ID)

	rec = serve(f.handlers.GetThreadsHandler, f.user.ID, httptest.NewRequest(http.MethodGet, "/api/threads?pinned=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.handlers.UpdateThreadHandler, f.user.ID,
		httptest.NewRequest(http.MethodPatch, "/api/threads/"+created.ID, strings.NewReader(`{}`)), "id", created.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.handlers.DeleteThreadHandler, f.user.ID,
		httptest.NewRequest(http.MethodDelete, "/api/threads/"+created.ID, nil), "id", created.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, list("?pinned=true"))
}

func TestDeleteThreadHandler_Generating(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.StartMessage(context.Background(), db.StartMessageParams{
		UserID: f.user.ID, ThreadID: f.thread.ID, Model: freeModel, UserMessage: "hi",
	}, f.config.Ledger.MessageCharge(freeModel))
	require.NoError(t, err)

	rec := serve(f.handlers.DeleteThreadHandler, f.user.ID,
		httptest.NewRequest(http.MethodDelete, "/api/threads/"+f.thread.ID, nil), "id", f.thread.ID)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, respond.CodeThreadGenerating, decodeError(t, rec).Error)
	assert.Equal(t, 1, f.db.MessageCount())
}

func TestGetThreadMessagesHandler(t *testing.T) {
	f := newFixture(t)
	msg, err := f.db.StartMessage(context.Background(), db.StartMessageParams{
		UserID: f.user.ID, ThreadID: f.thread.ID, Model: freeModel, ModelName: "OpenAI: GPT-4o-mini", UserMessage: "hi",
	}, f.config.Ledger.MessageCharge(freeModel))
	require.NoError(t, err)

	rec := serve(f.handlers.GetThreadMessagesHandler, f.user.ID,
		httptest.NewRequest(http.MethodGet, "/api/threads/"+f.thread.ID+"/messages", nil), "id", f.thread.ID)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessagesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, msg.ID, resp.Messages[0].ID)
	assert.False(t, resp.Messages[0].Completed)
	assert.Nil(t, resp.Messages[0].CompletionStatus)
	assert.NotNil(t, resp.Messages[0].Attachments)
}

func (f *fixture) makePremium(t *testing.T) {
	t.Helper()
	require.NoError(t, f.db.UpdateOpenRouterKey(context.Background(), f.user.ID, "sk-or-user"))
}

func (f *fixture) upload(query, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/uploadAttachment"+query, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	return serve(f.handlers.UploadAttachmentHandler, f.user.ID, req)
}

func TestUploadAttachmentHandler(t *testing.T) {
	f := newFixture(t)
	f.makePremium(t)

	rec := f.upload("?filename=cat.png", "image/png", []byte("png-bytes"))

	require.Equal(t, http.StatusCreated, rec.Code)
	var att db.Attachment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&att))
	assert.Equal(t, "cat.png", att.Name)
	assert.Equal(t, "image/png", att.Type)
	assert.True(t, f.blobs.Has(att.ID))

	user, err := f.db.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	require.Len(t, user.UnsentAttachments, 1)
	assert.Equal(t, att.ID, user.UnsentAttachments[0].ID)
	assert.Equal(t, f.user.AccountCredits-100, user.AccountCredits)
	assert.Equal(t, f.user.FreeRequestsLeft, user.FreeRequestsLeft)
}

func TestUploadAttachmentHandler_DefaultName(t *testing.T) {
	f := newFixture(t)
	f.makePremium(t)

	rec := f.upload("", "application/pdf", []byte("%PDF-1.4"))

	require.Equal(t, http.StatusCreated, rec.Code)
	var att db.Attachment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&att))
	assert.Equal(t, "Unnamed Attachment.pdf", att.Name)
}

func TestUploadAttachmentHandler_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		premium     bool
		credits     int64
		contentType string
		body        []byte
		wantStatus  int
		wantCode    string
	}{
		{
			name:        "free tier",
			contentType: "image/png",
			body:        []byte("png"),
			wantStatus:  http.StatusForbidden,
			wantCode:    respond.CodePremiumRequired,
		},
		{
			name:        "not enough credits",
			premium:     true,
			credits:     50,
			contentType: "image/png",
			body:        []byte("png"),
			wantStatus:  http.StatusPaymentRequired,
			wantCode:    respond.CodeInsufficientCredit,
		},
		{
			name:        "unsupported type",
			premium:     true,
			contentType: "text/html",
			body:        []byte("<html>"),
			wantStatus:  http.StatusUnsupportedMediaType,
			wantCode:    respond.CodeUnsupportedFileType,
		},
		{
			name:        "empty body",
			premium:     true,
			contentType: "image/jpeg",
			wantStatus:  http.StatusBadRequest,
			wantCode:    respond.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.premium {
				f.makePremium(t)
			}
			if tt.credits > 0 {
				_, err := f.db.ChargeUser(context.Background(), f.user.ID, func(u *db.User) error {
					u.AccountCredits = tt.credits
					return nil
				})
				require.NoError(t, err)
			}

			rec := f.upload("?filename=x", tt.contentType, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
			assert.Equal(t, 0, f.blobs.Len())

			user, err := f.db.GetUser(context.Background(), f.user.ID)
			require.NoError(t, err)
			assert.Empty(t, user.UnsentAttachments)
		})
	}
}

func TestDeleteAttachmentHandler(t *testing.T) {
	f := newFixture(t)
	f.makePremium(t)

	rec := f.upload("?filename=doc.pdf", "application/pdf", []byte("%PDF"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var att db.Attachment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&att))

	del := func() *httptest.ResponseRecorder {
		return serve(f.handlers.DeleteAttachmentHandler, f.user.ID,
			httptest.NewRequest(http.MethodDelete, "/api/attachments/"+att.ID, nil), "id", att.ID)
	}

	require.Equal(t, http.StatusOK, del().Code)
	assert.False(t, f.blobs.Has(att.ID))
	user, err := f.db.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, user.UnsentAttachments)

	assert.Equal(t, http.StatusNotFound, del().Code)
}

func TestMeHandlers(t *testing.T) {
	f := newFixture(t)

	me := func() MeResponse {
		rec := serve(f.handlers.GetMeHandler, f.user.ID, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sk-or-")
		var resp MeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return resp
	}

	before := me()
	assert.False(t, before.Premium)
	assert.Equal(t, 25, before.FreeRequestsLeft)
	assert.Equal(t, int64(100000), before.AccountCredits)
	assert.NotNil(t, before.PinnedModels)

	setKey := func(body string) int {
		rec := serve(f.handlers.SetOpenRouterKeyHandler, f.user.ID,
			httptest.NewRequest(http.MethodPut, "/api/me/openrouter-key", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, setKey(`{"key":"not-a-key"}`))
	assert.Equal(t, http.StatusNoContent, setKey(`{"key":" sk-or-v1-abc "}`))
	assert.True(t, me().Premium)

	user, err := f.db.GetUser(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-abc", user.OpenRouterKey)

	assert.Equal(t, http.StatusNoContent, setKey(`{"key":""}`))
	assert.False(t, me().Premium)
}

func TestMeHandler_RollsOverStalePeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.ChargeUser(context.Background(), f.user.ID, func(u *db.User) error {
		u.FreeRequestsLeft = 0
		u.AccountCredits = 0
		u.FreeRequestsBillingCycle = "2001-1"
		return nil
	})
	require.NoError(t, err)

	rec := serve(f.handlers.GetMeHandler, f.user.ID, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 25, resp.FreeRequestsLeft)
	assert.Equal(t, int64(100000), resp.AccountCredits)
	assert.Equal(t, f.config.Ledger.CurrentPeriod(), resp.FreeRequestsBillingCycle)
}

func TestGetModelsHandler(t *testing.T) {
	f := newFixture(t)
	f.db.SetModelSummaries([]db.ModelSummary{
		{ID: "openai/gpt-4o-mini", Name: "OpenAI: GPT-4o-mini", Creator: db.CreatorOpenAI},
	})

	rec := serve(f.handlers.GetModelsHandler, f.user.ID, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ModelsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, db.CreatorOpenAI, resp.Models[0].Creator)
	assert.Equal(t, "google/gemini-2.0-flash-001", resp.DefaultModel)
	assert.ElementsMatch(t, []string{"google/gemini-2.0-flash-001", "openai/gpt-4o-mini"}, resp.FreeModels)
}
