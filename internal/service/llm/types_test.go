package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentPart_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		part ContentPart
		want string
	}{
		{
			name: "text",
			part: TextPart("hello"),
			want: `{"type":"text","text":"hello"}`,
		},
		{
			name: "text with cache marker",
			part: ContentPart{Kind: PartText, Text: "hello", CacheControl: &CacheControl{Type: "ephemeral"}},
			want: `{"type":"text","text":"hello","cache_control":{"type":"ephemeral"}}`,
		},
		{
			name: "image",
			part: ImagePart("data:image/png;base64,AAAA"),
			want: `{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}`,
		},
		{
			name: "file",
			part: FilePart("report.pdf", "data:application/pdf;base64,BBBB"),
			want: `{"type":"file","file":{"filename":"report.pdf","file_data":"data:application/pdf;base64,BBBB"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.part)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestContentPart_UnknownKind(t *testing.T) {
	_, err := json.Marshal(ContentPart{Kind: PartKind(42)})
	assert.Error(t, err)
}

func TestMessage_MarshalJSON(t *testing.T) {
	plain, err := json.Marshal(Message{Role: RoleSystem, Content: "be nice"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"system","content":"be nice"}`, string(plain))

	multipart, err := json.Marshal(Message{Role: RoleUser, Parts: []ContentPart{TextPart("look"), ImagePart("u")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"u"}}]}`, string(multipart))
}

func TestMarkEphemeral(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "system"},
		{Role: RoleUser, Parts: []ContentPart{TextPart("question"), FilePart("a.pdf", "data:application/pdf;base64,")}},
		{Role: RoleAssistant, Content: "answer"},
	}

	MarkEphemeral(messages)

	for _, m := range messages {
		require.NotNil(t, m.Parts, "role %s", m.Role)
		assert.Empty(t, m.Content)
		for _, p := range m.Parts {
			if p.Kind == PartText {
				require.NotNil(t, p.CacheControl)
				assert.Equal(t, "ephemeral", p.CacheControl.Type)
			} else {
				assert.Nil(t, p.CacheControl)
			}
		}
	}
	assert.Equal(t, "system", messages[0].Parts[0].Text)
	assert.Equal(t, "answer", messages[2].Parts[0].Text)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "shorter than cap", in: "abc", max: 5, want: "abc"},
		{name: "exact cap", in: "abcde", max: 5, want: "abcde"},
		{name: "ascii cut", in: "abcdef", max: 3, want: "abc"},
		{name: "multibyte cut on rune boundary", in: "héllo wörld", max: 4, want: "héll"},
		{name: "zero disables", in: "abc", max: 0, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.in, tt.max))
		})
	}
}
