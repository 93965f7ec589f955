package interpreter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/convoflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_RequestShape(t *testing.T) {
	var got map[string]any
	var path, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		token = r.URL.Query().Get("token")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"text":"lunch?","intent":{"name":"ask_lunch","confidence":0.9},"entities":[]}`))
	}))
	defer srv.Close()

	lang := core.NewSlot("requested_language", core.SlotTypeText)
	tracker := core.NewTracker("s1", []core.Slot{lang})
	tracker.SetSlot("requested_language", "en")

	h := NewHTTP(srv.URL+"/", func(o *HTTPOptions) { o.Token = "secret" })
	parsed, err := h.Parse(context.Background(), "lunch?", "m-1", tracker)
	require.NoError(t, err)

	assert.Equal(t, "/model/parse", path)
	assert.Equal(t, "secret", token)
	assert.Equal(t, "lunch?", got["text"])
	assert.Equal(t, "m-1", got["message_id"])
	trackerCtx := got["tracker"].(map[string]any)
	assert.Equal(t, "s1", trackerCtx["sender_id"])
	assert.Equal(t, "en", trackerCtx["slots"].(map[string]any)["requested_language"])
	assert.Equal(t, "ask_lunch", parsed.Intent.Name)
}

func TestHTTP_TokenIsQueryEscaped(t *testing.T) {
	var rawQuery, token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		token = r.URL.Query().Get("token")
		_, _ = w.Write([]byte(`{"text":"hi","intent":{"name":"greet","confidence":1},"entities":[]}`))
	}))
	defer srv.Close()

	const secret = "a&b=c d+e#f"
	h := NewHTTP(srv.URL, func(o *HTTPOptions) { o.Token = secret })
	_, err := h.Parse(context.Background(), "hi", "m-1", nil)
	require.NoError(t, err)

	assert.Equal(t, secret, token)
	assert.Equal(t, "token=a%26b%3Dc+d%2Be%23f", rawQuery)
}

func TestHTTP_SlotContextInResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req parseRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":               req.Text,
			"intent":             map[string]any{"name": "", "confidence": 0.0},
			"entities":           []any{},
			"requested_language": req.Tracker.Slots["requested_language"],
		})
	}))
	defer srv.Close()

	tracker := core.NewTracker("1", []core.Slot{core.NewSlot("requested_language", core.SlotTypeText)})
	tracker.SetSlot("requested_language", "en")

	parsed, err := NewHTTP(srv.URL).Parse(context.Background(), "lunch?", "", tracker)
	require.NoError(t, err)
	assert.Equal(t, "en", parsed.Extra["requested_language"])
}

func TestHTTP_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"empty body", http.StatusOK, ``},
		{"invalid json", http.StatusOK, `{not json`},
		{"missing intent", http.StatusOK, `{"text":"x","entities":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL).Parse(context.Background(), "hi", "", nil)
			assert.ErrorIs(t, err, core.ErrParse)
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTP(url).Parse(context.Background(), "hi", "", nil)
	assert.ErrorIs(t, err, core.ErrParse)
}
