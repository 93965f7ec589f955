package interpreter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
)

// HTTPOptions configure the remote NLU interpreter.
type HTTPOptions struct {
	// Token is sent as a query parameter and in the request body.
	Token   string
	Client  *http.Client
	Timeout time.Duration
	Logger  logging.Logger
}

// HTTP sends parse requests to a remote NLU server.
type HTTP struct {
	url  string
	opts HTTPOptions
}

// NewHTTP creates an interpreter posting to <url>/model/parse.
func NewHTTP(baseURL string, optFns ...func(o *HTTPOptions)) *HTTP {
	opts := HTTPOptions{Timeout: 10 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	opts.Logger = logging.OrNop(opts.Logger)
	return &HTTP{url: strings.TrimRight(baseURL, "/"), opts: opts}
}

type parseRequest struct {
	Text      string          `json:"text"`
	MessageID string          `json:"message_id,omitempty"`
	Token     string          `json:"token,omitempty"`
	Tracker   *trackerContext `json:"tracker,omitempty"`
}

type trackerContext struct {
	SenderID string         `json:"sender_id"`
	Slots    map[string]any `json:"slots"`
}

// Parse implements core.Interpreter. Transport failures, non-2xx responses and
// bodies without an intent are reported as core.ErrParse.
func (h *HTTP) Parse(ctx context.Context, text, messageID string, tracker *core.Tracker) (*core.ParseResult, error) {
	req := parseRequest{Text: text, MessageID: messageID, Token: h.opts.Token}
	if tracker != nil {
		req.Tracker = &trackerContext{SenderID: tracker.SenderID, Slots: tracker.CurrentSlotValues()}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", core.ErrParse, err)
	}
	endpoint := h.url + "/model/parse"
	if h.opts.Token != "" {
		endpoint += "?" + url.Values{"token": {h.opts.Token}}.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", core.ErrParse, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.opts.Client.Do(httpReq)
	if err != nil {
		h.opts.Logger.Error("Failed to reach interpreter", "url", h.url, "error", err)
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", core.ErrParse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.opts.Logger.Error("Interpreter returned an error", "status", resp.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("%w: interpreter returned status %d", core.ErrParse, resp.StatusCode)
	}
	return DecodeParseResult(raw)
}

// DecodeParseResult validates and decodes a parse response body. The intent
// key is required; a null or missing entity list becomes empty.
func DecodeParseResult(raw []byte) (*core.ParseResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty response", core.ErrParse)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", core.ErrParse, err)
	}
	if _, ok := fields["intent"]; !ok {
		return nil, fmt.Errorf("%w: response has no intent", core.ErrParse)
	}
	var result core.ParseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", core.ErrParse, err)
	}
	if result.Entities == nil {
		result.Entities = []core.Entity{}
	}
	return &result, nil
}
