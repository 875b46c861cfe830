package copilotstudio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/elnormous/contenttype"

	"github.com/agenthost/hosting-go/activity"
	"github.com/agenthost/hosting-go/internal/logctx"
)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// TokenProvider supplies the bearer token for conversation API calls. It is
// invoked per request so providers can rotate tokens freely.
type TokenProvider func(ctx context.Context) (string, error)

// Client drives one conversation with a Copilot Studio agent. It is safe for
// concurrent use, though the conversation API itself processes turns in
// order.
type Client struct {
	settings *ConnectionSettings
	token    TokenProvider
	hc       *http.Client
	log      *slog.Logger

	mu             sync.Mutex
	conversationID string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithClientLogger routes the client's logging through log.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient returns a client for the agent identified by settings. Tokens
// come from token on every request.
func NewClient(settings *ConnectionSettings, token TokenProvider, opts ...ClientOption) (*Client, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if token == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	if _, err := ConnectionURL(settings, ""); err != nil {
		return nil, err
	}
	c := &Client{settings: settings, token: token, hc: http.DefaultClient, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConversationID returns the id of the active conversation, or "" before
// StartConversation has completed.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// startConversationRequest is the body posted to open a conversation.
type startConversationRequest struct {
	EmitStartConversationEvent bool `json:"emitStartConversationEvent"`
}

// executeTurnRequest is the body posted for each subsequent turn.
type executeTurnRequest struct {
	Activity *activity.Activity `json:"activity"`
}

// StartConversation opens a new conversation and returns the agent's opening
// activities. The conversation id is captured for subsequent turns.
func (c *Client) StartConversation(ctx context.Context) ([]*activity.Activity, error) {
	u, err := ConnectionURL(c.settings, "")
	if err != nil {
		return nil, err
	}
	acts, err := c.post(ctx, u, startConversationRequest{EmitStartConversationEvent: true})
	if err != nil {
		return nil, err
	}
	for _, a := range acts {
		if a.Conversation != nil && a.Conversation.ID != "" {
			c.mu.Lock()
			c.conversationID = a.Conversation.ID
			c.mu.Unlock()
			break
		}
	}
	return acts, nil
}

// AskQuestion sends a message turn on the active conversation and returns
// the agent's reply activities.
func (c *Client) AskQuestion(ctx context.Context, question string) ([]*activity.Activity, error) {
	return c.SendActivity(ctx, activity.NewMessage(question))
}

// SendActivity sends an arbitrary activity turn on the active conversation.
func (c *Client) SendActivity(ctx context.Context, act *activity.Activity) ([]*activity.Activity, error) {
	convID := c.ConversationID()
	if convID == "" {
		return nil, fmt.Errorf("no active conversation; call StartConversation first")
	}
	u, err := ConnectionURL(c.settings, convID)
	if err != nil {
		return nil, err
	}
	ctx = logctx.WithConversationData(ctx, &logctx.ConversationData{
		ConversationID: convID,
		AgentID:        c.settings.AgentID,
	})
	return c.post(ctx, u, executeTurnRequest{Activity: act})
}

// post sends body to u and decodes the response into activities, handling
// both the streaming (text/event-stream) and buffered (application/json)
// response shapes.
func (c *Client) post(ctx context.Context, u string, body any) ([]*activity.Activity, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	tok, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set("Accept", eventStreamMediaType.String()+", "+jsonMediaType.String())

	c.log.DebugContext(ctx, "conversation turn", "url", u)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("conversation request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	ct := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	switch {
	case ct.Type == eventStreamMediaType.Type && ct.Subtype == eventStreamMediaType.Subtype:
		return decodeEventStream(resp.Body)
	case ct.Type == jsonMediaType.Type && ct.Subtype == jsonMediaType.Subtype:
		var wrapper struct {
			Activities []*activity.Activity `json:"activities"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return wrapper.Activities, nil
	default:
		return nil, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
}

// decodeEventStream parses server-sent events, decoding each data payload as
// an activity. Multi-line data fields are joined per the SSE framing rules;
// event names and comments are ignored.
func decodeEventStream(r io.Reader) ([]*activity.Activity, error) {
	var (
		acts []*activity.Activity
		data []string
	)
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		payload := strings.Join(data, "\n")
		data = data[:0]
		var act activity.Activity
		if err := json.Unmarshal([]byte(payload), &act); err != nil {
			return fmt.Errorf("decode event payload: %w", err)
		}
		acts = append(acts, &act)
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return acts, nil
}
