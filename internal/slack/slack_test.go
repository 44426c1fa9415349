package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
)

type apiCall struct {
	method string
	token  string
	form   url.Values
}

type fakeSlackAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeSlackAPI) record(r *http.Request) apiCall {
	_ = r.ParseForm()
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.Form.Get("token")
	}
	call := apiCall{method: strings.TrimPrefix(r.URL.Path, "/api/"), token: token, form: r.Form}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return call
}

func (f *fakeSlackAPI) last(method string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}
	return apiCall{}, false
}

func newFakeSlack(t *testing.T) (*fakeSlackAPI, *httptest.Server) {
	t.Helper()
	api := &fakeSlackAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := api.record(r)
		w.Header().Set("Content-Type", "application/json")
		switch call.method {
		case "emoji.list":
			_, _ = w.Write([]byte(`{"ok":true,"emoji":{"tada":"http://x/tada.png","party":"alias:tada"}}`))
		case "users.info":
			if call.form.Get("user") != "U1" {
				_, _ = w.Write([]byte(`{"ok":false,"error":"user_not_found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"user":{"id":"U1","team_id":"T1","name":"alice","profile":{"image_48":"http://x/alice_48.png"}}}`))
		case "chat.postMessage":
			if call.form.Get("channel") == "C404" {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`))
		case "oauth.v2.access":
			_, _ = w.Write([]byte(`{"ok":true,"access_token":"xoxb-bot","scope":"commands","bot_user_id":"B1","team":{"id":"T1","name":"Acme"},"authed_user":{"id":"U1","scope":"chat:write","access_token":"xoxp-alice","token_type":"user"}}`))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error":"unknown_method"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func TestClientListEmoji(t *testing.T) {
	api, srv := newFakeSlack(t)
	c := NewClient(srv.Client(), "xoxb-bot", srv.URL+"/api")

	catalog, err := c.ListEmoji(context.Background())
	if err != nil {
		t.Fatalf("ListEmoji() error = %v", err)
	}
	if catalog["tada"] != "http://x/tada.png" || catalog["party"] != "alias:tada" {
		t.Errorf("ListEmoji() = %v", catalog)
	}
	if call, _ := api.last("emoji.list"); call.token != "xoxb-bot" {
		t.Errorf("emoji.list token = %q", call.token)
	}
}

func TestClientGetUser(t *testing.T) {
	_, srv := newFakeSlack(t)
	c := NewClient(srv.Client(), "xoxb-bot", srv.URL+"/api/")

	got, err := c.GetUser(context.Background(), "U1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	want := stamp.UserProfile{ID: "U1", TeamID: "T1", Name: "alice", AvatarURL: "http://x/alice_48.png"}
	if got != want {
		t.Errorf("GetUser() = %+v, want %+v", got, want)
	}

	if _, err := c.GetUser(context.Background(), "U404"); err == nil || !strings.Contains(err.Error(), "user_not_found") {
		t.Errorf("GetUser(U404) error = %v", err)
	}
}

func TestClientPostStampAsBot(t *testing.T) {
	api, srv := newFakeSlack(t)
	c := NewClient(srv.Client(), "xoxb-bot", srv.URL+"/api")

	err := c.PostStamp(context.Background(), stamp.OutboundMessage{
		ChannelID: "C1",
		ImageURL:  "http://x/tada.png",
		Emoji:     "tada",
		Username:  "alice",
		IconURL:   "http://x/alice_48.png",
	})
	if err != nil {
		t.Fatalf("PostStamp() error = %v", err)
	}
	call, ok := api.last("chat.postMessage")
	if !ok {
		t.Fatal("chat.postMessage not called")
	}
	if call.token != "xoxb-bot" {
		t.Errorf("token = %q, want bot token", call.token)
	}
	if call.form.Get("username") != "alice" || call.form.Get("icon_url") != "http://x/alice_48.png" {
		t.Errorf("override = %q %q", call.form.Get("username"), call.form.Get("icon_url"))
	}
	if !strings.Contains(call.form.Get("attachments"), `"image_url":"http://x/tada.png"`) {
		t.Errorf("attachments = %s", call.form.Get("attachments"))
	}
}

func TestClientPostStampAsUser(t *testing.T) {
	api, srv := newFakeSlack(t)
	c := NewClient(srv.Client(), "xoxb-bot", srv.URL+"/api")

	err := c.PostStamp(context.Background(), stamp.OutboundMessage{
		ChannelID:   "C1",
		ImageURL:    "http://x/tada.png",
		Emoji:       "tada",
		AccessToken: "xoxp-alice",
		AsUser:      true,
	})
	if err != nil {
		t.Fatalf("PostStamp() error = %v", err)
	}
	call, _ := api.last("chat.postMessage")
	if call.token != "xoxp-alice" {
		t.Errorf("token = %q, want user token", call.token)
	}
	if call.form.Get("as_user") != "true" {
		t.Errorf("as_user = %q", call.form.Get("as_user"))
	}
	if call.form.Get("username") != "" {
		t.Errorf("as-user post sent username override %q", call.form.Get("username"))
	}
}

func TestClientPostStampErrors(t *testing.T) {
	_, srv := newFakeSlack(t)
	c := NewClient(srv.Client(), "xoxb-bot", srv.URL+"/api")
	ctx := context.Background()

	tests := []struct {
		name string
		msg  stamp.OutboundMessage
		want string
	}{
		{name: "no channel", msg: stamp.OutboundMessage{ImageURL: "http://x"}, want: "channel missing"},
		{name: "no image", msg: stamp.OutboundMessage{ChannelID: "C1"}, want: "image url missing"},
		{name: "as user without token", msg: stamp.OutboundMessage{ChannelID: "C1", ImageURL: "http://x", AsUser: true}, want: "user token missing"},
		{name: "slack error", msg: stamp.OutboundMessage{ChannelID: "C404", ImageURL: "http://x"}, want: "channel_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.PostStamp(ctx, tt.msg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("PostStamp() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestClientRespond(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), "xoxb-bot", "")
	err := c.Respond(context.Background(), srv.URL+"/commands/1/2", stamp.Reply{Text: "missing is missing", IsError: true})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got["response_type"] != "ephemeral" || got["text"] != "missing is missing" {
		t.Errorf("webhook body = %v", got)
	}
	if err := c.Respond(context.Background(), "", stamp.Reply{}); err == nil {
		t.Error("Respond() with empty url expected error")
	}
}

// rewriteTransport sends every request to the fake server regardless of host.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func TestClientExchangeOAuthCode(t *testing.T) {
	api, srv := newFakeSlack(t)
	target, _ := url.Parse(srv.URL)
	c := NewClient(&http.Client{Transport: rewriteTransport{target: target}}, "", "")

	access, err := c.ExchangeOAuthCode(context.Background(), "cid", "csecret", "code-1", "https://stamp.example.com/slack/oauth/callback")
	if err != nil {
		t.Fatalf("ExchangeOAuthCode() error = %v", err)
	}
	want := OAuthAccess{
		TeamID: "T1", TeamName: "Acme",
		UserID: "U1", UserToken: "xoxp-alice", UserScope: "chat:write",
		BotToken: "xoxb-bot", BotUserID: "B1", BotScope: "commands",
	}
	if access != want {
		t.Errorf("ExchangeOAuthCode() = %+v, want %+v", access, want)
	}
	if call, ok := api.last("oauth.v2.access"); !ok || call.form.Get("code") != "code-1" {
		t.Errorf("oauth.v2.access call = %+v", call)
	}

	if _, err := c.ExchangeOAuthCode(context.Background(), "cid", "csecret", "", ""); err == nil {
		t.Error("ExchangeOAuthCode() with empty code expected error")
	}
}

func TestBuildOAuthAuthorizeURL(t *testing.T) {
	raw, err := BuildOAuthAuthorizeURL("cid", "https://stamp.example.com/slack/oauth/callback", "commands", "chat:write,users:read", "st")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("user_scope") != "chat:write,users:read" || q.Get("state") != "st" {
		t.Errorf("BuildOAuthAuthorizeURL() = %s", raw)
	}
	if _, err := BuildOAuthAuthorizeURL("", "", "", "", ""); err == nil {
		t.Error("BuildOAuthAuthorizeURL() without client id expected error")
	}
}

func sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("v0:%s:%s", ts, body)))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte("token=x&command=%2Fstamp&text=%3Atada%3A")
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	good := http.Header{}
	good.Set("X-Slack-Request-Timestamp", ts)
	good.Set("X-Slack-Signature", sign("shh", ts, body))
	if err := VerifySignature("shh", good, body); err != nil {
		t.Errorf("VerifySignature() error = %v", err)
	}

	bad := good.Clone()
	bad.Set("X-Slack-Signature", sign("other", ts, body))
	if err := VerifySignature("shh", bad, body); err == nil {
		t.Error("VerifySignature() accepted wrong secret")
	}

	stale := http.Header{}
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	stale.Set("X-Slack-Request-Timestamp", old)
	stale.Set("X-Slack-Signature", sign("shh", old, body))
	if err := VerifySignature("shh", stale, body); err == nil {
		t.Error("VerifySignature() accepted stale timestamp")
	}

	if err := VerifySignature("", good, body); err == nil {
		t.Error("VerifySignature() accepted empty secret")
	}
}

func TestParseCommand(t *testing.T) {
	form := url.Values{
		"token":        {"xxxxxxxxxxx"},
		"team_id":      {"T1"},
		"channel_id":   {"C1"},
		"user_id":      {"U1"},
		"user_name":    {"alice"},
		"command":      {"/stamp"},
		"text":         {":tada:"},
		"response_url": {"https://hooks.slack.com/commands/1/2"},
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cmd, err := ParseCommand(req)
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	want := stamp.Command{
		Token: "xxxxxxxxxxx", Command: "/stamp", Text: ":tada:", UserName: "alice",
		UserID: "U1", ChannelID: "C1", TeamID: "T1", ResponseURL: "https://hooks.slack.com/commands/1/2",
	}
	if cmd != want {
		t.Errorf("ParseCommand() = %+v, want %+v", cmd, want)
	}
}
