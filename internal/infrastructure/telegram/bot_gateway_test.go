package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego/telegoapi"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/gateway"
)

const testToken = "1234567890:AAbbCCddEEffGGhhIIjjKKllMMnnOOppQQr"

type apiRecorder struct {
	mu      sync.Mutex
	methods []string
	bodies  []map[string]any
}

func (r *apiRecorder) record(method string, body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = append(r.methods, method)
	r.bodies = append(r.bodies, body)
}

func newAPIServer(t *testing.T, rec *apiRecorder, replies map[string]string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)
		rec.record(method, body)

		reply, ok := replies[method]
		if !ok {
			reply = `{"ok":false,"error_code":404,"description":"Not Found"}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBotGatewayForward(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	server := newAPIServer(t, rec, map[string]string{
		"forwardMessages": `{"ok":true,"result":[{"message_id":101},{"message_id":102}]}`,
	})

	gw, err := NewBotGateway(testToken, Options{APIURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewBotGateway error: %v", err)
	}

	post := domain.Post{
		Channel:  "https://t.me/deals",
		GroupKey: 5,
		Messages: []domain.MessageRecord{{ID: 5, GroupID: 5}, {ID: 6, GroupID: 5}},
	}
	target := domain.RecipientTarget{Ref: "@team", ID: -1001}

	if err := gw.Forward(context.Background(), post, target); err != nil {
		t.Fatalf("Forward error: %v", err)
	}

	if len(rec.methods) != 1 || rec.methods[0] != "forwardMessages" {
		t.Fatalf("unexpected calls: %v", rec.methods)
	}
	body := rec.bodies[0]
	if body["from_chat_id"] != "@deals" {
		t.Fatalf("unexpected from_chat_id: %v", body["from_chat_id"])
	}
	if body["chat_id"] != float64(-1001) {
		t.Fatalf("unexpected chat_id: %v", body["chat_id"])
	}
	ids, _ := body["message_ids"].([]any)
	if len(ids) != 2 || ids[0] != float64(5) || ids[1] != float64(6) {
		t.Fatalf("unexpected message_ids: %v", body["message_ids"])
	}
}

func TestBotGatewayForwardRateLimited(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	server := newAPIServer(t, rec, map[string]string{
		"forwardMessages": `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`,
	})

	gw, err := NewBotGateway(testToken, Options{APIURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewBotGateway error: %v", err)
	}

	post := domain.Post{Channel: "deals", Messages: []domain.MessageRecord{{ID: 1}}}
	err = gw.Forward(context.Background(), post, domain.RecipientTarget{Ref: "@me"})

	rl, ok := gateway.AsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if rl.RetryAfter != 5*time.Second {
		t.Fatalf("expected 5s, got %s", rl.RetryAfter)
	}
}

func TestBotGatewayResolveRecipient(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	server := newAPIServer(t, rec, map[string]string{
		"getChat": `{"ok":true,"result":{"id":-1002,"type":"channel","title":"Team feed","accent_color_id":0,"max_reaction_count":0}}`,
	})

	gw, err := NewBotGateway(testToken, Options{APIURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewBotGateway error: %v", err)
	}

	target, err := gw.ResolveRecipient(context.Background(), "team")
	if err != nil {
		t.Fatalf("ResolveRecipient error: %v", err)
	}
	if target.ID != -1002 || target.Title != "Team feed" || target.Ref != "team" {
		t.Fatalf("unexpected target: %+v", target)
	}
	if rec.bodies[0]["chat_id"] != "@team" {
		t.Fatalf("unexpected chat_id: %v", rec.bodies[0]["chat_id"])
	}
}

func TestBotGatewayResolveUnknownRecipient(t *testing.T) {
	t.Parallel()

	rec := &apiRecorder{}
	server := newAPIServer(t, rec, map[string]string{
		"getChat": `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
	})

	gw, err := NewBotGateway(testToken, Options{APIURL: server.URL}, nil)
	if err != nil {
		t.Fatalf("NewBotGateway error: %v", err)
	}

	_, err = gw.ResolveRecipient(context.Background(), "@ghost")
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := gateway.AsRateLimited(err); ok {
		t.Fatalf("chat not found must not be a rate limit")
	}
}

func TestNewBotGatewayRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := NewBotGateway("  ", Options{}, nil); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestParseRecipient(t *testing.T) {
	t.Parallel()

	id, err := ParseRecipient("-100123")
	if err != nil || id.ID != -100123 {
		t.Fatalf("unexpected numeric recipient: %+v, %v", id, err)
	}

	name, err := ParseRecipient("me")
	if err != nil || name.Username != "@me" {
		t.Fatalf("unexpected username recipient: %+v, %v", name, err)
	}

	if _, err := ParseRecipient(""); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
	if _, err := ParseRecipient("two words"); err == nil {
		t.Fatalf("expected error for invalid recipient")
	}
}

func TestTranslateError(t *testing.T) {
	t.Parallel()

	apiErr := &telegoapi.Error{
		ErrorCode:   http.StatusTooManyRequests,
		Description: "Too Many Requests: retry after 9",
		Parameters:  &telegoapi.ResponseParameters{RetryAfter: 9},
	}
	err := translateError("forward", fmt.Errorf("telego: forwardMessages: %w", apiErr))
	rl, ok := gateway.AsRateLimited(err)
	if !ok || rl.RetryAfter != 9*time.Second || rl.Op != "forward" {
		t.Fatalf("unexpected translation: %v", err)
	}

	noParams := &telegoapi.Error{ErrorCode: http.StatusTooManyRequests, Description: "Too Many Requests: retry after 4"}
	rl, ok = gateway.AsRateLimited(translateError("forward", noParams))
	if !ok || rl.RetryAfter != 4*time.Second {
		t.Fatalf("expected retry after parsed from description, got %+v", rl)
	}

	rl, ok = gateway.AsRateLimited(translateError("get_chat", errors.New("flood wait: Retry After 3")))
	if !ok || rl.RetryAfter != 3*time.Second {
		t.Fatalf("expected retry after parsed from text, got %+v", rl)
	}

	plain := translateError("get_chat", errors.New("bad request"))
	if _, ok := gateway.AsRateLimited(plain); ok {
		t.Fatalf("plain error must not be a rate limit")
	}
	if plain.Error() != "get_chat: bad request" {
		t.Fatalf("unexpected message: %s", plain.Error())
	}
}
