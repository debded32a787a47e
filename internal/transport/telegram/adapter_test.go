package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "uptimebot/internal/transport"
	logx "uptimebot/pkg/logx"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []string
	sendErr  error
	failCall int // fails the n-th Send once (1-based)
	calls    int
	handlers map[interface{}]tele.HandlerFunc
	commands []tele.Command
}

func (f *fakeAPI) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.calls++
	if f.calls == f.failCall {
		return nil, errors.New("bad gateway")
	}
	f.sent = append(f.sent, what.(string))
	return &tele.Message{ID: len(f.sent)}, nil
}

func (f *fakeAPI) Handle(endpoint interface{}, h tele.HandlerFunc, _ ...tele.MiddlewareFunc) {
	if f.handlers == nil {
		f.handlers = map[interface{}]tele.HandlerFunc{}
	}
	f.handlers[endpoint] = h
}

func (f *fakeAPI) SetCommands(opts ...interface{}) error {
	if len(opts) > 0 {
		f.commands, _ = opts[0].([]tele.Command)
	}
	return nil
}

func (f *fakeAPI) Start() {}
func (f *fakeAPI) Stop()  {}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split: %q", got)
	}
	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("unexpected split: %q", got)
	}
	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("unexpected hard split: %q", got)
	}
}

func TestSplitChunksOffsets(t *testing.T) {
	t.Parallel()
	text := "ééé\n\nabc\nxyzw"
	cs := splitChunks(text, 5)
	if len(cs) < 2 {
		t.Fatalf("expected several chunks, got %+v", cs)
	}
	for i, c := range cs {
		rest := text[c.rest:]
		if i == len(cs)-1 {
			if rest != "" {
				t.Fatalf("last chunk leaves %q", rest)
			}
			continue
		}
		if got := splitText(rest, 5); got[0] != cs[i+1].text {
			t.Fatalf("chunk %d: remainder %q does not start with next chunk %q", i, rest, cs[i+1].text)
		}
	}
}

func TestSendTextReportsDeliveredPrefix(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{failCall: 2}
	a := newWithAPI(Config{}, logx.Nop(), f)
	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)

	err := a.SendText(context.Background(), 1, text)
	if err == nil {
		t.Fatal("expected error from second chunk")
	}
	n, ok := kit.DeliveredOf(err)
	if !ok || n != 3001 {
		t.Fatalf("delivered = %d, %v", n, ok)
	}

	if err := a.SendText(context.Background(), 1, text[n:]); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 2 || f.sent[0] != strings.Repeat("a", 3000) || f.sent[1] != strings.Repeat("b", 3000) {
		t.Fatalf("chunks resent or missing: %d sends", len(f.sent))
	}
}

func TestSendTextFirstChunkFailureIsNotPartial(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{failCall: 1}
	a := newWithAPI(Config{}, logx.Nop(), f)
	err := a.SendText(context.Background(), 1, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := kit.DeliveredOf(err); ok {
		t.Fatal("nothing was delivered")
	}
}

func TestSendTextChunks(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{}
	a := newWithAPI(Config{}, logx.Nop(), f)
	text := strings.Repeat("line of text\n", 600)
	if err := a.SendText(context.Background(), 1, text); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(f.sent))
	}
	for _, c := range f.sent {
		if len([]rune(c)) > textLimit {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
	}
}

func TestSendTextFloodErrorCarriesRetryAfter(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{sendErr: tele.FloodError{RetryAfter: 7}}
	a := newWithAPI(Config{}, logx.Nop(), f)
	err := a.SendText(context.Background(), 1, "hi")
	d, ok := kit.RetryAfterOf(err)
	if !ok || d != 7*time.Second {
		t.Fatalf("retry after = %v, %v", d, ok)
	}
}

func TestSendTextPlainError(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{sendErr: errors.New("bad request")}
	a := newWithAPI(Config{}, logx.Nop(), f)
	err := a.SendText(context.Background(), 1, "hi")
	if _, ok := kit.RetryAfterOf(err); ok || err == nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestTextMessagesAreForwarded(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{}
	a := newWithAPI(Config{}, logx.Nop(), f)
	out := make(chan kit.Message, 1)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Stop(context.Background()) }()

	bot, err := tele.NewBot(tele.Settings{Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	c := bot.NewContext(tele.Update{Message: &tele.Message{
		ID:     5,
		Text:   "/status",
		Chat:   &tele.Chat{ID: 99},
		Sender: &tele.User{ID: 7, Username: "ops"},
	}})
	if err := f.handlers[tele.OnText](c); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-out:
		if m.ChatID != 99 || m.FromID != 7 || m.Text != "/status" {
			t.Fatalf("unexpected message: %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}
}

func TestSetCommandsSorted(t *testing.T) {
	t.Parallel()
	f := &fakeAPI{}
	a := newWithAPI(Config{}, logx.Nop(), f)
	if err := a.SetCommands(map[string]string{"status": "s", "help": "h"}); err != nil {
		t.Fatal(err)
	}
	if len(f.commands) != 2 || f.commands[0].Text != "help" {
		t.Fatalf("commands = %+v", f.commands)
	}
}
