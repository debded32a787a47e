// Package commands implements the Telegram command surface: self-service
// target management for subscribers and subscription management for admins.
//
// Replies are sent directly through the transport, not through the
// notification queue, so an interactive user gets an answer even when the
// queue is backed up.
package commands

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "uptimebot/internal/runtime/supervisor"
	kit "uptimebot/internal/transport"
	logx "uptimebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessSubscriber
	AccessAdmin
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	// Menu lists the command in the Telegram command menu.
	Menu   bool
	Handle HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	ChatID   int64
	FromID   int64
	Username string
	Command  string
	Args     []string
	Text     string
}

type Router struct {
	deps Deps
	log  logx.Logger

	mu       sync.RWMutex
	cmds     map[string]Command
	handlers map[string]HandlerFunc

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func NewRouter(deps Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{deps: deps.withDefaults(), log: log}
	r.setRegistry(r.builtin())
	return r
}

func (r *Router) setRegistry(cmds []Command) {
	m := make(map[string]Command, len(cmds))
	h := make(map[string]HandlerFunc, len(cmds))
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		m[c.Name] = c
		h[c.Name] = Chain(r.guard(c), MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(r.deps.Timeout))
	}
	r.mu.Lock()
	r.cmds, r.handlers = m, h
	r.mu.Unlock()
}

// MenuCommands returns name -> description for the Telegram command menu.
func (r *Router) MenuCommands() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]string{}
	for name, c := range r.cmds {
		if c.Menu {
			out[name] = c.Description
		}
	}
	return out
}

func (r *Router) sorted() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits "/cmd@bot a b" into its command and arguments. ok is false
// for text that is not a command.
func Parse(text string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(cmd)
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

// Dispatch handles one inbound message. Unknown commands and plain text are
// ignored.
func (r *Router) Dispatch(ctx context.Context, msg kit.Message) error {
	cmd, args, ok := Parse(msg.Text)
	if !ok {
		return nil
	}
	r.mu.RLock()
	h, found := r.handlers[cmd]
	r.mu.RUnlock()
	if !found {
		r.log.Debug("unknown command", logx.String("cmd", cmd), logx.Int64("chat_id", msg.ChatID))
		return nil
	}
	req := &Request{
		ChatID:   msg.ChatID,
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Command:  cmd,
		Args:     args,
		Text:     msg.Text,
	}
	err := h(ctx, req)
	if err != nil && ctx.Err() == nil {
		r.reply(ctx, req, "⚠️ Something went wrong, please try again later.")
	}
	return err
}

// guard enforces the command's access level before calling its handler.
func (r *Router) guard(c Command) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		switch c.Access {
		case AccessAdmin:
			if !r.deps.IsAdmin(req.FromID) {
				r.reply(ctx, req, "❌ Unauthorized. Admin only.")
				return nil
			}
		case AccessSubscriber:
			ok, err := r.deps.Store.IsSubscribed(ctx, req.ChatID)
			if err != nil {
				return err
			}
			if !ok {
				r.reply(ctx, req, "❌ You are not subscribed. Use /whoami to get your chat_id.")
				return nil
			}
		}
		return c.Handle(ctx, req)
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if err := r.deps.Sender.SendText(ctx, req.ChatID, text); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", req.ChatID), logx.String("cmd", req.Command), logx.Err(err))
	}
}

// Start consumes in with workers goroutines until ctx ends or Stop.
func (r *Router) Start(ctx context.Context, in <-chan kit.Message, workers int) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sup != nil {
		return
	}
	if workers <= 0 {
		workers = 4
	}
	r.sup = rtsup.New(ctx, rtsup.WithLogger(r.log))
	for i := 0; i < workers; i++ {
		r.sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case msg, ok := <-in:
					if !ok {
						return nil
					}
					_ = r.Dispatch(c, msg)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers))
}

func (r *Router) Stop(ctx context.Context) error {
	r.runMu.Lock()
	sup := r.sup
	r.sup = nil
	r.runMu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	r.log.Info("command dispatcher stopped")
	return err
}
