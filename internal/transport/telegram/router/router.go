// Package router turns inbound chat updates into command executions: a
// registry of routes with access control, a bounded worker pool under a
// supervisor, and inline-callback dispatch for confirm flows.
package router

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gexbot/internal/config"
	"gexbot/internal/dispatch"
	"gexbot/internal/halt"
	"gexbot/internal/monitor"
	"gexbot/internal/runtime/supervisor"
	"gexbot/internal/storage"
	"gexbot/internal/task/scheduler"
	kit "gexbot/internal/transport"
	"gexbot/pkg/chatui"
	"gexbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one registered route. Route is a space-separated path, so
// "brief morning" is a subcommand of the "brief" group.
type Command struct {
	Route       string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

type HandlerFunc func(ctx context.Context, req *Request) error

// CallbackRoute handles inline-button presses for one namespace:action
// pair. Callbacks default to owner-only; every operational button here
// mutates state.
type CallbackRoute struct {
	Namespace string
	Action    string
	Access    Access
	Timeout   time.Duration
	Handle    func(ctx context.Context, req *Request, payload string) error
}

// Request carries one update through the middleware chain into a handler.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Flags   map[string]string
	Bools   map[string]bool
	Payload string
	ReqID   string

	Adapter kit.Adapter
	Config  *config.Config
	Log     logx.Logger
}

// SchedulerPort is the slice of the scheduler commands need.
type SchedulerPort interface {
	Enabled() bool
	Halted() bool
	Snapshot() scheduler.Snapshot
	Trigger(name string) error
}

// StopperPort runs the emergency stop.
type StopperPort interface {
	Stop(ctx context.Context, actor string) halt.Result
}

// DispatchStats exposes delivery counters for /status.
type DispatchStats interface {
	Stats() dispatch.Stats
}

// Deps are the collaborators the operational commands read and poke.
// Store may be nil when storage is disabled.
type Deps struct {
	Scheduler SchedulerPort
	Tracker   *monitor.Tracker
	Dispatch  DispatchStats
	Stopper   StopperPort
	Store     storage.Store
	Tokens    *chatui.TokenStore
	StartedAt time.Time
}

// Router owns the command registry and the update dispatch loop.
type Router struct {
	mu    sync.RWMutex
	root  *cmdNode
	alias map[string]*cmdNode

	cbMu      sync.RWMutex
	callbacks map[string]map[string]CallbackRoute

	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	cfg     func() *config.Config
	store   storage.Store

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, cfg func() *config.Config, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		root:      newRoot(),
		alias:     map[string]*cmdNode{},
		callbacks: map[string]map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log,
		adapter:   adapter,
		cfg:       cfg,
		jobs:      make(chan func(), 256),
	}
}

// SetStore installs the audit store for command trail entries. Install
// before DispatchLoop.
func (r *Router) SetStore(s storage.Store) { r.store = s }

// SetOwners swaps the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int64(nil), r.owners...)
}

// Register installs the command set, replacing any previous registry.
// A /help command is always present. The platform command menu is
// republished best-effort in the background.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute) {
	cmds = append(cmds, Command{
		Route:       "help",
		Description: "show available commands",
		Usage:       "/help [command]",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			text := r.helpText(req.Args)
			_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			return err
		},
	})

	root := newRoot()
	alias := map[string]*cmdNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		cc := c
		root.add(route, cc)
		// Multi-token routes get a flattened alias so the Telegram
		// command menu can offer them ("/brief_morning"). Single-token
		// routes must not alias themselves or subcommand traversal
		// would short-circuit.
		if len(route) > 1 {
			if menu, ok := menuCommandName(route); ok {
				if leaf := root.find(route); leaf != nil {
					alias[menu] = leaf
				}
			}
		}
	}

	cb := map[string]map[string]CallbackRoute{}
	for _, route := range cbs {
		ns, action := strings.TrimSpace(route.Namespace), strings.TrimSpace(route.Action)
		if ns == "" || action == "" || route.Handle == nil {
			continue
		}
		if cb[ns] == nil {
			cb[ns] = map[string]CallbackRoute{}
		}
		cb[ns][action] = route
	}

	r.mu.Lock()
	r.root = root
	r.alias = alias
	r.mu.Unlock()
	r.cbMu.Lock()
	r.callbacks = cb
	r.cbMu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenuCommands(root)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, menu); err != nil {
				r.log.Debug("menu publish failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop consumes updates until ctx ends. Handlers run on a small
// worker pool so one slow command never blocks the next; a full queue
// answers "busy" instead of stalling the update stream.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
		supervisor.WithCancelOnError(false),
	)
	r.log.Info("command router started", logx.Int("workers", workers))

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				r.routeMessage(ctx, up)
			case kit.UpdateCallback:
				r.routeCallback(ctx, up)
			}
		}
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i] // strip the @botname suffix groups add
	}
	args := parts[1:]

	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	if leaf, ok := alias[word]; ok && leaf != nil && leaf.cmd != nil {
		r.enqueue(ctx, up, *leaf.cmd, args)
		return
	}

	cur, ok := root.child(word)
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help.", nil)
		return
	}
	path := []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		child, ok := cur.child(args[0])
		if !ok {
			break
		}
		cur = child
		path = append(path, args[0])
		args = args[1:]
	}
	if cur.cmd == nil {
		// Group without its own handler: show its help.
		_, _ = r.adapter.SendText(ctx, chat, r.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		return
	}
	r.enqueue(ctx, up, *cur.cmd, args)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update, cmd Command, rawArgs []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	owners := r.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(ctx, chat, "This command is owner-only.", nil)
		return
	}

	pos, flags, bools := parseArgs(rawArgs)
	rid := reqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Route,
		Args:    pos,
		Flags:   flags,
		Bools:   bools,
		ReqID:   rid,
		Adapter: r.adapter,
		Config:  r.cfg(),
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Route),
		),
	}
	final := wrap(cmd.Handle, r.log, cmd.Timeout)
	if !r.tryEnqueue(func() { r.audit(ctx, req, final(ctx, req)) }) {
		_, _ = r.adapter.SendText(ctx, chat, "Busy, try again shortly.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	ns, action, payload := chatui.ParseData(cb.Data)
	if ns == "" || action == "" {
		return
	}

	r.cbMu.RLock()
	route, ok := r.callbacks[ns][action]
	r.cbMu.RUnlock()
	if !ok {
		return
	}

	owners := r.ownersSnapshot()
	if route.Access != AccessEveryone && !isOwner(cb.FromID, owners) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	rid := reqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
		FromID:  cb.FromID,
		Command: "cb:" + ns + ":" + action,
		Payload: payload,
		ReqID:   rid,
		Adapter: r.adapter,
		Config:  r.cfg(),
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", cb.FromID),
			logx.String("cmd", "cb:"+ns+":"+action),
		),
	}
	h := func(c context.Context, rq *Request) error { return route.Handle(c, rq, payload) }
	final := wrap(h, r.log, route.Timeout)
	if !r.tryEnqueue(func() {
		r.audit(ctx, req, final(ctx, req))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

// audit records the command outcome. Bookkeeping only; the user already
// has their reply.
func (r *Router) audit(ctx context.Context, req *Request, err error) {
	if r.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     time.Now(),
		Kind:   storage.AuditCommand,
		Actor:  fmt.Sprintf("user:%d", req.FromID),
		Action: req.Command,
		OK:     err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := r.store.AppendAudit(ctx, e); aerr != nil {
		r.log.Warn("audit append failed", logx.Err(aerr))
	}
}

// tryEnqueue never blocks and survives the jobs channel being closed
// during shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// wrap applies the standard middleware: panic recovery outermost, then
// request logging, then the per-command timeout.
func wrap(h HandlerFunc, log logx.Logger, timeout time.Duration) HandlerFunc {
	inner := h
	if timeout > 0 {
		next := inner
		inner = func(ctx context.Context, req *Request) error {
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(tctx, req)
		}
	}
	logged := func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := inner(ctx, req)
		took := time.Since(start)
		l := log
		if !req.Log.IsZero() {
			l = req.Log
		}
		if err != nil {
			l.Warn("command failed", logx.Duration("took", took), logx.Err(err))
		} else {
			l.Debug("command ok", logx.Duration("took", took))
		}
		return err
	}
	return func(ctx context.Context, req *Request) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				l := log
				if req != nil && !req.Log.IsZero() {
					l = req.Log
				}
				l.Error("panic in command handler",
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return logged(ctx, req)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}

func reqID() string {
	id := uuid.NewString()
	return id[:8]
}
