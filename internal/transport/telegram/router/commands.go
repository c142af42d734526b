package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gexbot/internal/config"
	"gexbot/internal/storage"
	"gexbot/internal/task/scheduler"
	kit "gexbot/internal/transport"
	"gexbot/pkg/chatfmt"
	"gexbot/pkg/chatui"
)

// OpsCommands builds the operational command set wired to deps.
func OpsCommands(deps Deps) ([]Command, []CallbackRoute) {
	cmds := []Command{
		statusCmd(deps),
		watchlistCmd(deps),
		scanCmd(deps),
		briefCmd(deps, "morning", config.JobMorningBriefing),
		briefCmd(deps, "evening", config.JobEveningBriefing),
		sectorsCmd(deps),
		auditCmd(deps),
		haltCmd(deps),
	}
	cbs := []CallbackRoute{
		haltConfirmCb(deps),
		haltCancelCb(deps),
	}
	return cmds, cbs
}

func reply(ctx context.Context, req *Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func statusCmd(deps Deps) Command {
	return Command{
		Route:       "status",
		Description: "scheduler, dispatch and monitor state",
		Usage:       "/status",
		Access:      AccessEveryone,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			snap := deps.Scheduler.Snapshot()
			stats := deps.Dispatch.Stats()
			states := deps.Tracker.States()

			schedState := "running"
			switch {
			case deps.Scheduler.Halted():
				schedState = "HALTED"
			case !deps.Scheduler.Enabled():
				schedState = "disabled"
			}

			b := chatui.New().Title("\U0001f4ca", "gexbot status").
				KV("Scheduler", fmt.Sprintf("%s, %d schedules", schedState, len(snap.Schedules))).
				KV("Dispatch", fmt.Sprintf("%d delivered, %d retried, %d failed, %d suppressed",
					stats.Delivered, stats.Retried, stats.Failed, stats.Suppressed)).
				KV("Tracked", fmt.Sprintf("%d symbols", len(states))).
				KV("Uptime", formatAge(time.Since(deps.StartedAt)))
			if name, next := nextFire(snap); !next.IsZero() {
				b.KV("Next job", name+" at "+next.Format("15:04:05 MST"))
			}

			msg := b.Build()
			_, err := req.Adapter.SendText(ctx, req.Chat, msg.Text, msg.Opt)
			return err
		},
	}
}

func watchlistCmd(deps Deps) Command {
	return Command{
		Route:       "watchlist",
		Description: "tracked symbols and their regimes",
		Usage:       "/watchlist",
		Access:      AccessEveryone,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			states := deps.Tracker.States()
			if len(states) == 0 {
				return reply(ctx, req, "Nothing tracked yet. The next scan cycle baselines the watchlist.")
			}
			symbols := make([]string, 0, len(states))
			for sym := range states {
				symbols = append(symbols, sym)
			}
			sort.Strings(symbols)

			b := chatui.New().Title("\U0001f440", "Watchlist")
			for _, sym := range symbols {
				st := states[sym]
				flip := "—"
				if st.FlipLevel != nil {
					flip = chatfmt.Price(*st.FlipLevel)
				}
				alerted := "never alerted"
				if !st.LastAlert.IsZero() {
					if age := formatAge(time.Since(st.LastAlert)); age == "just now" {
						alerted = "alerted just now"
					} else {
						alerted = "alerted " + age + " ago"
					}
				}
				b.RawLine(chatfmt.Raw(fmt.Sprintf("• %s %s · flip %s · spot %s · %s",
					chatfmt.B(sym),
					chatfmt.Esc(st.RegimeLabel),
					chatfmt.Esc(flip),
					chatfmt.Esc(chatfmt.Price(st.ReferencePrice)),
					chatfmt.Esc(alerted))))
			}
			msg := b.Build()
			_, err := req.Adapter.SendText(ctx, req.Chat, msg.Text, msg.Opt)
			return err
		},
	}
}

func scanCmd(deps Deps) Command {
	return Command{
		Route:       "scan",
		Description: "run a GEX scan cycle now",
		Usage:       "/scan",
		Access:      AccessOwnerOnly,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			return triggerJob(ctx, req, deps, config.JobScan, "\U0001f50d Scan queued.")
		},
	}
}

func briefCmd(deps Deps, which, job string) Command {
	return Command{
		Route:       "brief " + which,
		Description: "post the " + which + " briefing now",
		Usage:       "/brief " + which,
		Access:      AccessOwnerOnly,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			return triggerJob(ctx, req, deps, job, "\U0001f4dd Briefing queued.")
		},
	}
}

func sectorsCmd(deps Deps) Command {
	return Command{
		Route:       "sectors",
		Description: "run the sector scan now",
		Usage:       "/sectors",
		Access:      AccessOwnerOnly,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			return triggerJob(ctx, req, deps, config.JobSectorScan, "\U0001f9ed Sector scan queued.")
		},
	}
}

func triggerJob(ctx context.Context, req *Request, deps Deps, job, ok string) error {
	err := deps.Scheduler.Trigger(job)
	switch {
	case err == nil:
		return reply(ctx, req, ok)
	case errors.Is(err, scheduler.ErrHalted):
		return reply(ctx, req, "\U0001f6d1 Halted. Restart the process to resume.")
	default:
		return reply(ctx, req, "Could not queue the job: "+chatfmt.Esc(err.Error()).String())
	}
}

func auditCmd(deps Deps) Command {
	return Command{
		Route:       "audit",
		Description: "recent audit entries",
		Usage:       "/audit [n]",
		Access:      AccessOwnerOnly,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			if deps.Store == nil {
				return reply(ctx, req, "The audit log is disabled.")
			}
			n := 10
			if len(req.Args) > 0 {
				v, err := strconv.Atoi(req.Args[0])
				if err != nil || v < 1 {
					return reply(ctx, req, "Usage: "+chatfmt.Code("/audit [n]").String())
				}
				n = v
			}
			if n > 50 {
				n = 50
			}
			entries, err := deps.Store.RecentAudit(ctx, n)
			if err != nil {
				return fmt.Errorf("recent audit: %w", err)
			}
			if len(entries) == 0 {
				return reply(ctx, req, "The audit log is empty.")
			}
			msg := chatui.New().
				Title("\U0001f4d2", fmt.Sprintf("Audit, last %d", len(entries))).
				Pre(auditTable(entries)).
				Build()
			_, err = req.Adapter.SendText(ctx, req.Chat, msg.Text, msg.Opt)
			return err
		},
	}
}

func auditTable(entries []storage.AuditEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := "ok"
		if !e.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "%s %-8s %-5s %-15s %s",
			e.At.Format("Jan _2 15:04"), e.Kind, e.Symbol, e.Action, mark)
		if e.Error != "" {
			b.WriteString(" " + chatfmt.TruncRunes(e.Error, 40))
		}
	}
	return b.String()
}

func haltCmd(deps Deps) Command {
	return Command{
		Route:       "halt",
		Description: "emergency stop: halt jobs and kill the engine",
		Usage:       "/halt",
		Access:      AccessOwnerOnly,
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			token := deps.Tokens.Put(strconv.FormatInt(req.FromID, 10))
			confirm, err := chatui.Data("halt", "confirm", token)
			if err != nil {
				return err
			}
			cancel, err := chatui.Data("halt", "cancel", token)
			if err != nil {
				return err
			}
			msg := chatui.New().
				Title("⚠️", "Emergency stop").
				Line("Halt all scheduled jobs and kill the trading engine?").
				Inline(chatui.ConfirmInline(
					chatui.Btn("\U0001f6d1 Halt everything", confirm),
					chatui.Btn("Cancel", cancel),
				)).
				Build()
			_, err = msg.Send(ctx, req.Adapter, req.Chat)
			return err
		},
	}
}

func haltConfirmCb(deps Deps) CallbackRoute {
	return CallbackRoute{
		Namespace: "halt",
		Action:    "confirm",
		Access:    AccessOwnerOnly,
		Timeout:   30 * time.Second,
		Handle: func(ctx context.Context, req *Request, payload string) error {
			issuer, ok := deps.Tokens.Take(payload)
			if !ok {
				return editCallback(ctx, req, "This confirmation expired. Run /halt again.")
			}
			if issuer != strconv.FormatInt(req.FromID, 10) {
				return editCallback(ctx, req, "Only the requester can confirm this stop.")
			}
			res := deps.Stopper.Stop(ctx, "user:"+issuer)
			return editCallback(ctx, req, res.Message)
		},
	}
}

func haltCancelCb(deps Deps) CallbackRoute {
	return CallbackRoute{
		Namespace: "halt",
		Action:    "cancel",
		Access:    AccessOwnerOnly,
		Timeout:   10 * time.Second,
		Handle: func(ctx context.Context, req *Request, payload string) error {
			deps.Tokens.Take(payload)
			return editCallback(ctx, req, "Emergency stop cancelled.")
		},
	}
}

func editCallback(ctx context.Context, req *Request, text string) error {
	cb := req.Update.Callback
	if cb == nil || cb.MessageID == 0 {
		return reply(ctx, req, text)
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return req.Adapter.EditText(ctx, ref, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

// nextFire picks the soonest upcoming schedule.
func nextFire(snap scheduler.Snapshot) (string, time.Time) {
	var name string
	var at time.Time
	for _, s := range snap.Schedules {
		if s.Next.IsZero() {
			continue
		}
		if at.IsZero() || s.Next.Before(at) {
			name, at = s.Name, s.Next
		}
	}
	return name, at
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return "just now"
	}
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	switch {
	case h >= 24:
		return fmt.Sprintf("%dd%dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
