package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"gexbot/internal/transport"
)

// destFor returns the serialized send state and current binding for a
// destination name. States are created lazily so reload-added destinations
// work without restarts.
func (d *Dispatcher) destFor(name string) (*destState, Binding, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bindings[name]
	if !ok {
		return nil, Binding{}, false
	}
	st, ok := d.dests[name]
	if !ok {
		st = &destState{limiter: newLimiter(d.cfg.MinGap)}
		d.dests[name] = st
	}
	return st, b, true
}

// resolveLocked returns the live target for a binding, using the cached
// resolution when present. Caller holds st.mu.
func (d *Dispatcher) resolveLocked(ctx context.Context, st *destState, b Binding) (transport.ChatTarget, error) {
	if st.stale.Swap(false) {
		st.target = nil
	}
	if st.target != nil {
		return *st.target, nil
	}

	if id, err := strconv.ParseInt(b.Chat, 10, 64); err == nil {
		t := transport.ChatTarget{ChatID: id, ThreadID: b.ThreadID}
		st.target = &t
		return t, nil
	}

	if d.resolver == nil {
		return transport.ChatTarget{}, fmt.Errorf("cannot resolve %q: no resolver", b.Chat)
	}
	t, err := d.resolver.ResolveChat(ctx, b.Chat)
	if err != nil {
		return transport.ChatTarget{}, fmt.Errorf("resolve %q: %w", b.Chat, err)
	}
	t.ThreadID = b.ThreadID
	st.target = &t
	return t, nil
}
