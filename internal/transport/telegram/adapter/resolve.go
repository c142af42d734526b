package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	kit "gexbot/internal/transport"
)

// ResolveChat resolves a chat reference to a live target. Accepts a numeric
// chat ID ("-1001234567890") or a public username ("@gexbot_trading").
// Username lookups hit the API, so callers cache the result and only come
// back here on a miss or after a destination-gone failure.
func (a *Adapter) ResolveChat(ctx context.Context, ref string) (kit.ChatTarget, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return kit.ChatTarget{}, fmt.Errorf("empty chat reference")
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return kit.ChatTarget{}, ctx.Err()
		default:
		}
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return kit.ChatTarget{ChatID: id}, nil
	}

	if !strings.HasPrefix(ref, "@") {
		ref = "@" + ref
	}
	chat, err := a.bot.ChatByUsername(ref)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("resolve %s: %w", ref, classifySendErr(err))
	}
	return kit.ChatTarget{ChatID: chat.ID}, nil
}
