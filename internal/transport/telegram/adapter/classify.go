package adapter

import (
	"errors"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "gexbot/internal/transport"
)

// classifySendErr maps Telegram API failures onto the kit's error classes.
// Unrecognized errors pass through unchanged.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		after := time.Duration(fe.RetryAfter) * time.Second
		if after <= 0 {
			after = time.Second
		}
		return kit.Backpressure(err, after)
	}

	var te *tele.Error
	if errors.As(err, &te) {
		desc := strings.ToLower(te.Description)
		switch {
		case te.Code == 429:
			return kit.Backpressure(err, retryAfterFromText(desc))
		case te.Code == 403:
			// Blocked, kicked, or never started: the bot cannot post here.
			return kit.PermissionDenied(err)
		case te.Code == 400 && isGoneDescription(desc):
			return kit.TargetGone(err)
		case te.Code == 400 && strings.Contains(desc, "rights"):
			return kit.PermissionDenied(err)
		}
		return err
	}

	// Fallback on error text for failures that arrive unwrapped.
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "too many requests"):
		return kit.Backpressure(err, retryAfterFromText(text))
	case isGoneDescription(text):
		return kit.TargetGone(err)
	case strings.Contains(text, "bot was blocked"), strings.Contains(text, "bot was kicked"):
		return kit.PermissionDenied(err)
	}
	return err
}

// isGoneDescription matches descriptions meaning the chat ID we hold no
// longer points at a live chat. A group→supergroup upgrade lands here: the
// old ID is dead and re-resolution by name finds the replacement.
func isGoneDescription(desc string) bool {
	return strings.Contains(desc, "chat not found") ||
		strings.Contains(desc, "upgraded to a supergroup") ||
		strings.Contains(desc, "chat was deactivated")
}

// retryAfterFromText extracts the "retry after N" hint Telegram embeds in
// flood descriptions. Defaults to 3s when absent.
func retryAfterFromText(s string) time.Duration {
	const def = 3 * time.Second
	i := strings.Index(s, "retry after ")
	if i < 0 {
		return def
	}
	rest := s[i+len("retry after "):]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return def
	}
	n, err := strconv.Atoi(rest[:j])
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
