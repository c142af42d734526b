package adapter

import (
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "gexbot/internal/transport"
)

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"flood 429", &tele.Error{Code: 429, Description: "Too Many Requests: retry after 14"}, "backpressure"},
		{"blocked", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}, "permission"},
		{"kicked", &tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the group chat"}, "permission"},
		{"not found", &tele.Error{Code: 400, Description: "Bad Request: chat not found"}, "gone"},
		{"migrated", &tele.Error{Code: 400, Description: "Bad Request: group chat was upgraded to a supergroup chat"}, "gone"},
		{"no rights", &tele.Error{Code: 400, Description: "Bad Request: have no rights to send a message"}, "permission"},
		{"other 400", &tele.Error{Code: 400, Description: "Bad Request: message is too long"}, ""},
		{"plain", errors.New("dial tcp: connection refused"), ""},
	}
	for _, tc := range cases {
		got := kit.ClassLabel(classifySendErr(tc.err))
		if got != tc.want {
			t.Fatalf("%s: class %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyFloodCarriesDelay(t *testing.T) {
	err := classifySendErr(&tele.Error{Code: 429, Description: "Too Many Requests: retry after 14"})
	after, ok := kit.RetryAfterHint(err)
	if !ok || after != 14*time.Second {
		t.Fatalf("hint = %v, %v", after, ok)
	}
}

func TestClassifyTextFallback(t *testing.T) {
	err := classifySendErr(errors.New("telegram: Too Many Requests: retry after 7 (429)"))
	after, ok := kit.RetryAfterHint(err)
	if !ok || after != 7*time.Second {
		t.Fatalf("hint = %v, %v", after, ok)
	}

	if !kit.IsTargetGone(classifySendErr(errors.New("telegram: Bad Request: chat not found (400)"))) {
		t.Fatalf("text fallback missed gone class")
	}
}

func TestClassifyNil(t *testing.T) {
	if classifySendErr(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
