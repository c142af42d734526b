package chatui

import (
	"errors"
	"strings"
)

// Callback data format: "ns:action" or "ns:action:payload". The payload
// part may hold a token from the TokenStore, which never contains ':'.

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("callback_data too long")

// Data formats callback data. Returns an error when the result would
// exceed the platform limit.
func Data(ns, action, payload string) (string, error) {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	s := ns + ":" + action
	if payload != "" {
		s += ":" + payload
	}
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits callback data into its parts. The payload may itself
// contain ':' and is returned whole.
func ParseData(data string) (ns, action, payload string) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}
