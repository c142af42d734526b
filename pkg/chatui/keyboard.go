package chatui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button. Build data with Data() so the router can
// route it.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

func URLBtn(text, url string) tele.Btn {
	return tele.Btn{Text: text, URL: url}
}

// ConfirmInline is the standard two-button confirm/cancel row.
func ConfirmInline(confirm, cancel tele.Btn) *Inline {
	return NewInline().Row(confirm, cancel)
}
