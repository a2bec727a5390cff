package bot

import (
	"errors"
	"strings"
)

// Kind is the type of an inbound chat event.
type Kind string

const (
	KindCommand Kind = "command"
	KindText    Kind = "text"
	KindAction  Kind = "action"
)

// Commands and button actions understood by the bot.
const (
	CmdStart        = "start"
	CmdAddAccounts  = "add_accounts"
	CmdTopUpBalance = "topup_balance"
	CmdStats        = "stats"
	CmdMyBalance    = "my_balance"
	CmdCancel       = "cancel"

	ActionBuyAccount = "buy_account"
	ActionGetCode    = "get_code"
	ActionMyBalance  = "my_balance"
)

// ErrInvalidEvent is returned for events the transport should not have sent.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one normalized inbound update from the chat transport.
type Event struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Validate checks the event shape and normalizes the command name.
func (e *Event) Validate() error {
	if e.UserID == 0 {
		return errors.Join(ErrInvalidEvent, errors.New("user_id is required"))
	}
	switch e.Kind {
	case KindCommand, KindAction:
		e.Name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e.Name), "/"))
		if i := strings.IndexByte(e.Name, '@'); i >= 0 {
			e.Name = e.Name[:i]
		}
		if e.Name == "" {
			return errors.Join(ErrInvalidEvent, errors.New("name is required"))
		}
	case KindText:
	default:
		return errors.Join(ErrInvalidEvent, errors.New("unknown kind "+string(e.Kind)))
	}
	return nil
}

// Button is an inline action button.
type Button struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// Reply is one outbound message.
type Reply struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
	// Alert asks the transport to show the text as a popup.
	Alert bool `json:"alert,omitempty"`
}

// Response is everything the bot answers to one event.
// An empty Replies list means the event is silently ignored.
type Response struct {
	Replies []Reply `json:"replies"`
}

func reply(text string, buttons ...Button) *Response {
	return &Response{Replies: []Reply{{Text: text, Buttons: buttons}}}
}

func (r *Response) add(text string, buttons ...Button) *Response {
	r.Replies = append(r.Replies, Reply{Text: text, Buttons: buttons})
	return r
}

func ignore() *Response {
	return &Response{Replies: []Reply{}}
}
