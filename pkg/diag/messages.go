package diag

import (
	"fmt"

	"github.com/nnnkkk7/tds-bridge/pkg/fdwerr"
)

// Message handler names accepted by the msg_handler option.
const (
	HandlerNotice    = "notice"
	HandlerBlackhole = "blackhole"
)

// Message is an informational message sent by the remote server, such as
// the output of PRINT or a database context change.
type Message struct {
	Number    int
	Severity  int
	State     int
	Server    string
	Procedure string
	Line      int
	Text      string
}

// MessageHandler receives remote server messages.
type MessageHandler interface {
	HandleMessage(m Message)
}

// MessageHandlerFunc adapts a function to a MessageHandler.
type MessageHandlerFunc func(m Message)

// HandleMessage calls f(m).
func (f MessageHandlerFunc) HandleMessage(m Message) { f(m) }

// Blackhole drops every server message.
var Blackhole MessageHandler = MessageHandlerFunc(func(Message) {})

// NoticeHandler forwards server messages to a sink at notice level.
type NoticeHandler struct {
	sink Sink
}

// NewNoticeHandler creates a handler that reports to sink.
func NewNoticeHandler(sink Sink) *NoticeHandler {
	return &NoticeHandler{sink: sink}
}

// HandleMessage reports m as a notice.
func (h *NoticeHandler) HandleMessage(m Message) {
	text := m.Text
	if m.Number != 0 {
		text = fmt.Sprintf("msgno %d, level %d, state %d: %s", m.Number, m.Severity, m.State, m.Text)
	}
	if m.Server != "" {
		text = fmt.Sprintf("server %s: %s", m.Server, text)
	}
	h.sink.Report(Diagnostic{Level: LevelNotice, Kind: KindServerMessage, Message: text})
}

// HandlerForName returns the handler selected by the msg_handler option.
func HandlerForName(name string, sink Sink) (MessageHandler, error) {
	switch name {
	case HandlerNotice:
		return NewNoticeHandler(sink), nil
	case HandlerBlackhole, "":
		return Blackhole, nil
	default:
		return nil, fdwerr.NewConfigError("invalid msg_handler %q", name).
			WithHint("Valid choices are: %s, %s", HandlerNotice, HandlerBlackhole)
	}
}
