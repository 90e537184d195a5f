package ircclient

import (
	"context"
	"sync"
)

// Fake is an in-memory Client for tests. It records every sent message and
// topic change, and lets tests inject inbound messages via Deliver.
type Fake struct {
	mu sync.Mutex

	connected          bool
	sent               []SentMessage
	topics             map[string]string
	handlers           []MessageHandler
	joinHandlers       []JoinHandler
	loggedInHandlers   []LoggedInHandler
	modeChangeHandlers []ModeChangeHandler
	nickChangeHandlers []NickChangeHandler
	nickErrorHandlers  []NickErrorHandler
	nickRequests       []string
	quit               string
	msgErr             error
}

// SentMessage is one recorded Msg call.
type SentMessage struct {
	Target string
	Text   string
}

// NewFake builds a Fake starting in the connected state.
func NewFake() *Fake {
	return &Fake{connected: true, topics: make(map[string]string)}
}

func (f *Fake) Msg(_ context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgErr != nil {
		return f.msgErr
	}
	f.sent = append(f.sent, SentMessage{Target: target, Text: text})
	return nil
}

// SetMsgError makes every subsequent Msg call fail with err, simulating a
// send-level failure (e.g. a netsplit mid-send). Pass nil to clear it.
func (f *Fake) SetMsgError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgErr = err
}

func (f *Fake) SetTopic(_ context.Context, channel, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[channel] = topic
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) OnMessage(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
}

func (f *Fake) OnJoin(handler JoinHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinHandlers = append(f.joinHandlers, handler)
}

func (f *Fake) OnLoggedIn(handler LoggedInHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedInHandlers = append(f.loggedInHandlers, handler)
}

func (f *Fake) OnModeChange(handler ModeChangeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modeChangeHandlers = append(f.modeChangeHandlers, handler)
}

func (f *Fake) OnNickChange(handler NickChangeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nickChangeHandlers = append(f.nickChangeHandlers, handler)
}

func (f *Fake) OnNickError(handler NickErrorHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nickErrorHandlers = append(f.nickErrorHandlers, handler)
}

// Nick records the requested nick and always succeeds.
func (f *Fake) Nick(_ context.Context, want string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nickRequests = append(f.nickRequests, want)
	return nil
}

// NickRequests returns every nick passed to Nick, in call order.
func (f *Fake) NickRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.nickRequests))
	copy(out, f.nickRequests)
	return out
}

// DeliverJoin feeds channel to every registered join handler, simulating
// this connection's own nick joining it.
func (f *Fake) DeliverJoin(channel string) {
	f.mu.Lock()
	handlers := make([]JoinHandler, len(f.joinHandlers))
	copy(handlers, f.joinHandlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(channel)
	}
}

// DeliverLoggedIn feeds identity to every registered logged-in handler,
// simulating a services login confirmation for this connection.
func (f *Fake) DeliverLoggedIn(identity string) {
	f.mu.Lock()
	handlers := make([]LoggedInHandler, len(f.loggedInHandlers))
	copy(handlers, f.loggedInHandlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(identity)
	}
}

// DeliverModeChange feeds mode to every registered mode-change handler,
// simulating a mode change observed on this connection's own nick.
func (f *Fake) DeliverModeChange(mode string) {
	f.mu.Lock()
	handlers := make([]ModeChangeHandler, len(f.modeChangeHandlers))
	copy(handlers, f.modeChangeHandlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(mode)
	}
}

// DeliverNickChange feeds newNick to every registered nick-change handler,
// simulating this connection's own nick changing.
func (f *Fake) DeliverNickChange(newNick string) {
	f.mu.Lock()
	handlers := make([]NickChangeHandler, len(f.nickChangeHandlers))
	copy(handlers, f.nickChangeHandlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(newNick)
	}
}

// DeliverNickError feeds reason to every registered nick-error handler,
// simulating a nick-in-use or NickServ regain failure.
func (f *Fake) DeliverNickError(reason string) {
	f.mu.Lock()
	handlers := make([]NickErrorHandler, len(f.nickErrorHandlers))
	copy(handlers, f.nickErrorHandlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(reason)
	}
}

func (f *Fake) Quit(_ context.Context, text string) error {
	f.mu.Lock()
	f.connected = false
	f.quit = text
	f.mu.Unlock()
	return nil
}

// Deliver feeds msg to every registered handler, simulating an inbound
// PRIVMSG.
func (f *Fake) Deliver(msg Message) {
	f.mu.Lock()
	handlers := make([]MessageHandler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// Sent returns every message recorded by Msg, in send order.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// Topic returns the last topic SetTopic recorded for channel.
func (f *Fake) Topic(channel string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topics[channel]
}

// SetConnected forces the connected state, for tests exercising
// disconnect handling.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}
