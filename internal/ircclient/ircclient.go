// Package ircclient defines the narrow surface the rest of the engine
// needs from an IRC connection. The wire protocol itself — registration,
// SASL, CTCP, flood control at the socket level — is out of scope here;
// this package only names the handful of operations callers depend on, so
// they can be driven by a fake in tests without a real network connection.
package ircclient

import "context"

// Client is the subset of IRC behavior the engine drives directly.
type Client interface {
	// Msg sends a PRIVMSG to target (a channel or nick).
	Msg(ctx context.Context, target, text string) error

	// SetTopic sets a channel's topic.
	SetTopic(ctx context.Context, channel, topic string) error

	// Connected reports whether the underlying connection is currently
	// registered with the server.
	Connected() bool

	// OnMessage registers a handler invoked for every inbound PRIVMSG.
	// Multiple handlers may be registered; all are called, in
	// registration order.
	OnMessage(handler MessageHandler)

	// OnJoin registers a handler invoked whenever this connection's own
	// nick joins a channel. Join events for other users are not surfaced;
	// the engine only needs its own join to release a scope's latch.
	OnJoin(handler JoinHandler)

	// OnLoggedIn registers a handler invoked once the server confirms this
	// connection's services login (e.g. a RPL_LOGGEDIN-equivalent or a
	// NickServ identification confirmation), reporting the full identity
	// string the server now associates with this connection.
	OnLoggedIn(handler LoggedInHandler)

	// OnModeChange registers a handler invoked whenever a mode change on
	// this connection's own nick is observed, reporting the mode string
	// applied.
	OnModeChange(handler ModeChangeHandler)

	// OnNickChange registers a handler invoked whenever this connection's
	// own nick changes, reporting the new nick.
	OnNickChange(handler NickChangeHandler)

	// OnNickError registers a handler invoked when the server rejects this
	// connection's nick (nick already in use, or a NickServ ghost/regain
	// failure).
	OnNickError(handler NickErrorHandler)

	// Nick requests a nick change to want, used to re-attempt claiming the
	// configured nick after a collision or a services login under a
	// different one.
	Nick(ctx context.Context, want string) error

	// Quit closes the connection, sending text as the QUIT reason.
	Quit(ctx context.Context, text string) error
}

// Message is one inbound PRIVMSG.
type Message struct {
	Nick   string
	Ident  string
	Host   string
	Target string
	Text   string
}

// MessageHandler is called for each inbound Message.
type MessageHandler func(Message)

// JoinHandler is called with the channel name each time the connection's
// own nick joins it.
type JoinHandler func(channel string)

// LoggedInHandler is called with the full identity string (e.g.
// "nick!user@cloaked-host") once services login is confirmed.
type LoggedInHandler func(identity string)

// ModeChangeHandler is called with the new mode string whenever a mode
// change on the connection's own nick is observed.
type ModeChangeHandler func(mode string)

// NickChangeHandler is called with the new nick whenever the connection's
// own nick changes.
type NickChangeHandler func(newNick string)

// NickErrorHandler is called when the server rejects the connection's
// nick: ERR_NICKNAMEINUSE, or a NickServ ghost/regain attempt failing.
type NickErrorHandler func(reason string)
