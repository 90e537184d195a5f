package ircclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_MsgRecordsSentMessages(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Msg(context.Background(), "#general", "hello"))
	require.NoError(t, f.Msg(context.Background(), "#general", "world"))

	sent := f.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "hello", sent[0].Text)
	assert.Equal(t, "world", sent[1].Text)
}

func TestFake_SetTopicRecordsLatestPerChannel(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.SetTopic(context.Background(), "#general", "first"))
	require.NoError(t, f.SetTopic(context.Background(), "#general", "second"))

	assert.Equal(t, "second", f.Topic("#general"))
}

func TestFake_DeliverInvokesAllHandlers(t *testing.T) {
	f := NewFake()

	var got []Message
	f.OnMessage(func(m Message) { got = append(got, m) })
	f.OnMessage(func(m Message) { got = append(got, m) })

	f.Deliver(Message{Nick: "alice", Target: "#general", Text: "hi"})

	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Nick)
}

func TestFake_DeliverJoinInvokesAllHandlers(t *testing.T) {
	f := NewFake()

	var got []string
	f.OnJoin(func(channel string) { got = append(got, channel) })

	f.DeliverJoin("#general")

	require.Equal(t, []string{"#general"}, got)
}

func TestFake_DeliverLoggedInInvokesHandlers(t *testing.T) {
	f := NewFake()

	var got string
	f.OnLoggedIn(func(identity string) { got = identity })

	f.DeliverLoggedIn("bot!ident@cloaked.host")
	assert.Equal(t, "bot!ident@cloaked.host", got)
}

func TestFake_DeliverModeChangeInvokesHandlers(t *testing.T) {
	f := NewFake()

	var got string
	f.OnModeChange(func(mode string) { got = mode })

	f.DeliverModeChange("+x")
	assert.Equal(t, "+x", got)
}

func TestFake_DeliverNickChangeInvokesHandlers(t *testing.T) {
	f := NewFake()

	var got string
	f.OnNickChange(func(newNick string) { got = newNick })

	f.DeliverNickChange("bot2")
	assert.Equal(t, "bot2", got)
}

func TestFake_DeliverNickErrorInvokesHandlers(t *testing.T) {
	f := NewFake()

	var got string
	f.OnNickError(func(reason string) { got = reason })

	f.DeliverNickError("nick in use")
	assert.Equal(t, "nick in use", got)
}

func TestFake_NickRecordsRequests(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Nick(context.Background(), "bot"))
	require.NoError(t, f.Nick(context.Background(), "bot_"))

	assert.Equal(t, []string{"bot", "bot_"}, f.NickRequests())
}

func TestFake_SetMsgErrorMakesMsgFail(t *testing.T) {
	f := NewFake()
	f.SetMsgError(assert.AnError)

	err := f.Msg(context.Background(), "#general", "hi")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, f.Sent())
}

func TestFake_QuitDisconnects(t *testing.T) {
	f := NewFake()
	require.True(t, f.Connected())

	require.NoError(t, f.Quit(context.Background(), "bye"))
	assert.False(t, f.Connected())
}
