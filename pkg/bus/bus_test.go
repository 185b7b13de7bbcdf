package bus

import (
	"encoding/json"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()

	s, err := natssrv.NewServer(&natssrv.Options{Port: -1})
	require.NoError(t, err)
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNATSPublisher_Publish(t *testing.T) {
	s := runTestNATSServer(t)

	sub, err := nats.Connect(s.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("repl.test", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(NATSConfig{URL: s.ClientURL(), Subject: "repl.test", Name: "test"})
	require.NoError(t, err)
	assert.Equal(t, "repl.test", p.Subject())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.Publish(ResultEvent{ID: "abc", Text: "5", At: at}))
	require.NoError(t, p.Close())

	select {
	case msg := <-msgs:
		assert.Equal(t, "abc", msg.Header.Get(SubmissionIDHeader))

		var got ResultEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "abc", got.ID)
		assert.Equal(t, "5", got.Text)
		assert.True(t, at.Equal(got.At))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestNATSPublisher_DefaultSubject(t *testing.T) {
	s := runTestNATSServer(t)

	p, err := NewNATSPublisher(NATSConfig{URL: s.ClientURL()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, DefaultSubject, p.Subject())
}

func TestNATSPublisher_PublishAfterClose(t *testing.T) {
	s := runTestNATSServer(t)

	p, err := NewNATSPublisher(NATSConfig{URL: s.ClientURL()})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Publish(ResultEvent{Text: "late"}), ErrPublisherClosed)
}

func TestNewNATSPublisher_ConnectFailure(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(ResultEvent{Text: "x"}))
	assert.NoError(t, p.Close())
}
