package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solmev/internal/bundle"
	"github.com/ajitpratap0/solmev/internal/dispatcher"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host: "127.0.0.1",
		Port: -1,
	}

	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	return ns
}

func TestPublisher_PublishesOutcomeEvent(t *testing.T) {
	ns := startTestNATSServer(t)
	defer ns.Shutdown()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgCh := make(chan *nats.Msg, 1)
	_, err = sub.Subscribe("mevpipe.outcomes", func(m *nats.Msg) { msgCh <- m })
	require.NoError(t, err)

	pub, err := New(Config{URL: ns.ClientURL()}, zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(dispatcher.Outcome{
		OpportunityID: "opp-1",
		Kind:          dispatcher.OutcomeSubmitted,
		Submission: bundle.Outcome{
			BundleID: "bundle-1",
			Status:   bundle.StatusConfirmed,
			Slot:     42,
		},
	})

	select {
	case m := <-msgCh:
		var evt outcomeEvent
		require.NoError(t, json.Unmarshal(m.Data, &evt))
		assert.Equal(t, "opp-1", evt.OpportunityID)
		assert.Equal(t, "bundle-1", evt.BundleID)
		assert.EqualValues(t, 42, evt.Slot)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published outcome event")
	}
}

func TestPublisher_CustomSubject(t *testing.T) {
	ns := startTestNATSServer(t)
	defer ns.Shutdown()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgCh := make(chan *nats.Msg, 1)
	_, err = sub.Subscribe("custom.subject", func(m *nats.Msg) { msgCh <- m })
	require.NoError(t, err)

	pub, err := New(Config{URL: ns.ClientURL(), Subject: "custom.subject"}, zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	pub.Publish(dispatcher.Outcome{OpportunityID: "opp-2", Kind: dispatcher.OutcomeSkipped})

	select {
	case <-msgCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published outcome event on custom subject")
	}
}
