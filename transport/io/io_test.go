package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/decodeflow/internal/runtime/config"
	"github.com/drblury/decodeflow/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = original })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	d := transport.DeliveryOf(TransportName)
	assert.True(t, d.Ordered)
	assert.False(t, d.Redelivers)
}

func TestBuild(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.jsonl")

	tr, err := Build(context.Background(), &config.Config{IOFile: file}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, file, tr.Publisher.(*Publisher).filePath)
	assert.Equal(t, file, tr.Subscriber.(*Subscriber).filePath)
}

func TestBuildUsesFactories(t *testing.T) {
	pubF, subF := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = pubF
		SubscriberFactory = subF
	})

	var gotPath string
	PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
		gotPath = filePath
		return NewPublisher(filePath, logger), nil
	}

	_, err := Build(context.Background(), &config.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilePath, gotPath)
}

func TestPublishWritesJSONLines(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.jsonl")
	pub := NewPublisher(file, watermill.NopLogger{})

	msg := message.NewMessage("m1", []byte("payload"))
	msg.Metadata.Set("correlation_id", "c1")
	require.NoError(t, pub.Publish("envelopes", msg, message.NewMessage("m2", []byte("other"))))

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := splitLines(content)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"uuid":"m1"`)
	assert.Contains(t, lines[0], `"topic":"envelopes"`)
	assert.Contains(t, lines[0], `"correlation_id":"c1"`)
	assert.Contains(t, lines[1], `"uuid":"m2"`)
}

func TestSubscribeReplaysTopic(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.jsonl")
	pub := NewPublisher(file, watermill.NopLogger{})
	require.NoError(t, pub.Publish("other", message.NewMessage("skip", []byte("x"))))
	require.NoError(t, pub.Publish("envelopes", message.NewMessage("m1", []byte("first"))))

	sub := NewSubscriber(file, watermill.NopLogger{})
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := sub.Subscribe(ctx, "envelopes")
	require.NoError(t, err)

	received := <-msgs
	require.NotNil(t, received)
	assert.Equal(t, "m1", received.UUID)
	assert.Equal(t, []byte("first"), []byte(received.Payload))
	received.Ack()

	// lines appended after the subscription started are followed
	require.NoError(t, pub.Publish("envelopes", message.NewMessage("m2", []byte("second"))))
	select {
	case received = <-msgs:
		assert.Equal(t, "m2", received.UUID)
		received.Ack()
	case <-ctx.Done():
		t.Fatal("appended message was not delivered")
	}
}

func TestSubscribeStopsOnClose(t *testing.T) {
	file := filepath.Join(t.TempDir(), "journal.jsonl")
	sub := NewSubscriber(file, watermill.NopLogger{})

	msgs, err := sub.Subscribe(context.Background(), "envelopes")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop")
	}
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	return lines
}
