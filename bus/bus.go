// Package bus publishes and subscribes to rendition manifest snapshots and
// lifecycle events over NATS JetStream, using the message-ID header for
// at-least-once delivery with native dedupe - the teacher already carries
// nats.go as an indirect dependency; this promotes it to the module's
// message bus since JetStream's dedupe window matches the spec's
// (connection_id, rendition, segment_idx, part_idx) dedupe key directly,
// with no additional bookkeeping needed on our side.
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// ManifestSubject is the JetStream subject manifest snapshots publish to,
// namespaced by connection and rendition so subscribers can wildcard-match
// either a whole connection or one rendition within it.
func ManifestSubject(connectionID, rendition string) string {
	return fmt.Sprintf("manifests.%s.%s", connectionID, rendition)
}

// DedupeKey builds the JetStream message-ID used to dedupe manifest
// publishes, per spec.md's (connection_id, rendition, segment_idx,
// part_idx) tuple.
func DedupeKey(connectionID, rendition string, segmentIdx, partIdx uint32) string {
	return fmt.Sprintf("%s/%s/%d/%d", connectionID, rendition, segmentIdx, partIdx)
}

// Bus wraps a JetStream context bound to one NATS connection.
type Bus struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials url and opens a JetStream context. streamName is created
// (or reused, if it already exists) to hold manifest publishes with a
// dedupe window of dedupeWindow.
func Connect(url, streamName string, dedupeWindow time.Duration) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("catalyst-manifest-bus"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       streamName,
		Subjects:   []string{"manifests.>", "events.>"},
		Duplicates: dedupeWindow,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		nc.Close()
		return nil, fmt.Errorf("bus: create stream %q: %w", streamName, err)
	}

	return &Bus{nc: nc, js: js}, nil
}

// Close closes the underlying NATS connection without draining it.
func (b *Bus) Close() {
	b.nc.Close()
}

// PublishManifest publishes a manifest snapshot's encoded bytes, deduped by
// dedupeKey within the stream's configured window.
func (b *Bus) PublishManifest(connectionID, rendition string, dedupeKey string, payload []byte) error {
	_, err := b.js.Publish(ManifestSubject(connectionID, rendition), payload, nats.MsgId(dedupeKey))
	if err != nil {
		return fmt.Errorf("bus: publish manifest: %w", err)
	}
	return nil
}

// ManifestHandler receives one manifest snapshot's raw payload.
type ManifestHandler func(payload []byte) error

// SubscribeManifests subscribes durably (so a restarted edge process resumes
// from where it left off) to every manifest published for connectionID,
// across all renditions.
func (b *Bus) SubscribeManifests(connectionID, durableName string, h ManifestHandler) (*nats.Subscription, error) {
	subject := fmt.Sprintf("manifests.%s.*", connectionID)
	sub, err := b.js.Subscribe(subject, func(msg *nats.Msg) {
		if err := h(msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.Durable(durableName), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe manifests: %w", err)
	}
	return sub, nil
}

// EventSubject is the subject lifecycle events (stream started/ended,
// discontinuity) publish to.
func EventSubject(connectionID string) string {
	return fmt.Sprintf("events.%s", connectionID)
}

// PublishEvent publishes a lifecycle event payload for connectionID.
func (b *Bus) PublishEvent(connectionID string, payload []byte) error {
	_, err := b.js.Publish(EventSubject(connectionID), payload)
	if err != nil {
		return fmt.Errorf("bus: publish event: %w", err)
	}
	return nil
}
