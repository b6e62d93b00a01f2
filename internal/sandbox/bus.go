package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// subscriberBuffer is the per-subscriber channel capacity. Messages beyond it
// are dropped for that subscriber, as with Redis pub/sub.
const subscriberBuffer = 256

// Bus is an in-process domain.SignalBus. Channel names ending in '*' match
// by prefix. Stream entry IDs are "<seq>-0".
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every matching subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, chans := range b.subs {
		if !channelMatches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of messages published on channel. It is closed
// when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend adds payload to stream.
func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq, 10) + "-0",
		Payload: payload,
	})
	return nil
}

// StreamRead returns up to count entries after lastID. An empty lastID or
// "0" reads from the start.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		seq, _ := streamSeq(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (uint64, error) {
	if id == "" || id == "0" {
		return 0, nil
	}
	head, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sandbox: stream id %q: %w", id, err)
	}
	return seq, nil
}

func channelMatches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

var _ domain.SignalBus = (*Bus)(nil)
