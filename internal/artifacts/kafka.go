package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"wafshield/internal/config"
)

const maxArtifactBytes = 64 << 20

// kafkaSource reads a compacted topic keyed by artifact name. The whole
// partition is read once and the latest value per key wins.
type kafkaSource struct {
	brokers []string
	topic   string
	timeout time.Duration

	once   sync.Once
	values map[string][]byte
	err    error
}

func NewKafka(cfg config.KafkaConfig) Source {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &kafkaSource{brokers: cfg.Brokers, topic: cfg.Topic, timeout: timeout}
}

func (k *kafkaSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	k.once.Do(func() {
		k.values, k.err = k.readTopic(ctx)
	})
	if k.err != nil {
		return nil, k.err
	}
	v, ok := k.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in topic %s", ErrNotFound, name, k.topic)
	}
	return v, nil
}

func (k *kafkaSource) readTopic(ctx context.Context) (map[string][]byte, error) {
	if len(k.brokers) == 0 || k.topic == "" {
		return nil, errors.New("kafka source requires brokers and topic")
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	var conn *kafka.Conn
	var err error
	for _, broker := range k.brokers {
		conn, err = kafka.DialLeader(ctx, "tcp", broker, k.topic, 0)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial kafka leader: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	first, last, err := conn.ReadOffsets()
	if err != nil {
		return nil, fmt.Errorf("read offsets: %w", err)
	}
	if last <= first {
		return map[string][]byte{}, nil
	}
	if _, err := conn.Seek(first, kafka.SeekAbsolute); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}
	msgs := make([]kafka.Message, 0, last-first)
	for offset := first; offset < last; {
		m, err := conn.ReadMessage(maxArtifactBytes)
		if err != nil {
			return nil, fmt.Errorf("read message at offset %d: %w", offset, err)
		}
		msgs = append(msgs, m)
		offset = m.Offset + 1
	}
	return latestByKey(msgs), nil
}

// latestByKey applies compaction semantics: later values replace earlier
// ones and an empty value deletes the key.
func latestByKey(msgs []kafka.Message) map[string][]byte {
	out := make(map[string][]byte)
	for _, m := range msgs {
		key := string(m.Key)
		if key == "" {
			continue
		}
		if len(m.Value) == 0 {
			delete(out, key)
			continue
		}
		out[key] = m.Value
	}
	return out
}

func (k *kafkaSource) Close() error {
	return nil
}
