package kafka

import (
	"encoding/json"
	"time"

	"ChatRelay/service/storage"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// Feed publishes durably-committed message events to Kafka for downstream
// consumers (notification fan-out, search indexing). Partitioning by
// conversation id keeps per-conversation order on the topic.
type Feed struct {
	producer sarama.SyncProducer
	topic    string
}

type Config struct {
	Brokers []string
	Topic   string
}

func buildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key controls the partition
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewFeed(c Config) (*Feed, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	if c.Topic == "" {
		c.Topic = "chat-message-feed"
	}
	p, err := sarama.NewSyncProducer(c.Brokers, buildBaseConfig())
	if err != nil {
		return nil, errors.Wrap(err, "new sync producer")
	}
	return &Feed{producer: p, topic: c.Topic}, nil
}

// PublishMessage emits one committed message onto the feed topic.
func (f *Feed) PublishMessage(msg *storage.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	_, _, err = f.producer.SendMessage(&sarama.ProducerMessage{
		Topic: f.topic,
		Key:   sarama.StringEncoder(msg.ConversationID),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	return nil
}

func (f *Feed) Close() error { return f.producer.Close() }
