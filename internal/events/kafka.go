package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
)

// KafkaPublisher sends events through a synchronous sarama producer keyed by aggregate id.
type KafkaPublisher struct {
	Producer sarama.SyncProducer
	// Topics maps event topics to Kafka topics; unmapped events use the event topic verbatim.
	Topics map[string]string
}

// NewKafkaProducer builds a SyncProducer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	config := sarama.NewConfig()
	config.ClientID = clientID
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_8_0_0
	return sarama.NewSyncProducer(brokers, config)
}

// Name implements Publisher.
func (KafkaPublisher) Name() string { return "kafka" }

// Publish implements Publisher.
func (p KafkaPublisher) Publish(_ context.Context, ev Event) error {
	if p.Producer == nil {
		return errors.New("kafka producer not configured")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := ev.Topic
	if mapped, ok := p.Topics[ev.Topic]; ok && mapped != "" {
		topic = mapped
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.AggregateID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-id"), Value: []byte(ev.ID)},
			{Key: []byte("event-topic"), Value: []byte(ev.Topic)},
		},
	}
	_, _, err = p.Producer.SendMessage(msg)
	return err
}
