package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/quantapay/walletd/wallet"
)

// Kafka consumes transfer requests from a Kafka topic and publishes
// completion events.
type Kafka struct {
	producer       sarama.SyncProducer
	consumer       sarama.Consumer
	requestTopic   string
	completedTopic string
	handler        Handler
	dedup          *Dedup
	logger         *slog.Logger
}

// KafkaOption configures a Kafka transport.
type KafkaOption func(*Kafka)

// WithKafkaTopics overrides the request and completion topics.
func WithKafkaTopics(request, completed string) KafkaOption {
	return func(k *Kafka) {
		k.requestTopic = request
		k.completedTopic = completed
	}
}

// WithKafkaDedup enables the duplicate-delivery guard.
func WithKafkaDedup(d *Dedup) KafkaOption {
	return func(k *Kafka) { k.dedup = d }
}

// WithKafkaLogger sets the logger.
func WithKafkaLogger(l *slog.Logger) KafkaOption {
	return func(k *Kafka) { k.logger = l }
}

// NewKafka creates a Kafka transport connecting to the given brokers. The
// producer waits for all replicas and retries failed sends.
func NewKafka(brokers []string, handler Handler, opts ...KafkaOption) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	k := &Kafka{
		producer:       producer,
		consumer:       consumer,
		requestTopic:   DefaultRequestTopic,
		completedTopic: DefaultCompletedTopic,
		handler:        handler,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Run consumes the request topic until ctx is cancelled.
func (k *Kafka) Run(ctx context.Context) error {
	partitions, err := k.consumer.Partitions(k.requestTopic)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, p := range partitions {
		pc, err := k.consumer.ConsumePartition(k.requestTopic, p, sarama.OffsetNewest)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			defer pc.Close()
			for {
				select {
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					k.handleMessage(ctx, msg.Value)
				case <-ctx.Done():
					return
				}
			}
		}(pc)
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (k *Kafka) handleMessage(ctx context.Context, payload []byte) {
	req, res, ok := dispatch(ctx, payload, k.handler, k.dedup, k.logger)
	if !ok {
		return
	}
	if err := k.publishCompleted(req, res); err != nil {
		k.logger.Error("publish completion event", "transfer_id", req.TransferID, "err", err)
	}
}

func (k *Kafka) publishCompleted(req wallet.TransferRequest, res wallet.Result) error {
	data, err := json.Marshal(wallet.Completed(req, res))
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: k.completedTopic,
		Key:   sarama.StringEncoder(req.FromUser),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = k.producer.SendMessage(msg)
	return err
}

// Close releases the Kafka connections.
func (k *Kafka) Close() error {
	_ = k.producer.Close()
	return k.consumer.Close()
}
