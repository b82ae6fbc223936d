package writer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "mdfeed/config"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/models"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter drains the publish channel into a Kafka topic. Messages are
// keyed by snapshot so one key always lands on one partition in commit
// order.
type KafkaWriter struct {
	config      appconfig.KafkaConfig
	publishChan <-chan models.PublishMessage
	writer      messageWriter
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errorsCount     atomic.Int64
}

func NewKafkaWriter(cfg appconfig.KafkaConfig, publishChan <-chan models.PublishMessage) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	kw := newKafkaWriter(cfg, publishChan, w)
	kw.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg appconfig.KafkaConfig, publishChan <-chan models.PublishMessage, w messageWriter) *KafkaWriter {
	return &KafkaWriter{
		config:      cfg,
		publishChan: publishChan,
		writer:      w,
		wg:          &sync.WaitGroup{},
		log:         logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_publisher").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	go kw.metricsReporter(ctx)
	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	for {
		select {
		case <-kw.ctx.Done():
			return
		case msg, ok := <-kw.publishChan:
			if !ok {
				return
			}
			kw.write(msg)
		}
	}
}

func (kw *KafkaWriter) write(msg models.PublishMessage) {
	log := kw.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"message_id": msg.ID,
		"key":        msg.Key,
	})
	km := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(msg.ID)},
			{Key: "kind", Value: []byte(msg.Kind.String())},
		},
	}
	if err := kw.writer.WriteMessages(kw.ctx, km); err != nil {
		kw.errorsCount.Add(1)
		log.WithError(err).Warn("failed to write message")
		return
	}
	kw.messagesWritten.Add(1)
	kw.bytesWritten.Add(int64(len(msg.Value)))
	logger.IncrementPublished(len(msg.Value))
	log.Debug("transaction written to kafka")
}

func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_publisher").Debug("stopping kafka writer")
	kw.wg.Wait()
	if err := kw.writer.Close(); err != nil {
		kw.log.WithComponent("kafka_publisher").WithError(err).Warn("failed to close kafka writer")
	}
	kw.log.WithComponent("kafka_publisher").Debug("kafka writer stopped")
}

func (kw *KafkaWriter) Stats() metrics.PublisherStats {
	return metrics.PublisherStats{
		MessagesWritten: kw.messagesWritten.Load(),
		BytesWritten:    kw.bytesWritten.Load(),
		ErrorsCount:     kw.errorsCount.Load(),
		ChannelLen:      len(kw.publishChan),
		ChannelCap:      cap(kw.publishChan),
	}
}

func (kw *KafkaWriter) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportPublisher(kw.log, "kafka_publisher", kw.Stats())
		}
	}
}
