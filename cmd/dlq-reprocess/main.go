package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayCandidate — событие заказа, восстановленное из записи DLQ и
// готовое к повторной отправке.
type replayCandidate struct {
	topic     string
	key       string
	value     []byte
	eventType string
}

// replayStats считает исходы сканирования, в том числе по типам
// событий: перед повтором полезно видеть, что именно застряло в DLQ —
// order.created или отмены.
type replayStats struct {
	scanned  int
	replayed int
	skipped  int
	byType   map[string]int
}

func (s *replayStats) note(eventType string) {
	s.replayed++
	if eventType == "" {
		eventType = "unknown"
	}
	if s.byType == nil {
		s.byType = make(map[string]int)
	}
	s.byType[eventType]++
}

func (s *replayStats) add(other replayStats) {
	s.scanned += other.scanned
	s.replayed += other.replayed
	s.skipped += other.skipped
	for eventType, count := range other.byType {
		if s.byType == nil {
			s.byType = make(map[string]int)
		}
		s.byType[eventType] += count
	}
}

// outboxDLQPayload — запись, которую outbox worker кладёт в DLQ после
// исчерпания попыток доставки события заказа.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

type brokerOffsets interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type streamSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type replaySink interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaStreamSource struct {
	consumer sarama.Consumer
}

func (s saramaStreamSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (s saramaStreamSource) Close() error {
	if s.consumer == nil {
		return nil
	}
	return s.consumer.Close()
}

// newReplayDependencies подменяется в тестах.
var newReplayDependencies = func(cfg config) (brokerOffsets, streamSource, replaySink, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	source := saramaStreamSource{consumer: rawConsumer}

	// Продюсер нужен только для реального повтора, в dry-run не создаём.
	if !cfg.execute {
		return client, source, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = source.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, source, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, через запятую (fallback: FOODALLEY_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "topic DLQ, из которого читаем")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic, куда повторяем события")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "максимум сообщений за прогон")
	flag.BoolVar(&cfg.execute, "execute", false, "реально повторить; по умолчанию dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "начать с хвоста partition (в пределах limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "таймаут простоя на partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("FOODALLEY_KAFKA_BROKERS")
	}

	cfg.brokers = brokerList(brokersRaw)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or FOODALLEY_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func brokerList(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, source, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if source != nil {
			_ = source.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, source, producer)
}

func runReplay(ctx context.Context, cfg config, client brokerOffsets, source streamSource, producer replaySink) error {
	if client == nil || source == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total replayStats
	for _, partition := range partitions {
		remaining := cfg.limit - total.scanned
		if remaining <= 0 {
			break
		}

		stats, err := scanPartition(ctx, cfg, client, source, producer, partition, remaining)
		if err != nil {
			return err
		}
		total.add(stats)
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	summary := log.Fields{
		"mode":     mode,
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}
	for eventType, count := range total.byType {
		summary["events."+eventType] = count
	}
	log.WithFields(summary).Info("dlq replay finished")

	return nil
}

// scanWindow определяет offset начала чтения partition и границу, за
// которой сообщений нет. end == 0 означает пустой partition.
func scanWindow(client brokerOffsets, cfg config, partition int32, limit int) (start, end int64, err error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, 0, nil
	}

	start = oldest
	if cfg.fromNewest {
		start = newest - int64(limit)
		if start < oldest {
			start = oldest
		}
	}
	return start, newest, nil
}

func scanPartition(
	ctx context.Context,
	cfg config,
	client brokerOffsets,
	source streamSource,
	producer replaySink,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, err := scanWindow(client, cfg, partition, limit)
	if err != nil || end == 0 {
		return stats, err
	}

	stream, err := source.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-stream.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if err := processRecord(cfg, producer, msg, &stats); err != nil {
				return stats, err
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// processRecord разбирает одну запись DLQ и повторяет событие либо
// логирует кандидата в dry-run режиме.
func processRecord(cfg config, producer replaySink, msg *sarama.ConsumerMessage, stats *replayStats) error {
	stats.scanned++

	candidate, ok, err := decodeDLQMessage(msg, cfg.targetTopic)
	if err != nil {
		stats.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok {
		stats.skipped++
		return nil
	}

	if !cfg.execute {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": candidate.topic,
			"key":          candidate.key,
			"event_type":   candidate.eventType,
		}).Info("dlq replay candidate")
		stats.note(candidate.eventType)
		return nil
	}

	if err := sendCandidate(producer, candidate); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	stats.note(candidate.eventType)
	return nil
}

func sendCandidate(producer replaySink, candidate replayCandidate) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     candidate.topic,
		Key:       sarama.StringEncoder(candidate.key),
		Value:     sarama.ByteEncoder(candidate.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// decodeDLQMessage распознаёт запись DLQ и собирает событие для повтора.
// Источника два: запись консьюмера с оригинальным сообщением целиком и
// конверт outbox worker'а с вложенным payload события заказа.
func decodeDLQMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayCandidate, bool, error) {
	if record, err := kafka.ParseDLQRecord(msg); err == nil && record.OriginalValue != "" {
		targetTopic := strings.TrimSpace(record.OriginalTopic)
		if targetTopic == "" {
			targetTopic = defaultTopic
		}
		return replayCandidate{
			topic:     targetTopic,
			key:       record.OriginalKey,
			value:     []byte(record.OriginalValue),
			eventType: peekEventType([]byte(record.OriginalValue)),
		}, true, nil
	}

	var envelope outboxEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayCandidate{}, false, nil
	}

	var dlqPayload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlqPayload); err != nil {
		return replayCandidate{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlqPayload.Payload) == 0 {
		return replayCandidate{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := replayEnvelope{
		ID:            coalesce(dlqPayload.OutboxID, envelope.ID),
		AggregateType: coalesce(dlqPayload.AggregateType, envelope.AggregateType),
		AggregateID:   coalesce(dlqPayload.AggregateID, envelope.AggregateID),
		EventType:     coalesce(dlqPayload.EventType, envelope.EventType),
		Payload:       dlqPayload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayCandidate{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	return replayCandidate{
		topic:     defaultTopic,
		key:       coalesce(replay.AggregateID, replay.ID),
		value:     encoded,
		eventType: replay.EventType,
	}, true, nil
}

// peekEventType достаёт event_type из конверта события, не разбирая
// остальное; для статистики достаточно и пустого значения.
func peekEventType(value []byte) string {
	var header struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(value, &header); err != nil {
		return ""
	}
	return header.EventType
}

func coalesce(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
