package kafka

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
)

func TestConsumer_GetRetryCount(t *testing.T) {
	c := &Consumer{}

	message := &sarama.ConsumerMessage{
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderRetryCount), Value: []byte("2")},
		},
	}
	if count := c.getRetryCount(message); count != 2 {
		t.Fatalf("expected retry count 2, got %d", count)
	}

	if count := c.getRetryCount(&sarama.ConsumerMessage{}); count != 0 {
		t.Fatalf("expected retry count 0 without header, got %d", count)
	}

	broken := &sarama.ConsumerMessage{
		Headers: []*sarama.RecordHeader{
			{Key: []byte(HeaderRetryCount), Value: []byte("not-a-number")},
		},
	}
	if count := c.getRetryCount(broken); count != 0 {
		t.Fatalf("expected retry count 0 for broken header, got %d", count)
	}
}

func TestParseOrderEvent(t *testing.T) {
	event := NewOrderEvent(EventTypeOrderCreated, "order-1", "store-1", "user-1", "20250101-000001", "ordered")
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	parsed, err := ParseOrderEvent(&sarama.ConsumerMessage{Value: payload})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.OrderID != "order-1" || parsed.EventType != EventTypeOrderCreated {
		t.Fatalf("unexpected event %+v", parsed)
	}

	if _, err := ParseOrderEvent(&sarama.ConsumerMessage{Value: []byte("not-json")}); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestParseDLQRecord(t *testing.T) {
	payload := []byte(`{
		"original_topic": "foodalley.order.events",
		"original_partition": 1,
		"original_offset": 42,
		"original_key": "order-1",
		"original_value": "{}",
		"error_message": "handler failed",
		"retry_count": 3
	}`)

	record, err := ParseDLQRecord(&sarama.ConsumerMessage{Value: payload})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if record.OriginalTopic != TopicOrderEvents {
		t.Fatalf("unexpected original topic %s", record.OriginalTopic)
	}
	if record.OriginalOffset != 42 || record.RetryCount != 3 {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, err := ParseDLQRecord(&sarama.ConsumerMessage{Value: []byte("not-json")}); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}
