package app

import (
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestConnectEventBroker_EmptyBrokers(t *testing.T) {
	logger := log.WithField("component", "test")

	if producer := connectEventBroker("", logger); producer != nil {
		t.Fatal("empty brokers must yield a nil producer")
	}
	if producer := connectEventBroker(" , ", logger); producer != nil {
		t.Fatal("blank broker list must yield a nil producer")
	}

	// closeEventBroker с nil producer не должен паниковать.
	closeEventBroker(nil, logger)
}

// Недоступный брокер деградирует сервис до outbox-only режима, и это
// решение обязано попасть в журнал, а не пройти молча.
func TestConnectEventBroker_UnreachableBrokerLogsDegradation(t *testing.T) {
	base, hook := logtest.NewNullLogger()
	logger := base.WithField("component", "test")

	producer := connectEventBroker("127.0.0.1:1", logger)
	if producer != nil {
		t.Fatal("unreachable broker must yield a nil producer")
	}

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && strings.Contains(entry.Message, "outbox") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warn entry about degrading to outbox-only mode")
	}
}

func TestSplitBrokers(t *testing.T) {
	list := splitBrokers(" broker-1:9092, ,broker-2:9092 ")
	if len(list) != 2 || list[0] != "broker-1:9092" || list[1] != "broker-2:9092" {
		t.Fatalf("unexpected broker list: %+v", list)
	}
	if got := splitBrokers(""); got != nil {
		t.Fatalf("expected nil list for empty input, got %+v", got)
	}
}
