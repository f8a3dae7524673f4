//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_RequestReplyRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
	bus := client.HostBus()

	// Stand-in driver host: echo each request to this poller's reply topic.
	const host = "int-host:13507"
	reply := Topics{}.PollerReply(client.ClientID())
	if err := client.Subscribe(Topics{}.HostRequest(host), 1, func(_ string, payload []byte) error {
		return client.Publish(reply, payload, 1, false)
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	received := make(chan string, 1)
	if err := bus.ServeReplies(client.ClientID(), func(payload []byte) error {
		received <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("ServeReplies() error = %v", err)
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}

	if err := bus.Request(host, []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `{"id":"x"}` {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reply not received")
	}

	if err := bus.StopReplies(client.ClientID()); err != nil {
		t.Errorf("StopReplies() error = %v", err)
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); err == nil {
		t.Fatal("Connect() should fail for a refused connection")
	}
}
