package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

func TestDialer_StartSubscribes(t *testing.T) {
	_, _, broker := newTestDialer(t)

	if !broker.subscribed("graylogic/poller/poller-test/reply") {
		t.Error("reply topic not subscribed")
	}
	if !broker.subscribed("graylogic/driverhost/+/status") {
		t.Error("host status topic not subscribed")
	}
}

func TestDialer_StartRejectsBadClientID(t *testing.T) {
	d := NewDialer(mqtt.NewHostBus(newFakeBroker(), 1), "poller/1")
	if err := d.Start(); !errors.Is(err, ErrInvalidHost) {
		t.Errorf("Start() error = %v, want ErrInvalidHost", err)
	}
}

func TestDialer_DialBeforeStart(t *testing.T) {
	d := NewDialer(mqtt.NewHostBus(newFakeBroker(), 1), "poller-test")
	if _, err := d.Dial(context.Background(), testHost, "secret"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Dial() error = %v, want ErrNotStarted", err)
	}
}

func TestDialer_DialInvalidHost(t *testing.T) {
	d, _, _ := newTestDialer(t)
	for _, host := range []string{"", "a/b", "host+"} {
		if _, err := d.Dial(context.Background(), host, "secret"); !errors.Is(err, ErrInvalidHost) {
			t.Errorf("Dial(%q) error = %v, want ErrInvalidHost", host, err)
		}
	}
}

func TestDialer_AccessDenied(t *testing.T) {
	d, _, _ := newTestDialer(t)

	_, err := d.Dial(context.Background(), testHost, "wrong")
	if !errors.Is(err, pollengine.ErrAccessDenied) {
		t.Fatalf("Dial() error = %v, want ErrAccessDenied", err)
	}
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Code != CodeAccessDenied {
		t.Errorf("Dial() error = %v, want a RemoteError with code %q", err, CodeAccessDenied)
	}
}

func TestConn_RoundTrips(t *testing.T) {
	d, host, _ := newTestDialer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := d.Dial(ctx, testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	drivers, err := c.ListDrivers(ctx)
	if err != nil {
		t.Fatalf("ListDrivers() error = %v", err)
	}
	if drivers.ListID != 1 || len(drivers.Drivers) != 1 || drivers.Drivers[0].Moniker != "Kitchen" {
		t.Errorf("ListDrivers() = %+v", drivers)
	}

	fields, err := c.ListFields(ctx, 7)
	if err != nil {
		t.Fatalf("ListFields() error = %v", err)
	}
	if len(fields.Fields) != 2 || fields.Fields[1].Access != pollengine.AccessReadWrite {
		t.Errorf("ListFields() = %+v", fields)
	}

	if _, err := c.ListFields(ctx, 99); !errors.Is(err, pollengine.ErrNotFound) {
		t.Errorf("ListFields(99) error = %v, want ErrNotFound", err)
	}

	reply, err := c.Poll(ctx, []pollengine.PollItem{
		{DriverID: 7, FieldListID: 1, FieldID: defTemperature.ID},
		{DriverID: 7, FieldListID: 1, FieldID: 42},
	})
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(reply.Results) != 2 {
		t.Fatalf("Poll() results = %d, want 2", len(reply.Results))
	}
	if got := reply.Results[0]; got.Status != pollengine.PollOK || !got.Value.Equal(pollengine.FloatValue(21.5)) {
		t.Errorf("Poll() result[0] = %+v", got)
	}
	if reply.Results[1].Status != pollengine.PollFieldError {
		t.Errorf("Poll() result[1].Status = %v, want field_error", reply.Results[1].Status)
	}

	state, err := c.DriverState(ctx, "Kitchen")
	if err != nil || state != pollengine.DriverStateOnline {
		t.Errorf("DriverState() = %v, %v", state, err)
	}

	if err := c.WriteField(ctx, "Kitchen", "Setpoint", "70", "secret"); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	if err := c.WriteField(ctx, "Kitchen", "Setpoint", "70", "guest"); !errors.Is(err, pollengine.ErrAccessDenied) {
		t.Errorf("WriteField(guest) error = %v, want ErrAccessDenied", err)
	}
	writes := host.getWrites()
	if len(writes) != 1 || writes[0].Value != "70" || writes[0].Field != "Setpoint" {
		t.Errorf("host writes = %+v", writes)
	}
}

func TestConn_Timeout(t *testing.T) {
	d, host, _ := newTestDialer(t)
	c, err := d.Dial(context.Background(), testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	host.setSilent(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.ListDrivers(ctx); !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ListDrivers() error = %v, want ErrTimeout wrapping DeadlineExceeded", err)
	}

	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending calls after timeout = %d, want 0", pending)
	}
}

func TestConn_SessionLost(t *testing.T) {
	d, host, _ := newTestDialer(t)
	c, err := d.Dial(context.Background(), testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	host.dropSessions()

	if _, err := c.ListDrivers(context.Background()); !errors.Is(err, ErrSessionLost) {
		t.Errorf("ListDrivers() error = %v, want ErrSessionLost", err)
	}
}

func TestConn_HostStatusOffline(t *testing.T) {
	d, _, broker := newTestDialer(t)
	c, err := d.Dial(context.Background(), testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := d.handleHostStatus(testHost, mqtt.StatusMessage{Status: "online"}); err != nil {
		t.Fatalf("handleHostStatus(online) error = %v", err)
	}
	if _, err := c.ListDrivers(context.Background()); err != nil {
		t.Fatalf("ListDrivers() after online status error = %v", err)
	}

	offline, _ := json.Marshal(mqtt.StatusMessage{Status: "offline", Reason: "unexpected_disconnect"})
	if err := broker.Publish(mqtt.Topics{}.HostStatus(testHost), offline, 1, true); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	waitFor(t, time.Second, "session to break", func() bool {
		_, err := c.ListDrivers(context.Background())
		return errors.Is(err, ErrHostGone)
	})

	// A gone session closes without a bye.
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestConn_Close(t *testing.T) {
	d, host, broker := newTestDialer(t)
	c, err := d.Dial(context.Background(), testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := c.ListDrivers(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ListDrivers() after Close error = %v, want ErrClosed", err)
	}

	waitFor(t, time.Second, "bye", func() bool {
		seen := host.seen()
		return len(seen) > 0 && seen[len(seen)-1] == MethodBye
	})
	if n := broker.publishedTo(mqtt.Topics{}.HostRequest(testHost)); n != 2 {
		t.Errorf("requests published = %d, want hello and bye", n)
	}

	d.mu.Lock()
	tracked := len(d.conns)
	d.mu.Unlock()
	if tracked != 0 {
		t.Errorf("tracked hosts after Close = %d, want 0", tracked)
	}
}

func TestDialer_StopFailsPendingCalls(t *testing.T) {
	d, host, _ := newTestDialer(t)
	c, err := d.Dial(context.Background(), testHost, "secret")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	host.setSilent(true)

	errc := make(chan error, 1)
	go func() {
		_, err := c.ListDrivers(context.Background())
		errc <- err
	}()

	waitFor(t, time.Second, "call to be pending", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.pending) == 1
	})
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("pending call error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not released by Stop")
	}
}

func TestDialer_PublishFailure(t *testing.T) {
	d, _, broker := newTestDialer(t)
	broker.mu.Lock()
	broker.failPub = mqtt.ErrNotConnected
	broker.mu.Unlock()

	if _, err := d.Dial(context.Background(), testHost, "secret"); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Dial() error = %v, want ErrNotConnected", err)
	}
}

func TestDialer_HandleReply(t *testing.T) {
	d, _, _ := newTestDialer(t)

	if err := d.handleReply([]byte(`{"id":"nobody-waits"}`)); err != nil {
		t.Errorf("handleReply(unknown id) error = %v", err)
	}
	if err := d.handleReply([]byte(`not json`)); !errors.Is(err, ErrBadReply) {
		t.Errorf("handleReply(garbage) error = %v, want ErrBadReply", err)
	}
}

func TestRemoteError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{CodeAccessDenied, pollengine.ErrAccessDenied},
		{CodeNotFound, pollengine.ErrNotFound},
		{CodeNoSession, ErrSessionLost},
		{CodeInternal, ErrRemote},
		{"something_new", ErrRemote},
	}
	for _, tt := range tests {
		err := &RemoteError{Code: tt.code, Message: "detail"}
		if !errors.Is(err, tt.want) {
			t.Errorf("RemoteError{%s} does not match %v", tt.code, tt.want)
		}
	}
	if got := (&RemoteError{Code: CodeInternal}).Error(); got != "remote: internal" {
		t.Errorf("Error() = %q", got)
	}
}
