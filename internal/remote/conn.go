package remote

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// conn is one session on a driver host. Every call is an independent
// request/reply round trip, so a conn is safe for concurrent use.
type conn struct {
	dialer  *Dialer
	host    string
	session string

	closed atomic.Bool
	gone   atomic.Bool
}

var _ pollengine.Conn = (*conn)(nil)

func (c *conn) do(ctx context.Context, method string, params, result any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.gone.Load() {
		return fmt.Errorf("%w: %s", ErrHostGone, c.host)
	}
	return c.dialer.call(ctx, c.host, method, c.session, params, result)
}

func (c *conn) ListDrivers(ctx context.Context) (pollengine.DriverList, error) {
	var list pollengine.DriverList
	if err := c.do(ctx, MethodListDrivers, nil, &list); err != nil {
		return pollengine.DriverList{}, err
	}
	return list, nil
}

func (c *conn) ListFields(ctx context.Context, driverID uint32) (pollengine.FieldList, error) {
	var list pollengine.FieldList
	if err := c.do(ctx, MethodListFields, ListFieldsParams{DriverID: driverID}, &list); err != nil {
		return pollengine.FieldList{}, err
	}
	return list, nil
}

func (c *conn) Poll(ctx context.Context, items []pollengine.PollItem) (pollengine.PollReply, error) {
	var reply pollengine.PollReply
	if err := c.do(ctx, MethodPoll, PollParams{Items: items}, &reply); err != nil {
		return pollengine.PollReply{}, err
	}
	return reply, nil
}

func (c *conn) WriteField(ctx context.Context, moniker, field, value, credential string) error {
	return c.do(ctx, MethodWriteField, WriteFieldParams{
		Moniker:    moniker,
		Field:      field,
		Value:      value,
		Credential: credential,
	}, nil)
}

func (c *conn) DriverState(ctx context.Context, moniker string) (pollengine.DriverState, error) {
	var res DriverStateResult
	if err := c.do(ctx, MethodDriverState, DriverStateParams{Moniker: moniker}, &res); err != nil {
		return pollengine.DriverStateUnknown, err
	}
	return res.State, nil
}

// Close ends the session. The bye is published without waiting for a reply;
// hosts also expire idle sessions on their own.
func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.dialer.release(c)
	if c.gone.Load() {
		return nil
	}
	return c.dialer.notify(c.host, MethodBye, c.session)
}
