package mqtt

import "fmt"

// Subscribe registers handler for topic, which may use + and # wildcards.
//
// The subscription is remembered and replayed by handleConnect after paho
// reconnects, so the poller's reply inbox and host status watch survive a
// broker restart. Subscribing again to the same topic replaces the handler.
//
// Driver host topics are normally subscribed through HostBus, which takes
// the host out of the topic before calling the handler:
//
//	bus := client.HostBus()
//	err := bus.ServeReplies("graylogic-poller", func(payload []byte) error {
//	    return route(payload)
//	})
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe removes a subscription. Replies already in flight may still
// be delivered; the dialer drops those it no longer waits for.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}
