package rtstore

import (
	"context"
	"strings"

	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"go.uber.org/zap"
)

// UpdateFunc receives one change notification. path is relative to the
// store root; data is the new document, or nil when it was deleted.
type UpdateFunc func(path string, data []byte)

// Subscription is a live watch over a path or subtree. Close stops it.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe watches the single document at path.
func (c *Client) Subscribe(ctx context.Context, path string, fn UpdateFunc) (*Subscription, error) {
	return c.subscribe(ctx, channel(path), false, fn)
}

// SubscribeTree watches every document under prefix, the prefix itself
// included. Handlers run on the subscription goroutine, in order.
func (c *Client) SubscribeTree(ctx context.Context, prefix string, fn UpdateFunc) (*Subscription, error) {
	return c.subscribe(ctx, channel(prefix)+"*", true, fn)
}

func (c *Client) subscribe(ctx context.Context, target string, pattern bool, fn UpdateFunc) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	var ps = c.rdb.Subscribe(ctx)
	var err error
	if pattern {
		err = ps.PSubscribe(ctx, target)
	} else {
		err = ps.Subscribe(ctx, target)
	}
	if err != nil {
		cancel()
		_ = ps.Close()
		return nil, err
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				path := strings.TrimPrefix(msg.Channel, chanPrefix)
				var data []byte
				if msg.Payload != "" {
					data = []byte(msg.Payload)
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							obslog.L().Error("subscription_handler_panic",
								zap.String("path", path),
								zap.Any("panic", rec),
							)
						}
					}()
					fn(path, data)
				}()
			}
		}
	}()
	return sub, nil
}
