package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
)

const feedWriteWait = 10 * time.Second

type typingFrame struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

func (c *Client) feedURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String()
}

func (c *Client) dialFeed(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{"Authorization": {"Bearer " + c.Token()}}
	dialer := websocket.Dialer{HandshakeTimeout: c.conf.Timeout}
	conn, resp, err := dialer.DialContext(ctx, c.feedURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: realtime feed rejected token", domain.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: dial realtime feed: %v", domain.ErrBackend, err)
	}
	return conn, nil
}

// Subscribe opens the realtime feed and hands every event to fn until ctx
// is done or stop is called. A dropped connection is re-dialed with backoff,
// after which resync (if not nil) is called so the caller can reload what
// it missed. fn and resync run on the feed goroutine.
func (c *Client) Subscribe(ctx context.Context, fn func(events.Event), resync func()) (stop func(), err error) {
	conn, err := c.dialFeed(ctx)
	if err != nil {
		return nil, err
	}
	c.setFeed(conn)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c.readFeed(conn, fn)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("realtime feed dropped, reconnecting")

			b := backoff.NewExponentialBackOff()
			b.InitialInterval = c.conf.RetryInterval
			b.MaxElapsedTime = 0
			b.Reset()
			err := backoff.Retry(func() error {
				next, err := c.dialFeed(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return backoff.Permanent(ctx.Err())
					}
					if errors.Is(err, domain.ErrUnauthorized) {
						return backoff.Permanent(err)
					}
					return err
				}
				conn = next
				return nil
			}, backoff.WithContext(b, ctx))
			if err != nil {
				c.log.Warn("realtime feed closed", zap.Error(err))
				return
			}
			c.setFeed(conn)
			// stop may have run between the dial and setFeed, after the
			// closer goroutine already fired.
			if ctx.Err() != nil {
				c.closeFeed()
				return
			}
			c.log.Info("realtime feed reconnected")
			if resync != nil {
				resync()
			}
		}
	}()

	go func() {
		<-ctx.Done()
		c.closeFeed()
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Client) readFeed(conn *websocket.Conn, fn func(events.Event)) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var head struct {
			Type    events.Type     `json:"type"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			c.log.Warn("realtime feed: malformed frame", zap.Error(err))
			continue
		}
		switch head.Type {
		case events.MessageCreated, events.MessageUpdated, events.Typing:
			var e events.Event
			if err := json.Unmarshal(data, &e); err != nil {
				c.log.Warn("realtime feed: malformed event", zap.Error(err))
				continue
			}
			fn(e)
		case "error":
			var msg string
			_ = json.Unmarshal(head.Message, &msg)
			c.log.Warn("realtime feed: server error", zap.String("message", msg))
		}
	}
}

func (c *Client) setFeed(conn *websocket.Conn) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil && c.ws != conn {
		_ = c.ws.Close()
	}
	c.ws = conn
}

func (c *Client) closeFeed() {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
}

// Typing tells recipientID about the user's typing state over the realtime
// feed, which must be open.
func (c *Client) Typing(_ context.Context, recipientID string, isTyping bool) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("%w: realtime feed not connected", domain.ErrBackend)
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
	if err := c.ws.WriteJSON(typingFrame{Type: "typing", RecipientID: recipientID, IsTyping: isTyping}); err != nil {
		return fmt.Errorf("%w: send typing: %v", domain.ErrBackend, err)
	}
	return nil
}
