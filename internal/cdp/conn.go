// Package cdp is a minimal Chrome DevTools Protocol client for driving an
// Electron host. One Conn multiplexes the browser endpoint and every attached
// window session (flattened sessions); requests are matched to responses by
// id and everything else is delivered as an Event.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"
	"github.com/sergeknystautas/vaultdrive/internal/logging"
)

// ErrClosed is returned for requests issued on, or interrupted by, a closed Conn.
var ErrClosed = errors.New("devtools connection closed")

// ProtocolError is an error reply from the DevTools endpoint.
type ProtocolError struct {
	Method  string `json:"-"`
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Method, e.Message, e.Code)
}

// Event is an asynchronous notification. SessionID is empty for
// browser-level events.
type Event struct {
	Method    string
	SessionID target.SessionID
	Params    json.RawMessage
}

type message struct {
	ID        int64            `json:"id,omitempty"`
	SessionID target.SessionID `json:"sessionId,omitempty"`
	Method    string           `json:"method,omitempty"`
	Params    json.RawMessage  `json:"params,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *ProtocolError   `json:"error,omitempty"`
}

// Conn is a websocket connection to a DevTools browser endpoint.
type Conn struct {
	ws     *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	// Response channel registry, keyed by request id. Entries are removed by
	// Execute on return whether or not a reply arrived.
	respChans   map[int64]chan message
	respChansMu sync.Mutex

	events        chan Event
	droppedEvents atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the browser websocket at url and starts the read loop.
func Dial(ctx context.Context, url string, logger *log.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial devtools %s: %w", url, err)
	}
	c := &Conn{
		ws:        ws,
		logger:    logging.Or(logger),
		respChans: make(map[int64]chan message),
		events:    make(chan Event, 1000),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of asynchronous notifications. It is closed
// when the connection ends.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Execute sends one request and blocks until its reply arrives, ctx is done
// or the connection closes. params may be nil; result may be nil to discard
// the reply body.
func (c *Conn) Execute(ctx context.Context, sessionID target.SessionID, method string, params, result any) error {
	req := message{
		ID:        c.nextID.Add(1),
		SessionID: sessionID,
		Method:    method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	respCh := make(chan message, 1)
	c.respChansMu.Lock()
	c.respChans[req.ID] = respCh
	c.respChansMu.Unlock()
	defer func() {
		c.respChansMu.Lock()
		delete(c.respChans, req.ID)
		c.respChansMu.Unlock()
	}()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			resp.Error.Method = method
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Close closes the websocket and ends the read loop.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	<-c.done
	return c.closeErr
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.done)
		close(c.events)
	}()
	for {
		var msg message
		if err := c.ws.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("read loop ended", "err", err)
			}
			return
		}

		if msg.ID != 0 {
			c.respChansMu.Lock()
			ch, ok := c.respChans[msg.ID]
			c.respChansMu.Unlock()
			if !ok {
				c.logger.Debug("reply for abandoned request", "id", msg.ID)
				continue
			}
			ch <- msg
			continue
		}

		if msg.Method == "" {
			continue
		}
		select {
		case c.events <- Event{Method: msg.Method, SessionID: msg.SessionID, Params: msg.Params}:
		default:
			dropped := c.droppedEvents.Add(1)
			if dropped == 1 || dropped%100 == 0 {
				c.logger.Warn("dropped events (channel full)", "count", dropped)
			}
		}
	}
}
