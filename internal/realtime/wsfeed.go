// Package realtime delivers push notifications to the board: the change-feed
// listener with its subscription state machine and poll fallback, the
// presence tracker, and the websocket transport both ride on.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/corkboard-app/corkboard/internal/board"
	"github.com/corkboard-app/corkboard/internal/obs"
	"github.com/corkboard-app/corkboard/internal/store"
)

// Frame is one message on the realtime channel, in either direction.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Filter  string          `json:"filter,omitempty"`
	Key     string          `json:"key,omitempty"`
	Keys    []string        `json:"keys,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	TopicNotes    = "notes"
	TopicPresence = "presence"

	EventSubscribe     = "subscribe"
	EventAck           = "ack"
	EventChange        = "change"
	EventJoin          = "join"
	EventPresenceState = "presence_state"
)

const (
	subscribeAckTimeout = 10 * time.Second
	pingInterval        = 25 * time.Second
	frameBacklog        = 16
)

// WSFeed is the websocket client for the realtime service. It implements
// store.Feed for note mutations and PresenceChannel for the presence topic.
// Each subscription holds its own connection, which is what the push API's
// connection budget counts.
type WSFeed struct {
	url string
	log *slog.Logger
}

// NewWSFeed creates a client for the realtime endpoint at url
// (ws:// or wss://).
func NewWSFeed(url string) *WSFeed {
	return &WSFeed{url: url, log: obs.Pkg("realtime")}
}

type wsSubscription struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	// firstFrame holds a non-ack frame the server sent in the ack slot,
	// e.g. the initial presence state; the read loop replays it.
	firstFrame *Frame
}

func (s *wsSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "teardown")
		<-s.done
	})
	return nil
}

// Subscribe opens a connection, announces the filter, waits for the ack, and
// delivers change events to fn until the subscription is closed.
func (f *WSFeed) Subscribe(ctx context.Context, filter store.Filter, fn func(board.Event)) (store.Subscription, error) {
	conn, sub, err := f.open(ctx, Frame{
		Topic:  TopicNotes,
		Event:  EventSubscribe,
		Filter: filter.Expression(),
	})
	if err != nil {
		return nil, err
	}

	go f.readLoop(sub, conn, func(frame Frame) {
		if frame.Topic != TopicNotes || frame.Event != EventChange {
			return
		}
		event, ok := store.DecodeEvent(frame.Payload)
		if !ok {
			f.log.Warn("dropping malformed change frame")
			return
		}
		fn(event)
	})
	return sub, nil
}

// Join announces key on the presence topic and reports every full-state sync
// to onSync until the subscription is closed.
func (f *WSFeed) Join(ctx context.Context, key string, onSync func(keys []string)) (store.Subscription, error) {
	conn, sub, err := f.open(ctx, Frame{
		Topic: TopicPresence,
		Event: EventJoin,
		Key:   key,
	})
	if err != nil {
		return nil, err
	}

	go f.readLoop(sub, conn, func(frame Frame) {
		if frame.Topic != TopicPresence || frame.Event != EventPresenceState {
			return
		}
		onSync(frame.Keys)
	})
	return sub, nil
}

// open dials, sends the hello frame, and waits for the server's ack.
func (f *WSFeed) open(ctx context.Context, hello Frame) (*websocket.Conn, *wsSubscription, error) {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return nil, nil, err
	}

	ackCtx, cancelAck := context.WithTimeout(ctx, subscribeAckTimeout)
	defer cancelAck()
	if err := wsjson.Write(ackCtx, conn, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, nil, err
	}
	var ack Frame
	if err := wsjson.Read(ackCtx, conn, &ack); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "no ack")
		return nil, nil, err
	}

	// The subscription outlives the subscribe call's context; only Close
	// tears it down.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &wsSubscription{
		conn:       conn,
		ctx:        runCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
		firstFrame: &ack,
	}
	return conn, sub, nil
}

func (f *WSFeed) readLoop(sub *wsSubscription, conn *websocket.Conn, dispatch func(Frame)) {
	defer close(sub.done)

	ctx := sub.ctx

	// Handlers run off the read goroutine. A handler may close this
	// subscription (a delete of an owned note changes the filter), and
	// Close waits for the read loop to exit; dispatching inline would
	// have the loop waiting on itself.
	frames := make(chan Frame, frameBacklog)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				dispatch(frame)
			}
		}
	}()

	if sub.firstFrame != nil && sub.firstFrame.Event != EventAck {
		frames <- *sub.firstFrame
	}

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings.C:
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()

	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() == nil {
				f.log.Warn("realtime connection closed", "error", err)
			}
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}
