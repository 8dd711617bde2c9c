// Package feed streams push events to local strategy processes over a
// Unix domain socket, one JSON object per line. Delivery is
// at-least-once; consumers deduplicate on the event id. A slow consumer
// is disconnected rather than allowed to stall the feed.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/dispatch"
	"main/internal/schema"
	"main/pkg/uds"
)

const clientBuffer = 256

// Feed fans queue events out to connected subscribers.
type Feed struct {
	server *uds.Server
	queue  *dispatch.Queue

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn net.Conn
	ch   chan []byte
}

// New creates a feed over the socket path, consuming the given queue.
func New(socketPath string, queue *dispatch.Queue) (*Feed, error) {
	server, err := uds.NewServer(socketPath)
	if err != nil {
		return nil, err
	}
	return &Feed{
		server:  server,
		queue:   queue,
		clients: make(map[*client]struct{}),
	}, nil
}

// Run listens on the socket and pumps events until the context is done
// or the queue closes.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.server.Listen(); err != nil {
		return err
	}
	logs.Infof("event feed listening on %s", f.server.Path())

	go f.acceptLoop()
	f.queue.Run(ctx, f.broadcast)
	f.Close()
	return nil
}

func (f *Feed) acceptLoop() {
	for {
		conn, err := f.server.Accept()
		if err != nil {
			f.mu.Lock()
			closed := f.closed
			f.mu.Unlock()
			if !closed {
				logs.Errorf("event feed accept, err: %+v", err)
			}
			return
		}

		c := &client{conn: conn, ch: make(chan []byte, clientBuffer)}
		f.mu.Lock()
		f.clients[c] = struct{}{}
		n := len(f.clients)
		f.mu.Unlock()
		logs.Infof("event feed subscriber connected, total %d", n)

		go f.writeLoop(c)
	}
}

func (f *Feed) writeLoop(c *client) {
	defer f.drop(c)
	w := bufio.NewWriter(c.conn)
	for line := range c.ch {
		if _, err := w.Write(line); err != nil {
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			return
		}
		if len(c.ch) == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
	w.Flush()
}

// broadcast serializes the event once and offers it to every client.
// A client with a full buffer is disconnected.
func (f *Feed) broadcast(e schema.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		logs.Errorf("marshal event %s, err: %+v", e.Header.EventID, err)
		return
	}

	f.mu.Lock()
	stale := make([]*client, 0)
	for c := range f.clients {
		select {
		case c.ch <- line:
		default:
			stale = append(stale, c)
		}
	}
	f.mu.Unlock()

	for _, c := range stale {
		logs.Errorf("event feed subscriber too slow, disconnecting")
		f.drop(c)
	}
}

func (f *Feed) drop(c *client) {
	f.mu.Lock()
	_, ok := f.clients[c]
	if ok {
		delete(f.clients, c)
		close(c.ch)
	}
	f.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Close stops the listener and disconnects every subscriber.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	clients := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()

	for _, c := range clients {
		f.drop(c)
	}
	if err := f.server.Close(); err != nil {
		logs.Errorf("close event feed, err: %+v", err)
	}
}
