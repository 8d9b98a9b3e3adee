package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

const (
	writeDeadline        = 5 * time.Second
	shutdownPollInterval = 200 * time.Millisecond
)

// connAndDone pairs a websocket connection with a channel used to signal the requesting
// handler once the hub has acted on it.
type connAndDone struct {
	connection *websocket.Conn
	doneChan   chan bool
}

// Hub fans the engine's event stream out to websocket subscribers. Events queue in
// emission order and are pushed on Flush, which the engine calls after each completed
// operation, so subscribers observe operation boundaries.
type Hub struct {
	connections    map[*websocket.Conn]bool
	broadcast      chan []byte
	queueLength    chan chan int
	connectionAmnt chan chan int
	flush          chan bool
	register       chan connAndDone
	unregister     chan connAndDone
	shutdown       chan bool
	queue          [][]byte
	isRunning      atomic.Bool
}

func NewHub() *Hub {
	h := &Hub{
		connections:    map[*websocket.Conn]bool{},
		broadcast:      make(chan []byte),
		queueLength:    make(chan chan int),
		connectionAmnt: make(chan chan int),
		flush:          make(chan bool),
		register:       make(chan connAndDone),
		unregister:     make(chan connAndDone),
		shutdown:       make(chan bool),
		queue:          make([][]byte, 0),
	}
	go h.run()
	return h
}

// QueueLength reports how many events are waiting for the next flush.
func (h *Hub) QueueLength() int {
	ch := make(chan int)
	h.queueLength <- ch
	return <-ch
}

// ConnectionCount reports how many subscribers are attached.
func (h *Hub) ConnectionCount() int {
	ch := make(chan int)
	h.connectionAmnt <- ch
	return <-ch
}

// Emit queues one event for the next flush. The payload must be JSON-serializable.
func (h *Hub) Emit(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return eris.Wrap(err, "events must be json serializable")
	}
	h.broadcast <- data
	return nil
}

// Flush pushes every queued event to every subscriber, in order.
func (h *Hub) Flush() {
	h.flush <- true
}

func (h *Hub) RegisterConnection(ws *websocket.Conn) {
	done := make(chan bool)
	h.register <- connAndDone{connection: ws, doneChan: done}
	<-done
}

func (h *Hub) UnregisterConnection(ws *websocket.Conn) {
	done := make(chan bool)
	h.unregister <- connAndDone{connection: ws, doneChan: done}
	<-done
}

// Shutdown closes every subscriber connection and stops the loop, blocking until it
// has fully exited.
func (h *Hub) Shutdown() {
	h.shutdown <- true
	for h.isRunning.Load() {
		time.Sleep(shutdownPollInterval)
	}
}

//nolint:gocognit
func (h *Hub) run() {
	if h.isRunning.Load() {
		return
	}
	h.isRunning.Store(true)
	drop := func(conn *websocket.Conn) {
		if _, ok := h.connections[conn]; ok {
			delete(h.connections, conn)
			if err := eris.Wrap(conn.Close(), ""); err != nil {
				log.Logger.Error().Err(err).Msg(eris.ToString(err, true))
			}
		}
	}
Loop:
	for h.isRunning.Load() {
		select {
		case ch := <-h.connectionAmnt:
			ch <- len(h.connections)
		case ch := <-h.queueLength:
			ch <- len(h.queue)
		case req := <-h.register:
			h.connections[req.connection] = true
			req.doneChan <- true
		case req := <-h.unregister:
			drop(req.connection)
			req.doneChan <- true
		case event := <-h.broadcast:
			h.queue = append(h.queue, event)
		case <-h.flush:
			var wg sync.WaitGroup
			for conn := range h.connections {
				wg.Add(1)
				conn := conn
				go func() {
					defer wg.Done()
					for _, event := range h.queue {
						if err := eris.Wrap(conn.SetWriteDeadline(time.Now().Add(writeDeadline)), ""); err != nil {
							go h.UnregisterConnection(conn)
							log.Logger.Error().Err(err).Msg("subscriber dropped: " + eris.ToString(err, true))
							break
						}
						if err := eris.Wrap(conn.WriteMessage(websocket.TextMessage, event), ""); err != nil {
							go h.UnregisterConnection(conn)
							log.Logger.Error().Err(err).Msg(eris.ToString(err, true))
							break
						}
					}
				}()
			}
			wg.Wait()
			h.queue = h.queue[:0]
		case <-h.shutdown:
			go func() {
				for range h.shutdown { //nolint:revive // drains the channel until closed
				}
			}()
			for conn := range h.connections {
				drop(conn)
			}
			break Loop
		}
	}
	h.isRunning.Store(false)
}

// WebSocketHandler returns a fiber websocket handler that subscribes the connection to
// the stream. The feed is one-way; inbound messages are read and discarded to keep the
// connection's control frames flowing.
func (h *Hub) WebSocketHandler() func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		h.RegisterConnection(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.UnregisterConnection(conn)
				break
			}
		}
	}
}
