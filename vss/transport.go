package vss

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 16

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Transport is the WebSocket-facing half of the server: it owns the
// connection registry SubscriptionEngine.deliver sends into through Send,
// and runs the
// per-connection read/write goroutine pair described in spec.md §5,
// adapted from the client-side dial/read/write loop in
// connect/transport.go to the server side.
type Transport struct {
	processor *CommandProcessor
	subs      *SubscriptionEngine

	mutex       sync.Mutex
	connections map[uint32]chan []byte

	nextConnSeq uint32
}

func NewTransport(processor *CommandProcessor, subs *SubscriptionEngine) *Transport {
	return &Transport{
		processor:   processor,
		subs:        subs,
		connections: map[uint32]chan []byte{},
	}
}

// Send implements the Sender interface SubscriptionEngine.deliver calls.
// It never blocks on a slow client: a full outbound buffer drops the
// frame, matching spec.md §4.4's failure semantics.
func (self *Transport) Send(connId uint32, frame []byte) error {
	self.mutex.Lock()
	send, ok := self.connections[connId]
	self.mutex.Unlock()
	if !ok {
		return newError(KindGenericError, "no connection %d", connId)
	}
	select {
	case send <- frame:
		return nil
	default:
		return newError(KindGenericError, "send buffer full for connection %d", connId)
	}
}

// ConnectionCount returns the number of live WebSocket connections, for the
// admin surface's /stats endpoint.
func (self *Transport) ConnectionCount() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.connections)
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// until it closes.
func (self *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Infof("websocket upgrade failed: %s", err)
		return
	}
	self.handleConnection(ws)
}

func (self *Transport) handleConnection(ws *websocket.Conn) {
	connId := (atomic.AddUint32(&self.nextConnSeq, 1)) * ClientMask
	channel := NewChannel(connId)
	send := make(chan []byte, sendBufferSize)

	self.mutex.Lock()
	self.connections[connId] = send
	self.mutex.Unlock()

	defer func() {
		self.mutex.Lock()
		delete(self.connections, connId)
		self.mutex.Unlock()
		self.subs.UnsubscribeAll(connId)
		close(send)
		ws.Close()
	}()

	done := make(chan struct{})
	go self.writePump(ws, send, done)
	self.readPump(ws, channel, send)
	close(done)
}

func (self *Transport) writePump(ws *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-send:
			if !ok {
				return
			}
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				Infof("write error on connection: %s", err)
				return
			}
		}
	}
}

func (self *Transport) readPump(ws *websocket.Conn, channel *Channel, send chan<- []byte) {
	ctx := context.Background()
	for {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			Infof("read error on connection %d: %s", channel.ConnId, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var response []byte
		HandleError(func() {
			response = self.processor.Process(ctx, channel, message)
		}, func(err error) {
			response = self.processor.errorFrame("", nil, KindGenericError, "internal error")
		})
		if response == nil {
			continue
		}
		select {
		case send <- response:
		default:
			Infof("dropped response for connection %d: send buffer full", channel.ConnId)
		}
	}
}

// ListenAndServe binds addr and serves WebSocket upgrades on every path,
// blocking until ctx is cancelled or the listener fails. When cert/key are
// both set it serves TLS; the certificate loader itself is out of scope
// per spec.md §1, so this is the minimal stdlib call.
func (self *Transport) ListenAndServe(ctx context.Context, addr string, certFile, keyFile string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: self,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		return server.ServeTLS(listener, "", "")
	}
	return server.Serve(listener)
}
