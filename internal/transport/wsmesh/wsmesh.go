// Package wsmesh is a transport over direct websocket links between
// replicas.
//
// Every node serves GET /rooms/{room} and may dial any number of other
// nodes. A link is symmetric once established: each side opens with a hello
// naming itself, and frames flow both ways. Links that drop are redialled
// with exponential backoff until the node closes.
//
// The mesh does not forward frames. When the link graph is not complete,
// run the replica with relaying enabled so ops travel more than one hop.
package wsmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// ErrUnknownPeer is returned by directed sends to a peer with no open link.
var ErrUnknownPeer = errors.New("no link to peer")

// Option configures a Node.
type Option func(*Node)

// WithBackoff overrides the redial policy. The factory is called once per
// dial attempt sequence.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(n *Node) { n.newBackoff = f }
}

// Node is one member of a websocket mesh.
//
// Thread-safety: all methods are safe for concurrent use. Handlers run on
// per-link read goroutines.
type Node struct {
	self string
	room string

	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer
	newBackoff func() backoff.BackOff

	mu       sync.Mutex
	handlers transport.Handlers
	links    map[*link]struct{}
	peers    map[string]map[*link]struct{}
	dialing  map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
	server   *http.Server
	zc       *zeroconf.Server
	started  bool
	closed   bool
	wg       sync.WaitGroup
}

// link is one websocket connection. peer is set by the first frame.
type link struct {
	ws      *websocket.Conn
	send    chan []byte
	peer    string
	closing chan struct{}
	once    sync.Once
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.closing)
		l.ws.Close()
	})
}

// New creates a node named self for roomID.
func New(self, roomID string, opts ...Option) *Node {
	n := &Node{
		self: self,
		room: roomID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer:  websocket.DefaultDialer,
		links:   make(map[*link]struct{}),
		peers:   make(map[string]map[*link]struct{}),
		dialing: make(map[string]bool),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Self returns this node's id.
func (n *Node) Self() string { return n.self }

// Peers returns the ids of peers with at least one open link.
func (n *Node) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.peers))
	for peer := range n.peers {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Subscribe installs the inbound handlers.
func (n *Node) Subscribe(h transport.Handlers) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = h
}

// Start enables the node. Links are accepted and dialled only after Start.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started || n.closed {
		return fmt.Errorf("start room %s: already started", n.room)
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.started = true
	return nil
}

func (n *Node) live() (context.Context, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ctx, n.started && !n.closed
}

// Handler returns the HTTP surface of the node: GET /rooms/{room} upgrades
// to a mesh link. Requests are access-logged.
func (n *Node) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(accessLog)
	r.Methods(http.MethodGet).Path("/rooms/{room}").HandlerFunc(n.serveRoom)
	return r
}

func accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, w, r)
		slog.Debug("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (n *Node) serveRoom(w http.ResponseWriter, r *http.Request) {
	if mux.Vars(r)["room"] != n.room {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, ok := n.live(); !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	n.attach(ws)
}

// Listen serves Handler on addr until Close. Returns the bound address,
// which differs from addr when addr asks for port 0.
func (n *Node) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: n.Handler(), ReadHeaderTimeout: 10 * time.Second}

	n.mu.Lock()
	n.server = srv
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()
	slog.Info("mesh listening", "addr", ln.Addr().String(), "room", n.room)
	return ln.Addr(), nil
}

// RoomURL returns the websocket URL of roomID on the node at addr.
// addr may be host:port or an http(s)/ws(s) base URL.
func RoomURL(addr, roomID string) (string, error) {
	switch {
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
	default:
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse peer address: %w", err)
	}
	return u.JoinPath("rooms", roomID).String(), nil
}

// Connect keeps a link to the node at addr open until the node closes,
// redialling with backoff whenever it drops. Connecting twice to the same
// address is a no-op.
func (n *Node) Connect(addr string) error {
	target, err := RoomURL(addr, n.room)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if !n.started || n.closed {
		n.mu.Unlock()
		return transport.ErrClosed
	}
	if n.dialing[target] {
		n.mu.Unlock()
		return nil
	}
	n.dialing[target] = true
	ctx := n.ctx
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dialLoop(ctx, target)
	}()
	return nil
}

func (n *Node) dialLoop(ctx context.Context, target string) {
	for ctx.Err() == nil {
		var ws *websocket.Conn
		op := func() error {
			conn, _, err := n.dialer.DialContext(ctx, target, nil)
			if err != nil {
				return err
			}
			ws = conn
			return nil
		}
		notify := func(err error, wait time.Duration) {
			slog.Debug("dial failed", "url", target, "retry_in", wait, "err", err)
		}
		if err := backoff.RetryNotify(op, backoff.WithContext(n.newBackoff(), ctx), notify); err != nil {
			return
		}

		slog.Info("linked", "url", target)
		l := n.attach(ws)
		if l == nil {
			return
		}
		select {
		case <-l.closing:
		case <-ctx.Done():
			return
		}
	}
}

// attach registers a link and starts its pumps. The hello goes first.
// Returns nil when the node is already closed.
func (n *Node) attach(ws *websocket.Conn) *link {
	l := &link{ws: ws, send: make(chan []byte, sendBuffer), closing: make(chan struct{})}

	hello, err := transport.Encode(transport.NewPresenceMessage(transport.KindHello, n.self))
	if err != nil {
		ws.Close()
		return nil
	}
	l.send <- hello

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		ws.Close()
		return nil
	}
	n.links[l] = struct{}{}
	n.mu.Unlock()

	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		n.writePump(l)
	}()
	go func() {
		defer n.wg.Done()
		n.readPump(l)
	}()
	return l
}

// peerOf returns the peer id learned on l, or "" before its first frame.
func (n *Node) peerOf(l *link) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return l.peer
}

func (n *Node) writePump(l *link) {
	for {
		select {
		case <-l.closing:
			return
		case data := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("write failed", "peer", n.peerOf(l), "err", err)
				n.detach(l)
				return
			}
		}
	}
}

func (n *Node) readPump(l *link) {
	defer n.detach(l)
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			return
		}
		n.receive(l, data)
	}
}

func (n *Node) receive(l *link, data []byte) {
	msg, err := transport.Decode(data)
	if err != nil {
		slog.Debug("dropping undecodable frame", "room", n.room, "err", err)
		return
	}
	if msg.From == n.self {
		return
	}

	n.mu.Lock()
	joined := false
	if l.peer == "" {
		l.peer = msg.From
		if n.peers[msg.From] == nil {
			n.peers[msg.From] = make(map[*link]struct{})
			joined = true
		}
		n.peers[msg.From][l] = struct{}{}
	}
	h := n.handlers
	n.mu.Unlock()

	if joined {
		slog.Info("peer joined", "room", n.room, "peer", msg.From)
		if h.OnPeerJoin != nil {
			h.OnPeerJoin(msg.From)
		}
	}
	if msg.Kind == transport.KindBye {
		n.detach(l)
		return
	}
	if transport.Addressed(msg, n.self) {
		transport.Dispatch(h, msg)
	}
}

// detach forgets a link and reports the peer gone when it was the last one.
func (n *Node) detach(l *link) {
	n.mu.Lock()
	if _, ok := n.links[l]; !ok {
		n.mu.Unlock()
		l.shutdown()
		return
	}
	delete(n.links, l)
	left := ""
	if set := n.peers[l.peer]; set != nil {
		delete(set, l)
		if len(set) == 0 {
			delete(n.peers, l.peer)
			left = l.peer
		}
	}
	h := n.handlers
	n.mu.Unlock()

	l.shutdown()
	if left != "" {
		slog.Info("peer left", "room", n.room, "peer", left)
		if h.OnPeerLeave != nil {
			h.OnPeerLeave(left)
		}
	}
}

// BroadcastOp sends an op frame.
func (n *Node) BroadcastOp(ctx context.Context, env ir.Envelope, to string) error {
	return n.send(ctx, transport.NewOpMessage(n.self, to, env))
}

// BroadcastState sends a snapshot frame.
func (n *Node) BroadcastState(ctx context.Context, doc ir.Doc, to string) error {
	return n.send(ctx, transport.NewStateMessage(n.self, to, doc))
}

func (n *Node) send(ctx context.Context, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := transport.Encode(msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	if !n.started || n.closed {
		n.mu.Unlock()
		return transport.ErrClosed
	}
	var targets []*link
	if msg.To == "" {
		for l := range n.links {
			targets = append(targets, l)
		}
	} else {
		for l := range n.peers[msg.To] {
			targets = append(targets, l)
		}
	}
	n.mu.Unlock()

	if msg.To != "" && len(targets) == 0 {
		return fmt.Errorf("send to %s: %w", msg.To, ErrUnknownPeer)
	}
	for _, l := range targets {
		select {
		case l.send <- data:
		case <-l.closing:
		default:
			slog.Warn("send buffer full, dropping frame", "peer", n.peerOf(l), "kind", msg.Kind)
		}
	}
	return nil
}

// Close sends a close frame on every link, stops the listener, advertisement and
// dialers, and waits for every goroutine to exit.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	links := make([]*link, 0, len(n.links))
	for l := range n.links {
		links = append(links, l)
	}
	srv, zc, cancel := n.server, n.zc, n.cancel
	n.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, l := range links {
		_ = l.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), deadline)
		n.detach(l)
	}

	if cancel != nil {
		cancel()
	}
	if zc != nil {
		zc.Shutdown()
	}
	var err error
	if srv != nil {
		err = srv.Close()
	}
	n.wg.Wait()
	return err
}
