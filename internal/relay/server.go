package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/augur/internal/metrics"
)

var log = logging.Logger("relay")

type conn struct {
	id      string
	key     string
	netConn net.Conn
	writeMu sync.Mutex
}

func (c *conn) write(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return wsutil.WriteServerMessage(c.netConn, ws.OpText, data)
}

// Server accepts participant websockets on /ws?id=<participant> and routes
// their frames through a Router.
type Server struct {
	router       *Router
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn
}

func NewServer(router *Router, writeTimeout time.Duration) *Server {
	if router == nil {
		router = NewRouter()
	}
	return &Server{
		router:       router,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*conn),
	}
}

// Handler returns the relay's HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warnf("upgrade failed: %v", err)
		return
	}

	c := &conn{id: id, key: uuid.NewString(), netConn: netConn}
	s.mu.Lock()
	prev := s.conns[id]
	s.conns[id] = c
	s.mu.Unlock()
	if prev != nil {
		log.Infof("participant %s reconnected, dropping previous connection", id)
		_ = prev.netConn.Close()
	}
	metrics.RelayConnections.Inc()
	log.Infof("participant %s attached (conn=%s)", id, c.key)

	go s.serve(c)
}

func (s *Server) serve(c *conn) {
	defer s.detach(c)
	for {
		data, op, err := wsutil.ReadClientData(c.netConn)
		if err != nil {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		deliveries, err := s.router.Route(c.id, data)
		if err != nil {
			log.Warnf("route from %s: %v", c.id, err)
			metrics.RelayRouted.WithLabelValues("dropped").Inc()
			continue
		}
		s.deliver(deliveries)
	}
}

func (s *Server) detach(c *conn) {
	_ = c.netConn.Close()
	metrics.RelayConnections.Dec()

	s.mu.Lock()
	current := s.conns[c.id] == c
	if current {
		delete(s.conns, c.id)
	}
	s.mu.Unlock()

	log.Infof("participant %s detached (conn=%s)", c.id, c.key)
	if current {
		s.deliver(s.router.Disconnect(c.id))
	}
}

func (s *Server) deliver(ds []Delivery) {
	for _, d := range ds {
		s.mu.RLock()
		c := s.conns[d.To]
		s.mu.RUnlock()
		if c == nil {
			log.Debugf("no connection for %s, dropping frame", d.To)
			metrics.RelayRouted.WithLabelValues("dropped").Inc()
			continue
		}
		if err := c.write(d.Data, s.writeTimeout); err != nil {
			log.Warnf("write to %s: %v", d.To, err)
			metrics.RelayRouted.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.RelayRouted.WithLabelValues("delivered").Inc()
	}
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.router.Profiles())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	n := len(s.conns)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
	}{"ok", n, s.router.Sessions()})
}
