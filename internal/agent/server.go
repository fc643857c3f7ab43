package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medisync/medisync/internal/cache"
	"github.com/medisync/medisync/internal/network"
	"github.com/medisync/medisync/internal/remote"
	"github.com/medisync/medisync/internal/status"
	"github.com/medisync/medisync/internal/store"
	intsync "github.com/medisync/medisync/internal/sync"
)

// Server exposes the agent's control API over a Unix domain socket: status,
// sync triggers, conflict resolution, cache management, and Prometheus
// metrics. Field staff tooling and host integrations talk to it locally; it
// never listens on the network.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the control server bound to the agent's socket.
func NewServer(p Params, logger *zap.Logger, engine *intsync.Engine, c *cache.Cache,
	monitor *network.Monitor, source *network.ManualSource, machine *status.Machine,
	reg *prometheus.Registry) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = p.Config.SocketPath()
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.handleStatus(engine, monitor, machine, p.Config.FacilityID))
	mux.HandleFunc("POST /v1/sync", s.handleSync(engine))
	mux.HandleFunc("GET /v1/conflicts", s.handleConflicts(engine))
	mux.HandleFunc("POST /v1/conflicts/resolve", s.handleResolve(engine))
	mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats(c))
	mux.HandleFunc("POST /v1/cache/refresh", s.handleCacheRefresh(c, p.Config.FacilityID))
	mux.HandleFunc("POST /v1/cache/clean", s.handleCacheClean(c))
	mux.HandleFunc("POST /v1/network", s.handleNetwork(source))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{Handler: mux}
	return s, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
	_ = os.Remove(s.socketPath)
}

type statusResponse struct {
	FacilityID          string       `json:"facility_id,omitempty"`
	State               status.State `json:"state"`
	Online              bool         `json:"online"`
	Syncing             bool         `json:"syncing"`
	Pending             int          `json:"pending"`
	UnresolvedConflicts int          `json:"unresolved_conflicts"`
	LastSync            time.Time    `json:"last_sync,omitzero"`
}

func (s *Server) handleStatus(engine *intsync.Engine, monitor *network.Monitor,
	machine *status.Machine, facilityID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := engine.Status()
		if err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, statusResponse{
			FacilityID:          facilityID,
			State:               machine.Current(),
			Online:              monitor.IsOnline(),
			Syncing:             st.Syncing,
			Pending:             st.Pending,
			UnresolvedConflicts: st.UnresolvedConflicts,
			LastSync:            st.LastSync,
		})
	}
}

type syncRequest struct {
	Force    bool     `json:"force,omitempty"`
	Strategy string   `json:"strategy,omitempty"`
	Tables   []string `json:"tables,omitempty"`
}

func (s *Server) handleSync(engine *intsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if err := decodeBody(r, &req); err != nil {
			s.badRequest(w, err)
			return
		}
		switch intsync.Strategy(req.Strategy) {
		case "", intsync.StrategyClientWins, intsync.StrategyServerWins,
			intsync.StrategyMerge, intsync.StrategyManual:
		default:
			s.badRequest(w, fmt.Errorf("unknown strategy %q", req.Strategy))
			return
		}
		tables := make([]store.Collection, 0, len(req.Tables))
		for _, t := range req.Tables {
			col := store.Collection(t)
			if !col.Valid() {
				s.badRequest(w, fmt.Errorf("unknown table %q", t))
				return
			}
			tables = append(tables, col)
		}
		var report intsync.Report
		started, err := engine.Sync(r.Context(), intsync.Options{
			Force:      req.Force,
			Strategy:   intsync.Strategy(req.Strategy),
			Tables:     tables,
			OnComplete: func(rep intsync.Report) { report = rep },
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, map[string]any{"started": started, "report": report})
	}
}

func (s *Server) handleConflicts(engine *intsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conflicts, err := engine.Conflicts()
		if err != nil {
			s.fail(w, err)
			return
		}
		type conflictView struct {
			Key string `json:"key"`
			*intsync.ConflictRecord
		}
		views := make([]conflictView, len(conflicts))
		for i, c := range conflicts {
			views[i] = conflictView{Key: c.Key, ConflictRecord: c}
		}
		s.reply(w, views)
	}
}

type resolveRequest struct {
	Key        string        `json:"key"`
	Resolution remote.Record `json:"resolution"`
}

func (s *Server) handleResolve(engine *intsync.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveRequest
		if err := decodeBody(r, &req); err != nil {
			s.badRequest(w, err)
			return
		}
		if req.Key == "" || len(req.Resolution) == 0 {
			s.badRequest(w, fmt.Errorf("key and resolution are required"))
			return
		}
		if err := engine.ResolveConflict(r.Context(), req.Key, req.Resolution); err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, map[string]string{"resolved": req.Key})
	}
}

func (s *Server) handleCacheStats(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := c.Stats()
		if err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, stats)
	}
}

func (s *Server) handleCacheRefresh(c *cache.Cache, facilityID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.CacheEssentialData(r.Context(), facilityID); err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleCacheClean(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evicted, err := c.CleanExpiredCache()
		if err != nil {
			s.fail(w, err)
			return
		}
		s.reply(w, map[string]int64{"evicted": evicted})
	}
}

type networkRequest struct {
	Online bool `json:"online"`
}

func (s *Server) handleNetwork(source *network.ManualSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req networkRequest
		if err := decodeBody(r, &req); err != nil {
			s.badRequest(w, err)
			return
		}
		source.Set(req.Online)
		s.reply(w, map[string]bool{"online": req.Online})
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
