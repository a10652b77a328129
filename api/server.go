package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/engine"
	"github.com/blockberries/ckptberry/logger"
	"github.com/blockberries/ckptberry/store"
	"github.com/blockberries/ckptberry/types"
)

const shutdownTimeout = 5 * time.Second

// Engine is the consensus view served by the API.
type Engine interface {
	Status() engine.Status
	SyncStatus() engine.SyncStatus
}

// Checkpoints reads accepted checkpoints.
type Checkpoints interface {
	Extract(height uint64) (*types.Checkpoint, error)
	Latest() (*types.Checkpoint, error)
}

// Server exposes validator status over HTTP.
type Server struct {
	engine Engine
	ckpts  Checkpoints
	router *mux.Router
	log    *zap.Logger
}

// NewServer routes the status endpoints and the metrics of gatherer.
func NewServer(eng Engine, ckpts Checkpoints, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		engine: eng,
		ckpts:  ckpts,
		router: mux.NewRouter(),
		log:    logger.Named("api"),
	}
	s.router.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/checkpoints/latest", s.getLatestCheckpoint).Methods(http.MethodGet)
	s.router.HandleFunc("/checkpoints/{height:[0-9]+}", s.getCheckpoint).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("api listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Status()
	s.writeJSON(w, http.StatusOK, statusResponse{
		State:        newStateResponse(st.State),
		Height:       st.Height,
		CheckpointID: st.CheckpointID,
		Votes:        st.Votes,
		Deadlines:    st.Deadlines,
		Started:      st.Started,
		Idle:         st.Idle,
		Sync:         s.engine.SyncStatus(),
	})
}

func (s *Server) getLatestCheckpoint(w http.ResponseWriter, _ *http.Request) {
	ckpt, err := s.ckpts.Latest()
	s.writeCheckpoint(w, ckpt, err)
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid height")
		return
	}
	ckpt, err := s.ckpts.Extract(height)
	s.writeCheckpoint(w, ckpt, err)
}

func (s *Server) writeCheckpoint(w http.ResponseWriter, ckpt *types.Checkpoint, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "checkpoint not found")
	case err != nil:
		s.log.Error("checkpoint read failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "checkpoint read failed")
	default:
		s.writeJSON(w, http.StatusOK, newCheckpointResponse(ckpt))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("response write failed", zap.Error(err))
	}
}
