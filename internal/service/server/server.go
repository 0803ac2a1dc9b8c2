package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"private_feed/internal/model"
	"private_feed/internal/repository"
	"private_feed/internal/service/redis"
	"private_feed/internal/utils/log"
)

const (
	watchBuffer  = 64
	writeTimeout = 10 * time.Second
)

type (
	HttpServer struct {
		mu       sync.RWMutex
		watchers map[string]*watcher

		store        repository.Store
		redisService *redis.RedisService
		origin       string
	}

	// watcher is one /watch connection. An empty owner sees every event.
	watcher struct {
		conn  *websocket.Conn
		owner string
		send  chan repository.Event
	}

	createRequest struct {
		OwnerID string            `json:"ownerId"`
		Fields  repository.Fields `json:"fields"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// NewHttpServer serves store. When redisSvc is set, change events are
// shared with other replicas through it.
func NewHttpServer(store repository.Store, redisSvc *redis.RedisService) *HttpServer {
	s := &HttpServer{
		watchers:     make(map[string]*watcher),
		redisService: redisSvc,
		origin:       uuid.NewString(),
	}
	s.store = repository.Notifying(store, s.publish)
	return s
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/docs/{type}", s.HandleGet()).Methods(http.MethodGet)
	r.HandleFunc("/docs/{type}", s.HandleCreate()).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}", s.HandleDelete()).Methods(http.MethodDelete)
	r.HandleFunc("/watch", s.HandleWatch()).Methods(http.MethodGet)
	return r
}

// Run serves on addr until ctx is done.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	if s.redisService != nil {
		if err := s.relayEvents(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeWatchers()
	}()

	log.Info("document store listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *HttpServer) HandleGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docType := repository.DocumentType(mux.Vars(r)["type"])
		if !docType.Valid() {
			writeError(w, http.StatusBadRequest, repository.ErrUnknownType.Error())
			return
		}

		filter := repository.Filter{}
		for k, vals := range r.URL.Query() {
			if len(vals) == 0 {
				continue
			}
			if k == "owner" {
				k = repository.FieldOwner
			}
			filter[k] = vals[0]
		}

		docs, err := s.store.Get(r.Context(), docType, filter)
		if err != nil {
			log.Error("get documents failed", zap.String("type", string(docType)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "get documents failed")
			return
		}
		if docs == nil {
			docs = []repository.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func (s *HttpServer) HandleCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docType := repository.DocumentType(mux.Vars(r)["type"])
		if !docType.Valid() {
			writeError(w, http.StatusBadRequest, repository.ErrUnknownType.Error())
			return
		}

		var req createRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
		owner, err := model.ParseIdentity(req.OwnerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		doc, err := s.store.Create(r.Context(), docType, owner, req.Fields)
		if err != nil {
			log.Error("create document failed", zap.String("type", string(docType)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "create document failed")
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func (s *HttpServer) HandleDelete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		owner, err := model.ParseIdentity(r.URL.Query().Get("owner"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		err = s.store.Delete(r.Context(), id, owner)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			log.Error("delete document failed", zap.String("id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "delete document failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HttpServer) HandleWatch() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner != "" {
			if _, err := model.ParseIdentity(owner); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		// Registered before the handshake completes so a client sees every
		// write made after its dial returns.
		id := uuid.NewString()
		wt := &watcher{owner: owner, send: make(chan repository.Event, watchBuffer)}
		s.mu.Lock()
		s.watchers[id] = wt
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("watch upgrade failed", zap.Error(err))
			s.dropWatcher(id)
			return
		}
		wt.conn = conn

		go s.writeLoop(id, wt)
		go s.readLoop(id, wt)
	}
}

// readLoop only detects the client going away.
func (s *HttpServer) readLoop(id string, wt *watcher) {
	for {
		if _, _, err := wt.conn.ReadMessage(); err != nil {
			log.Debug("watch socket closed", zap.Error(err))
			s.dropWatcher(id)
			return
		}
	}
}

func (s *HttpServer) writeLoop(id string, wt *watcher) {
	for ev := range wt.send {
		wt.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := wt.conn.WriteJSON(ev); err != nil {
			log.Debug("watch write failed", zap.Error(err))
			s.dropWatcher(id)
			break
		}
	}
	wt.conn.Close()
}

func (s *HttpServer) dropWatcher(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wt, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(wt.send)
	}
}

func (s *HttpServer) closeWatchers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, wt := range s.watchers {
		delete(s.watchers, id)
		close(wt.send)
	}
}

// broadcast hands ev to local watchers. A watcher whose buffer is full is
// dropped; it reconnects and refetches.
func (s *HttpServer) broadcast(ev repository.Event) {
	var slow []string

	s.mu.RLock()
	for id, wt := range s.watchers {
		if wt.owner != "" && wt.owner != ev.OwnerID {
			continue
		}
		select {
		case wt.send <- ev:
		default:
			slow = append(slow, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range slow {
		log.Warn("dropping slow watcher", zap.String("id", id))
		s.dropWatcher(id)
	}
}
