// Package server resolves share links. It serves a shared list as JSON, a
// per-stage grouped view, and a server-sent-events feed of live changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keiwa-murasawa/stepbaby/internal/remote"
	"github.com/keiwa-murasawa/stepbaby/internal/stage"
	"github.com/keiwa-murasawa/stepbaby/internal/todo"
)

type Catalog interface {
	Stages() []stage.Stage
	For(s stage.Stage) []todo.Task
}

type Server struct {
	lists   *remote.Client
	catalog Catalog
	baseURL string
	now     stage.Clock
	log     *slog.Logger
}

func New(lists *remote.Client, cat Catalog, baseURL string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		lists:   lists,
		catalog: cat,
		baseURL: baseURL,
		now:     time.Now,
		log:     log,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/lists", s.createList)
	r.Route("/list/{id}", func(r chi.Router) {
		r.Get("/", s.getList)
		r.Get("/view", s.getView)
		r.Get("/events", s.streamList)
		r.Put("/birthDate", s.putBirthDate)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type createRequest struct {
	Title     string `json:"title"`
	Nickname  string `json:"nickname"`
	BirthDate string `json:"birthDate"`
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *Server) createList(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	if req.Nickname == "" {
		writeErr(w, http.StatusBadRequest, "nickname is required")
		return
	}
	if _, err := stage.ParseDate(req.BirthDate); err != nil {
		writeErr(w, http.StatusBadRequest, "birthDate must be YYYY-MM-DD")
		return
	}
	doc, err := s.lists.Create(r.Context(), remote.SeedFromCatalog(req.Title, req.Nickname, strings.TrimSpace(req.BirthDate), s.catalog))
	if err != nil {
		s.log.Error("create list failed", "err", err)
		writeErr(w, http.StatusBadGateway, "could not create list")
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: doc.ID, URL: remote.ShareURL(s.baseURL, doc.ID)})
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDoc(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type groupView struct {
	Name    string      `json:"name"`
	AllDone bool        `json:"allDone"`
	Tasks   []todo.Task `json:"tasks"`
}

type categoryView struct {
	Category string      `json:"category"`
	Single   []todo.Task `json:"single"`
	Groups   []groupView `json:"groups"`
}

type viewResponse struct {
	Stage        string         `json:"stage"`
	CurrentStage string         `json:"currentStage,omitempty"`
	Categories   []categoryView `json:"categories"`
}

// getView renders the grouped list of ?stage=, defaulting to the stage the
// list's birth date falls into today.
func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.loadDoc(w, r)
	if !ok {
		return
	}
	current, _ := stage.Classify(doc.BirthDate, s.now())
	displayed := current
	if q := r.URL.Query().Get("stage"); q != "" {
		st, ok := stage.Parse(q)
		if !ok {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", q))
			return
		}
		displayed = st
	}
	if displayed == "" {
		writeErr(w, http.StatusBadRequest, "stage is required when the list has no birth date")
		return
	}

	snap := remote.SnapshotOf(doc)
	resp := viewResponse{
		Stage:        string(displayed),
		CurrentStage: string(current),
		Categories:   []categoryView{},
	}
	for _, v := range todo.Group(snap.Lists[displayed]) {
		cv := categoryView{Category: v.Category, Single: v.Single, Groups: []groupView{}}
		if cv.Single == nil {
			cv.Single = []todo.Task{}
		}
		for _, g := range v.Groups {
			cv.Groups = append(cv.Groups, groupView{Name: g.Name, AllDone: g.AllDone(), Tasks: g.Tasks})
		}
		resp.Categories = append(resp.Categories, cv)
	}
	writeJSON(w, http.StatusOK, resp)
}

type birthDateRequest struct {
	BirthDate string `json:"birthDate"`
}

func (s *Server) putBirthDate(w http.ResponseWriter, r *http.Request) {
	var req birthDateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := stage.ParseDate(req.BirthDate); err != nil {
		writeErr(w, http.StatusBadRequest, "birthDate must be YYYY-MM-DD")
		return
	}
	id := chi.URLParam(r, "id")
	err := s.lists.UpdateBirthDate(r.Context(), id, req.BirthDate)
	if errors.Is(err, remote.ErrListNotFound) {
		writeErr(w, http.StatusNotFound, "list not found")
		return
	}
	if err != nil {
		s.log.Error("update birth date failed", "id", id, "err", err)
		writeErr(w, http.StatusBadGateway, "could not save")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamList pushes the whole document on connect and after every change
// until the client goes away.
func (s *Server) streamList(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithCancel(r.Context())
	updates := make(chan listUpdate, 8)
	stop, err := s.lists.Watch(ctx, id, forward(ctx, updates))
	if err != nil {
		cancel()
		s.log.Error("watch failed", "id", id, "err", err)
		writeErr(w, http.StatusBadGateway, "could not subscribe")
		return
	}
	defer func() {
		cancel()
		stop()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if errors.Is(u.err, remote.ErrListNotFound) {
				fmt.Fprint(w, "event: gone\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			if u.err != nil {
				s.log.Warn("list refresh failed", "id", id, "err", u.err)
				continue
			}
			payload, err := json.Marshal(u.doc)
			if err != nil {
				s.log.Error("encode document", "id", id, "err", err)
				return
			}
			fmt.Fprintf(w, "event: list\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

type listUpdate struct {
	doc remote.Document
	err error
}

// forward hands watch results to the stream loop and gives up once ctx is
// done, so stopping the watch never waits on a full buffer.
func forward(ctx context.Context, updates chan<- listUpdate) func(remote.Document, error) {
	return func(doc remote.Document, err error) {
		select {
		case updates <- listUpdate{doc, err}:
		case <-ctx.Done():
		}
	}
}

func (s *Server) loadDoc(w http.ResponseWriter, r *http.Request) (remote.Document, bool) {
	id := chi.URLParam(r, "id")
	doc, err := s.lists.Get(r.Context(), id)
	if errors.Is(err, remote.ErrListNotFound) {
		writeErr(w, http.StatusNotFound, "list not found")
		return remote.Document{}, false
	}
	if err != nil {
		s.log.Error("load list failed", "id", id, "err", err)
		writeErr(w, http.StatusBadGateway, "could not load list")
		return remote.Document{}, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(out)
}
