// Package server provides the HTTP API.
package server

import (
	"embed"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"feedbarn/internal/fetch"
	"feedbarn/internal/model"
	"feedbarn/internal/opml"
	"feedbarn/internal/refresh"
	"feedbarn/internal/repo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed webui/index.html
var webuiFS embed.FS

const defaultPerPage = 25

// Server is the main HTTP server. Every route except CORS preflight sits
// behind basic auth; GET /authentication doubles as the credentials check.
type Server struct {
	repo     *repo.Repo
	pipeline *refresh.Pipeline
	router   chi.Router
}

// New creates a new server over the repository and ingestion pipeline.
func New(r *repo.Repo, pipeline *refresh.Pipeline, username, password string) *Server {
	s := &Server{repo: r, pipeline: pipeline}
	s.setupRoutes(username, password)
	return s
}

func (s *Server) setupRoutes(username, password string) {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors)
	r.Use(middleware.BasicAuth("feedbarn", map[string]string{username: password}))

	r.Get("/", s.handleWebUI)
	r.Get("/authentication", s.handleAuthentication)

	r.Get("/subscriptions", s.handleGetSubscriptions)
	r.Post("/subscriptions", s.handleAddSubscription)
	r.Delete("/subscriptions/{id}", s.handleDeleteSubscription)

	r.Get("/unread_entries", s.handleGetUnread)
	r.Post("/unread_entries", s.handlePostUnread)
	r.Delete("/unread_entries", s.handleDeleteUnread)

	r.Get("/starred_entries", s.handleGetStarred)
	r.Post("/starred_entries", s.handlePostStarred)
	r.Delete("/starred_entries", s.handleDeleteStarred)

	r.Get("/entries", s.handleGetEntries)

	r.Get("/taggings", s.handleGetTaggings)
	r.Post("/taggings", s.handleAddTagging)
	r.Delete("/taggings/{id}", s.handleDeleteTagging)

	r.Post("/jobs/refresh", s.handleRefresh)

	r.Post("/imports/opml", s.handleImportOPML)
	r.Get("/exports/opml", s.handleExportOPML)

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// cors allows any origin and the three verbs the API uses. Preflight
// requests are answered before auth.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Page handlers ---

func (s *Server) handleWebUI(w http.ResponseWriter, _ *http.Request) {
	page, _ := webuiFS.ReadFile("webui/index.html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleAuthentication(w http.ResponseWriter, _ *http.Request) {
	// Credentials were already checked by the middleware.
	w.WriteHeader(http.StatusOK)
}

// --- Subscription handlers ---

func (s *Server) handleGetSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs, err := s.repo.GetSubscriptions()
	if err != nil {
		s.storageError(w, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	respondJSON(w, http.StatusOK, subs)
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeedURL string `json:"feed_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedURL == "" {
		http.Error(w, "feed_url is required", http.StatusBadRequest)
		return
	}

	sub, err := s.pipeline.Subscribe(r.Context(), req.FeedURL)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			http.Error(w, "could not fetch feed", http.StatusBadGateway)
			return
		}
		s.storageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return
	}
	if err := s.repo.DeleteSubscription(model.FeedID(id)); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Unread and starred handlers ---

func (s *Server) handleGetUnread(w http.ResponseWriter, _ *http.Request) {
	s.respondIDs(w, s.repo.GetUnread)
}

func (s *Server) handlePostUnread(w http.ResponseWriter, r *http.Request) {
	s.mutateSet(w, r, "unread_entries", s.repo.AddUnread)
}

func (s *Server) handleDeleteUnread(w http.ResponseWriter, r *http.Request) {
	s.mutateSet(w, r, "unread_entries", s.repo.DeleteUnread)
}

func (s *Server) handleGetStarred(w http.ResponseWriter, _ *http.Request) {
	s.respondIDs(w, s.repo.GetStarred)
}

func (s *Server) handlePostStarred(w http.ResponseWriter, r *http.Request) {
	s.mutateSet(w, r, "starred_entries", s.repo.AddStarred)
}

func (s *Server) handleDeleteStarred(w http.ResponseWriter, r *http.Request) {
	s.mutateSet(w, r, "starred_entries", s.repo.DeleteStarred)
}

func (s *Server) respondIDs(w http.ResponseWriter, get func() ([]model.EntryID, error)) {
	ids, err := get()
	if err != nil {
		s.storageError(w, err)
		return
	}
	if ids == nil {
		ids = []model.EntryID{}
	}
	respondJSON(w, http.StatusOK, ids)
}

func (s *Server) mutateSet(w http.ResponseWriter, r *http.Request, field string, apply func([]model.EntryID) error) {
	var body map[string][]model.EntryID
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ids, ok := body[field]
	if !ok {
		http.Error(w, field+" is required", http.StatusBadRequest)
		return
	}
	if err := apply(ids); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Entry handlers ---

func (s *Server) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	perPage, err := queryInt(r, "per_page", defaultPerPage)
	if err != nil {
		http.Error(w, "invalid per_page", http.StatusBadRequest)
		return
	}

	var entries []model.Entry
	if r.URL.Query().Get("starred") == "true" {
		entries, err = s.repo.GetStarredEntries(page, perPage)
	} else {
		entries, err = s.repo.GetEntries(page, perPage, splitTags(r.URL.Query().Get("tags")))
	}
	if err != nil {
		s.storageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// --- Tagging handlers ---

func (s *Server) handleGetTaggings(w http.ResponseWriter, _ *http.Request) {
	taggings, err := s.repo.GetTaggings()
	if err != nil {
		s.storageError(w, err)
		return
	}
	if taggings == nil {
		taggings = []model.Tagging{}
	}
	respondJSON(w, http.StatusOK, taggings)
}

func (s *Server) handleAddTagging(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeedID model.FeedID `json:"feed_id"`
		Name   string       `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "feed_id and name are required", http.StatusBadRequest)
		return
	}

	id, err := s.repo.NewTaggingID()
	if err != nil {
		s.storageError(w, err)
		return
	}
	tagging := &model.Tagging{ID: id, FeedID: req.FeedID, Name: req.Name}
	if err := s.repo.AddTagging(tagging); err != nil {
		s.storageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tagging)
}

func (s *Server) handleDeleteTagging(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid tagging id", http.StatusBadRequest)
		return
	}
	if err := s.repo.DeleteTagging(model.TaggingID(id)); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- Job handlers ---

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.RefreshAll(r.Context()); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- OPML handlers ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "no file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		http.Error(w, "could not parse OPML", http.StatusBadRequest)
		return
	}

	imported := 0
	for _, entry := range entries {
		sub, err := s.pipeline.Subscribe(r.Context(), entry.URL)
		if err != nil {
			log.Error("opml import: subscribe failed", "url", entry.URL, "err", err)
			continue
		}
		imported++
		for _, tag := range entry.Tags {
			id, err := s.repo.NewTaggingID()
			if err != nil {
				s.storageError(w, err)
				return
			}
			if err := s.repo.AddTagging(&model.Tagging{ID: id, FeedID: sub.FeedID, Name: tag}); err != nil {
				s.storageError(w, err)
				return
			}
		}
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"imported": imported,
		"total":    len(entries),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, _ *http.Request) {
	subs, err := s.repo.GetSubscriptions()
	if err != nil {
		s.storageError(w, err)
		return
	}
	taggings, err := s.repo.GetTaggings()
	if err != nil {
		s.storageError(w, err)
		return
	}

	tagsByFeed := make(map[model.FeedID][]string)
	for _, t := range taggings {
		tagsByFeed[t.FeedID] = append(tagsByFeed[t.FeedID], t.Name)
	}

	entries := make([]opml.FeedEntry, 0, len(subs))
	for _, sub := range subs {
		entries = append(entries, opml.FeedEntry{
			Tags:    tagsByFeed[sub.FeedID],
			Title:   sub.Title,
			URL:     sub.FeedURL,
			SiteURL: sub.SiteURL,
		})
	}

	data, err := opml.Export("feedbarn subscriptions", entries)
	if err != nil {
		s.storageError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=feedbarn.opml")
	w.Write(data)
}

// --- Helpers ---

func (s *Server) storageError(w http.ResponseWriter, err error) {
	log.Error("request failed", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response", "err", err)
	}
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
