// Package api exposes the repository over HTTP: per-collection CRUD and
// versioning, mutation and transformation triggers, job inspection, audit
// reads, and operational endpoints (health, metrics).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratadb/pkg/audit"
	"stratadb/pkg/jobs"
	"stratadb/pkg/repo"
	"stratadb/pkg/utils"
	"stratadb/pkg/validation"
	"stratadb/pkg/versions"
)

func isNotFound(err error) bool {
	return errors.Is(err, versions.ErrItemNotFound)
}

// Server routes HTTP requests to registered collections.
type Server struct {
	repo        *repo.Repo
	collections map[string]*repo.Collection
	maxBody     int64
}

// NewServer builds the HTTP surface for the given collections, keyed by
// collection name. maxBody caps request body size; zero means 1MB.
func NewServer(r *repo.Repo, collections map[string]*repo.Collection, maxBody int64) *Server {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Server{repo: r, collections: collections, maxBody: maxBody}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs/{job}", s.getJob).Methods(http.MethodGet)

	c := v1.PathPrefix("/collections/{collection}").Subrouter()
	c.HandleFunc("/items", s.createItem).Methods(http.MethodPost)
	c.HandleFunc("/items", s.listItems).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}", s.getItem).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}", s.updateItem).Methods(http.MethodPatch)
	c.HandleFunc("/items/{id}", s.deleteItem).Methods(http.MethodDelete)
	c.HandleFunc("/items/{id}/versions", s.listVersions).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}/mutations/{name}", s.runMutation).Methods(http.MethodPost)
	c.HandleFunc("/items/{id}/mutations/{name}", s.getMutation).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}/transformations/{name}", s.runTransformation).Methods(http.MethodPost)
	c.HandleFunc("/items/{id}/transformations/{name}", s.getTransformation).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}/audit", s.getAudit).Methods(http.MethodGet)
	c.HandleFunc("/items/{id}/audit/export", s.exportAudit).Methods(http.MethodGet)
	c.HandleFunc("/queues/{name}/stats", s.queueStats).Methods(http.MethodGet)
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*repo.Collection, bool) {
	name := mux.Vars(r)["collection"]
	c, ok := s.collections[name]
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "unknown collection: "+name)
		return nil, false
	}
	return c, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, bool) {
	var data map[string]interface{}
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(&data); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	return data, true
}

// writeError maps domain errors onto status codes: validation and unknown
// names are the caller's fault, absent records are 404, everything else is a
// server error.
func writeError(w http.ResponseWriter, err error) {
	var ve *validation.ValidationError
	var ume *repo.UnknownMutationError
	var ute *repo.UnknownTransformationError
	switch {
	case errors.As(err, &ve):
		utils.JSONError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ume), errors.As(err, &ute):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobNotFound):
		utils.JSONError(w, http.StatusNotFound, "job not found")
	case isNotFound(err):
		utils.JSONError(w, http.StatusNotFound, "not found")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	data, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	item, err := c.Create(data)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, map[string]interface{}{"id": item.ID, "version": item.Version})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := c.List(limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := c.Count()
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"items": items, "total": count})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	var item interface{}
	var err error
	if v := r.URL.Query().Get("version"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			utils.JSONError(w, http.StatusBadRequest, "invalid version")
			return
		}
		item, err = c.Get(id, n)
	} else {
		item, err = c.Get(id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"item": item})
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	patch, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	item, err := c.Update(mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"version": item.Version})
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	deleted, err := c.Delete(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	infos, err := c.ListVersions(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"versions": infos})
}

func (s *Server) runMutation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if r.URL.Query().Get("materialize") == "true" {
		mat, err := c.MaterializeMutation(vars["id"], vars["name"])
		if err != nil {
			writeError(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, mat)
		return
	}
	result, err := c.RunMutation(vars["id"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) getMutation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	mat, err := c.GetMutation(vars["id"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, mat)
}

func (s *Server) runTransformation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	jobID, err := c.RunTransformation(vars["id"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getTransformation(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	res, err := c.GetTransformationByName(vars["id"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.repo.GetJob(mux.Vars(r)["job"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, job)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	opts := audit.Options{
		Count:   limit,
		Reverse: r.URL.Query().Get("reverse") == "true",
	}
	entries, err := c.AuditTrail(mux.Vars(r)["id"], opts)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) exportAudit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	stats, err := c.AuditStats(id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := c.AuditTrail(id, audit.Options{})
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"stats": stats, "entries": entries})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	stats, err := c.QueueStats(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, stats)
}
