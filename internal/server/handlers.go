package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"

	"gitdeployer/internal/history"
	"gitdeployer/internal/runner"
	"gitdeployer/internal/security"
	"gitdeployer/internal/target"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB
)

// HandleDeploy triggers a deployment of a target.
//
// Query parameters: wait=true runs the deployment within the request and
// returns it, dry_run=true previews it, reprocess_all=true processes every
// file of the tree.
func (s *Server) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	t, ok := s.target(w, r)
	if !ok {
		return
	}

	if !VerifyBearer(r.Header.Get("Authorization"), t.Secret) {
		s.respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or missing bearer token"})
		return
	}

	var wait bool
	opts := runner.Options{Trigger: history.TriggerHTTP}
	for name, dst := range map[string]*bool{
		"wait":          &wait,
		"dry_run":       &opts.DryRun,
		"reprocess_all": &opts.ReprocessAll,
	} {
		v, err := queryBool(r, name)
		if err != nil {
			s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		*dst = v
	}

	if !wait {
		id, err := s.Runner.Start(s.baseCtx, t.ID, opts)
		if err != nil {
			s.respondError(w, t.ID, err)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"message":       "Deployment accepted",
			"target":        t.ID,
			"deployment_id": id,
		})
		return
	}

	// The run may take longer than the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.Logger.Debug("Could not lift write deadline", "error", err)
	}

	d, err := s.Runner.Deploy(r.Context(), t.ID, opts)
	if err != nil {
		s.respondError(w, t.ID, err)
		return
	}

	status := http.StatusOK
	if !d.Succeeded() {
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, status, d)
}

// HandleWebhook handles GitHub webhook requests
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	t, ok := s.target(w, r)
	if !ok {
		return
	}

	if t.Secret == "" {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Webhooks are not enabled for this target"})
		return
	}

	// Check payload size (ContentLength can be -1 if not set, so check for both > 0 and > max)
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	event := github.WebHookType(r)
	if event != "push" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "target", t.ID)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	if !VerifySignature(body, r.Header.Get(github.SHA256SignatureHeader), t.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	parsed, err := github.ParseWebHook(event, body)
	if err != nil {
		s.Logger.Warn("Failed to parse webhook payload", "error", err, "target", t.ID)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}
	push, ok := parsed.(*github.PushEvent)
	if !ok || push.GetRef() == "" {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Missing payload, skipping"})
		return
	}

	if !t.MatchesRef(push.GetRef()) {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}
	if push.GetDeleted() {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted, skipping"})
		return
	}

	// GitHub gives up after 10 seconds, so the run is asynchronous.
	id, err := s.Runner.Start(s.baseCtx, t.ID, runner.Options{Trigger: history.TriggerWebhook})
	if err != nil {
		s.respondError(w, t.ID, err)
		return
	}

	s.Logger.Info("Deployment accepted", "target", t.ID, "deployment_id", id, "after", push.GetAfter())
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message":       "Deployment accepted",
		"target":        t.ID,
		"deployment_id": id,
	})
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":       "ok",
		"targets":      s.Runner.Targets.List(),
		"target_count": s.Runner.Targets.Count(),
	}

	if s.Runner.History != nil {
		latest, err := s.Runner.History.GetAllTargetsStatus(r.Context())
		if err != nil {
			s.Logger.Error("Failed to get targets status", "error", err)
			s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
			return
		}

		statuses := make(map[string]string, len(latest))
		for id, record := range latest {
			statuses[id] = record.Status
		}
		response["latest_status"] = statuses
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus returns the processed revision and the recent deployments of
// a target.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := s.target(w, r)
	if !ok {
		return
	}

	status, err := s.Runner.Status(r.Context(), t.ID)
	if err != nil {
		s.Logger.Error("Failed to get target status", "error", err, "target", t.ID)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

// target resolves the {target} URL parameter, writing the error response
// when it is invalid or unknown.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (*target.Target, bool) {
	id := chi.URLParam(r, "target")

	if err := security.ValidateTargetID(id); err != nil {
		s.Logger.Warn("Invalid target in request", "target", id, "path", r.URL.Path, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid target: %v", err)})
		return nil, false
	}

	t, err := s.Runner.Targets.Get(id)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
		return nil, false
	}
	return t, true
}

func (s *Server) respondError(w http.ResponseWriter, targetID string, err error) {
	switch {
	case errors.Is(err, runner.ErrUnknownTarget):
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown target"})
	case errors.Is(err, runner.ErrDeploymentInProgress):
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "Deployment already in progress"})
	default:
		s.Logger.Error("Deployment could not start", "error", err, "target", targetID)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Deployment could not start"})
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", name, raw)
	}
	return v, nil
}
