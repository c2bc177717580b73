package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/starfield/internal/httputil"
	"github.com/banshee-data/starfield/internal/sky/journal"
	"github.com/banshee-data/starfield/internal/sky/pipeline"
	"github.com/banshee-data/starfield/internal/version"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// commandResponse is the body of a successful command.
type commandResponse struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Path    string `json:"path,omitempty"`
	State   *bool  `json:"state,omitempty"`
}

type historyResponse struct {
	Session        string                        `json:"session"`
	Frames         []journal.FrameStats          `json:"frames"`
	Constellations []journal.ConstellationRecord `json:"constellations"`
}

type featuresRequest struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":    "ok",
		"service":   "starfield",
		"version":   version.Version,
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSky(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.runner.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		httputil.NotFound(w, "journal not configured")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			httputil.BadRequest(w, fmt.Sprintf("limit must be 1..%d", maxHistoryLimit))
			return
		}
		limit = n
	}

	frames, err := s.journal.Frames(limit)
	if errors.Is(err, journal.ErrNoSession) {
		httputil.NotFound(w, "no journal session")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	cons, err := s.journal.Constellations(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, historyResponse{Session: s.journal.Session(), Frames: frames, Constellations: cons})
}

func (s *Server) handleConstellations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.runner.Snapshot().Constellations)
	case http.MethodPost:
		res, ok := s.do(w, r, pipeline.Command{Kind: pipeline.AddConstellation})
		if !ok {
			return
		}
		if !res.Outcome.OK() {
			httputil.Conflict(w, "no constellation formed: "+res.Outcome.String())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, commandResponse{
			Command: res.Kind.String(),
			Name:    res.Name,
			Outcome: res.Outcome.String(),
		})
	case http.MethodDelete:
		if res, ok := s.do(w, r, pipeline.Command{Kind: pipeline.ClearConstellations}); ok {
			httputil.WriteJSONOK(w, commandResponse{Command: res.Kind.String()})
		}
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (s *Server) handleConstellation(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	switch r.Method {
	case http.MethodGet:
		c := s.runner.Snapshot().Constellation(name)
		if c == nil {
			httputil.NotFound(w, fmt.Sprintf("no constellation %q", name))
			return
		}
		httputil.WriteJSONOK(w, c)
	case http.MethodDelete:
		if res, ok := s.do(w, r, pipeline.Command{Kind: pipeline.RemoveConstellation, Name: name}); ok {
			httputil.WriteJSONOK(w, commandResponse{Command: res.Kind.String(), Name: res.Name})
		}
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// handleSimple serves POST-only commands that take no arguments.
func (s *Server) handleSimple(kind pipeline.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		if res, ok := s.do(w, r, pipeline.Command{Kind: kind}); ok {
			httputil.WriteJSONOK(w, commandResponse{Command: res.Kind.String()})
		}
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if res, ok := s.do(w, r, pipeline.Command{Kind: pipeline.Capture}); ok {
		httputil.WriteJSON(w, http.StatusCreated, commandResponse{Command: res.Kind.String(), Path: res.Path})
	}
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	var req featuresRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Max < 1 || req.Min < 0 || req.Min > req.Max {
		httputil.BadRequest(w, "need 0 <= min <= max and max >= 1")
		return
	}
	if res, ok := s.do(w, r, pipeline.Command{Kind: pipeline.SetNumFeatures, Min: req.Min, Max: req.Max}); ok {
		httputil.WriteJSONOK(w, commandResponse{Command: res.Kind.String()})
	}
}

var toggles = map[string]pipeline.CommandKind{
	"auto":      pipeline.ToggleAuto,
	"pause":     pipeline.TogglePause,
	"normalise": pipeline.ToggleNormalise,
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	kind, known := toggles[r.PathValue("what")]
	if !known {
		httputil.NotFound(w, fmt.Sprintf("unknown toggle %q", r.PathValue("what")))
		return
	}
	if res, ok := s.do(w, r, pipeline.Command{Kind: kind}); ok {
		state := res.State
		httputil.WriteJSONOK(w, commandResponse{Command: res.Kind.String(), State: &state})
	}
}

// do queues cmd and waits for the frame loop to run it. On failure the
// error response has already been written.
func (s *Server) do(w http.ResponseWriter, r *http.Request, cmd pipeline.Command) (pipeline.Result, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := s.runner.Do(ctx, cmd)
	if err == nil {
		return res, true
	}
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, pipeline.ErrUnknownConstellation):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, pipeline.ErrNoCapturer):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		httputil.WriteJSONError(w, http.StatusGatewayTimeout, fmt.Sprintf("%s: frame loop did not respond", cmd.Kind))
	default:
		httputil.InternalServerError(w, err.Error())
	}
	return res, false
}
