package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"studiocore/internal/params"
	"studiocore/internal/run"
	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

// Session exposes the editing operations served over HTTP.
type Session interface {
	Entities(kind domain.EntityKind) []domain.Entity
	Entity(kind domain.EntityKind, name string) (domain.Entity, bool)
	Params(kind domain.EntityKind, name string) (params.ParameterSet, error)
	Settings() params.ParameterSet
	OutputFolder() string
	Create(ctx context.Context, kind domain.EntityKind, name, template string) (domain.Entity, domain.Result, error)
	Copy(ctx context.Context, kind domain.EntityKind, source string) (domain.Entity, domain.Result, error)
	Rename(ctx context.Context, kind domain.EntityKind, oldName, newName string) (domain.Result, error)
	Delete(ctx context.Context, kind domain.EntityKind, name string) (domain.Result, error)
	Set(ctx context.Context, kind domain.EntityKind, name, key, value string) (domain.Result, error)
	SetSetting(ctx context.Context, key, value string) (domain.Result, error)
	Validate(ctx context.Context) (domain.Result, error)
	Check(kind domain.EntityKind, key, value string) validation.Signal
	Flush(ctx context.Context) (domain.Result, error)
	Serialize() []byte
}

// Runner starts and stops simulation runs.
type Runner interface {
	Start(ctx context.Context, req run.Request) error
	Cancel() error
	State() run.State
	ExitStatus() (run.ExitStatus, bool)
}

// RunConfig fixes what a POST to the runs endpoint launches. Clients cannot
// choose the executable.
type RunConfig struct {
	Executable  string
	Document    string
	ResetOutput bool
}

// Handler provides HTTP access to an editing session and its run controller.
type Handler struct {
	Session Session
	Runs    Runner
	Run     RunConfig
}

// NewHandler constructs a session HTTP handler.
func NewHandler(s Session) *Handler {
	return &Handler{Session: s}
}

const prefix = "/api/v1/"

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Session == nil {
		writeError(w, http.StatusInternalServerError, "session not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	if !strings.HasPrefix(path, prefix) {
		http.NotFound(w, r)
		return
	}
	segments := strings.Split(strings.TrimPrefix(path, prefix), "/")
	switch segments[0] {
	case "settings":
		h.handleSettings(w, r, segments[1:])
	case "validate":
		if !allow(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		res, err := h.Session.Validate(r.Context())
		h.respond(w, http.StatusOK, nil, res, err)
	case "check":
		if !allow(w, r, http.MethodPost) {
			return
		}
		h.handleCheck(w, r)
	case "document":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleDocument(w, r)
	case "runs":
		if h.Runs == nil {
			http.NotFound(w, r)
			return
		}
		h.handleRuns(w, r, segments[1:])
	default:
		kind, ok := parseKind(segments[0])
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.handleEntities(w, r, kind, segments[1:])
	}
}

func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request, kind domain.EntityKind, rest []string) {
	switch len(rest) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"entities": h.Session.Entities(kind)})
		case http.MethodPost:
			h.handleCreate(w, r, kind)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case 1:
		name := rest[0]
		switch r.Method {
		case http.MethodGet:
			h.handleEntity(w, kind, name)
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
			}
			if !decode(w, r, &body) {
				return
			}
			res, err := h.Session.Rename(r.Context(), kind, name, body.Name)
			h.respond(w, http.StatusOK, nil, res, err)
		case http.MethodDelete:
			res, err := h.Session.Delete(r.Context(), kind, name)
			h.respond(w, http.StatusOK, nil, res, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case 3:
		if rest[1] != "params" {
			writeError(w, http.StatusNotFound, "endpoint not found")
			return
		}
		if !allow(w, r, http.MethodPut) {
			return
		}
		var body struct {
			Value string `json:"value"`
		}
		if !decode(w, r, &body) {
			return
		}
		res, err := h.Session.Set(r.Context(), kind, rest[0], rest[2], body.Value)
		h.respond(w, http.StatusOK, nil, res, err)
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

func (h *Handler) handleEntity(w http.ResponseWriter, kind domain.EntityKind, name string) {
	entity, ok := h.Session.Entity(kind, name)
	if !ok {
		writeError(w, http.StatusNotFound, domain.NotFoundError{Kind: kind, Name: name}.Error())
		return
	}
	ps, err := h.Session.Params(kind, name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": entity, "params": ps})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request, kind domain.EntityKind) {
	var body struct {
		Name     string `json:"name"`
		Template string `json:"template"`
		CopyOf   string `json:"copy_of"`
	}
	if !decode(w, r, &body) {
		return
	}
	var (
		entity domain.Entity
		res    domain.Result
		err    error
	)
	if body.CopyOf != "" {
		entity, res, err = h.Session.Copy(r.Context(), kind, body.CopyOf)
	} else {
		entity, res, err = h.Session.Create(r.Context(), kind, body.Name, body.Template)
	}
	h.respond(w, http.StatusCreated, map[string]any{"entity": entity}, res, err)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"settings":      h.Session.Settings(),
			"output_folder": h.Session.OutputFolder(),
		})
	case len(rest) == 1 && r.Method == http.MethodPut:
		var body struct {
			Value string `json:"value"`
		}
		if !decode(w, r, &body) {
			return
		}
		res, err := h.Session.SetSetting(r.Context(), rest[0], body.Value)
		h.respond(w, http.StatusOK, nil, res, err)
	case len(rest) <= 1:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind  string `json:"kind"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if !decode(w, r, &body) {
		return
	}
	var kind domain.EntityKind
	if body.Kind != "" {
		k, ok := parseKind(body.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown entity kind "+body.Kind)
			return
		}
		kind = k
	}
	sig := h.Session.Check(kind, body.Key, body.Value)
	writeJSON(w, http.StatusOK, map[string]any{
		"code":          sig.Code.String(),
		"warning":       sig.IsWarning(),
		"suggested_max": sig.SuggestedMax,
		"message":       sig.Message,
	})
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Flush(r.Context())
	if err != nil {
		h.respond(w, http.StatusOK, nil, res, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.Session.Serialize())
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		if h.Run.Executable == "" || h.Run.Document == "" {
			writeError(w, http.StatusServiceUnavailable, "run executable not configured")
			return
		}
		err := h.Runs.Start(context.WithoutCancel(r.Context()), run.Request{
			Executable:  h.Run.Executable,
			Document:    h.Run.Document,
			OutputDir:   h.Session.OutputFolder(),
			ResetOutput: h.Run.ResetOutput,
		})
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, h.runStatus())
	case len(rest) == 1 && rest[0] == "current":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.runStatus())
		case http.MethodDelete:
			if err := h.Runs.Cancel(); err != nil {
				writeError(w, statusFor(err), err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, h.runStatus())
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "endpoint not found")
	}
}

func (h *Handler) runStatus() map[string]any {
	out := map[string]any{"state": h.Runs.State().String()}
	if st, ok := h.Runs.ExitStatus(); ok {
		last := map[string]any{"state": st.State.String(), "code": st.Code}
		if st.Signal != "" {
			last["signal"] = st.Signal
		}
		if st.Err != nil {
			last["error"] = st.Err.Error()
		}
		out["last"] = last
	}
	return out
}

// respond writes the outcome of a mutating call. Rule violations travel with
// successful responses as well as blocked ones.
func (h *Handler) respond(w http.ResponseWriter, status int, payload map[string]any, res domain.Result, err error) {
	var blocked domain.RuleViolationError
	if errors.As(err, &blocked) {
		res = blocked.Result
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["violations"] = violations(res)
	if err != nil {
		payload["error"] = err.Error()
		writeJSON(w, statusFor(err), payload)
		return
	}
	writeJSON(w, status, payload)
}

type violationJSON struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Kind     string `json:"kind,omitempty"`
	Entity   string `json:"entity,omitempty"`
	Key      string `json:"key,omitempty"`
}

func violations(res domain.Result) []violationJSON {
	out := make([]violationJSON, 0, len(res.Violations))
	for _, v := range res.Violations {
		out = append(out, violationJSON{
			Rule:     v.Rule,
			Severity: string(v.Severity),
			Message:  v.Message,
			Kind:     string(v.Kind),
			Entity:   v.Entity,
			Key:      v.Key,
		})
	}
	return out
}

func statusFor(err error) int {
	var (
		notFound  domain.NotFoundError
		duplicate domain.DuplicateNameError
		last      domain.LastEntityError
		invalid   domain.InvalidNameError
		unknown   domain.UnknownKeyError
		blocked   domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &duplicate), errors.As(err, &last),
		errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning):
		return http.StatusConflict
	case errors.As(err, &invalid), errors.As(err, &unknown):
		return http.StatusBadRequest
	case errors.As(err, &blocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrExecutableNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseKind(segment string) (domain.EntityKind, bool) {
	switch segment {
	case "cell_types", "cell_type":
		return domain.KindCellType, true
	case "substrates", "substrate":
		return domain.KindSubstrate, true
	}
	return "", false
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
