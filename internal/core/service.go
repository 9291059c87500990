// Package core implements the configuration editing session: entity lifecycle
// inside rule-checked transactions, settings, custom data and user parameters,
// autosave and run archiving.
package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"studiocore/internal/document"
	"studiocore/internal/params"
	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

//go:embed templates/default.xml
var defaultTemplate []byte

// DefaultTemplate returns the document a new session starts from.
func DefaultTemplate() []byte {
	return append([]byte(nil), defaultTemplate...)
}

// Service owns one editing session. All methods are safe for concurrent use;
// mutations are serialized through RunInTransaction.
type Service struct {
	mu       sync.RWMutex
	state    session
	source   string
	revision int64

	engine   *domain.RulesEngine
	logger   Logger
	clock    Clock
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	sessions domain.SessionStore
}

// NewService returns a session holding the default template document.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		engine:  NewDefaultRulesEngine(),
		logger:  noopLogger{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		audit:   noopAudit{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	state, err := loadSession(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("core: default template: %v", err))
	}
	s.state = state
	return s
}

func loadSession(data []byte) (session, error) {
	doc, err := document.Parse(data)
	if err != nil {
		return session{}, err
	}
	store, err := params.Load(doc)
	if err != nil {
		return session{}, err
	}
	return session{doc: doc, store: store}, nil
}

// run wraps an operation with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op string, kind domain.EntityKind, entity string, fn func(context.Context) (domain.Result, error)) (domain.Result, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := fn(ctx)
	span.End(err)
	elapsed := time.Since(started)
	s.metrics.Observe(ctx, op, err == nil, elapsed)

	entry := AuditEntry{
		Operation: op,
		Kind:      kind,
		Entity:    entity,
		Status:    AuditStatusSuccess,
		Warnings:  len(res.Warnings()),
		Duration:  elapsed,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "kind", kind, "entity", entity, "error", err)
	} else {
		s.logger.Info("operation completed", "operation", op, "kind", kind, "entity", entity, "duration", elapsed)
	}
	s.audit.Record(ctx, entry)
	return res, err
}

// Load replaces the session with the parsed document. On any parse, schema
// or blocking rule failure the previous session is kept.
func (s *Service) Load(ctx context.Context, data []byte, source string) (domain.Result, error) {
	return s.run(ctx, "load", "", source, func(ctx context.Context) (domain.Result, error) {
		state, err := loadSession(data)
		if err != nil {
			return domain.Result{}, err
		}
		res, err := s.engine.Evaluate(ctx, newTransactionView(state), nil)
		if err != nil {
			return domain.Result{}, err
		}
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
		s.mu.Lock()
		s.state = state
		s.source = source
		s.revision++
		snap := s.snapshotLocked(s.clock.Now())
		s.mu.Unlock()
		s.autosave(ctx, snap)
		return res, nil
	})
}

// LoadFile loads the document stored at path.
func (s *Service) LoadFile(ctx context.Context, path string) (domain.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read document: %w", err)
	}
	return s.Load(ctx, data, path)
}

// Source returns where the current document was loaded from.
func (s *Service) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Revision counts committed changes since the service was created.
func (s *Service) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Entities lists the entities of kind in ID order.
func (s *Service) Entities(kind domain.EntityKind) []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Entities(kind)
}

// Entity returns a single entity.
func (s *Service) Entity(kind domain.EntityKind, name string) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Entity(kind, name)
}

// Get returns a parameter value; keys outside the declared field set fail
// with domain.UnknownKeyError.
func (s *Service) Get(kind domain.EntityKind, name, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Get(kind, name, key)
}

// Lookup returns a parameter value without checking the field set.
func (s *Service) Lookup(kind domain.EntityKind, name, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Lookup(kind, name, key)
}

// Params returns a copy of an entity's parameter set.
func (s *Service) Params(kind domain.EntityKind, name string) (params.ParameterSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.state.store.Params(kind, name)
	if !ok {
		return nil, domain.NotFoundError{Kind: kind, Name: name}
	}
	return ps, nil
}

// Setting returns a simulation setting.
func (s *Service) Setting(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Setting(key)
}

// Settings returns all simulation settings.
func (s *Service) Settings() params.ParameterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.Settings()
}

// OutputFolder is the directory the simulation writes its artifacts to.
func (s *Service) OutputFolder() string {
	v, _ := s.Setting("folder")
	return v
}

// CustomVariables lists the custom data variables.
func (s *Service) CustomVariables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.CustomVariables()
}

// UserParameters lists the user parameters in document order.
func (s *Service) UserParameters() []params.UserParameter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.store.UserParameters()
}

// Create adds an entity, optionally cloned from template.
func (s *Service) Create(ctx context.Context, kind domain.EntityKind, name, template string) (domain.Entity, domain.Result, error) {
	var created domain.Entity
	res, err := s.run(ctx, "create", kind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			var err error
			created, err = tx.Create(kind, name, template)
			return err
		})
	})
	return created, res, err
}

// Copy duplicates an entity under a generated name.
func (s *Service) Copy(ctx context.Context, kind domain.EntityKind, source string) (domain.Entity, domain.Result, error) {
	var created domain.Entity
	res, err := s.run(ctx, "copy", kind, source, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			var err error
			created, err = tx.Copy(kind, source)
			return err
		})
	})
	return created, res, err
}

// Rename re-keys an entity and every reference to it.
func (s *Service) Rename(ctx context.Context, kind domain.EntityKind, oldName, newName string) (domain.Result, error) {
	return s.run(ctx, "rename", kind, oldName, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.Rename(kind, oldName, newName)
		})
	})
}

// Delete removes an entity.
func (s *Service) Delete(ctx context.Context, kind domain.EntityKind, name string) (domain.Result, error) {
	return s.run(ctx, "delete", kind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.Delete(kind, name)
		})
	})
}

// Set writes a parameter value. Plausibility warnings are reported in the
// result and never block the write.
func (s *Service) Set(ctx context.Context, kind domain.EntityKind, name, key, value string) (domain.Result, error) {
	return s.run(ctx, "set", kind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.Set(kind, name, key, value)
		})
	})
}

// SetFixed writes the paired fixed flags of a phase group (cycle, apoptosis).
func (s *Service) SetFixed(ctx context.Context, name, group string, fixed bool) (domain.Result, error) {
	return s.run(ctx, "set_fixed", domain.KindCellType, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.SetFixed(name, group, fixed)
		})
	})
}

// SetSetting writes a simulation setting.
func (s *Service) SetSetting(ctx context.Context, key, value string) (domain.Result, error) {
	return s.run(ctx, "set_setting", "", key, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.SetSetting(key, value)
		})
	})
}

// SetVisible toggles the visibility flag of an entity.
func (s *Service) SetVisible(ctx context.Context, kind domain.EntityKind, name string, visible bool) (domain.Result, error) {
	return s.run(ctx, "set_visible", kind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.SetVisible(kind, name, visible)
		})
	})
}

// AddCustomVariable registers a custom data variable on every cell type.
func (s *Service) AddCustomVariable(ctx context.Context, name, value string) (domain.Result, error) {
	return s.run(ctx, "add_custom_variable", params.CustomDataKind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.AddCustomVariable(name, value)
		})
	})
}

// RenameCustomVariable renames a custom data variable.
func (s *Service) RenameCustomVariable(ctx context.Context, oldName, newName string) (domain.Result, error) {
	return s.run(ctx, "rename_custom_variable", params.CustomDataKind, oldName, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.RenameCustomVariable(oldName, newName)
		})
	})
}

// RemoveCustomVariable drops a custom data variable.
func (s *Service) RemoveCustomVariable(ctx context.Context, name string) (domain.Result, error) {
	return s.run(ctx, "remove_custom_variable", params.CustomDataKind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.RemoveCustomVariable(name)
		})
	})
}

// AddUserParameter appends a user parameter.
func (s *Service) AddUserParameter(ctx context.Context, p params.UserParameter) (domain.Result, error) {
	return s.run(ctx, "add_user_parameter", params.UserParameterKind, p.Name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.AddUserParameter(p)
		})
	})
}

// SetUserParameter updates a user parameter value.
func (s *Service) SetUserParameter(ctx context.Context, name, value string) (domain.Result, error) {
	return s.run(ctx, "set_user_parameter", params.UserParameterKind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.SetUserParameter(name, value)
		})
	})
}

// RemoveUserParameter deletes a user parameter.
func (s *Service) RemoveUserParameter(ctx context.Context, name string) (domain.Result, error) {
	return s.run(ctx, "remove_user_parameter", params.UserParameterKind, name, func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			return tx.RemoveUserParameter(name)
		})
	})
}

// Flush writes the whole parameter store into the document, including
// defaults for fields the loaded document did not spell out.
func (s *Service) Flush(ctx context.Context) (domain.Result, error) {
	return s.run(ctx, "flush", "", "", func(ctx context.Context) (domain.Result, error) {
		return s.RunInTransaction(ctx, func(tx *Transaction) error {
			tx.FlushAll()
			return nil
		})
	})
}

// Validate evaluates every rule against the whole session.
func (s *Service) Validate(ctx context.Context) (domain.Result, error) {
	return s.run(ctx, "validate", "", "", func(ctx context.Context) (domain.Result, error) {
		s.mu.RLock()
		view := newTransactionView(s.state)
		s.mu.RUnlock()
		return s.engine.Evaluate(ctx, view, nil)
	})
}

// Check evaluates a prospective value against its time step without storing
// it. Keys without a time-step binding yield validation.None.
func (s *Service) Check(kind domain.EntityKind, key, value string) validation.Signal {
	binding, ok := params.BindingFor(kind, key)
	if !ok {
		return validation.Signal{Code: validation.None}
	}
	dt, _ := s.Setting(string(binding.TimeStep))
	return validation.Check(value, binding, dt)
}

// Serialize renders the current document.
func (s *Service) Serialize() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return document.Serialize(s.state.doc)
}

// SaveFile flushes the session and writes the document to path.
func (s *Service) SaveFile(ctx context.Context, path string) error {
	_, err := s.run(ctx, "save", "", path, func(ctx context.Context) (domain.Result, error) {
		res, err := s.RunInTransaction(ctx, func(tx *Transaction) error {
			tx.FlushAll()
			return nil
		})
		if err != nil {
			return res, err
		}
		if err := os.WriteFile(path, s.Serialize(), 0o644); err != nil {
			return res, fmt.Errorf("write document: %w", err)
		}
		return res, nil
	})
	return err
}

// WriteDocument implements run.DocumentWriter.
func (s *Service) WriteDocument(ctx context.Context, path string) error {
	return s.SaveFile(ctx, path)
}

func (s *Service) snapshotLocked(now time.Time) domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Document: document.Serialize(s.state.doc),
		Source:   s.source,
		Revision: s.revision,
		SavedAt:  now,
	}
}

func (s *Service) autosave(ctx context.Context, snap domain.SessionSnapshot) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.SaveSession(ctx, snap); err != nil {
		s.logger.Warn("session autosave failed", "revision", snap.Revision, "error", err)
	}
}

// ErrNoSessionStore is returned by Restore when no store is configured.
var ErrNoSessionStore = errors.New("core: no session store configured")

// Restore reloads the latest autosaved snapshot. ok is false when the store
// holds none.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.sessions == nil {
		return false, ErrNoSessionStore
	}
	snap, ok, err := s.sessions.LoadSession(ctx)
	if err != nil || !ok {
		return false, err
	}
	_, err = s.run(ctx, "restore", "", snap.Source, func(ctx context.Context) (domain.Result, error) {
		state, err := loadSession(snap.Document)
		if err != nil {
			return domain.Result{}, err
		}
		s.mu.Lock()
		s.state = state
		s.source = snap.Source
		s.revision = snap.Revision
		s.mu.Unlock()
		return domain.Result{}, nil
	})
	return err == nil, err
}
