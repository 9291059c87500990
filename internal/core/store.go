package core

import (
	"context"
	"fmt"
	"time"

	"studiocore/internal/document"
	"studiocore/internal/params"
	"studiocore/pkg/domain"
)

// session is the state a transaction works on: the document tree and the
// parameter store mirroring it.
type session struct {
	doc   *document.Document
	store *params.Store
}

func (s session) clone() session {
	return session{doc: s.doc.Clone(), store: s.store.Clone()}
}

// Transaction provides mutation helpers over a private copy of the session.
// Nothing it does is visible until RunInTransaction commits.
type Transaction struct {
	state   session
	changes []domain.Change
	now     time.Time

	flushAll      bool
	dirty         map[entityRef]struct{}
	settingsDirty bool
	userDirty     bool
}

type entityRef struct {
	kind domain.EntityKind
	name string
}

func newTransaction(state session, now time.Time) *Transaction {
	return &Transaction{
		state: state,
		now:   now,
		dirty: make(map[entityRef]struct{}),
	}
}

// Now returns the transaction timestamp.
func (tx *Transaction) Now() time.Time { return tx.now }

// Changes returns the change journal recorded so far.
func (tx *Transaction) Changes() []domain.Change {
	return append([]domain.Change(nil), tx.changes...)
}

func (tx *Transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *Transaction) markDirty(kind domain.EntityKind, name string) {
	tx.dirty[entityRef{kind: kind, name: name}] = struct{}{}
}

// flush writes the touched parts of the parameter store into the document.
func (tx *Transaction) flush() error {
	if tx.flushAll {
		return tx.state.store.FlushAll(tx.state.doc)
	}
	if tx.settingsDirty {
		if err := tx.state.store.FlushSettings(tx.state.doc); err != nil {
			return err
		}
	}
	if tx.userDirty {
		if err := tx.state.store.FlushUserParameters(tx.state.doc); err != nil {
			return err
		}
	}
	for _, kind := range domain.Kinds() {
		for _, name := range tx.state.store.Names(kind) {
			if _, ok := tx.dirty[entityRef{kind: kind, name: name}]; !ok {
				continue
			}
			if err := tx.state.store.Flush(kind, name, tx.state.doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// Entities lists the entities of kind in ID order.
func (tx *Transaction) Entities(kind domain.EntityKind) []domain.Entity {
	return tx.state.store.Entities(kind)
}

// Get reads a parameter, failing on keys outside the declared field set.
func (tx *Transaction) Get(kind domain.EntityKind, name, key string) (string, error) {
	return tx.state.store.Get(kind, name, key)
}

// Set writes a validated parameter value.
func (tx *Transaction) Set(kind domain.EntityKind, name, key, value string) error {
	before, _ := tx.state.store.Lookup(kind, name, key)
	if err := tx.state.store.Set(kind, name, key, value, true); err != nil {
		return err
	}
	tx.markDirty(kind, name)
	tx.recordChange(domain.Change{Kind: kind, Entity: name, Action: domain.ActionUpdate, Key: key, Before: before, After: value})
	return nil
}

// fixedGroups are the phase groups whose duration and transition rate carry a
// shared "fixed" flag.
var fixedGroups = []string{"cycle", "apoptosis"}

// SetFixed updates the paired fixed flags of a cell type phase group.
func (tx *Transaction) SetFixed(name, group string, fixed bool) error {
	keys := []string{group + "_duration_fixed", group + "_trate_fixed"}
	known := false
	for _, g := range fixedGroups {
		known = known || g == group
	}
	if !known {
		return domain.UnknownKeyError{Kind: domain.KindCellType, Entity: name, Key: keys[0]}
	}
	value := fmt.Sprint(fixed)
	for _, key := range keys {
		before, _ := tx.state.store.Lookup(domain.KindCellType, name, key)
		if err := tx.state.store.Set(domain.KindCellType, name, key, value, false); err != nil {
			return err
		}
		tx.recordChange(domain.Change{Kind: domain.KindCellType, Entity: name, Action: domain.ActionUpdate, Key: key, Before: before, After: value})
	}
	tx.markDirty(domain.KindCellType, name)
	return nil
}

// SetSetting writes a simulation setting.
func (tx *Transaction) SetSetting(key, value string) error {
	before, err := tx.state.store.Setting(key)
	if err != nil {
		return err
	}
	if err := tx.state.store.SetSetting(key, value); err != nil {
		return err
	}
	tx.settingsDirty = true
	tx.recordChange(domain.Change{Action: domain.ActionUpdate, Key: key, Before: before, After: value})
	return nil
}

// SetVisible toggles the visibility flag of an entity.
func (tx *Transaction) SetVisible(kind domain.EntityKind, name string, visible bool) error {
	if err := tx.state.store.SetVisible(kind, name, visible); err != nil {
		return err
	}
	tx.markDirty(kind, name)
	tx.recordChange(domain.Change{Kind: kind, Entity: name, Action: domain.ActionUpdate, Key: "visible", After: fmt.Sprint(visible)})
	return nil
}

// AddCustomVariable registers a custom data variable on every cell type.
func (tx *Transaction) AddCustomVariable(name, value string) error {
	if err := tx.state.store.AddCustomVariable(name, value); err != nil {
		return err
	}
	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: params.CustomDataKind, Entity: name, Action: domain.ActionCreate, After: value})
	return nil
}

// RenameCustomVariable renames a custom data variable on every cell type.
func (tx *Transaction) RenameCustomVariable(oldName, newName string) error {
	if err := tx.state.store.RenameCustomVariable(oldName, newName); err != nil {
		return err
	}
	tx.renameCustomNodes(oldName, newName)
	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: params.CustomDataKind, Entity: newName, Action: domain.ActionRename, Before: oldName, After: newName})
	return nil
}

// renameCustomNodes renames custom data elements in place so their position
// and attributes survive the flush.
func (tx *Transaction) renameCustomNodes(oldName, newName string) {
	sch, _ := params.SchemaFor(domain.KindCellType)
	for _, name := range tx.state.store.Names(domain.KindCellType) {
		node := tx.state.doc.Find(sch.EntityPath(name))
		if el := document.Find(node, sch.CustomPath+"/"+oldName); el != nil {
			el.Tag = newName
		}
	}
}

// RemoveCustomVariable drops a custom data variable from every cell type.
func (tx *Transaction) RemoveCustomVariable(name string) error {
	if err := tx.state.store.RemoveCustomVariable(name); err != nil {
		return err
	}
	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: params.CustomDataKind, Entity: name, Action: domain.ActionDelete, Before: name})
	return nil
}

// AddUserParameter appends a user parameter.
func (tx *Transaction) AddUserParameter(p params.UserParameter) error {
	if err := tx.state.store.AddUserParameter(p); err != nil {
		return err
	}
	tx.userDirty = true
	tx.recordChange(domain.Change{Kind: params.UserParameterKind, Entity: p.Name, Action: domain.ActionCreate, After: p.Value})
	return nil
}

// SetUserParameter updates a user parameter value.
func (tx *Transaction) SetUserParameter(name, value string) error {
	if err := tx.state.store.SetUserParameter(name, value); err != nil {
		return err
	}
	tx.userDirty = true
	tx.recordChange(domain.Change{Kind: params.UserParameterKind, Entity: name, Action: domain.ActionUpdate, After: value})
	return nil
}

// RemoveUserParameter deletes a user parameter.
func (tx *Transaction) RemoveUserParameter(name string) error {
	if err := tx.state.store.RemoveUserParameter(name); err != nil {
		return err
	}
	tx.userDirty = true
	tx.recordChange(domain.Change{Kind: params.UserParameterKind, Entity: name, Action: domain.ActionDelete, Before: name})
	return nil
}

// FlushAll marks the whole store for writing into the document.
func (tx *Transaction) FlushAll() {
	tx.flushAll = true
}

// transactionView exposes session state to rules.
type transactionView struct {
	store *params.Store
}

func newTransactionView(state session) domain.RuleView {
	return transactionView{store: state.store}
}

func (v transactionView) Entities(kind domain.EntityKind) []domain.Entity {
	return v.store.Entities(kind)
}

func (v transactionView) Parameters(kind domain.EntityKind, name string) (map[string]string, bool) {
	ps, ok := v.store.Params(kind, name)
	return ps, ok
}

func (v transactionView) Setting(key string) (string, bool) {
	val, err := v.store.Setting(key)
	return val, err == nil
}

// RunInTransaction executes fn against a copy of the session. The copy replaces
// the live session only when fn succeeds and no rule reports a blocking
// violation; otherwise the session is left exactly as it was.
func (s *Service) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	tx := newTransaction(s.state.clone(), s.clock.Now())
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		s.logger.Debug("transaction rolled back", "error", err)
		return domain.Result{}, err
	}
	if err := tx.flush(); err != nil {
		s.mu.Unlock()
		s.logger.Debug("transaction rolled back", "error", err)
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(tx.state), tx.changes)
		if err != nil {
			s.mu.Unlock()
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			s.mu.Unlock()
			s.logger.Debug("transaction rolled back", "violations", len(res.Violations))
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	s.revision++
	snap := s.snapshotLocked(tx.now)
	s.mu.Unlock()

	for _, w := range result.Warnings() {
		s.logger.Warn("rule warning", "rule", w.Rule, "kind", w.Kind, "entity", w.Entity, "key", w.Key, "message", w.Message)
	}
	s.autosave(ctx, snap)
	return result, nil
}
