package core

import (
	"fmt"

	"studiocore/internal/document"
	"studiocore/internal/params"
	"studiocore/pkg/domain"
)

func schemaOf(kind domain.EntityKind) (*params.Schema, error) {
	sch, ok := params.SchemaFor(kind)
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return sch, nil
}

// Create appends a new entity of kind. An empty name picks the next free
// generated name. With a template the new entity starts from the template's
// parameters and document subtree, and inherits the template's entries in
// every family targeting kind; otherwise it starts from defaults.
func (tx *Transaction) Create(kind domain.EntityKind, name, template string) (domain.Entity, error) {
	sch, err := schemaOf(kind)
	if err != nil {
		return domain.Entity{}, err
	}
	if name == "" {
		name = tx.nextName(sch)
	}

	var (
		ps   params.ParameterSet
		node *document.Node
	)
	if template != "" {
		var ok bool
		if ps, ok = tx.state.store.Params(kind, template); !ok {
			return domain.Entity{}, domain.NotFoundError{Kind: kind, Name: template}
		}
		if src := tx.state.doc.Find(sch.EntityPath(template)); src != nil {
			node = src.Clone()
			node.SetAttr("name", name)
		}
	}

	entity, err := tx.state.store.AddEntity(kind, name, ps)
	if err != nil {
		return domain.Entity{}, err
	}
	if template != "" {
		tx.state.store.CopyTarget(kind, template, name)
	} else {
		tx.state.store.AddTarget(kind, name)
	}
	if node != nil {
		section, err := tx.state.doc.Ensure(sch.Section)
		if err != nil {
			return domain.Entity{}, err
		}
		section.AppendChild(node)
	}

	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: kind, Entity: name, Action: domain.ActionCreate, Before: template, After: name})
	return entity, nil
}

func (tx *Transaction) nextName(sch *params.Schema) string {
	for n := len(tx.state.store.Names(sch.Kind)); ; n++ {
		candidate := fmt.Sprintf("%s%02d", sch.Prefix, n)
		if !tx.state.store.Has(sch.Kind, candidate) {
			return candidate
		}
	}
}

// Copy duplicates source under a generated name: source_copy, then
// source_copy2, source_copy3 and so on.
func (tx *Transaction) Copy(kind domain.EntityKind, source string) (domain.Entity, error) {
	if _, err := schemaOf(kind); err != nil {
		return domain.Entity{}, err
	}
	if !tx.state.store.Has(kind, source) {
		return domain.Entity{}, domain.NotFoundError{Kind: kind, Name: source}
	}
	return tx.Create(kind, copyName(source, func(n string) bool { return tx.state.store.Has(kind, n) }), source)
}

func copyName(source string, taken func(string) bool) string {
	base := source + "_copy"
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Rename re-keys an entity and rewrites every cross reference to it.
func (tx *Transaction) Rename(kind domain.EntityKind, oldName, newName string) error {
	sch, err := schemaOf(kind)
	if err != nil {
		return err
	}
	if err := tx.state.store.RenameEntity(kind, oldName, newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if node := tx.state.doc.Find(sch.EntityPath(oldName)); node != nil {
		node.SetAttr("name", newName)
	}

	tx.state.store.RenameTarget(kind, oldName, newName)
	for _, ref := range params.CrossReferences() {
		if ref.Target != kind {
			continue
		}
		if ref.Family != "" {
			tx.renameFamilyNodes(ref, oldName, newName)
			continue
		}
		tx.rewriteReference(ref, oldName, newName)
	}

	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: kind, Entity: newName, Action: domain.ActionRename, Before: oldName, After: newName})
	return nil
}

// renameFamilyNodes updates the key attribute of family elements in place so
// that their position and any unmapped children are kept.
func (tx *Transaction) renameFamilyNodes(ref params.CrossReference, oldName, newName string) {
	sch, _ := params.SchemaFor(ref.Source)
	var fam params.Family
	for _, f := range sch.Families {
		if f.Name == ref.Family {
			fam = f
		}
	}
	for _, name := range tx.state.store.Names(ref.Source) {
		node := tx.state.doc.Find(sch.EntityPath(name))
		if el := document.Find(node, fam.ElementPath(oldName)); el != nil {
			el.SetAttr(fam.KeyAttr, newName)
		}
	}
}

// rewriteReference replaces value references equal to from with to.
func (tx *Transaction) rewriteReference(ref params.CrossReference, from, to string) {
	for _, name := range tx.state.store.Names(ref.Source) {
		v, ok := tx.state.store.Lookup(ref.Source, name, ref.Key)
		if !ok || v != from {
			continue
		}
		// The key comes from the schema table, so the write cannot be rejected.
		_ = tx.state.store.Set(ref.Source, name, ref.Key, to, false)
		tx.recordChange(domain.Change{Kind: ref.Source, Entity: name, Action: domain.ActionUpdate, Key: ref.Key, Before: from, After: to})
	}
}

// Delete removes an entity. Remaining entities of the kind are renumbered,
// family entries naming it are dropped and value references to it fall back
// to their declared replacement.
func (tx *Transaction) Delete(kind domain.EntityKind, name string) error {
	if _, err := schemaOf(kind); err != nil {
		return err
	}
	if err := tx.state.store.RemoveEntity(kind, name); err != nil {
		return err
	}
	tx.state.store.RemoveTarget(kind, name)
	for _, ref := range params.CrossReferences() {
		if ref.Target != kind || ref.Key == "" {
			continue
		}
		fallback := ""
		if ref.Fallback == params.FallbackFirst {
			fallback = tx.state.store.Names(kind)[0]
		}
		tx.rewriteReference(ref, name, fallback)
	}

	tx.flushAll = true
	tx.recordChange(domain.Change{Kind: kind, Entity: name, Action: domain.ActionDelete, Before: name})
	return nil
}
