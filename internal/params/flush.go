package params

import (
	"fmt"
	"slices"
	"strconv"

	"studiocore/internal/document"
	"studiocore/pkg/domain"
)

// Flush writes every key of the entity's parameter set into doc, creating the
// entity node and any missing elements. Family elements and custom data
// entries the entity no longer holds are removed. Flushing twice without an
// intervening change leaves the document unchanged. A key with no document
// location fails with domain.UnknownKeyError before anything is written.
func (s *Store) Flush(kind domain.EntityKind, name string, doc *document.Document) error {
	id, rec, err := s.mustFind(kind, name)
	if err != nil {
		return err
	}
	sch := mustSchema(kind)
	writes, err := s.plan(sch, rec)
	if err != nil {
		return err
	}

	section, err := doc.Ensure(sch.Section)
	if err != nil {
		return fmt.Errorf("flush %s %q: %w", kind, name, err)
	}
	node := doc.Find(sch.EntityPath(name))
	if node == nil {
		node = document.NewElement(sch.Tag, document.Attr{Name: "name", Value: name})
		section.AppendChild(node)
	}
	node.SetAttr("ID", strconv.Itoa(id))
	if rec.visible {
		node.RemoveAttr("visible")
	} else {
		node.SetAttr("visible", "false")
	}

	for _, w := range writes {
		ctx := node
		if w.element != "" {
			if ctx, err = document.Ensure(node, w.element); err != nil {
				return fmt.Errorf("flush %s %q key %q: %w", kind, name, w.key, err)
			}
		}
		if err := writeValue(ctx, w.path, w.attr, w.units, w.value, w.optional); err != nil {
			return fmt.Errorf("flush %s %q key %q: %w", kind, name, w.key, err)
		}
	}
	prune(node, sch, rec)
	return nil
}

type write struct {
	key      string
	element  string
	path     string
	attr     string
	units    string
	value    string
	optional bool
}

// plan orders the writes by schema declaration so that newly created
// elements follow the schema's layout, and rejects unmapped keys.
func (s *Store) plan(sch *Schema, rec *record) ([]write, error) {
	var out []write
	seen := make(map[string]struct{}, len(rec.params))
	for _, f := range sch.Fields {
		v, ok := rec.params[f.Key]
		if !ok {
			continue
		}
		seen[f.Key] = struct{}{}
		out = append(out, write{key: f.Key, path: f.Path, attr: f.Attr, units: f.Units, value: v, optional: f.Optional})
	}
	for _, fam := range sch.Families {
		for _, target := range s.Names(fam.Target) {
			for _, m := range fam.Members {
				key := FamilyKey(m.Key, target)
				v, ok := rec.params[key]
				if !ok {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, write{key: key, element: fam.ElementPath(target), path: m.Path, units: m.Units, value: v})
			}
		}
	}
	if sch.Custom {
		for _, cv := range s.custom {
			key := CustomKey(cv)
			v, ok := rec.params[key]
			if !ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, write{key: key, path: sch.CustomPath + "/" + cv, units: "dimensionless", value: v})
		}
	}
	for _, key := range rec.params.Keys() {
		if _, ok := seen[key]; !ok {
			return nil, domain.UnknownKeyError{Kind: sch.Kind, Entity: rec.name, Key: key}
		}
	}
	return out, nil
}

func writeValue(ctx *document.Node, path, attr, units, value string, optional bool) error {
	n := document.Find(ctx, path)
	if n == nil {
		if optional && attr != "" && value == "" {
			return nil
		}
		var err error
		if n, err = document.Ensure(ctx, path); err != nil {
			return err
		}
		if units != "" && attr == "" {
			n.SetAttr("units", units)
		}
	}
	switch {
	case attr == "":
		n.Text = value
	case optional && value == "":
		n.RemoveAttr(attr)
	default:
		n.SetAttr(attr, value)
	}
	return nil
}

func prune(node *document.Node, sch *Schema, rec *record) {
	for _, fam := range sch.Families {
		container := document.Find(node, fam.Container)
		if container == nil {
			continue
		}
		for _, el := range container.Elements() {
			if el.Tag != fam.Tag {
				continue
			}
			target := el.AttrOr(fam.KeyAttr, "")
			if !holdsTarget(rec.params, fam, target) {
				container.RemoveChild(el)
			}
		}
	}
	if !sch.Custom {
		return
	}
	if cd := document.Find(node, sch.CustomPath); cd != nil {
		for _, el := range cd.Elements() {
			if _, ok := rec.params[CustomKey(el.Tag)]; !ok {
				cd.RemoveChild(el)
			}
		}
	}
}

func holdsTarget(ps ParameterSet, fam Family, target string) bool {
	for _, m := range fam.Members {
		if _, ok := ps[FamilyKey(m.Key, target)]; ok {
			return true
		}
	}
	return false
}

// FlushSettings writes the simulation settings into doc.
func (s *Store) FlushSettings(doc *document.Document) error {
	for _, f := range settingsFields {
		if err := writeValue(doc.Root, f.Path, f.Attr, f.Units, s.settings[f.Key], f.Optional); err != nil {
			return fmt.Errorf("flush setting %q: %w", f.Key, err)
		}
	}
	return nil
}

// FlushUserParameters writes the user parameters into doc and removes
// entries that no longer exist.
func (s *Store) FlushUserParameters(doc *document.Document) error {
	section := doc.Find(userParametersSection)
	if section == nil {
		if len(s.user) == 0 {
			return nil
		}
		var err error
		if section, err = doc.Ensure(userParametersSection); err != nil {
			return err
		}
	}
	for _, el := range section.Elements() {
		if s.userIndex(el.Tag) < 0 {
			section.RemoveChild(el)
		}
	}
	for _, p := range s.user {
		n := section.Child(p.Name)
		if n == nil {
			n = document.NewElement(p.Name)
			section.AppendChild(n)
		}
		n.SetAttr("type", p.Type)
		n.SetAttr("units", p.Units)
		n.SetAttr("description", p.Description)
		n.Text = p.Value
	}
	return nil
}

// FlushAll writes the complete store into doc: settings, user parameters and
// every entity. Entity nodes without a matching entity are removed.
func (s *Store) FlushAll(doc *document.Document) error {
	if err := s.FlushSettings(doc); err != nil {
		return err
	}
	if err := s.FlushUserParameters(doc); err != nil {
		return err
	}
	for _, kind := range domain.Kinds() {
		sch := mustSchema(kind)
		names := s.Names(kind)
		if section := doc.Find(sch.Section); section != nil {
			for _, el := range section.Elements() {
				if el.Tag == sch.Tag && !slices.Contains(names, el.AttrOr("name", "")) {
					section.RemoveChild(el)
				}
			}
		}
		for _, name := range names {
			if err := s.Flush(kind, name, doc); err != nil {
				return err
			}
		}
	}
	return nil
}
