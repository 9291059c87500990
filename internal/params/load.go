package params

import (
	"fmt"
	"slices"

	"studiocore/internal/document"
	"studiocore/pkg/domain"
)

const userParametersSection = "user_parameters"

// Load builds a store from a parsed document. Entities are read in document
// order and receive contiguous IDs. Cell types inherit every field missing from
// their own subtree from parent_type. A kind without entities gets a
// synthesized entity named by its schema's DefaultName. Load either returns a complete store or an
// error; nothing is partially populated.
func Load(doc *document.Document) (*Store, error) {
	if doc == nil || doc.Root == nil {
		return nil, domain.SchemaError{Msg: "document has no root element"}
	}
	s := newEmptyStore()

	for _, f := range settingsFields {
		if v, ok := readValue(doc.Root, f.Path, f.Attr); ok {
			s.settings[f.Key] = v
		} else {
			s.settings[f.Key] = f.Default
		}
	}

	nodes := make(map[domain.EntityKind]map[string]*document.Node, 2)
	for _, kind := range domain.Kinds() {
		byName, err := s.loadNames(doc, kind)
		if err != nil {
			return nil, err
		}
		nodes[kind] = byName
	}

	s.custom = customVariables(doc)
	s.user = userParameters(doc)

	sub, err := s.readRaw(domain.KindSubstrate, nodes[domain.KindSubstrate])
	if err != nil {
		return nil, err
	}
	for _, rec := range s.entities[domain.KindSubstrate] {
		rec.params = s.complete(domain.KindSubstrate, sub[rec.name], nil)
	}

	cells, err := s.readRaw(domain.KindCellType, nodes[domain.KindCellType])
	if err != nil {
		return nil, err
	}
	if err := s.inherit(cells); err != nil {
		return nil, err
	}
	s.fillDefaults()
	return s, nil
}

func (s *Store) loadNames(doc *document.Document, kind domain.EntityKind) (map[string]*document.Node, error) {
	sch := mustSchema(kind)
	byName := make(map[string]*document.Node)
	section := doc.Find(sch.Section)
	idx := 0
	for _, n := range section.Elements() {
		if n.Tag != sch.Tag {
			continue
		}
		idx++
		name, ok := n.Attr("name")
		if !ok || name == "" {
			return nil, domain.SchemaError{Kind: kind, Index: idx, Msg: "missing required attribute name"}
		}
		if err := domain.ValidateName(kind, name); err != nil {
			return nil, domain.SchemaError{Kind: kind, Index: idx, Entity: name, Msg: err.Error()}
		}
		if _, dup := byName[name]; dup {
			return nil, domain.SchemaError{Kind: kind, Index: idx, Entity: name, Msg: "duplicate name"}
		}
		byName[name] = n
		s.entities[kind] = append(s.entities[kind], &record{
			name:    name,
			visible: n.AttrOr("visible", "true") != "false",
		})
	}
	if len(s.entities[kind]) == 0 {
		s.entities[kind] = []*record{{name: sch.DefaultName, visible: true}}
	}
	return byName, nil
}

// readRaw collects the values physically present under each entity node.
func (s *Store) readRaw(kind domain.EntityKind, nodes map[string]*document.Node) (map[string]ParameterSet, error) {
	sch := mustSchema(kind)
	out := make(map[string]ParameterSet, len(nodes))
	for name, node := range nodes {
		raw := make(ParameterSet)
		for _, f := range sch.Fields {
			if v, ok := readValue(node, f.Path, f.Attr); ok {
				raw[f.Key] = v
			}
		}
		for _, fam := range sch.Families {
			for _, target := range s.Names(fam.Target) {
				elem := document.Find(node, fam.ElementPath(target))
				if elem == nil {
					continue
				}
				for _, m := range fam.Members {
					if v, ok := readValue(elem, m.Path, ""); ok {
						raw[FamilyKey(m.Key, target)] = v
					}
				}
			}
		}
		if sch.Custom {
			for _, cv := range s.custom {
				if v, ok := readValue(node, sch.CustomPath+"/"+cv, ""); ok {
					raw[CustomKey(cv)] = v
				}
			}
		}
		for _, f := range sch.Fields {
			if f.Ref == "" {
				continue
			}
			if v := raw[f.Key]; v != "" && !s.Has(f.Ref, v) {
				return nil, domain.SchemaError{Kind: kind, Entity: name, Msg: fmt.Sprintf("%s %q does not name a %s", f.Key, v, f.Ref)}
			}
		}
		out[name] = raw
	}
	return out, nil
}

// inherit resolves cell types parents first so that each field missing from a
// subtree takes the parent's resolved value.
func (s *Store) inherit(raw map[string]ParameterSet) error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	resolved := make(map[string]ParameterSet)

	var resolve func(name string, chain []string) error
	resolve = func(name string, chain []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return domain.SchemaError{Kind: domain.KindCellType, Entity: name, Msg: fmt.Sprintf("parent_type cycle %v", append(chain, name))}
		}
		state[name] = visiting
		own := raw[name]
		var base ParameterSet
		if parent := own["parent_type"]; parent != "" {
			if err := resolve(parent, append(chain, name)); err != nil {
				return err
			}
			base = resolved[parent]
		}
		resolved[name] = s.complete(domain.KindCellType, own, base)
		state[name] = done
		return nil
	}

	for _, rec := range s.entities[domain.KindCellType] {
		if err := resolve(rec.name, nil); err != nil {
			return err
		}
		rec.params = resolved[rec.name]
	}
	return nil
}

// complete fills every declared key from own, then base, then the defaults.
func (s *Store) complete(kind domain.EntityKind, own, base ParameterSet) ParameterSet {
	ps := s.DefaultParameters(kind)
	for key := range ps {
		if v, ok := own[key]; ok {
			ps[key] = v
			continue
		}
		if key == "parent_type" {
			continue
		}
		if v, ok := base[key]; ok {
			ps[key] = v
		}
	}
	return ps
}

func readValue(ctx *document.Node, path, attr string) (string, bool) {
	n := document.Find(ctx, path)
	if n == nil {
		return "", false
	}
	if attr != "" {
		return n.Attr(attr)
	}
	return n.Text, true
}

func customVariables(doc *document.Document) []string {
	var out []string
	for _, cd := range doc.FindAll(cellTypeSchema.Section + "/" + cellTypeSchema.Tag + "/" + cellTypeSchema.CustomPath) {
		for _, v := range cd.Elements() {
			if !slices.Contains(out, v.Tag) {
				out = append(out, v.Tag)
			}
		}
	}
	return out
}

func userParameters(doc *document.Document) []UserParameter {
	var out []UserParameter
	for _, n := range doc.Find(userParametersSection).Elements() {
		out = append(out, UserParameter{
			Name:        n.Tag,
			Type:        n.AttrOr("type", "double"),
			Units:       n.AttrOr("units", ""),
			Description: n.AttrOr("description", ""),
			Value:       n.Text,
		})
	}
	return out
}
