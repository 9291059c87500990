package params

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"studiocore/pkg/domain"
)

const (
	// CustomDataKind labels errors about custom data variables.
	CustomDataKind domain.EntityKind = "custom_data"
	// UserParameterKind labels errors about user parameters.
	UserParameterKind domain.EntityKind = "user_parameter"
)

// DefaultEntityName names the entity of kind synthesized when a document has
// none: "default" for cell types, "substrate" for substrates.
func DefaultEntityName(kind domain.EntityKind) string {
	return mustSchema(kind).DefaultName
}

// ParameterSet maps parameter keys to their textual values.
type ParameterSet map[string]string

// Clone returns an independent copy.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	cp := make(ParameterSet, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Keys returns the keys in sorted order.
func (p ParameterSet) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UserParameter is a free-form simulation parameter.
type UserParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Units       string `json:"units"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

type record struct {
	name    string
	visible bool
	params  ParameterSet
}

func (r *record) clone() *record {
	return &record{name: r.name, visible: r.visible, params: r.params.Clone()}
}

// Store holds the parameter sets of every entity plus the singleton settings,
// custom data variables and user parameters. Entity IDs are positions in the
// per-kind slices, so they stay contiguous by construction.
type Store struct {
	entities map[domain.EntityKind][]*record
	settings ParameterSet
	custom   []string
	user     []UserParameter
}

// NewStore returns a store holding one default entity of every kind and
// default settings.
func NewStore() *Store {
	s := newEmptyStore()
	for _, f := range settingsFields {
		s.settings[f.Key] = f.Default
	}
	for _, kind := range domain.Kinds() {
		s.entities[kind] = []*record{{name: DefaultEntityName(kind), visible: true}}
	}
	s.fillDefaults()
	return s
}

func newEmptyStore() *Store {
	return &Store{
		entities: make(map[domain.EntityKind][]*record, 2),
		settings: make(ParameterSet, len(settingsFields)),
	}
}

// fillDefaults populates every record that has no parameter set yet.
func (s *Store) fillDefaults() {
	for _, kind := range domain.Kinds() {
		for _, rec := range s.entities[kind] {
			if rec.params == nil {
				rec.params = s.DefaultParameters(kind)
			}
		}
	}
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	cp := newEmptyStore()
	for kind, recs := range s.entities {
		out := make([]*record, len(recs))
		for i, r := range recs {
			out[i] = r.clone()
		}
		cp.entities[kind] = out
	}
	cp.settings = s.settings.Clone()
	cp.custom = append([]string(nil), s.custom...)
	cp.user = append([]UserParameter(nil), s.user...)
	return cp
}

func (s *Store) find(kind domain.EntityKind, name string) (int, *record) {
	for i, r := range s.entities[kind] {
		if r.name == name {
			return i, r
		}
	}
	return -1, nil
}

func (s *Store) mustFind(kind domain.EntityKind, name string) (int, *record, error) {
	if _, ok := SchemaFor(kind); !ok {
		return -1, nil, fmt.Errorf("params: unknown entity kind %q", kind)
	}
	i, r := s.find(kind, name)
	if r == nil {
		return -1, nil, domain.NotFoundError{Kind: kind, Name: name}
	}
	return i, r, nil
}

// Names returns the entity names of kind in ID order.
func (s *Store) Names(kind domain.EntityKind) []string {
	recs := s.entities[kind]
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.name
	}
	return out
}

// Entities returns the entities of kind in ID order.
func (s *Store) Entities(kind domain.EntityKind) []domain.Entity {
	recs := s.entities[kind]
	out := make([]domain.Entity, len(recs))
	for i, r := range recs {
		out[i] = r.entity(kind, i)
	}
	return out
}

func (r *record) entity(kind domain.EntityKind, id int) domain.Entity {
	return domain.Entity{
		Kind:       kind,
		Name:       r.name,
		ID:         id,
		ParentName: r.params["parent_type"],
		Visible:    r.visible,
	}
}

// Entity returns a single entity.
func (s *Store) Entity(kind domain.EntityKind, name string) (domain.Entity, bool) {
	i, r := s.find(kind, name)
	if r == nil {
		return domain.Entity{}, false
	}
	return r.entity(kind, i), true
}

// Has reports whether an entity exists.
func (s *Store) Has(kind domain.EntityKind, name string) bool {
	_, r := s.find(kind, name)
	return r != nil
}

// Params returns a copy of an entity's parameter set.
func (s *Store) Params(kind domain.EntityKind, name string) (ParameterSet, bool) {
	_, r := s.find(kind, name)
	if r == nil {
		return nil, false
	}
	return r.params.Clone(), true
}

// Known reports whether key belongs to the declared field set of kind given
// the current entities and custom variables.
func (s *Store) Known(kind domain.EntityKind, key string) bool {
	sch, ok := SchemaFor(kind)
	if !ok {
		return false
	}
	if _, ok := sch.Field(key); ok {
		return true
	}
	if member, target, ok := SplitFamilyKey(key); ok {
		fam, _, ok := sch.Member(member)
		return ok && s.Has(fam.Target, target)
	}
	if name, ok := strings.CutPrefix(key, CustomPrefix); ok && sch.Custom {
		return slices.Contains(s.custom, name)
	}
	return false
}

// Get returns the value of key. Keys outside the declared field set fail with
// domain.UnknownKeyError.
func (s *Store) Get(kind domain.EntityKind, name, key string) (string, error) {
	_, r, err := s.mustFind(kind, name)
	if err != nil {
		return "", err
	}
	if !s.Known(kind, key) {
		return "", domain.UnknownKeyError{Kind: kind, Entity: name, Key: key}
	}
	if v, ok := r.params[key]; ok {
		return v, nil
	}
	return s.defaultValue(kind, key), nil
}

// Lookup returns the stored value of key without checking the field set.
func (s *Store) Lookup(kind domain.EntityKind, name, key string) (string, bool) {
	_, r := s.find(kind, name)
	if r == nil {
		return "", false
	}
	v, ok := r.params[key]
	return v, ok
}

// Set stores value under key. With validate set, keys outside the declared
// field set fail with domain.UnknownKeyError; without it the write is
// unconditional and the caller vouches for the key.
func (s *Store) Set(kind domain.EntityKind, name, key, value string, validate bool) error {
	_, r, err := s.mustFind(kind, name)
	if err != nil {
		return err
	}
	if validate && !s.Known(kind, key) {
		return domain.UnknownKeyError{Kind: kind, Entity: name, Key: key}
	}
	r.params[key] = value
	return nil
}

// Setting returns a simulation setting.
func (s *Store) Setting(key string) (string, error) {
	if _, ok := settingField(key); !ok {
		return "", domain.UnknownKeyError{Key: key}
	}
	return s.settings[key], nil
}

// SetSetting stores a simulation setting.
func (s *Store) SetSetting(key, value string) error {
	if _, ok := settingField(key); !ok {
		return domain.UnknownKeyError{Key: key}
	}
	s.settings[key] = value
	return nil
}

// Settings returns a copy of all settings.
func (s *Store) Settings() ParameterSet {
	return s.settings.Clone()
}

// SetVisible updates the UI visibility flag of an entity.
func (s *Store) SetVisible(kind domain.EntityKind, name string, visible bool) error {
	_, r, err := s.mustFind(kind, name)
	if err != nil {
		return err
	}
	r.visible = visible
	return nil
}

// DefaultParameters builds the parameter set of a fresh entity of kind: field
// defaults, one family entry per current target and every custom variable.
func (s *Store) DefaultParameters(kind domain.EntityKind) ParameterSet {
	sch := mustSchema(kind)
	ps := make(ParameterSet)
	for _, f := range sch.Fields {
		ps[f.Key] = s.fieldDefault(f)
	}
	for _, fam := range sch.Families {
		for _, target := range s.Names(fam.Target) {
			for _, m := range fam.Members {
				ps[FamilyKey(m.Key, target)] = m.Default
			}
		}
	}
	if sch.Custom {
		for _, name := range s.custom {
			ps[CustomKey(name)] = customDefault
		}
	}
	return ps
}

const customDefault = "0"

func (s *Store) fieldDefault(f Field) string {
	if f.Ref != "" && f.Fallback == FallbackFirst {
		if names := s.Names(f.Ref); len(names) > 0 {
			return names[0]
		}
	}
	return f.Default
}

func (s *Store) defaultValue(kind domain.EntityKind, key string) string {
	sch := mustSchema(kind)
	if f, ok := sch.Field(key); ok {
		return s.fieldDefault(f)
	}
	if member, _, ok := SplitFamilyKey(key); ok {
		if _, m, ok := sch.Member(member); ok {
			return m.Default
		}
	}
	return customDefault
}

// AddEntity appends an entity with the given parameters (defaults when nil).
// Family entries in other entities are not touched; see AddTarget.
func (s *Store) AddEntity(kind domain.EntityKind, name string, ps ParameterSet) (domain.Entity, error) {
	if _, ok := SchemaFor(kind); !ok {
		return domain.Entity{}, fmt.Errorf("params: unknown entity kind %q", kind)
	}
	if err := domain.ValidateName(kind, name); err != nil {
		return domain.Entity{}, err
	}
	if s.Has(kind, name) {
		return domain.Entity{}, domain.DuplicateNameError{Kind: kind, Name: name}
	}
	if ps == nil {
		ps = s.DefaultParameters(kind)
	} else {
		ps = ps.Clone()
	}
	rec := &record{name: name, visible: true, params: ps}
	s.entities[kind] = append(s.entities[kind], rec)
	return rec.entity(kind, len(s.entities[kind])-1), nil
}

// RemoveEntity deletes an entity. The last entity of a kind cannot be removed.
func (s *Store) RemoveEntity(kind domain.EntityKind, name string) error {
	i, _, err := s.mustFind(kind, name)
	if err != nil {
		return err
	}
	if len(s.entities[kind]) == 1 {
		return domain.LastEntityError{Kind: kind, Name: name}
	}
	s.entities[kind] = slices.Delete(s.entities[kind], i, i+1)
	return nil
}

// RenameEntity re-keys an entity. References elsewhere are not rewritten.
func (s *Store) RenameEntity(kind domain.EntityKind, oldName, newName string) error {
	_, r, err := s.mustFind(kind, oldName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if err := domain.ValidateName(kind, newName); err != nil {
		return err
	}
	if s.Has(kind, newName) {
		return domain.DuplicateNameError{Kind: kind, Name: newName}
	}
	r.name = newName
	return nil
}

// AddTarget adds default family entries for a new target entity to every
// entity whose schema has families over the target's kind.
func (s *Store) AddTarget(target domain.EntityKind, name string) {
	s.eachFamily(target, func(rec *record, fam Family) {
		for _, m := range fam.Members {
			key := FamilyKey(m.Key, name)
			if _, ok := rec.params[key]; !ok {
				rec.params[key] = m.Default
			}
		}
	})
}

// CopyTarget seeds family entries for a new target from an existing one.
func (s *Store) CopyTarget(target domain.EntityKind, from, to string) {
	s.eachFamily(target, func(rec *record, fam Family) {
		for _, m := range fam.Members {
			v, ok := rec.params[FamilyKey(m.Key, from)]
			if !ok {
				v = m.Default
			}
			rec.params[FamilyKey(m.Key, to)] = v
		}
	})
}

// RenameTarget re-keys family entries naming oldName.
func (s *Store) RenameTarget(target domain.EntityKind, oldName, newName string) {
	s.eachFamily(target, func(rec *record, fam Family) {
		for _, m := range fam.Members {
			oldKey := FamilyKey(m.Key, oldName)
			if v, ok := rec.params[oldKey]; ok {
				delete(rec.params, oldKey)
				rec.params[FamilyKey(m.Key, newName)] = v
			}
		}
	})
}

// RemoveTarget drops family entries naming name.
func (s *Store) RemoveTarget(target domain.EntityKind, name string) {
	s.eachFamily(target, func(rec *record, fam Family) {
		for _, m := range fam.Members {
			delete(rec.params, FamilyKey(m.Key, name))
		}
	})
}

func (s *Store) eachFamily(target domain.EntityKind, fn func(*record, Family)) {
	for _, kind := range domain.Kinds() {
		sch := mustSchema(kind)
		for _, fam := range sch.Families {
			if fam.Target != target {
				continue
			}
			for _, rec := range s.entities[kind] {
				fn(rec, fam)
			}
		}
	}
}

var tagName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

func validateTag(kind domain.EntityKind, name string) error {
	if !tagName.MatchString(name) {
		return domain.InvalidNameError{Kind: kind, Name: name, Reason: "must be a valid element name"}
	}
	return nil
}

// CustomVariables returns the custom data variable names in order.
func (s *Store) CustomVariables() []string {
	return append([]string(nil), s.custom...)
}

// AddCustomVariable registers a custom data variable on every cell type.
func (s *Store) AddCustomVariable(name, value string) error {
	if err := validateTag(CustomDataKind, name); err != nil {
		return err
	}
	if slices.Contains(s.custom, name) {
		return domain.DuplicateNameError{Kind: CustomDataKind, Name: name}
	}
	s.custom = append(s.custom, name)
	for _, rec := range s.entities[domain.KindCellType] {
		rec.params[CustomKey(name)] = value
	}
	return nil
}

// RenameCustomVariable renames a custom data variable on every cell type.
func (s *Store) RenameCustomVariable(oldName, newName string) error {
	i := slices.Index(s.custom, oldName)
	if i < 0 {
		return domain.NotFoundError{Kind: CustomDataKind, Name: oldName}
	}
	if oldName == newName {
		return nil
	}
	if err := validateTag(CustomDataKind, newName); err != nil {
		return err
	}
	if slices.Contains(s.custom, newName) {
		return domain.DuplicateNameError{Kind: CustomDataKind, Name: newName}
	}
	s.custom[i] = newName
	for _, rec := range s.entities[domain.KindCellType] {
		if v, ok := rec.params[CustomKey(oldName)]; ok {
			delete(rec.params, CustomKey(oldName))
			rec.params[CustomKey(newName)] = v
		}
	}
	return nil
}

// RemoveCustomVariable drops a custom data variable from every cell type.
func (s *Store) RemoveCustomVariable(name string) error {
	i := slices.Index(s.custom, name)
	if i < 0 {
		return domain.NotFoundError{Kind: CustomDataKind, Name: name}
	}
	s.custom = slices.Delete(s.custom, i, i+1)
	for _, rec := range s.entities[domain.KindCellType] {
		delete(rec.params, CustomKey(name))
	}
	return nil
}

// UserParameters returns the user parameters in document order.
func (s *Store) UserParameters() []UserParameter {
	return append([]UserParameter(nil), s.user...)
}

// AddUserParameter appends a user parameter.
func (s *Store) AddUserParameter(p UserParameter) error {
	if err := validateTag(UserParameterKind, p.Name); err != nil {
		return err
	}
	if s.userIndex(p.Name) >= 0 {
		return domain.DuplicateNameError{Kind: UserParameterKind, Name: p.Name}
	}
	if p.Type == "" {
		p.Type = "double"
	}
	s.user = append(s.user, p)
	return nil
}

// SetUserParameter updates the value of an existing user parameter.
func (s *Store) SetUserParameter(name, value string) error {
	i := s.userIndex(name)
	if i < 0 {
		return domain.NotFoundError{Kind: UserParameterKind, Name: name}
	}
	s.user[i].Value = value
	return nil
}

// RemoveUserParameter deletes a user parameter.
func (s *Store) RemoveUserParameter(name string) error {
	i := s.userIndex(name)
	if i < 0 {
		return domain.NotFoundError{Kind: UserParameterKind, Name: name}
	}
	s.user = slices.Delete(s.user, i, i+1)
	return nil
}

func (s *Store) userIndex(name string) int {
	for i, p := range s.user {
		if p.Name == name {
			return i
		}
	}
	return -1
}
