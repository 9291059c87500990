// Package params holds the per-entity parameter sets of a configuration
// session and the schema mapping each parameter key to its document location.
package params

import (
	"fmt"
	"strings"

	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

// Fallback selects the replacement for a value reference whose target was deleted.
type Fallback int

const (
	FallbackEmpty Fallback = iota
	FallbackFirst
)

// Field maps a plain parameter key to a document location relative to the
// owning node (entity node, or root element for settings). When Attr is set the
// value lives in that attribute of the node at Path; otherwise in its text.
type Field struct {
	Key     string
	Path    string
	Attr    string
	Default string
	Units   string
	Binding *validation.Binding
	// Ref is set when the value names another entity of that kind.
	Ref      domain.EntityKind
	Fallback Fallback
	// Optional attribute fields drop the attribute when the value is empty.
	Optional bool
}

// Member is one value inside a family element, located relative to it.
type Member struct {
	Key     string
	Path    string
	Default string
	Units   string
	Binding *validation.Binding
}

// Family is a keyed group of values with one element per entity of the target
// kind, e.g. one secretion block per substrate. Keys take the form
// member[target].
type Family struct {
	Name      string
	Target    domain.EntityKind
	Container string
	Tag       string
	KeyAttr   string
	Members   []Member
}

// ElementPath returns the path of the family element for target, relative to
// the entity node.
func (f Family) ElementPath(target string) string {
	return fmt.Sprintf("%s/%s[@%s='%s']", f.Container, f.Tag, f.KeyAttr, target)
}

// Schema describes one entity kind.
type Schema struct {
	Kind     domain.EntityKind
	Section  string
	Tag      string
	Fields   []Field
	Families []Family
	// Custom enables custom:<name> keys stored under CustomPath.
	Custom     bool
	CustomPath string
	Prefix     string
	// DefaultName names the entity synthesized when a document has none.
	DefaultName string
}

// EntityPath returns the path of the entity node relative to the root element.
func (s *Schema) EntityPath(name string) string {
	return fmt.Sprintf("%s/%s[@name='%s']", s.Section, s.Tag, name)
}

// Field returns the plain field registered under key.
func (s *Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Member resolves a member key to its family.
func (s *Schema) Member(member string) (Family, Member, bool) {
	for _, fam := range s.Families {
		for _, m := range fam.Members {
			if m.Key == member {
				return fam, m, true
			}
		}
	}
	return Family{}, Member{}, false
}

// CustomPrefix marks keys of custom data variables.
const CustomPrefix = "custom:"

// FamilyKey builds the parameter key for a family member.
func FamilyKey(member, target string) string {
	return member + "[" + target + "]"
}

// SplitFamilyKey splits member[target]. ok is false for plain keys.
func SplitFamilyKey(key string) (member, target string, ok bool) {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return "", "", false
	}
	return key[:open], key[open+1 : len(key)-1], true
}

// CustomKey builds the key of a custom data variable.
func CustomKey(name string) string { return CustomPrefix + name }

func bind(m validation.Measure, ts validation.TimeStep) *validation.Binding {
	return &validation.Binding{Measure: m, TimeStep: ts}
}

var (
	rateDiffusion    = bind(validation.Rate, validation.DiffusionDT)
	ratePhenotype    = bind(validation.Rate, validation.PhenotypeDT)
	rateMechanics    = bind(validation.Rate, validation.MechanicsDT)
	durationPheno    = bind(validation.Duration, validation.PhenotypeDT)
	durationMechanic = bind(validation.Duration, validation.MechanicsDT)
)

const (
	apoptosisModel = "phenotype/death/model[@code='100']"
	necrosisModel  = "phenotype/death/model[@code='101']"
	cycleNode      = "phenotype/cycle"
	interactions   = "phenotype/cell_interactions"
)

var cellTypeSchema = &Schema{
	Kind:    domain.KindCellType,
	Section: "cell_definitions",
	Tag:     "cell_definition",
	Prefix:  "cell_def",

	DefaultName: "default",
	Fields: []Field{
		{Key: "parent_type", Path: ".", Attr: "parent_type", Ref: domain.KindCellType, Fallback: FallbackEmpty, Optional: true},

		{Key: "cycle_code", Path: cycleNode, Attr: "code", Default: "5"},
		{Key: "cycle_duration", Path: cycleNode + "/phase_durations/duration[@index='0']", Default: "1389", Units: "min", Binding: durationPheno},
		{Key: "cycle_duration_fixed", Path: cycleNode + "/phase_durations/duration[@index='0']", Attr: "fixed_duration", Default: "false"},
		{Key: "cycle_trate", Path: cycleNode + "/phase_transition_rates/rate[@start_index='0'][@end_index='0']", Default: "0.00072", Units: "1/min", Binding: ratePhenotype},
		{Key: "cycle_trate_fixed", Path: cycleNode + "/phase_transition_rates/rate[@start_index='0'][@end_index='0']", Attr: "fixed_duration", Default: "false"},

		{Key: "apoptosis_rate", Path: apoptosisModel + "/death_rate", Default: "5.31667e-05", Units: "1/min", Binding: ratePhenotype},
		{Key: "apoptosis_duration", Path: apoptosisModel + "/phase_durations/duration[@index='0']", Default: "516", Units: "min", Binding: durationPheno},
		{Key: "apoptosis_duration_fixed", Path: apoptosisModel + "/phase_durations/duration[@index='0']", Attr: "fixed_duration", Default: "true"},
		{Key: "apoptosis_trate", Path: apoptosisModel + "/phase_transition_rates/rate[@start_index='0'][@end_index='1']", Default: "0.00193798", Units: "1/min", Binding: ratePhenotype},
		{Key: "apoptosis_trate_fixed", Path: apoptosisModel + "/phase_transition_rates/rate[@start_index='0'][@end_index='1']", Attr: "fixed_duration", Default: "true"},
		{Key: "necrosis_rate", Path: necrosisModel + "/death_rate", Default: "0.0", Units: "1/min", Binding: ratePhenotype},

		{Key: "volume_total", Path: "phenotype/volume/total", Default: "2494", Units: "micron^3"},
		{Key: "volume_fluid_fraction", Path: "phenotype/volume/fluid_fraction", Default: "0.75", Units: "dimensionless"},
		{Key: "volume_nuclear", Path: "phenotype/volume/nuclear", Default: "540", Units: "micron^3"},
		{Key: "fluid_change_rate", Path: "phenotype/volume/fluid_change_rate", Default: "0.05", Units: "1/min", Binding: ratePhenotype},
		{Key: "cytoplasmic_biomass_change_rate", Path: "phenotype/volume/cytoplasmic_biomass_change_rate", Default: "0.0045", Units: "1/min", Binding: ratePhenotype},
		{Key: "nuclear_biomass_change_rate", Path: "phenotype/volume/nuclear_biomass_change_rate", Default: "0.0055", Units: "1/min", Binding: ratePhenotype},
		{Key: "calcified_fraction", Path: "phenotype/volume/calcified_fraction", Default: "0", Units: "dimensionless"},
		{Key: "calcification_rate", Path: "phenotype/volume/calcification_rate", Default: "0", Units: "1/min", Binding: ratePhenotype},
		{Key: "relative_rupture_volume", Path: "phenotype/volume/relative_rupture_volume", Default: "2.0", Units: "dimensionless"},

		{Key: "cell_cell_adhesion_strength", Path: "phenotype/mechanics/cell_cell_adhesion_strength", Default: "0.4", Units: "micron/min"},
		{Key: "cell_cell_repulsion_strength", Path: "phenotype/mechanics/cell_cell_repulsion_strength", Default: "10.0", Units: "micron/min"},
		{Key: "relative_maximum_adhesion_distance", Path: "phenotype/mechanics/relative_maximum_adhesion_distance", Default: "1.25", Units: "dimensionless"},
		{Key: "attachment_elastic_constant", Path: "phenotype/mechanics/attachment_elastic_constant", Default: "0.01", Units: "1/min"},
		{Key: "attachment_rate", Path: "phenotype/mechanics/attachment_rate", Default: "0.0", Units: "1/min", Binding: rateMechanics},
		{Key: "detachment_rate", Path: "phenotype/mechanics/detachment_rate", Default: "0.0", Units: "1/min", Binding: rateMechanics},

		{Key: "speed", Path: "phenotype/motility/speed", Default: "1", Units: "micron/min"},
		{Key: "persistence_time", Path: "phenotype/motility/persistence_time", Default: "1", Units: "min", Binding: durationMechanic},
		{Key: "migration_bias", Path: "phenotype/motility/migration_bias", Default: "0.5", Units: "dimensionless"},
		{Key: "motility_enabled", Path: "phenotype/motility/options/enabled", Default: "false"},
		{Key: "motility_use_2D", Path: "phenotype/motility/options/use_2D", Default: "true"},
		{Key: "chemotaxis_enabled", Path: "phenotype/motility/options/chemotaxis/enabled", Default: "false"},
		{Key: "chemotaxis_substrate", Path: "phenotype/motility/options/chemotaxis/substrate", Ref: domain.KindSubstrate, Fallback: FallbackFirst},
		{Key: "chemotaxis_direction", Path: "phenotype/motility/options/chemotaxis/direction", Default: "1"},
		{Key: "advanced_chemotaxis_enabled", Path: "phenotype/motility/options/advanced_chemotaxis/enabled", Default: "false"},

		{Key: "dead_phagocytosis_rate", Path: interactions + "/dead_phagocytosis_rate", Default: "0", Units: "1/min", Binding: ratePhenotype},
		{Key: "damage_rate", Path: interactions + "/damage_rate", Default: "1", Units: "1/min"},
	},
	Families: []Family{
		{
			Name: "secretion", Target: domain.KindSubstrate,
			Container: "phenotype/secretion", Tag: "substrate", KeyAttr: "name",
			Members: []Member{
				{Key: "secretion_rate", Path: "secretion_rate", Default: "0", Units: "1/min", Binding: rateDiffusion},
				{Key: "secretion_target", Path: "secretion_target", Default: "1", Units: "substrate density"},
				{Key: "uptake_rate", Path: "uptake_rate", Default: "0", Units: "1/min", Binding: rateDiffusion},
				{Key: "net_export_rate", Path: "net_export_rate", Default: "0", Units: "total substrate/min"},
			},
		},
		{
			Name: "chemotactic_sensitivity", Target: domain.KindSubstrate,
			Container: "phenotype/motility/options/advanced_chemotaxis/chemotactic_sensitivities", Tag: "chemotactic_sensitivity", KeyAttr: "substrate",
			Members: []Member{{Key: "chemotactic_sensitivity", Path: ".", Default: "0.0"}},
		},
		{
			Name: "cell_adhesion_affinity", Target: domain.KindCellType,
			Container: "phenotype/mechanics/cell_adhesion_affinities", Tag: "cell_adhesion_affinity", KeyAttr: "name",
			Members: []Member{{Key: "cell_adhesion_affinity", Path: ".", Default: "1.0"}},
		},
		{
			Name: "live_phagocytosis_rate", Target: domain.KindCellType,
			Container: interactions + "/live_phagocytosis_rates", Tag: "phagocytosis_rate", KeyAttr: "name",
			Members: []Member{{Key: "live_phagocytosis_rate", Path: ".", Default: "0", Units: "1/min", Binding: ratePhenotype}},
		},
		{
			Name: "attack_rate", Target: domain.KindCellType,
			Container: interactions + "/attack_rates", Tag: "attack_rate", KeyAttr: "name",
			Members: []Member{{Key: "attack_rate", Path: ".", Default: "0", Units: "1/min", Binding: ratePhenotype}},
		},
		{
			Name: "fusion_rate", Target: domain.KindCellType,
			Container: interactions + "/fusion_rates", Tag: "fusion_rate", KeyAttr: "name",
			Members: []Member{{Key: "fusion_rate", Path: ".", Default: "0", Units: "1/min", Binding: ratePhenotype}},
		},
		{
			Name: "transformation_rate", Target: domain.KindCellType,
			Container: "phenotype/cell_transformations/transformation_rates", Tag: "transformation_rate", KeyAttr: "name",
			Members: []Member{{Key: "transformation_rate", Path: ".", Default: "0", Units: "1/min", Binding: ratePhenotype}},
		},
	},
	Custom:     true,
	CustomPath: "custom_data",
}

var boundaries = []string{"xmin", "xmax", "ymin", "ymax", "zmin", "zmax"}

var substrateSchema = func() *Schema {
	s := &Schema{
		Kind:    domain.KindSubstrate,
		Section: "microenvironment_setup",
		Tag:     "variable",
		Prefix:  "substrate",

		DefaultName: "substrate",
		Fields: []Field{
			{Key: "units", Path: ".", Attr: "units", Default: "dimensionless"},
			{Key: "diffusion_coefficient", Path: "physical_parameter_set/diffusion_coefficient", Default: "100000.0", Units: "micron^2/min"},
			{Key: "decay_rate", Path: "physical_parameter_set/decay_rate", Default: "10", Units: "1/min", Binding: rateDiffusion},
			{Key: "initial_condition", Path: "initial_condition", Default: "0", Units: "mmHg"},
			{Key: "dirichlet_value", Path: "Dirichlet_boundary_condition", Default: "0", Units: "mmHg"},
			{Key: "dirichlet_enabled", Path: "Dirichlet_boundary_condition", Attr: "enabled", Default: "false"},
		},
	}
	for _, b := range boundaries {
		p := fmt.Sprintf("Dirichlet_options/boundary_value[@ID='%s']", b)
		s.Fields = append(s.Fields,
			Field{Key: "dirichlet_" + b, Path: p, Default: "0"},
			Field{Key: "dirichlet_" + b + "_enabled", Path: p, Attr: "enabled", Default: "false"},
		)
	}
	return s
}()

var settingsFields = []Field{
	{Key: "x_min", Path: "domain/x_min", Default: "-500"},
	{Key: "x_max", Path: "domain/x_max", Default: "500"},
	{Key: "y_min", Path: "domain/y_min", Default: "-500"},
	{Key: "y_max", Path: "domain/y_max", Default: "500"},
	{Key: "z_min", Path: "domain/z_min", Default: "-10"},
	{Key: "z_max", Path: "domain/z_max", Default: "10"},
	{Key: "dx", Path: "domain/dx", Default: "20"},
	{Key: "dy", Path: "domain/dy", Default: "20"},
	{Key: "dz", Path: "domain/dz", Default: "20"},
	{Key: "use_2D", Path: "domain/use_2D", Default: "true"},
	{Key: "max_time", Path: "overall/max_time", Default: "14400", Units: "min"},
	{Key: string(validation.DiffusionDT), Path: "overall/dt_diffusion", Default: "0.01", Units: "min"},
	{Key: string(validation.MechanicsDT), Path: "overall/dt_mechanics", Default: "0.1", Units: "min"},
	{Key: string(validation.PhenotypeDT), Path: "overall/dt_phenotype", Default: "6", Units: "min"},
	{Key: "omp_num_threads", Path: "parallel/omp_num_threads", Default: "4"},
	{Key: "folder", Path: "save/folder", Default: "output"},
	{Key: "full_data_interval", Path: "save/full_data/interval", Default: "60", Units: "min"},
	{Key: "full_data_enabled", Path: "save/full_data/enable", Default: "true"},
	{Key: "svg_interval", Path: "save/SVG/interval", Default: "60", Units: "min"},
	{Key: "svg_enabled", Path: "save/SVG/enable", Default: "true"},
	{Key: "virtual_walls", Path: "options/virtual_wall_at_domain_edge", Default: "true"},
	{Key: "random_seed", Path: "options/random_seed", Default: "0"},
}

// SchemaFor returns the schema of an entity kind.
func SchemaFor(kind domain.EntityKind) (*Schema, bool) {
	switch kind {
	case domain.KindCellType:
		return cellTypeSchema, true
	case domain.KindSubstrate:
		return substrateSchema, true
	default:
		return nil, false
	}
}

func mustSchema(kind domain.EntityKind) *Schema {
	s, ok := SchemaFor(kind)
	if !ok {
		panic(fmt.Sprintf("params: no schema for kind %q", kind))
	}
	return s
}

// SettingsFields returns the singleton simulation settings.
func SettingsFields() []Field {
	return append([]Field(nil), settingsFields...)
}

func settingField(key string) (Field, bool) {
	for _, f := range settingsFields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// CrossReference describes one way an entity of Source can name an entity of
// Target: either a plain value field (Key) or a keyed family (Family).
type CrossReference struct {
	Source   domain.EntityKind
	Target   domain.EntityKind
	Key      string
	Family   string
	Fallback Fallback
}

// CrossReferences enumerates every reference kind declared by the schemas.
// Lifecycle operations iterate this list so that no reference kind can be
// missed on rename or delete.
func CrossReferences() []CrossReference {
	var out []CrossReference
	for _, kind := range domain.Kinds() {
		s := mustSchema(kind)
		for _, f := range s.Fields {
			if f.Ref != "" {
				out = append(out, CrossReference{Source: kind, Target: f.Ref, Key: f.Key, Fallback: f.Fallback})
			}
		}
		for _, fam := range s.Families {
			out = append(out, CrossReference{Source: kind, Target: fam.Target, Family: fam.Name})
		}
	}
	return out
}

// BindingFor returns the time-step binding of key for kind, if any.
func BindingFor(kind domain.EntityKind, key string) (validation.Binding, bool) {
	s, ok := SchemaFor(kind)
	if !ok {
		return validation.Binding{}, false
	}
	if member, _, isFamily := SplitFamilyKey(key); isFamily {
		if _, m, ok := s.Member(member); ok && m.Binding != nil {
			return *m.Binding, true
		}
		return validation.Binding{}, false
	}
	if f, ok := s.Field(key); ok && f.Binding != nil {
		return *f.Binding, true
	}
	return validation.Binding{}, false
}
