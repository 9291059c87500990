package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"studiocore/internal/document"
	"studiocore/internal/infra/persistence/memory"
	"studiocore/internal/params"
	"studiocore/internal/validation"
	"studiocore/pkg/domain"
)

const sessionFixture = `<PhysiCell_settings>
	<overall>
		<max_time units="min">1440</max_time>
		<dt_diffusion units="min">0.01</dt_diffusion>
		<dt_mechanics units="min">0.1</dt_mechanics>
		<dt_phenotype units="min">6</dt_phenotype>
	</overall>
	<save>
		<folder>output</folder>
	</save>
	<microenvironment_setup>
		<variable name="oxygen" units="mmHg" ID="0">
			<physical_parameter_set>
				<diffusion_coefficient units="micron^2/min">100000.0</diffusion_coefficient>
				<decay_rate units="1/min">0.1</decay_rate>
			</physical_parameter_set>
		</variable>
		<variable name="debris" units="dimensionless" ID="1" />
	</microenvironment_setup>
	<cell_definitions>
		<cell_definition name="default" ID="0">
			<phenotype>
				<motility>
					<options>
						<chemotaxis>
							<substrate>debris</substrate>
						</chemotaxis>
					</options>
				</motility>
				<secretion>
					<substrate name="oxygen">
						<uptake_rate units="1/min">10</uptake_rate>
					</substrate>
				</secretion>
				<unmapped_block keep="yes">42</unmapped_block>
			</phenotype>
			<custom_data>
				<sample units="dimensionless">1.5</sample>
			</custom_data>
		</cell_definition>
		<cell_definition name="child" ID="1" parent_type="default" />
	</cell_definitions>
	<user_parameters>
		<number_of_cells type="int" units="none" description="initial cells">5</number_of_cells>
	</user_parameters>
</PhysiCell_settings>`

func newFixtureService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(opts...)
	if _, err := svc.Load(context.Background(), []byte(sessionFixture), "fixture.xml"); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	return svc
}

func names(entities []domain.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Name
	}
	return out
}

func ids(entities []domain.Entity) []int {
	out := make([]int, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

func mustGet(t *testing.T, svc *Service, kind domain.EntityKind, name, key string) string {
	t.Helper()
	v, err := svc.Get(kind, name, key)
	if err != nil {
		t.Fatalf("get %s %s %s: %v", kind, name, key, err)
	}
	return v
}

func TestNewServiceStartsFromTemplate(t *testing.T) {
	svc := NewService()
	if diff := cmp.Diff([]string{"default"}, names(svc.Entities(domain.KindCellType))); diff != "" {
		t.Fatalf("cell types mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"substrate"}, names(svc.Entities(domain.KindSubstrate))); diff != "" {
		t.Fatalf("substrates mismatch (-want +got):\n%s", diff)
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", "chemotaxis_substrate"); got != "substrate" {
		t.Fatalf("chemotaxis_substrate = %q", got)
	}
	if got := svc.OutputFolder(); got != "output" {
		t.Fatalf("output folder = %q", got)
	}
	res, err := svc.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("template should validate cleanly, got %+v", res.Violations)
	}
}

func TestRenameScenarioRemovesOldName(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	if _, err := svc.Rename(ctx, domain.KindCellType, "default", "cancer"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := string(svc.Serialize())
	if !strings.Contains(out, `name="cancer"`) {
		t.Fatalf("expected renamed entity in output:\n%s", out)
	}
	if strings.Contains(out, `name="default"`) {
		t.Fatalf("old name still present:\n%s", out)
	}
	if got := len(svc.Entities(domain.KindCellType)); got != 1 {
		t.Fatalf("rename changed entity count to %d", got)
	}
}

func TestRenameSynthesizedCellTypeDropsDefault(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	doc := `<PhysiCell_settings><cell_definitions><cell_definition name="default" ID="0"/></cell_definitions></PhysiCell_settings>`
	if _, err := svc.Load(ctx, []byte(doc), "minimal.xml"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := names(svc.Entities(domain.KindSubstrate)); !cmp.Equal(got, []string{"substrate"}) {
		t.Fatalf("synthesized substrates = %v", got)
	}
	if _, err := svc.Rename(ctx, domain.KindCellType, "default", "cancer"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	out := string(svc.Serialize())
	if strings.Contains(out, `name="default"`) {
		t.Fatalf("old name still present:\n%s", out)
	}
	if !strings.Contains(out, `name="substrate"`) {
		t.Fatalf("synthesized substrate missing:\n%s", out)
	}
}

func TestCreateAndCopyScenario(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	tumor, _, err := svc.Create(ctx, domain.KindCellType, "tumor", "default")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tumor.ID != 1 {
		t.Fatalf("tumor ID = %d, want 1", tumor.ID)
	}
	cp, _, err := svc.Copy(ctx, domain.KindCellType, "tumor")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if cp.Name != "tumor_copy" {
		t.Fatalf("copy name = %q", cp.Name)
	}
	cp2, _, err := svc.Copy(ctx, domain.KindCellType, "tumor")
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if cp2.Name != "tumor_copy2" {
		t.Fatalf("second copy name = %q", cp2.Name)
	}
	entities := svc.Entities(domain.KindCellType)
	if diff := cmp.Diff([]string{"default", "tumor", "tumor_copy", "tumor_copy2"}, names(entities)); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, ids(entities)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	// every cell type gained interaction entries for the new targets
	for _, e := range entities {
		if _, ok := svc.Lookup(domain.KindCellType, e.Name, params.FamilyKey("attack_rate", "tumor_copy")); !ok {
			t.Fatalf("%s lacks attack_rate[tumor_copy]", e.Name)
		}
	}
	doc, err := document.Parse(svc.Serialize())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	node := doc.Find("cell_definitions/cell_definition[@name='tumor_copy']")
	if node == nil || node.AttrOr("ID", "") != "2" {
		t.Fatalf("tumor_copy node missing or misnumbered: %+v", node)
	}
}

func TestCreateGeneratesName(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	cell, _, err := svc.Create(ctx, domain.KindCellType, "", "")
	if err != nil {
		t.Fatalf("create cell: %v", err)
	}
	if cell.Name != "cell_def01" {
		t.Fatalf("generated cell name = %q", cell.Name)
	}
	sub, _, err := svc.Create(ctx, domain.KindSubstrate, "", "")
	if err != nil {
		t.Fatalf("create substrate: %v", err)
	}
	if sub.Name != "substrate01" {
		t.Fatalf("generated substrate name = %q", sub.Name)
	}
	for _, c := range []string{"default", "cell_def01"} {
		if _, ok := svc.Lookup(domain.KindCellType, c, params.FamilyKey("secretion_rate", "substrate01")); !ok {
			t.Fatalf("%s lacks secretion entry for the new substrate", c)
		}
	}
}

func TestLifecycleRefusalsLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	before := svc.Serialize()
	rev := svc.Revision()

	cases := []struct {
		name  string
		run   func() error
		check func(error) bool
	}{
		{"duplicate create", func() error {
			_, _, err := svc.Create(ctx, domain.KindCellType, "child", "")
			return err
		}, func(err error) bool { var e domain.DuplicateNameError; return errors.As(err, &e) }},
		{"duplicate rename", func() error {
			_, err := svc.Rename(ctx, domain.KindCellType, "child", "default")
			return err
		}, func(err error) bool { var e domain.DuplicateNameError; return errors.As(err, &e) }},
		{"invalid name", func() error {
			_, err := svc.Rename(ctx, domain.KindSubstrate, "oxygen", "o[2]")
			return err
		}, func(err error) bool { var e domain.InvalidNameError; return errors.As(err, &e) }},
		{"missing template", func() error {
			_, _, err := svc.Create(ctx, domain.KindCellType, "x", "nope")
			return err
		}, func(err error) bool { var e domain.NotFoundError; return errors.As(err, &e) }},
		{"unknown key", func() error {
			_, err := svc.Set(ctx, domain.KindCellType, "default", "no_such_key", "1")
			return err
		}, func(err error) bool { var e domain.UnknownKeyError; return errors.As(err, &e) }},
		{"unknown family target", func() error {
			_, err := svc.Set(ctx, domain.KindCellType, "default", "secretion_rate[ghost]", "1")
			return err
		}, func(err error) bool { var e domain.UnknownKeyError; return errors.As(err, &e) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if diff := cmp.Diff(string(before), string(svc.Serialize())); diff != "" {
				t.Fatalf("document changed (-before +after):\n%s", diff)
			}
			if svc.Revision() != rev {
				t.Fatalf("revision moved to %d", svc.Revision())
			}
		})
	}
}

func TestDeleteLastEntity(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	before := svc.Serialize()
	_, err := svc.Delete(ctx, domain.KindSubstrate, "substrate")
	var last domain.LastEntityError
	if !errors.As(err, &last) {
		t.Fatalf("expected LastEntityError, got %v", err)
	}
	if _, ok := svc.Entity(domain.KindSubstrate, "substrate"); !ok {
		t.Fatalf("last substrate was removed")
	}
	if string(before) != string(svc.Serialize()) {
		t.Fatalf("document changed after refused delete")
	}
}

func TestRenameSubstrateRewritesEveryReference(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	if _, err := svc.Rename(ctx, domain.KindSubstrate, "oxygen", "o2"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.Rename(ctx, domain.KindSubstrate, "debris", "waste"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	for _, cell := range []string{"default", "child"} {
		if got := mustGet(t, svc, domain.KindCellType, cell, "chemotaxis_substrate"); got != "waste" {
			t.Fatalf("%s chemotaxis_substrate = %q", cell, got)
		}
		ps, err := svc.Params(domain.KindCellType, cell)
		if err != nil {
			t.Fatalf("params: %v", err)
		}
		for key, v := range ps {
			if strings.Contains(key, "[oxygen]") || strings.Contains(key, "[debris]") {
				t.Fatalf("%s still holds %s", cell, key)
			}
			if v == "debris" || v == "oxygen" {
				t.Fatalf("%s key %s still names an old substrate", cell, key)
			}
		}
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", "uptake_rate[o2]"); got != "10" {
		t.Fatalf("uptake_rate[o2] = %q, want the re-keyed value", got)
	}
	out := string(svc.Serialize())
	if !strings.Contains(out, `<substrate name="o2">`) {
		t.Fatalf("secretion element not re-keyed:\n%s", out)
	}
	if !strings.Contains(out, `<unmapped_block keep="yes">42</unmapped_block>`) {
		t.Fatalf("unknown element lost:\n%s", out)
	}
}

func TestRenameCellTypeRewritesParent(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	if _, err := svc.Rename(ctx, domain.KindCellType, "default", "base"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	child, _ := svc.Entity(domain.KindCellType, "child")
	if child.ParentName != "base" {
		t.Fatalf("child parent = %q", child.ParentName)
	}
	if _, ok := svc.Lookup(domain.KindCellType, "child", "cell_adhesion_affinity[base]"); !ok {
		t.Fatalf("family entry not re-keyed")
	}
	if _, ok := svc.Lookup(domain.KindCellType, "child", "cell_adhesion_affinity[default]"); ok {
		t.Fatalf("stale family entry kept")
	}
}

func TestDeleteAppliesFallbacks(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)

	if _, err := svc.Delete(ctx, domain.KindSubstrate, "debris"); err != nil {
		t.Fatalf("delete substrate: %v", err)
	}
	if got := mustGet(t, svc, domain.KindCellType, "child", "chemotaxis_substrate"); got != "oxygen" {
		t.Fatalf("chemotaxis_substrate fallback = %q, want first remaining", got)
	}
	if _, ok := svc.Lookup(domain.KindCellType, "default", "secretion_rate[debris]"); ok {
		t.Fatalf("secretion entry for deleted substrate kept")
	}

	if _, err := svc.Delete(ctx, domain.KindCellType, "default"); err != nil {
		t.Fatalf("delete cell type: %v", err)
	}
	child, _ := svc.Entity(domain.KindCellType, "child")
	if child.ParentName != "" || child.ID != 0 {
		t.Fatalf("child after parent delete = %+v", child)
	}
	out := string(svc.Serialize())
	if strings.Contains(out, "parent_type") {
		t.Fatalf("dangling parent_type written:\n%s", out)
	}
	if strings.Contains(out, `name="debris"`) || strings.Contains(out, `name="default"`) {
		t.Fatalf("deleted entities still in document:\n%s", out)
	}
}

func TestIDsStayContiguous(t *testing.T) {
	ctx := context.Background()
	svc := NewService()
	for _, name := range []string{"a", "b", "c", "d"} {
		if _, _, err := svc.Create(ctx, domain.KindSubstrate, name, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	for _, name := range []string{"b", "substrate"} {
		if _, err := svc.Delete(ctx, domain.KindSubstrate, name); err != nil {
			t.Fatalf("delete %s: %v", name, err)
		}
	}
	if _, _, err := svc.Copy(ctx, domain.KindSubstrate, "c"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	entities := svc.Entities(domain.KindSubstrate)
	if diff := cmp.Diff([]string{"a", "c", "d", "c_copy"}, names(entities)); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3}, ids(entities)); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSetReportsTimeStepWarnings(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)

	res, err := svc.Set(ctx, domain.KindCellType, "default", "attachment_rate", "20")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	warnings := res.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != "time_step_plausibility" || warnings[0].Key != "attachment_rate" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", "attachment_rate"); got != "20" {
		t.Fatalf("warning blocked the write, value %q", got)
	}

	if _, err := svc.Set(ctx, domain.KindCellType, "default", "attachment_rate", "5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	res, err = svc.SetSetting(ctx, "mechanics_dt", "1")
	if err != nil {
		t.Fatalf("set setting: %v", err)
	}
	found := false
	for _, w := range res.Warnings() {
		if w.Entity == "default" && w.Key == "attachment_rate" {
			found = true
		}
	}
	if !found {
		t.Fatalf("time step change did not re-check bound fields: %+v", res.Warnings())
	}
}

func TestCheckDoesNotStore(t *testing.T) {
	svc := newFixtureService(t)
	sig := svc.Check(domain.KindCellType, "attachment_rate", "20")
	if sig.Code != validation.WarnTooFast || sig.SuggestedMax != 10 {
		t.Fatalf("unexpected signal %+v", sig)
	}
	if sig := svc.Check(domain.KindCellType, "attachment_rate", "-"); sig.IsWarning() {
		t.Fatalf("incomplete input produced %+v", sig)
	}
	if sig := svc.Check(domain.KindCellType, "speed", "1000"); sig.IsWarning() {
		t.Fatalf("unbound key produced %+v", sig)
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", "attachment_rate"); got == "20" {
		t.Fatalf("check stored the value")
	}
}

func TestOutputIntervalMismatchWarns(t *testing.T) {
	svc := newFixtureService(t)
	res, err := svc.SetSetting(context.Background(), "svg_interval", "30")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if w := res.Warnings(); len(w) != 1 || w[0].Rule != "output_interval_mismatch" {
		t.Fatalf("unexpected warnings %+v", w)
	}
}

func TestSetFixedWritesBothFlags(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	if _, err := svc.SetFixed(ctx, "default", "cycle", true); err != nil {
		t.Fatalf("set fixed: %v", err)
	}
	for _, key := range []string{"cycle_duration_fixed", "cycle_trate_fixed"} {
		if got := mustGet(t, svc, domain.KindCellType, "default", key); got != "true" {
			t.Fatalf("%s = %q", key, got)
		}
	}
	_, err := svc.SetFixed(ctx, "default", "necrosis", true)
	var unknown domain.UnknownKeyError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownKeyError, got %v", err)
	}
}

func TestRunInTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	boom := errors.New("boom")
	_, err := svc.RunInTransaction(ctx, func(tx *Transaction) error {
		if err := tx.Set(domain.KindCellType, "default", "speed", "99"); err != nil {
			return err
		}
		if _, err := tx.Create(domain.KindCellType, "scratch", ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", "speed"); got == "99" {
		t.Fatalf("rolled back write is visible")
	}
	if _, ok := svc.Entity(domain.KindCellType, "scratch"); ok {
		t.Fatalf("rolled back entity is visible")
	}
}

func TestBlockingRuleRollsBack(t *testing.T) {
	ctx := context.Background()
	engine := domain.NewRulesEngine()
	engine.Register(CrossReferenceIntegrityRule())
	svc := newFixtureService(t, WithRulesEngine(engine))
	res, err := svc.RunInTransaction(ctx, func(tx *Transaction) error {
		return tx.state.store.Set(domain.KindCellType, "child", "parent_type", "ghost", false)
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !res.HasBlocking() {
		t.Fatalf("expected blocking violation, got %v", err)
	}
	child, _ := svc.Entity(domain.KindCellType, "child")
	if child.ParentName != "default" {
		t.Fatalf("blocked change leaked: parent %q", child.ParentName)
	}
}

func TestCustomDataAndUserParameters(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)

	if _, err := svc.AddCustomVariable(ctx, "receptor", "0.25"); err != nil {
		t.Fatalf("add custom: %v", err)
	}
	if _, err := svc.RenameCustomVariable(ctx, "sample", "marker"); err != nil {
		t.Fatalf("rename custom: %v", err)
	}
	if _, err := svc.AddCustomVariable(ctx, "marker", "1"); err == nil {
		t.Fatalf("expected duplicate custom variable error")
	}
	if got := mustGet(t, svc, domain.KindCellType, "default", params.CustomKey("marker")); got != "1.5" {
		t.Fatalf("renamed custom value = %q", got)
	}
	if got := mustGet(t, svc, domain.KindCellType, "child", params.CustomKey("receptor")); got != "0.25" {
		t.Fatalf("new custom value = %q", got)
	}
	if _, err := svc.RemoveCustomVariable(ctx, "receptor"); err != nil {
		t.Fatalf("remove custom: %v", err)
	}
	if diff := cmp.Diff([]string{"marker"}, svc.CustomVariables()); diff != "" {
		t.Fatalf("custom variables mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.AddUserParameter(ctx, params.UserParameter{Name: "seed_density", Units: "1/micron^2", Value: "0.5"}); err != nil {
		t.Fatalf("add user parameter: %v", err)
	}
	if _, err := svc.SetUserParameter(ctx, "number_of_cells", "10"); err != nil {
		t.Fatalf("set user parameter: %v", err)
	}
	if _, err := svc.RemoveUserParameter(ctx, "missing"); err == nil {
		t.Fatalf("expected NotFoundError")
	}
	want := []params.UserParameter{
		{Name: "number_of_cells", Type: "int", Units: "none", Description: "initial cells", Value: "10"},
		{Name: "seed_density", Type: "double", Units: "1/micron^2", Value: "0.5"},
	}
	if diff := cmp.Diff(want, svc.UserParameters()); diff != "" {
		t.Fatalf("user parameters mismatch (-want +got):\n%s", diff)
	}
	out := string(svc.Serialize())
	for _, frag := range []string{"<marker", `<seed_density type="double"`, ">10</number_of_cells>"} {
		if !strings.Contains(out, frag) {
			t.Fatalf("document lacks %q:\n%s", frag, out)
		}
	}
	if strings.Contains(out, "<sample") || strings.Contains(out, "<receptor") {
		t.Fatalf("stale custom data in document:\n%s", out)
	}
}

func TestLoadFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	before := svc.Serialize()

	_, err := svc.Load(ctx, []byte("<PhysiCell_settings><oops></PhysiCell_settings>"), "broken.xml")
	var parseErr domain.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	_, err = svc.Load(ctx, []byte(`<PhysiCell_settings><cell_definitions><cell_definition ID="0"/></cell_definitions></PhysiCell_settings>`), "nameless.xml")
	var schemaErr domain.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if string(before) != string(svc.Serialize()) || svc.Source() != "fixture.xml" {
		t.Fatalf("failed load replaced the session")
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	first := svc.Serialize()
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if diff := cmp.Diff(string(first), string(svc.Serialize())); diff != "" {
		t.Fatalf("second flush changed the document (-first +second):\n%s", diff)
	}
	doc, err := document.Parse(first)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if diff := cmp.Diff(first, document.Serialize(doc)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAutosaveAndRestore(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewStore()
	svc := newFixtureService(t, WithSessionStore(sessions))
	if _, err := svc.Set(ctx, domain.KindCellType, "default", "speed", "3.5"); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, ok, err := sessions.LoadSession(ctx)
	if err != nil || !ok {
		t.Fatalf("load session: ok=%v err=%v", ok, err)
	}
	if snap.Revision != svc.Revision() || snap.Source != "fixture.xml" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	restored := NewService(WithSessionStore(sessions))
	ok, err = restored.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if got := mustGet(t, restored, domain.KindCellType, "default", "speed"); got != "3.5" {
		t.Fatalf("restored speed = %q", got)
	}
	if restored.Revision() != svc.Revision() {
		t.Fatalf("restored revision %d, want %d", restored.Revision(), svc.Revision())
	}

	if _, err := NewService().Restore(ctx); !errors.Is(err, ErrNoSessionStore) {
		t.Fatalf("expected ErrNoSessionStore, got %v", err)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	ctx := context.Background()
	svc := newFixtureService(t)
	path := filepath.Join(t.TempDir(), "PhysiCell_settings.xml")
	if err := svc.WriteDocument(ctx, path); err != nil {
		t.Fatalf("write: %v", err)
	}
	other := NewService()
	if _, err := other.LoadFile(ctx, path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if diff := cmp.Diff(names(svc.Entities(domain.KindCellType)), names(other.Entities(domain.KindCellType))); diff != "" {
		t.Fatalf("entities mismatch (-want +got):\n%s", diff)
	}
	if _, err := other.LoadFile(ctx, path+".missing"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
