// Package taxonomytest provides a small occupation/skill taxonomy for tests.
package taxonomytest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// Skill ids used by the fixture.
const (
	SkillNegotiate     = "skill/negociar-contratos-de-venta"
	SkillLeadSales     = "skill/gestionar-equipos-de-ventas"
	SkillProspect      = "skill/prospectar-nuevos-clientes"
	SkillSpreadsheet   = "skill/utilizar-hoja-de-calculo"
	SkillRestock       = "skill/reponer-estanterias"
	SkillInventory     = "skill/controlar-inventario"
	SkillFinancials    = "skill/preparar-estados-financieros"
	SkillCustomerCare  = "skill/atender-a-clientes"
	SkillForkliftDrive = "skill/conducir-autoelevador"
)

// Occupations returns the fixture occupations.
func Occupations() []taxonomy.Occupation {
	return []taxonomy.Occupation{
		{Code: "1120", Label: "director general", AltLabels: []string{"gerente general"}, Parent: "112"},
		{Code: "1221", Label: "director de ventas y comercialización", AltLabels: []string{"gerente de ventas", "jefe de ventas"}, Parent: "122"},
		{Code: "1420", Label: "gerente de comercio minorista", AltLabels: []string{"encargado de supermercado", "jefe de góndola"}, Parent: "142"},
		{Code: "2411", Label: "contador", AltLabels: []string{"contador público"}, Parent: "241"},
		{Code: "3322", Label: "representante comercial", AltLabels: []string{"ejecutivo de ventas", "agente comercial"}, Parent: "332"},
		{Code: "4311", Label: "auxiliar contable", AltLabels: []string{"administrativo contable"}, Parent: "431"},
		{Code: "5223", Label: "vendedor de tienda", AltLabels: []string{"asistente de ventas", "vendedora de comercio"}, Parent: "522"},
		{Code: "8344", Label: "operador de autoelevador", AltLabels: []string{"maquinista de autoelevador"}, Parent: "834"},
		{Code: "9334", Label: "reponedor/reponedora", AltLabels: []string{"reponedor de estanterías"}, Parent: "933"},
	}
}

// Skills returns the fixture skills.
func Skills() []taxonomy.Skill {
	return []taxonomy.Skill{
		{ID: SkillNegotiate, Label: "negociar contratos de venta", AltLabels: []string{"negociación comercial"}, Reusability: "cross-sector"},
		{ID: SkillLeadSales, Label: "gestionar equipos de ventas", AltLabels: []string{"liderazgo de equipos comerciales"}, Reusability: "sector-specific"},
		{ID: SkillProspect, Label: "prospectar nuevos clientes", AltLabels: []string{"prospección de clientes"}, Reusability: "cross-sector"},
		{ID: SkillSpreadsheet, Label: "utilizar software de hoja de cálculo", AltLabels: []string{"excel"}, Reusability: "transversal", Digital: true},
		{ID: SkillRestock, Label: "reponer estanterías", AltLabels: []string{"reposición de mercadería"}, Reusability: "occupation-specific"},
		{ID: SkillInventory, Label: "controlar inventario", AltLabels: []string{"control de stock"}, Reusability: "cross-sector"},
		{ID: SkillFinancials, Label: "preparar estados financieros", AltLabels: []string{"estados contables"}, Reusability: "sector-specific"},
		{ID: SkillCustomerCare, Label: "atender a clientes", AltLabels: []string{"atención al cliente"}, Reusability: "transversal"},
		{ID: SkillForkliftDrive, Label: "conducir autoelevador", Reusability: "occupation-specific"},
	}
}

// Associations returns the fixture occupation/skill associations.
func Associations() []taxonomy.Association {
	e, o := taxonomy.Essential, taxonomy.Optional
	return []taxonomy.Association{
		{Occupation: "1221", Skill: SkillLeadSales, Relation: e},
		{Occupation: "1221", Skill: SkillNegotiate, Relation: e},
		{Occupation: "1221", Skill: SkillProspect, Relation: o},
		{Occupation: "1420", Skill: SkillInventory, Relation: e},
		{Occupation: "1420", Skill: SkillLeadSales, Relation: o},
		{Occupation: "2411", Skill: SkillFinancials, Relation: e},
		{Occupation: "2411", Skill: SkillSpreadsheet, Relation: o},
		{Occupation: "3322", Skill: SkillNegotiate, Relation: e},
		{Occupation: "3322", Skill: SkillProspect, Relation: e},
		{Occupation: "3322", Skill: SkillCustomerCare, Relation: o},
		{Occupation: "4311", Skill: SkillSpreadsheet, Relation: e},
		{Occupation: "4311", Skill: SkillFinancials, Relation: o},
		{Occupation: "5223", Skill: SkillCustomerCare, Relation: e},
		{Occupation: "5223", Skill: SkillRestock, Relation: o},
		{Occupation: "8344", Skill: SkillForkliftDrive, Relation: e},
		{Occupation: "8344", Skill: SkillInventory, Relation: o},
		{Occupation: "9334", Skill: SkillRestock, Relation: e},
		{Occupation: "9334", Skill: SkillInventory, Relation: o},
	}
}

// Snapshot builds the fixture snapshot or fails the test.
func Snapshot(tb testing.TB) *taxonomy.Snapshot {
	tb.Helper()
	s, err := taxonomy.NewSnapshot(Occupations(), Skills(), Associations(), nil)
	if err != nil {
		tb.Fatalf("fixture snapshot: %v", err)
	}
	return s
}

// WriteDir writes the fixture reference files into dir, as arrays.
func WriteDir(tb testing.TB, dir string) {
	tb.Helper()
	write := func(name string, v any) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			tb.Fatalf("marshal %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
	write(taxonomy.OccupationsFile, Occupations())
	write(taxonomy.SkillsFile, Skills())
	write(taxonomy.AssociationsFile, Associations())
}
