package fusion

import (
	"fmt"
	"strings"

	"github.com/japaniel/occumatch/pkg/taxonomy"
	"github.com/japaniel/occumatch/pkg/textnorm"
)

// Context is the posting evidence the rules look at.
type Context struct {
	Title           string
	Seniority       string
	HasSubordinates bool
	FunctionalArea  string
	Sector          string
}

// text is what the family rules search: the title plus the declared area
// and sector.
func (c Context) text() string {
	return strings.TrimSpace(c.Title + " " + c.FunctionalArea + " " + c.Sector)
}

// Applied records one rule that changed a decision.
type Applied struct {
	Rule   string   `json:"rule"`
	Detail string   `json:"detail"`
	Codes  []string `json:"codes,omitempty"`
	Delta  float64  `json:"delta,omitempty"`
}

// Decision is the ranked candidate list the rules work on.
type Decision struct {
	Candidates     []Candidate
	RequiresReview bool
	Applied        []Applied
	// Locked decisions may only be flagged for review: their code and score
	// come from the dictionary.
	Locked bool
}

// Winner returns the first candidate, if any.
func (d *Decision) Winner() (Candidate, bool) {
	if len(d.Candidates) == 0 {
		return Candidate{}, false
	}
	return d.Candidates[0], true
}

// Rule adjusts a decision.
type Rule interface {
	Name() string
	Apply(ctx Context, d *Decision)
}

// RuleConfig carries the penalties and keyword lists shared by the rules.
type RuleConfig struct {
	ManagerialPenalty   float64      `json:"managerial_penalty"`
	EntryPenalty        float64      `json:"entry_penalty"`
	ManagerialSeniority []string     `json:"managerial_seniority"`
	ManagerialKeywords  []string     `json:"managerial_keywords"`
	EntryKeywords       []string     `json:"entry_keywords"`
	Families            []FamilyRule `json:"families"`
}

// DefaultRuleConfig returns the stock penalties and Spanish/English keyword lists.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		ManagerialPenalty:   0.25,
		EntryPenalty:        0.25,
		ManagerialSeniority: []string{"manager", "gerente", "director", "directivo", "jefe", "head", "executive", "c-level"},
		ManagerialKeywords: []string{"gerente", "gerenta", "director", "directora", "jefe", "jefa", "manager",
			"head of", "responsable de", "coordinador", "coordinadora", "encargado", "encargada", "lider", "supervisor", "supervisora"},
		EntryKeywords: []string{"junior", "jr", "trainee", "pasante", "pasantia", "practicante", "aprendiz",
			"becario", "sin experiencia", "entry level"},
		Families: DefaultFamilies(),
	}
}

func anyPhrase(text string, phrases []string) bool {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return false
	}
	for _, p := range phrases {
		if textnorm.ContainsNormalizedPhrase(norm, textnorm.Normalize(p)) {
			return true
		}
	}
	return false
}

func isManagers(c Candidate) bool { return c.MajorGroup() == taxonomy.ManagersGroup }

// penalize lowers the fused score of every candidate selected by pick and
// returns the affected codes. Locked decisions are left untouched.
// A negative penalty raises the scores instead.
func penalize(d *Decision, penalty float64, pick func(Candidate) bool) []string {
	if d.Locked || penalty == 0 {
		return nil
	}
	var codes []string
	for i := range d.Candidates {
		if pick(d.Candidates[i]) {
			d.Candidates[i].Fused = clamp(d.Candidates[i].Fused - penalty)
			codes = append(codes, d.Candidates[i].Code)
		}
	}
	Sort(d.Candidates)
	return codes
}

// promote moves the first candidate selected by pick to the front, keeping
// the relative order of the others.
func promote(d *Decision, pick func(Candidate) bool) {
	for i, c := range d.Candidates {
		if pick(c) {
			copy(d.Candidates[1:i+1], d.Candidates[:i])
			d.Candidates[0] = c
			return
		}
	}
}

// ManagerialConsistency prefers managerial occupations when the posting says
// the role manages people.
type ManagerialConsistency struct {
	Penalty   float64
	Seniority []string
}

func (ManagerialConsistency) Name() string { return "managerial_consistency" }

func (r ManagerialConsistency) Apply(ctx Context, d *Decision) {
	if len(d.Candidates) == 0 || !(ctx.HasSubordinates || anyPhrase(ctx.Seniority, r.Seniority)) {
		return
	}
	winner := d.Candidates[0]
	if isManagers(winner) {
		return
	}
	managerAt := -1
	for i, c := range d.Candidates {
		if isManagers(c) {
			managerAt = i
			break
		}
	}
	if d.Locked || managerAt < 0 {
		d.RequiresReview = true
		d.Applied = append(d.Applied, Applied{Rule: r.Name(),
			Detail: fmt.Sprintf("managerial posting but %s is not a managerial occupation", winner.Code)})
		return
	}

	codes := penalize(d, r.Penalty, func(c Candidate) bool { return !isManagers(c) })
	// The best managerial candidate wins even if it still scores lower.
	promote(d, isManagers)
	d.Applied = append(d.Applied, Applied{Rule: r.Name(),
		Detail: fmt.Sprintf("promoted %s over %s", d.Candidates[0].Code, winner.Code),
		Codes:  codes, Delta: -r.Penalty})
}

// ManagerialEvidenceGuard demotes managerial occupations chosen for postings
// that carry no sign of managing anyone.
type ManagerialEvidenceGuard struct {
	Penalty   float64
	Seniority []string
	Keywords  []string
}

func (ManagerialEvidenceGuard) Name() string { return "managerial_evidence" }

func (r ManagerialEvidenceGuard) Apply(ctx Context, d *Decision) {
	if len(d.Candidates) == 0 || !isManagers(d.Candidates[0]) {
		return
	}
	if ctx.HasSubordinates || anyPhrase(ctx.Seniority, r.Seniority) || anyPhrase(ctx.Title, r.Keywords) {
		return
	}
	onlyManagers := true
	for _, c := range d.Candidates {
		if !isManagers(c) {
			onlyManagers = false
			break
		}
	}
	if d.Locked || onlyManagers {
		d.RequiresReview = true
		d.Applied = append(d.Applied, Applied{Rule: r.Name(),
			Detail: fmt.Sprintf("managerial occupation %s without managerial evidence", d.Candidates[0].Code)})
		return
	}
	before := d.Candidates[0].Code
	codes := penalize(d, r.Penalty, isManagers)
	if !isManagers(d.Candidates[0]) {
		d.Applied = append(d.Applied, Applied{Rule: r.Name(),
			Detail: fmt.Sprintf("no managerial evidence for %s; selected %s", before, d.Candidates[0].Code),
			Codes:  codes, Delta: -r.Penalty})
		return
	}
	// The penalty was not enough: the best non-managerial candidate wins and
	// the decision goes to review.
	promote(d, func(c Candidate) bool { return !isManagers(c) })
	d.RequiresReview = true
	d.Applied = append(d.Applied, Applied{Rule: r.Name(),
		Detail: fmt.Sprintf("no managerial evidence for %s; %s kept for review", before, d.Candidates[0].Code),
		Codes:  codes, Delta: -r.Penalty})
}

// EntryLevelGuard lowers managerial occupations for junior and trainee
// postings.
type EntryLevelGuard struct {
	Penalty  float64
	Keywords []string
}

func (EntryLevelGuard) Name() string { return "entry_level" }

func (r EntryLevelGuard) Apply(ctx Context, d *Decision) {
	if len(d.Candidates) == 0 {
		return
	}
	if !anyPhrase(ctx.Title, r.Keywords) && !anyPhrase(ctx.Seniority, r.Keywords) {
		return
	}
	hasManagers := false
	for _, c := range d.Candidates {
		if isManagers(c) {
			hasManagers = true
			break
		}
	}
	if !hasManagers {
		return
	}
	if d.Locked {
		if isManagers(d.Candidates[0]) {
			d.RequiresReview = true
			d.Applied = append(d.Applied, Applied{Rule: r.Name(),
				Detail: fmt.Sprintf("entry-level posting mapped to managerial occupation %s", d.Candidates[0].Code)})
		}
		return
	}
	codes := penalize(d, r.Penalty, isManagers)
	detail := "entry-level posting"
	if isManagers(d.Candidates[0]) {
		d.RequiresReview = true
		detail = fmt.Sprintf("entry-level posting still mapped to managerial occupation %s", d.Candidates[0].Code)
	}
	d.Applied = append(d.Applied, Applied{Rule: r.Name(), Detail: detail, Codes: codes, Delta: -r.Penalty})
}

// FamilyRule ties a functional family of postings to the occupation labels
// that fit it or contradict it. Keywords match whole normalized phrases.
type FamilyRule struct {
	Name string `mapstructure:"name" json:"name"`
	// Posting selects the postings the rule covers. When Requires is set one
	// of its keywords must appear too. Any Except keyword disables the rule.
	Posting  []string `mapstructure:"posting" json:"posting"`
	Requires []string `mapstructure:"requires" json:"requires,omitempty"`
	Except   []string `mapstructure:"except" json:"except,omitempty"`
	// Labels matching Mismatch (and not Prefer) are penalized, as are labels
	// matching none of Expect when it is set.
	Mismatch []string `mapstructure:"mismatch" json:"mismatch,omitempty"`
	Expect   []string `mapstructure:"expect" json:"expect,omitempty"`
	Prefer   []string `mapstructure:"prefer" json:"prefer,omitempty"`
	Penalty  float64  `mapstructure:"penalty" json:"penalty"`
	Bonus    float64  `mapstructure:"bonus" json:"bonus,omitempty"`
	// Review keeps every covered posting out of CONFIRMED.
	Review bool `mapstructure:"review" json:"review,omitempty"`
}

func (f FamilyRule) covers(text string) bool {
	if !anyPhrase(text, f.Posting) || anyPhrase(text, f.Except) {
		return false
	}
	return len(f.Requires) == 0 || anyPhrase(text, f.Requires)
}

func (f FamilyRule) mismatched(label string) bool {
	if anyPhrase(label, f.Mismatch) && !anyPhrase(label, f.Prefer) {
		return true
	}
	return len(f.Expect) > 0 && !anyPhrase(label, f.Expect)
}

// Validate checks the penalty and bonus ranges.
func (f FamilyRule) Validate() error {
	if f.Name == "" || len(f.Posting) == 0 {
		return fmt.Errorf("family rule needs a name and posting keywords")
	}
	if f.Penalty < 0 || f.Penalty > 1 || f.Bonus < 0 || f.Bonus > 1 {
		return fmt.Errorf("family %s: penalty and bonus must be in [0,1]", f.Name)
	}
	return nil
}

var (
	salesPostings = []string{"vendedor", "vendedora", "ejecutivo de cuentas", "ejecutiva de cuentas",
		"ejecutivo comercial", "ejecutiva comercial", "account executive", "asesor comercial", "asesora comercial",
		"sales", "ventas", "representante comercial", "representante de ventas", "hunter", "business development",
		"desarrollo de negocios", "key account", "account manager", "plan de ahorro"}
	salesLabels = []string{"representante comercial", "representante de ventas", "agente comercial", "vendedor",
		"vendedora", "ejecutivo de cuentas", "ejecutiva de cuentas", "dependiente", "dependienta",
		"promotor de ventas", "promotora de ventas", "empleado de ventanilla", "teleoperador", "teleoperadora",
		"agente de call center"}
	salesDirectorLabels = []string{"director comercial", "director de comercializacion", "director de ventas",
		"jefe de ventas", "gerente comercial", "gerente de ventas", "director de mercadeo"}
	businessLabels = []string{"analista de negocios", "business analyst", "consultor de negocios",
		"analista de inteligencia de negocios", "business development", "consultor empresarial", "analista de gestion"}
)

// DefaultFamilies returns the stock functional-family rules for Spanish
// postings.
func DefaultFamilies() []FamilyRule {
	return []FamilyRule{
		{
			Name: "admin_vs_business",
			Posting: []string{"administrativo", "administrativa", "auxiliar administrativo", "auxiliar contable",
				"facturacion", "cuentas a pagar", "cuentas a cobrar", "registro contable", "liquidacion", "archivo",
				"secretaria", "recepcionista", "data entry", "ingreso de datos", "back office", "asistente de oficina"},
			Mismatch: businessLabels,
			Prefer: []string{"empleado administrativo", "auxiliar contable", "empleado de oficina", "recepcionista",
				"secretario", "secretaria", "oficinista", "empleado de archivo", "archivista", "asistente administrativo"},
			Penalty: 0.20, Bonus: 0.05,
		},
		{
			Name:    "sales",
			Posting: salesPostings,
			Expect:  append(append([]string(nil), salesLabels...), salesDirectorLabels...),
			Prefer:  salesLabels,
			Penalty: 0.20, Bonus: 0.05,
		},
		{
			Name: "health_vs_engineering",
			Posting: []string{"farmaceutico", "farmaceutica", "farmacia", "farmacias", "enfermero", "enfermera",
				"medico", "medica", "doctor", "doctora", "kinesiologo", "fisioterapeuta", "nutricionista", "psicologo",
				"odontologo", "laboratorio clinico", "bioquimico"},
			Mismatch: []string{"ingeniero", "ingeniera"},
			Penalty:  0.20,
		},
		{
			Name: "internship",
			Posting: []string{"pasantia", "pasantias", "programa de pasantias", "trainee", "jovenes profesionales",
				"joven profesional", "primer empleo", "sin experiencia previa", "graduate program",
				"young professionals", "programa de insercion"},
			Review: true,
		},
		{
			Name: "service_vs_sales_director",
			Posting: append([]string{"atencion al cliente", "customer service", "soporte tecnico", "help desk",
				"call center", "telefonista", "operador telefonico", "recepcion", "front desk", "mesero", "mozo",
				"camarero", "servicio al cliente", "asistencia al cliente"}, salesPostings...),
			Except: []string{"gerente", "gerenta", "director", "directora", "jefe", "jefa", "manager",
				"head of", "supervisor", "supervisora"},
			Mismatch: salesDirectorLabels,
			Penalty:  0.15,
		},
		{
			Name: "operator_vs_business",
			Posting: []string{"operario", "operaria", "operador", "operadora", "produccion", "manufactura", "planta",
				"fabrica", "almacen", "deposito", "logistica", "chofer", "conductor", "camionero", "repartidor",
				"repositor", "repositora", "picking", "packing", "montacargas"},
			Mismatch: businessLabels,
			Penalty:  0.20,
		},
		{
			Name: "vehicles_vs_parts",
			Posting: []string{"0km", "0 km", "okm", "concesionaria", "concesionario", "autos", "automotor",
				"automotriz", "vehiculos", "vehiculo", "motos", "motocicletas", "motovehiculos", "automoviles", "automovil"},
			Requires: salesPostings,
			Except:   []string{"repuesto", "repuestos", "autopartes", "piezas"},
			Mismatch: []string{"repuestos", "piezas de repuesto", "recambios", "taller", "servicio de reparacion", "mecanico"},
			Penalty:  0.15,
		},
		{
			Name: "vehicles_vs_transport",
			Posting: []string{"0km", "0 km", "okm", "concesionaria", "concesionario", "autos", "automotor",
				"automotriz", "vehiculos", "vehiculo", "motos", "motocicletas", "motovehiculos", "automoviles", "automovil"},
			Requires: salesPostings,
			Except:   []string{"repuesto", "repuestos", "autopartes", "piezas"},
			Mismatch: []string{"servicios de transporte", "agente de viajes", "operador turistico"},
			Penalty:  0.10,
		},
		{
			Name: "barista_vs_coffee_trade",
			Posting: []string{"barista", "cafeteria", "cafe de especialidad", "barman", "bartender", "coctelero",
				"servicio de bebidas"},
			Mismatch: []string{"importacion y exportacion de cafe", "importacion de cafe", "exportacion de cafe",
				"comercio internacional de alimentos", "comercio de cafe", "cocinero especializado en pescados",
				"cocinero especializado en mariscos", "chef de pescados", "chef de mariscos"},
			Penalty: 0.15,
		},
		{
			Name: "lawyer_vs_legal_clerk",
			Posting: []string{"abogado", "abogada", "abog", "letrado", "letrada", "litigios", "litigante",
				"derecho", "jurista"},
			Mismatch: []string{"empleado administrativo en el ambito juridico", "auxiliar juridico",
				"asistente juridico", "secretario juridico", "secretaria juridica", "administrativo legal"},
			Prefer:  []string{"abogado", "abogada", "jurista", "asesor juridico", "asesora juridica", "letrado", "letrada", "fiscal"},
			Penalty: 0.15, Bonus: 0.05,
		},
	}
}

// FamilyConsistency adjusts candidates whose occupation label contradicts
// the functional family of the posting. A winner that carries a family
// penalty, and any posting covered by a Review family, goes to review.
type FamilyConsistency struct {
	Families []FamilyRule
}

func (FamilyConsistency) Name() string { return "family_consistency" }

func (r FamilyConsistency) Apply(ctx Context, d *Decision) {
	text := ctx.text()
	if len(d.Candidates) == 0 || text == "" {
		return
	}
	for _, f := range r.Families {
		if !f.covers(text) {
			continue
		}
		if f.Review {
			d.RequiresReview = true
			d.Applied = append(d.Applied, Applied{Rule: r.Name(), Detail: f.Name + ": never confirmed"})
		}
		if d.Locked {
			if f.Penalty > 0 && f.mismatched(d.Candidates[0].Label) {
				d.RequiresReview = true
				d.Applied = append(d.Applied, Applied{Rule: r.Name(),
					Detail: fmt.Sprintf("%s: %s contradicts the posting", f.Name, d.Candidates[0].Code)})
			}
			continue
		}
		penalized := map[string]bool{}
		codes := penalize(d, f.Penalty, func(c Candidate) bool { return f.mismatched(c.Label) })
		for _, c := range codes {
			penalized[c] = true
		}
		if len(codes) > 0 {
			detail := f.Name + ": penalized"
			if penalized[d.Candidates[0].Code] {
				d.RequiresReview = true
				detail = fmt.Sprintf("%s: %s contradicts the posting", f.Name, d.Candidates[0].Code)
			}
			d.Applied = append(d.Applied, Applied{Rule: r.Name(), Detail: detail, Codes: codes, Delta: -f.Penalty})
		}
		if bonus := boost(d, f.Bonus, func(c Candidate) bool {
			return !penalized[c.Code] && anyPhrase(c.Label, f.Prefer)
		}); len(bonus) > 0 {
			d.Applied = append(d.Applied, Applied{Rule: r.Name(), Detail: f.Name + ": preferred", Codes: bonus, Delta: f.Bonus})
		}
	}
}

// boost raises the fused score of every candidate selected by pick.
func boost(d *Decision, bonus float64, pick func(Candidate) bool) []string {
	return penalize(d, -bonus, pick)
}

// Apply runs rules in order.
func Apply(rules []Rule, ctx Context, d *Decision) {
	for _, r := range rules {
		r.Apply(ctx, d)
	}
}

// RuleNames lists the names of rules, for logging.
func RuleNames(rules []Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}
