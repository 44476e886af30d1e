package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// RoutePolicy turns a classified letter into its ordered approval route and
// maps approver roles onto department names.
type RoutePolicy interface {
	BuildRoute(l *domain.Letter) []domain.ApprovalStage
	DepartmentFor(role domain.Role) string
}

// StageRule supplies the reason and checkpoints for a route stage.
type StageRule struct {
	Reason      string   `yaml:"reason"`
	Checkpoints []string `yaml:"checkpoints"`
}

// TypeRule applies to every letter of one type. Departments listed here are
// appended after the classification's required_departments.
type TypeRule struct {
	Reason      string   `yaml:"reason"`
	Checkpoints []string `yaml:"checkpoints"`
	Departments []string `yaml:"departments"`
}

// Policy is the file-backed RoutePolicy.
//
// Example:
//
//	roles:
//	  lawyer: Legal
//	departments:
//	  legal:
//	    reason: Contract obligations
//	    checkpoints: [liability, jurisdiction]
//	types:
//	  regulatory:
//	    reason: Regulator correspondence
//	    departments: [Compliance]
//	risks:
//	  legal: Legal
type Policy struct {
	Roles       map[domain.Role]string         `yaml:"roles"`
	Departments map[string]StageRule           `yaml:"departments"`
	Types       map[domain.LetterType]TypeRule `yaml:"types"`
	Risks       map[string]string              `yaml:"risks"`

	departments map[string]StageRule
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() *Policy {
	p := &Policy{
		Roles: map[domain.Role]string{
			domain.RoleLawyer:     "Legal",
			domain.RoleMarketing:  "Marketing",
			domain.RoleAccountant: "Accounting",
			domain.RoleCompliance: "Compliance",
			domain.RoleManager:    "Management",
		},
		Departments: map[string]StageRule{
			"Legal":      {Reason: "Legal review", Checkpoints: []string{"obligations", "liability"}},
			"Marketing":  {Reason: "Brand and tone review", Checkpoints: []string{"tone of voice"}},
			"Accounting": {Reason: "Financial figures review", Checkpoints: []string{"amounts", "payment terms"}},
			"Compliance": {Reason: "Regulatory compliance review", Checkpoints: []string{"regulatory deadlines"}},
			"Management": {Reason: "Management sign-off"},
		},
		Types: map[domain.LetterType]TypeRule{
			domain.TypeComplaint:       {Reason: "Customer complaint", Checkpoints: []string{"remediation offered"}},
			domain.TypeRegulatory:      {Reason: "Regulator correspondence", Departments: []string{"Compliance"}},
			domain.TypePartnership:     {Reason: "Partnership proposal"},
			domain.TypeApprovalRequest: {Reason: "Approval request", Departments: []string{"Management"}},
		},
	}
	p.index()
	return p
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(raw []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse routing policy: %w", err)
	}
	for role := range p.Roles {
		if _, err := domain.ParseRole(string(role)); err != nil {
			return nil, fmt.Errorf("routing policy: role %q: %w", role, err)
		}
	}
	p.index()
	return &p, nil
}

func (p *Policy) index() {
	p.departments = make(map[string]StageRule, len(p.Departments))
	for name, r := range p.Departments {
		p.departments[DepartmentKey(name)] = r
	}
}

// DepartmentFor returns the department an approver role signs for, or "".
func (p *Policy) DepartmentFor(role domain.Role) string {
	return p.Roles[role]
}

// BuildRoute orders stages by required_departments, then type departments,
// then departments implied by risk types. Duplicates are dropped by
// case-insensitive name; the first spelling wins. Notifications never route.
func (p *Policy) BuildRoute(l *domain.Letter) []domain.ApprovalStage {
	if l.IsNotification() {
		return nil
	}
	tr := p.Types[l.LetterType]

	names := make([]string, 0, len(l.RequiredDepartments)+len(tr.Departments))
	names = append(names, l.RequiredDepartments...)
	names = append(names, tr.Departments...)
	for _, r := range l.Risks {
		if d, ok := p.Risks[r.Type]; ok {
			names = append(names, d)
		}
	}

	seen := make(map[string]bool, len(names))
	route := make([]domain.ApprovalStage, 0, len(names))
	for _, name := range names {
		k := DepartmentKey(name)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true

		dr := p.departments[k]
		reason := dr.Reason
		if reason == "" {
			reason = tr.Reason
		}
		if reason == "" {
			reason = "Required by classification"
		}
		cps := make([]string, 0, len(dr.Checkpoints)+len(tr.Checkpoints))
		cps = append(cps, dr.Checkpoints...)
		cps = append(cps, tr.Checkpoints...)

		route = append(route, domain.ApprovalStage{
			Department:  strings.TrimSpace(name),
			Reason:      reason,
			Checkpoints: cps,
		})
	}
	return route
}
