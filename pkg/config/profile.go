package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tillerlabs/tiller/pkg/constitution"
	"github.com/tillerlabs/tiller/pkg/maintenance"
	"github.com/tillerlabs/tiller/pkg/policy"
	"github.com/tillerlabs/tiller/pkg/risk"
)

// GovernanceProfile is an operator-defined governance posture loaded from
// YAML. A profile never widens the hard rules; it tunes tolerances,
// approval floors, and extra gate clauses on top of them.
type GovernanceProfile struct {
	Name                   string            `yaml:"name" json:"name"`
	Code                   string            `yaml:"code" json:"code"`
	ConstitutionConstraint string            `yaml:"constitution_constraint,omitempty" json:"constitution_constraint,omitempty"`
	Risk                   RiskPolicy        `yaml:"risk" json:"risk"`
	Mandates               MandatePolicy     `yaml:"mandates" json:"mandates"`
	Clauses                []GateClause      `yaml:"clauses,omitempty" json:"clauses,omitempty"`
	Maintenance            MaintenancePolicy `yaml:"maintenance" json:"maintenance"`
}

// RiskPolicy tunes the risk gate.
type RiskPolicy struct {
	Tolerance     *float64 `yaml:"tolerance,omitempty" json:"tolerance,omitempty"`
	AllowHighRisk bool     `yaml:"allow_high_risk" json:"allow_high_risk"`
}

// MandatePolicy sets mandate issuing and validation floors.
type MandatePolicy struct {
	TTLSeconds   int        `yaml:"ttl_seconds" json:"ttl_seconds"`
	MinApprovals int        `yaml:"min_approvals" json:"min_approvals"`
	MinRiskLevel risk.Level `yaml:"min_risk_level,omitempty" json:"min_risk_level,omitempty"`
}

// GateClause is one CEL clause appended to the gate.
type GateClause struct {
	ID   string `yaml:"id" json:"id"`
	Expr string `yaml:"expr" json:"expr"`
}

// MaintenancePolicy bounds the drift report history.
type MaintenancePolicy struct {
	MaxReports int `yaml:"max_reports" json:"max_reports"`
}

// LoadProfile loads and validates a governance profile by code. It reads
// profile_<code>.yaml from the profiles directory.
func LoadProfile(profilesDir, code string) (*GovernanceProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", code, err)
	}

	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadAllProfiles loads and validates every profile_*.yaml in the
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var profile GovernanceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		if err := profile.Validate(); err != nil {
			return nil, err
		}
		profiles[profile.Code] = &profile
	}

	return profiles, nil
}

// Validate rejects profiles that could not arm the gate: an incompatible
// constitution constraint, out-of-range tolerances, unknown risk levels,
// or clauses that do not compile.
func (p *GovernanceProfile) Validate() error {
	if p.ConstitutionConstraint != "" {
		if err := constitution.CompatibleWith(p.ConstitutionConstraint); err != nil {
			return fmt.Errorf("config: profile %q: %w", p.Code, err)
		}
	}
	if t := p.Risk.Tolerance; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("config: profile %q: risk tolerance %v outside [0,1]", p.Code, *t)
	}
	if p.Mandates.TTLSeconds < 0 {
		return fmt.Errorf("config: profile %q: negative mandate ttl", p.Code)
	}
	if p.Mandates.MinApprovals < 0 {
		return fmt.Errorf("config: profile %q: negative approval floor", p.Code)
	}
	if lvl := p.Mandates.MinRiskLevel; lvl != "" && lvl.Ordinal() < 0 {
		return fmt.Errorf("config: profile %q: unknown risk level %q", p.Code, lvl)
	}
	if p.Maintenance.MaxReports < 0 {
		return fmt.Errorf("config: profile %q: negative report cap", p.Code)
	}

	if len(p.Clauses) > 0 {
		eval, err := policy.NewEvaluator()
		if err != nil {
			return err
		}
		for _, c := range p.Clauses {
			if err := eval.Check(c.Expr); err != nil {
				return fmt.Errorf("config: profile %q clause %q: %w", p.Code, c.ID, err)
			}
		}
	}
	return nil
}

// RiskConstraints maps the profile onto gate constraints. Assumptions are
// per-request and stay empty here.
func (p *GovernanceProfile) RiskConstraints() risk.Constraints {
	return risk.Constraints{
		RiskTolerance: p.Risk.Tolerance,
		AllowHighRisk: p.Risk.AllowHighRisk,
	}
}

// MandateTTL returns the mandate validity window, defaulting to 15 minutes.
func (p *GovernanceProfile) MandateTTL() time.Duration {
	if p.Mandates.TTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.Mandates.TTLSeconds) * time.Second
}

// GateClauses converts the profile clauses for the policy evaluator.
func (p *GovernanceProfile) GateClauses() []policy.Clause {
	if len(p.Clauses) == 0 {
		return nil
	}
	out := make([]policy.Clause, len(p.Clauses))
	for i, c := range p.Clauses {
		out[i] = policy.Clause{ID: c.ID, Expr: c.Expr}
	}
	return out
}

// ReportCap returns the maintenance history bound.
func (p *GovernanceProfile) ReportCap() int {
	if p.Maintenance.MaxReports <= 0 {
		return maintenance.DefaultMaxReports
	}
	return p.Maintenance.MaxReports
}
