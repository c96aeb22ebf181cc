package feed

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"portfolio-optimizer/core/types"
	"portfolio-optimizer/internal/errors"
)

// JSONLoader decodes json portfolio documents
type JSONLoader struct{}

func (JSONLoader) Name() string         { return "json" }
func (JSONLoader) Extensions() []string { return []string{".json"} }

// Decode rejects unknown fields
func (JSONLoader) Decode(data []byte, name string) (*types.Portfolio, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p types.Portfolio
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(errors.TypeValidation, "failed to parse "+name, err)
	}
	return &p, nil
}

// YAMLLoader decodes yaml portfolio documents
type YAMLLoader struct{}

func (YAMLLoader) Name() string         { return "yaml" }
func (YAMLLoader) Extensions() []string { return []string{".yaml", ".yml"} }

// Decode rejects unknown fields
func (YAMLLoader) Decode(data []byte, name string) (*types.Portfolio, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p types.Portfolio
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrap(errors.TypeValidation, "failed to parse "+name, err)
	}
	return &p, nil
}

// HCLLoader decodes HCL portfolio documents:
//
//	id   = "growth"
//	pool = 1000
//	group_capacities = { lab = 50 }
//
//	project "search" {
//	  status       = "active"
//	  value        = 1200
//	  dependencies = ["index"]
//	}
type HCLLoader struct{}

func (HCLLoader) Name() string         { return "hcl" }
func (HCLLoader) Extensions() []string { return []string{".hcl"} }

type hclPortfolio struct {
	ID              string             `hcl:"id,optional"`
	Pool            float64            `hcl:"pool"`
	Currency        *string            `hcl:"currency,optional"`
	GroupCapacities map[string]float64 `hcl:"group_capacities,optional"`
	Projects        []hclProject       `hcl:"project,block"`
}

type hclProject struct {
	ID              string    `hcl:"id,label"`
	Status          string    `hcl:"status"`
	Value           *float64  `hcl:"value,optional"`
	BudgetAllocated *float64  `hcl:"budget_allocated,optional"`
	BudgetConsumed  *float64  `hcl:"budget_consumed,optional"`
	ProgressPercent *float64  `hcl:"progress_percent,optional"`
	ElapsedDays     *float64  `hcl:"elapsed_days,optional"`
	EstimatedDays   *float64  `hcl:"estimated_days,optional"`
	DelayHistory    []float64 `hcl:"delay_history,optional"`
	TeamSize        *float64  `hcl:"team_size,optional"`
	Demand          *float64  `hcl:"demand,optional"`
	MinAllocation   *float64  `hcl:"min_allocation,optional"`
	Mandatory       *bool     `hcl:"mandatory,optional"`
	ResourceTags    []string  `hcl:"resource_tags,optional"`
	Dependencies    []string  `hcl:"dependencies,optional"`
	ObservedAt      *string   `hcl:"observed_at,optional"`
}

// Decode parses the document with the same parser the HCL tooling uses
// and maps diagnostics to a validation error
func (HCLLoader) Decode(data []byte, name string) (*types.Portfolio, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, diagnosticsError(name, diags)
	}

	var doc hclPortfolio
	if diags := gohcl.DecodeBody(file.Body, nil, &doc); diags.HasErrors() {
		return nil, diagnosticsError(name, diags)
	}

	p := &types.Portfolio{
		ID:              doc.ID,
		Pool:            doc.Pool,
		GroupCapacities: doc.GroupCapacities,
		Projects:        make([]types.RawProject, 0, len(doc.Projects)),
	}
	if doc.Currency != nil {
		p.Currency = types.Currency(*doc.Currency)
	}
	for _, hp := range doc.Projects {
		raw := types.RawProject{
			ID:              hp.ID,
			Status:          hp.Status,
			Value:           hp.Value,
			BudgetAllocated: hp.BudgetAllocated,
			BudgetConsumed:  hp.BudgetConsumed,
			ProgressPercent: hp.ProgressPercent,
			ElapsedDays:     hp.ElapsedDays,
			EstimatedDays:   hp.EstimatedDays,
			DelayHistory:    hp.DelayHistory,
			TeamSize:        hp.TeamSize,
			Demand:          hp.Demand,
			MinAllocation:   hp.MinAllocation,
			ResourceTags:    hp.ResourceTags,
			Dependencies:    hp.Dependencies,
		}
		if hp.Mandatory != nil {
			raw.Mandatory = *hp.Mandatory
		}
		if hp.ObservedAt != nil {
			t, err := time.Parse(time.RFC3339, *hp.ObservedAt)
			if err != nil {
				return nil, errors.Wrap(errors.TypeValidation, name+": project "+hp.ID+": invalid observed_at", err)
			}
			raw.ObservedAt = t
		}
		p.Projects = append(p.Projects, raw)
	}
	return p, nil
}

func diagnosticsError(name string, diags hcl.Diagnostics) error {
	e := errors.Wrap(errors.TypeValidation, "failed to parse "+name, diags)
	for _, d := range diags {
		if d.Severity == hcl.DiagError && d.Subject != nil {
			e = e.WithContext("line", d.Subject.Start.Line)
			break
		}
	}
	return e
}
