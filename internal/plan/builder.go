package plan

import (
	"errors"
	"fmt"

	"github.com/karstlund/prospector/internal/cost"
	"github.com/karstlund/prospector/internal/registry"
)

// ErrNoIdentifiers is returned when a request carries nothing any collection
// task could act on.
var ErrNoIdentifiers = errors.New("request has no collectable identifiers")

// Request describes one prospect to analyze: who they are, which data
// sections to collect and how much the whole run may cost. The Include flags
// are meant to be true by default; construct requests with DefaultRequest and
// switch sections off from there.
type Request struct {
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Company       string `json:"company,omitempty" yaml:"company,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	TwitterHandle string `json:"twitter_handle,omitempty" yaml:"twitter_handle,omitempty"`
	FacebookPage  string `json:"facebook_page,omitempty" yaml:"facebook_page,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`
	DUNSNumber    string `json:"duns_number,omitempty" yaml:"duns_number,omitempty"`
	CrunchbaseURL string `json:"crunchbase_url,omitempty" yaml:"crunchbase_url,omitempty"`

	IncludeLinkedIn    bool `json:"include_linkedin" yaml:"include_linkedin"`
	IncludeSocialMedia bool `json:"include_social_media" yaml:"include_social_media"`
	IncludeCompanyData bool `json:"include_company_data" yaml:"include_company_data"`

	// MaxBudget caps the plan's actual spend; nil means unconstrained.
	MaxBudget *float64 `json:"max_budget,omitempty" yaml:"max_budget,omitempty"`
	// Strategy, when set, shapes every node's input at build time so the
	// plan's estimates already reflect it. Empty leaves inputs as written.
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// DefaultRequest returns a request with every data section enabled.
func DefaultRequest() Request {
	return Request{
		IncludeLinkedIn:    true,
		IncludeSocialMedia: true,
		IncludeCompanyData: true,
	}
}

func (r Request) hasIdentifier() bool {
	return r.LinkedInURL != "" || r.TwitterHandle != "" || r.FacebookPage != "" ||
		r.Email != "" || r.DUNSNumber != "" || r.CrunchbaseURL != ""
}

// Label returns a human-readable name for plans built from this request.
func (r Request) Label() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Company != "":
		return r.Company
	default:
		return "prospect"
	}
}

// Builder turns analysis requests into validated execution plans. Which
// nodes a request produces is fully determined by its identifiers and
// section flags; inputs are validated and priced against the registry as
// they are added.
type Builder struct {
	reg *registry.Registry
}

// NewBuilder returns a builder backed by the given task type registry.
func NewBuilder(reg *registry.Registry) *Builder {
	return &Builder{reg: reg}
}

// Build constructs the dependency graph for one request. Any validation or
// pricing failure aborts the build; a partial plan is never returned.
func (b *Builder) Build(req Request) (*Plan, error) {
	if !req.hasIdentifier() {
		return nil, ErrNoIdentifiers
	}

	var strat cost.Strategy
	if req.Strategy != "" {
		s, err := cost.ParseStrategy(req.Strategy)
		if err != nil {
			return nil, err
		}
		strat = s
	}

	p := New(req.Label(), req.MaxBudget)
	run := &buildRun{reg: b.reg, plan: p, strategy: strat, budget: req.MaxBudget}

	if req.IncludeLinkedIn && req.LinkedInURL != "" {
		profileID, err := run.add("linkedin-profile", map[string]any{
			"profileUrls":       []any{req.LinkedInURL},
			"includeSkills":     true,
			"includeEducation":  true,
			"includeExperience": true,
		}, nil, nil)
		if err != nil {
			return nil, err
		}

		if _, err := run.add("linkedin-posts", map[string]any{
			"profileUrls":        []any{req.LinkedInURL},
			"maxPostsPerProfile": 20,
			"includeComments":    false,
		}, nil, nil); err != nil {
			return nil, err
		}

		if req.Company != "" {
			// The company URL is discovered by the profile scrape, so the
			// node starts with an empty list and a binding fills it from the
			// dependency's outputs at dispatch.
			binding := Binding{Field: "companyUrls", SourceKey: "companyUrl", AsList: true}
			if _, err := run.add("linkedin-company", map[string]any{
				"companyUrls":   []any{},
				"includeJobs":   false,
				"includePeople": true,
			}, []string{profileID}, []Binding{binding}); err != nil {
				return nil, err
			}
		}
	}

	if req.IncludeSocialMedia {
		if req.FacebookPage != "" {
			if _, err := run.add("facebook-posts", map[string]any{
				"pageUrls":        []any{req.FacebookPage},
				"maxPostsPerPage": 20,
				"includeComments": false,
			}, nil, nil); err != nil {
				return nil, err
			}
		}
		if req.TwitterHandle != "" {
			if _, err := run.add("twitter-timeline", map[string]any{
				"usernames":        []any{req.TwitterHandle},
				"maxTweetsPerUser": 50,
				"includeReplies":   false,
				"includeRetweets":  false,
			}, nil, nil); err != nil {
				return nil, err
			}
		}
	}

	if req.IncludeCompanyData && req.Company != "" {
		if req.DUNSNumber != "" {
			if _, err := run.add("dnb-company", map[string]any{
				"companyIdentifiers": []any{req.DUNSNumber},
				"includeFinancials":  true,
				"includeRiskScores":  true,
			}, nil, nil); err != nil {
				return nil, err
			}
		}
		if req.CrunchbaseURL != "" {
			if _, err := run.add("crunchbase-company", map[string]any{
				"companyNames":         []any{req.Company},
				"companyUrls":          []any{req.CrunchbaseURL},
				"includeFundingRounds": true,
				"includeInvestors":     true,
			}, nil, nil); err != nil {
				return nil, err
			}
		}
		if req.Email != "" {
			if _, err := run.add("zoominfo-contacts", map[string]any{
				"contactInfo":      []any{req.Email},
				"companyInfo":      []any{req.Company},
				"includeTechStack": true,
			}, nil, nil); err != nil {
				return nil, err
			}
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan for %s: %w", req.Label(), err)
	}
	return p, nil
}

// buildRun threads one request's strategy and budget through node insertion.
// Builds run concurrently in batch mode, so this state lives per call rather
// than on the Builder.
type buildRun struct {
	reg      *registry.Registry
	plan     *Plan
	strategy cost.Strategy
	budget   *float64
}

// add shapes, validates and prices one node, then inserts it into the plan.
func (r *buildRun) add(taskType string, input map[string]any, dependsOn []string, bindings []Binding) (string, error) {
	cfg, err := r.reg.Get(taskType)
	if err != nil {
		return "", err
	}
	if r.strategy != "" {
		input = cost.Optimize(cfg, input, r.strategy, r.budget)
	}
	normalized, err := r.reg.ValidateInput(taskType, input)
	if err != nil {
		return "", err
	}
	est, err := r.reg.Estimate(taskType, normalized)
	if err != nil {
		return "", err
	}
	id := r.plan.AddNode(NodeSpec{
		TaskType:      taskType,
		Input:         normalized,
		DependsOn:     dependsOn,
		Bindings:      bindings,
		EstimatedCost: est.TotalCost,
		TimeoutSecs:   cfg.DefaultTimeoutSecs,
		MemoryMB:      cfg.MemoryMB,
	})
	return id, nil
}
