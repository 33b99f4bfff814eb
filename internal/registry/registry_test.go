package registry

import (
	"errors"
	"strings"
	"testing"
)

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()

	cfg := testConfig()
	cfg.TaskType = ""
	if err := r.Register(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for empty task type, got %v", err)
	}

	cfg = testConfig()
	cfg.PricingRule = "per_click"
	if err := r.Register(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown pricing rule, got %v", err)
	}

	cfg = testConfig()
	cfg.RequiredFields = []string{"missing"}
	if err := r.Register(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for required field outside the schema, got %v", err)
	}

	cfg = testConfig()
	cfg.Defaults = map[string]any{"missing": 1}
	if err := r.Register(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for default outside the schema, got %v", err)
	}
}

func TestRegisterAppliesDefaults(t *testing.T) {
	r := NewRegistry()
	cfg := testConfig()
	cfg.UnitSize = 0
	cfg.DefaultTimeoutSecs = 0
	if err := r.Register(cfg); err != nil {
		t.Fatalf("Failed to register config: %v", err)
	}

	got, err := r.Get(cfg.TaskType)
	if err != nil {
		t.Fatalf("Failed to get config: %v", err)
	}
	if got.UnitSize != 1 {
		t.Errorf("Expected unit size to default to 1, got %d", got.UnitSize)
	}
	if got.DefaultTimeoutSecs != 300 {
		t.Errorf("Expected timeout to default to 300, got %d", got.DefaultTimeoutSecs)
	}
}

func TestRegisterOverride(t *testing.T) {
	r := NewRegistry()
	cfg := testConfig()
	if err := r.Register(cfg); err != nil {
		t.Fatalf("Failed to register config: %v", err)
	}

	cfg.VariableRate = 9.9
	if err := r.Register(cfg); err != nil {
		t.Fatalf("Failed to re-register config: %v", err)
	}

	got, _ := r.Get(cfg.TaskType)
	if got.VariableRate != 9.9 {
		t.Errorf("Expected re-registration to override, got rate %f", got.VariableRate)
	}
	if len(r.List()) != 1 {
		t.Errorf("Expected a single catalog entry after override, got %d", len(r.List()))
	}
}

func TestGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("Expected ErrUnknownTaskType, got %v", err)
	}
}

func TestBuiltinCatalog(t *testing.T) {
	r := Builtin()
	if len(r.List()) != 9 {
		t.Errorf("Expected 9 builtin task types, got %d", len(r.List()))
	}

	byCat := r.ListByCategory()
	if len(byCat[CategoryLinkedIn]) != 3 {
		t.Errorf("Expected 3 linkedin task types, got %d", len(byCat[CategoryLinkedIn]))
	}
	if len(byCat[CategorySocialMedia]) != 2 {
		t.Errorf("Expected 2 social media task types, got %d", len(byCat[CategorySocialMedia]))
	}
	if len(byCat[CategoryCompanyData]) != 4 {
		t.Errorf("Expected 4 company data task types, got %d", len(byCat[CategoryCompanyData]))
	}

	cfg, err := r.Get("linkedin-profile")
	if err != nil {
		t.Fatalf("Failed to get linkedin-profile: %v", err)
	}
	if cfg.RemoteActor != "bulkdata/linkedin-profile-scraper" {
		t.Errorf("Expected the bulkdata actor, got %s", cfg.RemoteActor)
	}
}

func TestListOrder(t *testing.T) {
	r := NewRegistry()
	first := testConfig()
	second := testConfig()
	second.TaskType = "web-archive"
	if err := r.Register(first); err != nil {
		t.Fatalf("Failed to register first config: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Failed to register second config: %v", err)
	}

	list := r.List()
	if list[0].TaskType != first.TaskType || list[1].TaskType != second.TaskType {
		t.Errorf("Expected registration order, got %s, %s", list[0].TaskType, list[1].TaskType)
	}
}

func TestValidateInputRequired(t *testing.T) {
	r := Builtin()
	_, err := r.ValidateInput("linkedin-profile", map[string]any{"includeSkills": true})
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Fatalf("Expected ErrMissingRequiredField, got %v", err)
	}
	if !strings.Contains(err.Error(), "profileUrls") {
		t.Errorf("Expected the missing field to be named, got %q", err.Error())
	}
}

func TestValidateInputMergesDefaults(t *testing.T) {
	r := Builtin()
	input := map[string]any{"profileUrls": []any{"u"}}

	got, err := r.ValidateInput("linkedin-posts", input)
	if err != nil {
		t.Fatalf("Failed to validate input: %v", err)
	}
	if got["maxPostsPerProfile"] != 10 {
		t.Errorf("Expected default maxPostsPerProfile=10, got %v", got["maxPostsPerProfile"])
	}
	if got["includeComments"] != false {
		t.Errorf("Expected default includeComments=false, got %v", got["includeComments"])
	}

	// The argument is never touched; defaults land only on the copy.
	if len(input) != 1 {
		t.Errorf("Expected input argument unchanged, got %v", input)
	}

	// Caller values win over defaults.
	got, err = r.ValidateInput("linkedin-posts", map[string]any{
		"profileUrls":        []any{"u"},
		"maxPostsPerProfile": 99,
	})
	if err != nil {
		t.Fatalf("Failed to validate input: %v", err)
	}
	if got["maxPostsPerProfile"] != 99 {
		t.Errorf("Expected caller value to win over default, got %v", got["maxPostsPerProfile"])
	}
}

func TestValidateInputCoercion(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testConfig()); err != nil {
		t.Fatalf("Failed to register config: %v", err)
	}

	got, err := r.ValidateInput("web-snapshot", map[string]any{
		"urls":      []string{"https://example.com"},
		"depth":     "3",
		"threshold": "0.75",
		"label":     42,
		"headless":  "true",
	})
	if err != nil {
		t.Fatalf("Failed to validate input: %v", err)
	}
	if got["depth"] != 3 {
		t.Errorf("Expected string integer coerced to 3, got %v", got["depth"])
	}
	if got["threshold"] != 0.75 {
		t.Errorf("Expected string number coerced to 0.75, got %v", got["threshold"])
	}
	if got["label"] != "42" {
		t.Errorf("Expected non-string stringified, got %v", got["label"])
	}
	if got["headless"] != true {
		t.Errorf("Expected string boolean coerced to true, got %v", got["headless"])
	}

	// JSON decoding hands integers over as float64; they come back as int.
	got, err = r.ValidateInput("web-snapshot", map[string]any{
		"urls":  []any{"u"},
		"depth": float64(7),
	})
	if err != nil {
		t.Fatalf("Failed to validate input: %v", err)
	}
	if got["depth"] != 7 {
		t.Errorf("Expected float64 coerced to int 7, got %v", got["depth"])
	}
}

func TestValidateInputRejections(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(testConfig()); err != nil {
		t.Fatalf("Failed to register config: %v", err)
	}

	cases := []map[string]any{
		{"urls": "not-a-list"},
		{"urls": []any{"u"}, "depth": "abc"},
		{"urls": []any{"u"}, "threshold": "fast"},
		{"urls": []any{"u"}, "headless": "yes"},
		{"urls": []any{"u"}, "viewport": "wide"},
	}
	for i, input := range cases {
		if _, err := r.ValidateInput("web-snapshot", input); !errors.Is(err, ErrInvalidField) {
			t.Errorf("Case %d: expected ErrInvalidField, got %v", i, err)
		}
	}
}

// --- Helpers ---

func testConfig() TaskTypeConfig {
	return TaskTypeConfig{
		TaskType:     "web-snapshot",
		Name:         "Web Snapshot",
		Category:     CategoryUtility,
		RemoteActor:  "utility/web-snapshot",
		PricingRule:  PricingPerUnit,
		VariableRate: 0.5,
		CostUnit:     "pages",
		UnitSize:     1,
		InputSchema: map[string]FieldSpec{
			"urls":      {Type: "array"},
			"depth":     {Type: "integer"},
			"threshold": {Type: "number"},
			"label":     {Type: "string"},
			"headless":  {Type: "boolean"},
			"viewport":  {Type: "object"},
		},
		RequiredFields: []string{"urls"},
		Defaults:       map[string]any{"depth": 2},
	}
}
