package registry

// Builtin returns a registry preloaded with the stock task type catalog.
// Files loaded later via LoadDir override entries with the same task type.
func Builtin() *Registry {
	r := NewRegistry()
	for _, cfg := range builtinConfigs() {
		// Built-in entries are known good; Register only fails on malformed
		// input, which would be a programming error here.
		if err := r.Register(cfg); err != nil {
			panic(err)
		}
	}
	return r
}

func builtinConfigs() []TaskTypeConfig {
	return []TaskTypeConfig{
		{
			TaskType:    "linkedin-profile",
			Name:        "LinkedIn Profile Bulk Scraper",
			Description: "Extracts data from LinkedIn user profiles in bulk",
			Category:    CategoryLinkedIn,
			RemoteActor: "bulkdata/linkedin-profile-scraper",

			PricingRule:  PricingPerUnit,
			VariableRate: 4.0,
			CostUnit:     "profiles",
			UnitSize:     1000,

			InputSchema: map[string]FieldSpec{
				"profileUrls":        {Type: "array", Description: "LinkedIn profile URLs to scrape"},
				"includeSkills":      {Type: "boolean", Description: "Include skills section"},
				"includeEducation":   {Type: "boolean", Description: "Include education section"},
				"includeExperience":  {Type: "boolean", Description: "Include experience section"},
				"proxyConfiguration": {Type: "object", Description: "Proxy configuration"},
			},
			RequiredFields: []string{"profileUrls"},
			Defaults: map[string]any{
				"includeSkills":     true,
				"includeEducation":  true,
				"includeExperience": true,
			},
			DefaultTimeoutSecs: 600,
			MaxItemsPerBatch:   1000,

			Optimize: OptimizeHints{
				CostOff:         []string{"includeSkills", "includeEducation"},
				CostOn:          []string{"includeExperience"},
				QualityOn:       []string{"includeSkills", "includeEducation", "includeExperience"},
				BalancedOn:      []string{"includeExperience", "includeEducation"},
				BalancedOnAbove: map[string]float64{"includeSkills": 2.0},
			},
		},
		{
			TaskType:    "linkedin-posts",
			Name:        "LinkedIn Posts Bulk Scraper",
			Description: "Extracts recent posts from LinkedIn profiles or companies",
			Category:    CategoryLinkedIn,
			RemoteActor: "bulkdata/linkedin-posts-scraper",

			PricingRule:  PricingPerUnit,
			VariableRate: 2.0,
			CostUnit:     "posts",
			UnitSize:     1000,

			InputSchema: map[string]FieldSpec{
				"profileUrls":        {Type: "array", Description: "LinkedIn profile URLs to scrape posts from"},
				"maxPostsPerProfile": {Type: "integer", Description: "Maximum number of posts per profile"},
				"includeComments":    {Type: "boolean", Description: "Include post comments"},
				"proxyConfiguration": {Type: "object", Description: "Proxy configuration"},
			},
			RequiredFields: []string{"profileUrls"},
			Defaults: map[string]any{
				"maxPostsPerProfile": 10,
				"includeComments":    false,
			},
			DefaultTimeoutSecs: 300,
			MaxItemsPerBatch:   500,

			Optimize: OptimizeHints{
				CostOff:         []string{"includeComments"},
				QualityOn:       []string{"includeComments"},
				BalancedOnAbove: map[string]float64{"includeComments": 3.0},
				CostCaps:        map[string]int{"maxPostsPerProfile": 5},
				SpeedCaps:       map[string]int{"maxPostsPerProfile": 10},
				BalancedCaps:    map[string]int{"maxPostsPerProfile": 10},
				QualityFloors:   map[string]int{"maxPostsPerProfile": 20},
			},
		},
		{
			TaskType:    "linkedin-company",
			Name:        "LinkedIn Company Profile Scraper",
			Description: "Extracts detailed information from LinkedIn company profiles",
			Category:    CategoryLinkedIn,
			RemoteActor: "bulkdata/linkedin-company-scraper",

			PricingRule:  PricingBasePlusUnit,
			FixedCost:    10.0,
			VariableRate: 0.1,
			CostUnit:     "companies",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"companyUrls":        {Type: "array", Description: "LinkedIn company URLs to scrape"},
				"includeJobs":        {Type: "boolean", Description: "Include job listings"},
				"includePeople":      {Type: "boolean", Description: "Include people/employees"},
				"proxyConfiguration": {Type: "object", Description: "Proxy configuration"},
			},
			RequiredFields: []string{"companyUrls"},
			Defaults: map[string]any{
				"includeJobs":   false,
				"includePeople": true,
			},
			DefaultTimeoutSecs: 300,

			Optimize: OptimizeHints{
				CostOff:   []string{"includeJobs", "includePeople"},
				QualityOn: []string{"includeJobs", "includePeople"},
			},
		},
		{
			TaskType:    "facebook-posts",
			Name:        "Facebook Posts Scraper",
			Description: "Extracts posts and engagement metrics from Facebook pages",
			Category:    CategorySocialMedia,
			RemoteActor: "socialgraph/facebook-posts-scraper",

			PricingRule:  PricingBasePlusUnit,
			FixedCost:    35.0,
			VariableRate: 0.5,
			CostUnit:     "pages",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"pageUrls":           {Type: "array", Description: "Facebook page URLs to scrape"},
				"maxPostsPerPage":    {Type: "integer", Description: "Maximum number of posts per page"},
				"includeComments":    {Type: "boolean", Description: "Include post comments"},
				"proxyConfiguration": {Type: "object", Description: "Proxy configuration"},
			},
			RequiredFields: []string{"pageUrls"},
			Defaults: map[string]any{
				"maxPostsPerPage": 20,
				"includeComments": false,
			},
			DefaultTimeoutSecs: 600,

			Optimize: OptimizeHints{
				CostOff:         []string{"includeComments"},
				QualityOn:       []string{"includeComments"},
				BalancedOnAbove: map[string]float64{"includeComments": 40.0},
				CostCaps:        map[string]int{"maxPostsPerPage": 5},
				SpeedCaps:       map[string]int{"maxPostsPerPage": 10},
				BalancedCaps:    map[string]int{"maxPostsPerPage": 10},
				QualityFloors:   map[string]int{"maxPostsPerPage": 20},
			},
		},
		{
			TaskType:    "twitter-timeline",
			Name:        "Twitter/X Timeline Scraper",
			Description: "Extracts tweets and engagement metrics from Twitter/X profiles",
			Category:    CategorySocialMedia,
			RemoteActor: "socialgraph/twitter-timeline-scraper",

			PricingRule:  PricingPerUnit,
			VariableRate: 0.4,
			CostUnit:     "tweets",
			UnitSize:     1000,

			InputSchema: map[string]FieldSpec{
				"usernames":          {Type: "array", Description: "Twitter/X usernames to scrape"},
				"maxTweetsPerUser":   {Type: "integer", Description: "Maximum number of tweets per user"},
				"includeReplies":     {Type: "boolean", Description: "Include replies to tweets"},
				"includeRetweets":    {Type: "boolean", Description: "Include retweets"},
				"proxyConfiguration": {Type: "object", Description: "Proxy configuration"},
			},
			RequiredFields: []string{"usernames"},
			Defaults: map[string]any{
				"maxTweetsPerUser": 20,
				"includeReplies":   false,
				"includeRetweets":  false,
			},
			DefaultTimeoutSecs: 300,

			Optimize: OptimizeHints{
				CostOff:       []string{"includeReplies", "includeRetweets"},
				QualityOn:     []string{"includeReplies", "includeRetweets"},
				CostCaps:      map[string]int{"maxTweetsPerUser": 10},
				SpeedCaps:     map[string]int{"maxTweetsPerUser": 20},
				QualityFloors: map[string]int{"maxTweetsPerUser": 50},
			},
		},
		{
			TaskType:    "eu-funding-registry",
			Name:        "EU Funding Registry Scraper",
			Description: "Extracts EU funding data and project participation records",
			Category:    CategoryCompanyData,
			RemoteActor: "registries/eu-funding-scraper",

			PricingRule:  PricingPerUnit,
			VariableRate: 0.1,
			CostUnit:     "queries",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"organizationIds":   {Type: "array", Description: "Organization identifiers to search"},
				"organizationNames": {Type: "array", Description: "Organization names to search"},
				"maxResults":        {Type: "integer", Description: "Maximum number of results"},
			},
			RequiredFields: []string{"organizationIds"},
			Defaults: map[string]any{
				"maxResults": 50,
			},
			DefaultTimeoutSecs: 180,
		},
		{
			TaskType:    "dnb-company",
			Name:        "Dun & Bradstreet Scraper",
			Description: "Extracts financial data, credit ratings, and industry classification",
			Category:    CategoryCompanyData,
			RemoteActor: "registries/dnb-company-scraper",

			PricingRule:  PricingBasePlusUnit,
			FixedCost:    30.0,
			VariableRate: 0.2,
			CostUnit:     "companies",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"companyIdentifiers": {Type: "array", Description: "Company DUNS numbers or other identifiers"},
				"companyNames":       {Type: "array", Description: "Company names to search"},
				"includeFinancials":  {Type: "boolean", Description: "Include detailed financial information"},
				"includeRiskScores":  {Type: "boolean", Description: "Include risk scores and metrics"},
			},
			RequiredFields: []string{"companyIdentifiers"},
			Defaults: map[string]any{
				"includeFinancials": true,
				"includeRiskScores": true,
			},
			DefaultTimeoutSecs: 300,
		},
		{
			TaskType:    "zoominfo-contacts",
			Name:        "ZoomInfo Contact Scraper",
			Description: "Extracts contact data, company insights, and technology stack information",
			Category:    CategoryCompanyData,
			RemoteActor: "registries/zoominfo-contact-scraper",

			PricingRule:  PricingFixed,
			FixedCost:    20.0,
			VariableRate: 0.1,
			CostUnit:     "contacts",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"contactInfo":           {Type: "array", Description: "Contact information to search"},
				"companyInfo":           {Type: "array", Description: "Company information to search"},
				"maxContactsPerCompany": {Type: "integer", Description: "Maximum contacts per company"},
				"includeTechStack":      {Type: "boolean", Description: "Include technology stack information"},
			},
			RequiredFields: []string{"contactInfo"},
			Defaults: map[string]any{
				"maxContactsPerCompany": 10,
				"includeTechStack":      true,
			},
			DefaultTimeoutSecs: 300,
		},
		{
			TaskType:    "crunchbase-company",
			Name:        "Crunchbase Company Scraper",
			Description: "Extracts funding data, investors, and company timeline information",
			Category:    CategoryCompanyData,
			RemoteActor: "registries/crunchbase-company-scraper",

			PricingRule:  PricingSubscription,
			FixedCost:    30.0,
			VariableRate: 0.05,
			CostUnit:     "companies",
			UnitSize:     1,

			InputSchema: map[string]FieldSpec{
				"companyNames":         {Type: "array", Description: "Company names to search"},
				"companyUrls":          {Type: "array", Description: "Company URLs to search"},
				"includeFundingRounds": {Type: "boolean", Description: "Include funding rounds information"},
				"includeInvestors":     {Type: "boolean", Description: "Include investors information"},
				"maxInvestors":         {Type: "integer", Description: "Maximum number of investors to include"},
			},
			RequiredFields: []string{"companyNames"},
			Defaults: map[string]any{
				"includeFundingRounds": true,
				"includeInvestors":     true,
				"maxInvestors":         20,
			},
			DefaultTimeoutSecs: 300,
		},
	}
}
