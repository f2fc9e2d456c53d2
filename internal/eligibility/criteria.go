package eligibility

import "strings"

// Region groups the keywords that place a location in one approved area.
type Region struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// Criteria are the thresholds and lists the evaluator checks against. The
// evaluator keeps its own copy, so changing a Criteria value after New has no
// effect on it.
type Criteria struct {
	MinYears float64 `mapstructure:"min-years"`
	// MaxEntryYears caps the tenure a single entry can contribute.
	MaxEntryYears   float64  `mapstructure:"max-entry-years"`
	MaxRate         float64  `mapstructure:"max-rate"`
	MinAvailability float64  `mapstructure:"min-availability"`
	Currency        string   `mapstructure:"currency"`
	Tier1Companies  []string `mapstructure:"tier1-companies"`
	Regions         []Region `mapstructure:"regions"`
	// Blacklist entries reject a location before any region is matched. They
	// match whole words of the normalized location.
	Blacklist []string `mapstructure:"blacklist"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		MinYears:        4.0,
		MaxEntryYears:   50,
		MaxRate:         100,
		MinAvailability: 20,
		Currency:        "USD",
		Tier1Companies: []string{
			"Google", "Meta", "Facebook", "OpenAI", "Microsoft", "Amazon", "Apple",
			"Netflix", "Tesla", "SpaceX", "Anthropic", "DeepMind", "Stripe", "Airbnb",
			"Uber", "LinkedIn", "Salesforce", "Oracle", "IBM", "Intel", "NVIDIA",
			"Adobe", "Pinterest", "Reddit", "Dropbox", "Atlassian", "Palantir",
			"Databricks", "Snowflake",
		},
		Regions: []Region{
			{Name: "US", Keywords: []string{"united states", "usa", "us", "new york", "san francisco", "seattle", "austin", "boston", "chicago", "los angeles"}},
			{Name: "Canada", Keywords: []string{"canada", "toronto", "vancouver", "montreal", "ottawa"}},
			{Name: "UK", Keywords: []string{"united kingdom", "uk", "great britain", "britain", "england", "scotland", "wales", "london", "manchester", "edinburgh"}},
			{Name: "Germany", Keywords: []string{"germany", "deutschland", "berlin", "munich", "hamburg", "frankfurt"}},
			{Name: "India", Keywords: []string{"india", "bangalore", "bengaluru", "mumbai", "delhi", "new delhi", "hyderabad", "chennai", "pune"}},
		},
		Blacklist: []string{
			"australia", "austria", "indiana", "indianapolis", "new south wales",
			"west indies", "british indian ocean",
		},
	}
}

// withDefaults fills zero thresholds and empty lists from DefaultCriteria.
func (c Criteria) withDefaults() Criteria {
	def := DefaultCriteria()
	if c.MinYears <= 0 {
		c.MinYears = def.MinYears
	}
	if c.MaxEntryYears <= 0 {
		c.MaxEntryYears = def.MaxEntryYears
	}
	if c.MaxRate <= 0 {
		c.MaxRate = def.MaxRate
	}
	if c.MinAvailability <= 0 {
		c.MinAvailability = def.MinAvailability
	}
	if c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency)); c.Currency == "" {
		c.Currency = def.Currency
	}
	if len(c.Tier1Companies) == 0 {
		c.Tier1Companies = def.Tier1Companies
	}
	if len(c.Regions) == 0 {
		c.Regions = def.Regions
	}
	if len(c.Blacklist) == 0 {
		c.Blacklist = def.Blacklist
	}
	return c
}

func (c Criteria) clone() Criteria {
	out := c
	out.Tier1Companies = append([]string(nil), c.Tier1Companies...)
	out.Blacklist = append([]string(nil), c.Blacklist...)
	out.Regions = make([]Region, len(c.Regions))
	for i, r := range c.Regions {
		out.Regions[i] = Region{Name: r.Name, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}
