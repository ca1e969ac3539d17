package model

// Contact is a person at the target company used as a validation probe.
// A contact is only usable for validation when it carries both name parts
// and a title (a proxy for "real person" rather than a synthetic entry).
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Title     string `json:"title,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Usable reports whether the contact qualifies as a validation probe.
func (c Contact) Usable() bool {
	return c.FirstName != "" && c.LastName != "" && c.Title != ""
}

// CompanyContext describes the company a prediction is being made for.
// Domain is the only required field; the rest sharpen the evidence layers.
type CompanyContext struct {
	Domain      string `json:"domain"`
	CompanyName string `json:"company_name,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Region      string `json:"region,omitempty"`
	CompanySize string `json:"company_size,omitempty"`
}

// TLD returns the final label of the domain ("com", "de", ...). Used by the
// region+tld and tld evidence layers.
func (c CompanyContext) TLD() string {
	for i := len(c.Domain) - 1; i >= 0; i-- {
		if c.Domain[i] == '.' {
			return c.Domain[i+1:]
		}
	}
	return ""
}

// EmbeddingText renders the context as the descriptive string fed to the
// embedding provider. Kept stable: stored vectors are only comparable to
// query vectors built from the same rendering.
func (c CompanyContext) EmbeddingText() string {
	parts := []string{"company " + c.CompanyName, "domain " + c.Domain}
	if c.Sector != "" {
		parts = append(parts, "sector "+c.Sector)
	}
	if c.Region != "" {
		parts = append(parts, "region "+c.Region)
	}
	if c.CompanySize != "" {
		parts = append(parts, "size "+c.CompanySize)
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
