package domain

// StoreInfo is the static business context injected into every LLM
// system prompt. Loaded once at startup and shared read-only across all
// concurrent requests.
type StoreInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Hours       string            `json:"hours,omitempty"`
	Locations   []string          `json:"locations,omitempty"`
	Policies    map[string]string `json:"policies,omitempty"`
}
