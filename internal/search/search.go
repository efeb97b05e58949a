package search

// Result is a single instruction hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// Query describes a search request. Results are always scoped to one
// organization.
type Query struct {
	OrganizationID string
	Text           string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// InstructionRecord is the data we index for an instruction.
type InstructionRecord struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	Title          string `json:"title"`
	Text           string `json:"text"`
	Category       string `json:"category"`
	Status         string `json:"status"`
}
