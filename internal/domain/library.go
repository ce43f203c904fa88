package domain

import "context"

// Resource type filters accepted by the discovery API. An empty ResourceType
// searches all types.
const (
	ResourceArticle = "article"
	ResourceBook    = "book"
	ResourceJournal = "journal"
	ResourceThesis  = "thesis"
)

// ResourceTypes lists the valid resource type filters.
var ResourceTypes = []string{ResourceArticle, ResourceBook, ResourceJournal, ResourceThesis}

// SearchQuery holds the structured parameters extracted from a dialogue turn.
// DateFrom/DateTo are 4-digit years (or full YYYYMMDD dates); nil means
// unbounded on that side.
type SearchQuery struct {
	Query        string
	Limit        int
	Offset       int
	ResourceType string
	DateFrom     *int
	DateTo       *int
}

// ResourceLink is one delivery link attached to a record.
type ResourceLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// ResourceRecord is a single bibliographic record from the discovery API.
// Absent fields are empty strings.
type ResourceRecord struct {
	Title        string         `json:"title"`
	Author       string         `json:"author"`
	Year         string         `json:"year"`
	ResourceType string         `json:"resource_type"`
	Links        []ResourceLink `json:"links,omitempty"`
}

// ResultSet is the outcome of one library search. It is produced once per
// tool call and never mutated after formatting.
type ResultSet struct {
	Total int              `json:"total"`
	Docs  []ResourceRecord `json:"docs"`
}

// LibraryClient is the search capability consumed by the agent's tool layer.
// Implementations translate SearchQuery into a provider request; all failure
// modes surface as errors wrapping ErrSearchFailed.
type LibraryClient interface {
	Search(ctx context.Context, q SearchQuery) (*ResultSet, error)
}
