package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"scholarbot/internal/domain"
	"scholarbot/internal/infra/tracer"
)

const (
	defaultResultLimit = 10
	minResultLimit     = 1
	maxResultLimit     = 50
)

// viewOnlineLabel is the delivery link label the discovery API uses for the
// preferred full-text link.
const viewOnlineLabel = "View Online"

// LibrarySearchTool searches the library discovery API for academic resources.
type LibrarySearchTool struct {
	client domain.LibraryClient
	logger *slog.Logger
}

// NewLibrarySearchTool creates the search tool backed by the given client.
func NewLibrarySearchTool(client domain.LibraryClient, logger *slog.Logger) *LibrarySearchTool {
	return &LibrarySearchTool{client: client, logger: logger}
}

func (t *LibrarySearchTool) Name() string { return "get_library_resources" }

func (t *LibrarySearchTool) Description() string {
	return "Search the library for academic resources including articles, books, journals, and dissertations. " +
		"Filter by resource type and date range to refine results."
}

func (t *LibrarySearchTool) Schema() domain.ToolSchema {
	// limit carries no schema bounds on purpose: out-of-range values are
	// clamped in the handler, not rejected.
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search keywords or phrases (e.g., \"machine learning\", \"climate change\")"},
				"resource_type": {"type": "string", "enum": ["article", "book", "journal", "thesis"], "description": "Type of resource to search for; omit to search all types"},
				"date_from": {"type": "integer", "description": "Start year for date range filter (e.g., 2020). 4-digit year."},
				"date_to": {"type": "integer", "description": "End year for date range filter (e.g., 2024). 4-digit year."},
				"limit": {"type": "integer", "description": "Maximum number of results (1-50, default 10)"}
			},
			"required": ["query"]
		}`),
	}
}

type librarySearchParams struct {
	Query        string `json:"query"`
	ResourceType string `json:"resource_type,omitempty"`
	DateFrom     *int   `json:"date_from,omitempty"`
	DateTo       *int   `json:"date_to,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (t *LibrarySearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.library_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p librarySearchParams) (any, error) {
			if strings.TrimSpace(p.Query) == "" {
				return nil, fmt.Errorf("'query' is required")
			}
			if err := ValidateEnum("resource_type", p.ResourceType, domain.ResourceTypes...); err != nil {
				return nil, err
			}

			// Out-of-range limits are clamped, never rejected.
			p.Limit = ClampRange(p.Limit, minResultLimit, maxResultLimit, defaultResultLimit)

			span.SetAttributes(
				tracer.StringAttr("tool.query", p.Query),
				tracer.IntAttr("tool.limit", p.Limit),
			)

			results, err := t.client.Search(ctx, domain.SearchQuery{
				Query:        p.Query,
				Limit:        p.Limit,
				ResourceType: p.ResourceType,
				DateFrom:     p.DateFrom,
				DateTo:       p.DateTo,
			})
			if err != nil {
				return nil, fmt.Errorf("searching library: %w", err)
			}

			t.logger.Debug("library search tool completed",
				"query", p.Query, "results", len(results.Docs))
			return FormatResults(p.Query, results), nil
		},
	)
}

// FormatResults renders a result set into the text block shown to the model
// and, through reconciliation, to the user. Fields absent from a record are
// omitted entirely; no empty-field lines are emitted.
func FormatResults(query string, rs *domain.ResultSet) string {
	if len(rs.Docs) == 0 {
		return fmt.Sprintf("No resources found for query: '%s'. Try broadening your search terms or removing filters.", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d resources (showing %d):\n", rs.Total, len(rs.Docs))

	for i, doc := range rs.Docs {
		title := doc.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&sb, "\n%d. **%s**", i+1, title)
		if doc.Author != "" {
			fmt.Fprintf(&sb, "\n   Author: %s", doc.Author)
		}
		if doc.Year != "" {
			fmt.Fprintf(&sb, "\n   Year: %s", doc.Year)
		}
		if doc.ResourceType != "" {
			fmt.Fprintf(&sb, "\n   Type: %s", doc.ResourceType)
		}
		if url := bestLink(doc.Links); url != "" {
			fmt.Fprintf(&sb, "\n   URL: %s", url)
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}

// bestLink picks the display URL: the first link labeled "View Online",
// else the first link, else empty.
func bestLink(links []domain.ResourceLink) string {
	for _, l := range links {
		if l.Label == viewOnlineLabel {
			return l.URL
		}
	}
	if len(links) > 0 {
		return links[0].URL
	}
	return ""
}

// Compile-time interface check.
var _ domain.Tool = (*LibrarySearchTool)(nil)
