package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"scholarbot/internal/domain"
	"scholarbot/internal/infra/config"
	"scholarbot/internal/infra/tracer"
)

// maxSearchBodySize bounds the response body read from the discovery API.
const maxSearchBodySize = 4 * 1024 * 1024 // 4 MB

const (
	defaultRateLimit = 5.0
	defaultBurst     = 10
)

// Client talks to an Ex Libris Primo-style discovery API. It implements
// domain.LibraryClient. Requests are throttled client-side so bursts of tool
// calls stay within the API's quota.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	vid        string
	tab        string
	scope      string
	logger     *slog.Logger
}

// NewClient creates a discovery API client from config.
func NewClient(cfg config.LibraryConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		vid:        cfg.VID,
		tab:        cfg.Tab,
		scope:      cfg.Scope,
		logger:     logger,
	}
}

// searchResponse models the relevant portion of the Primo JSON response.
type searchResponse struct {
	Docs []struct {
		PNX struct {
			Display struct {
				Title        []string `json:"title"`
				Creator      []string `json:"creator"`
				CreationDate []string `json:"creationdate"`
				Type         []string `json:"type"`
			} `json:"display"`
		} `json:"pnx"`
		Delivery struct {
			Link []struct {
				DisplayLabel string `json:"displayLabel"`
				LinkURL      string `json:"linkURL"`
			} `json:"link"`
		} `json:"delivery"`
	} `json:"docs"`
	Info struct {
		Total int `json:"total"`
	} `json:"info"`
}

// Search implements domain.LibraryClient. All failure modes wrap
// domain.ErrSearchFailed so callers can classify them uniformly.
func (c *Client) Search(ctx context.Context, q domain.SearchQuery) (*domain.ResultSet, error) {
	ctx, span := tracer.StartSpan(ctx, "library.search",
		trace.WithAttributes(
			tracer.StringAttr("library.query", q.Query),
			tracer.IntAttr("library.limit", q.Limit),
		),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: rate limiter: %s", domain.ErrSearchFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/primo/v1/search", nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: create request: %s", domain.ErrSearchFailed, err)
	}
	req.URL.RawQuery = c.buildQuery(q).Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: request: %s", domain.ErrSearchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: read response: %s", domain.ErrSearchFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: HTTP %d: %s", domain.ErrSearchFailed, resp.StatusCode, truncateBody(body))
		tracer.RecordError(span, err)
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: parse response: %s", domain.ErrSearchFailed, err)
	}

	result := toResultSet(sr)
	c.logger.Debug("library search completed",
		"query", q.Query,
		"total", result.Total,
		"returned", len(result.Docs),
	)
	tracer.SetOK(span)
	return result, nil
}

// buildQuery assembles the discovery API query parameters. Date bounds are
// normalized to YYYYMMDD here so the extraction layer can keep passing plain
// years.
func (c *Client) buildQuery(q domain.SearchQuery) url.Values {
	vals := url.Values{}
	vals.Set("q", "any,contains,"+q.Query)
	vals.Set("limit", strconv.Itoa(q.Limit))
	vals.Set("offset", strconv.Itoa(q.Offset))
	if c.apiKey != "" {
		vals.Set("apikey", c.apiKey)
	}
	if c.vid != "" {
		vals.Set("vid", c.vid)
	}
	if c.tab != "" {
		vals.Set("tab", c.tab)
	}
	if c.scope != "" {
		vals.Set("scope", c.scope)
	}

	if q.ResourceType != "" {
		vals.Set("qInclude", "facet_rtype,exact,"+q.ResourceType)
	}

	if q.DateFrom != nil || q.DateTo != nil {
		from := NormalizeDateBound(q.DateFrom, true)
		to := NormalizeDateBound(q.DateTo, false)
		vals.Set("searchCreationDate", fmt.Sprintf("drange,exact,[%s TO %s]", from, to))
	}

	return vals
}

func toResultSet(sr searchResponse) *domain.ResultSet {
	rs := &domain.ResultSet{
		Total: sr.Info.Total,
		Docs:  make([]domain.ResourceRecord, 0, len(sr.Docs)),
	}

	for _, doc := range sr.Docs {
		rec := domain.ResourceRecord{
			Title:        first(doc.PNX.Display.Title),
			Year:         first(doc.PNX.Display.CreationDate),
			ResourceType: first(doc.PNX.Display.Type),
		}
		if len(doc.PNX.Display.Creator) > 0 {
			rec.Author = doc.PNX.Display.Creator[0]
		} else {
			rec.Author = "Unknown Author"
		}
		for _, link := range doc.Delivery.Link {
			rec.Links = append(rec.Links, domain.ResourceLink{
				Label: link.DisplayLabel,
				URL:   link.LinkURL,
			})
		}
		rs.Docs = append(rs.Docs, rec)
	}

	return rs
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Compile-time interface check.
var _ domain.LibraryClient = (*Client)(nil)
