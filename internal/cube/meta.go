package cube

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// QueryFormatInstructions is appended to every metadata rendering so the
// planning model emits well-formed queries.
const QueryFormatInstructions = `## Query Format
- Time dimensions use: {"dimension": "cube.field", "granularity": "day|week|month|quarter|year", "dateRange": "Last 30 days"}
- Filters use: {"member": "cube.field", "operator": "equals|notEquals|contains|gt|lt|gte|lte|set|notSet|inDateRange", "values": ["..."]}
- Order uses: {"cube.field": "asc|desc"}
- When querying sales with product details, use fact_sales_items measures with dim_product_variants dimensions (they are joined)
- Always prefix member names with the cube name (e.g. fact_sales_items.gross_sales, NOT just gross_sales)
`

// FallbackMetaText is served when metadata has never been fetched
// successfully.
const FallbackMetaText = "## Available Cubes & Members\n\n" +
	"(Cube metadata is temporarily unavailable. Use your best judgement " +
	"based on the user's question.)\n\n" + QueryFormatInstructions

// memberTypeLabels maps raw meta member types to the labels used in prompts.
var memberTypeLabels = map[string]string{
	"number": "calculated",
}

func formatMember(m MetaMember) string {
	label := m.Type
	if mapped, ok := memberTypeLabels[m.Type]; ok {
		label = mapped
	}
	return m.Name + " (" + label + ")"
}

// FormatMeta renders a /meta response into prompt-friendly text.
func FormatMeta(meta *Meta) string {
	lines := []string{"## Available Cubes & Members\n"}
	for _, cube := range meta.Cubes {
		title := cube.Title
		if title == "" {
			title = cube.Name
		}
		lines = append(lines, "### "+cube.Name+" ("+title+")")

		if len(cube.Measures) > 0 {
			parts := make([]string, len(cube.Measures))
			for i, m := range cube.Measures {
				parts[i] = formatMember(m)
			}
			lines = append(lines, "Measures: "+strings.Join(parts, ", "))
		}
		if len(cube.Dimensions) > 0 {
			parts := make([]string, len(cube.Dimensions))
			for i, d := range cube.Dimensions {
				parts[i] = formatMember(d)
			}
			lines = append(lines, "Dimensions: "+strings.Join(parts, ", "))
		}
		if len(cube.Joins) > 0 {
			parts := make([]string, len(cube.Joins))
			for i, j := range cube.Joins {
				parts[i] = j.Name
			}
			lines = append(lines, "Joins: "+strings.Join(parts, ", "))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// MetaFetcher fetches semantic layer metadata. *Client implements it.
type MetaFetcher interface {
	FetchMeta(ctx context.Context) (*Meta, error)
}

// MetaCache caches formatted cube metadata with a TTL. A refresh happens at
// most once at a time; concurrent callers wait for it. On refresh failure the
// cache serves stale data when it has any, and a fixed fallback text when it
// does not. None of its read methods ever return an error.
type MetaCache struct {
	fetcher MetaFetcher
	ttl     time.Duration
	logger  *log.Logger
	now     func() time.Time

	mu        sync.Mutex
	text      string
	members   map[string]struct{}
	fetchedAt time.Time
}

// NewMetaCache builds a MetaCache. ttl <= 0 falls back to five minutes.
func NewMetaCache(fetcher MetaFetcher, ttl time.Duration) *MetaCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MetaCache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  log.New(log.Writer(), "[CUBE-META] ", log.LstdFlags),
		now:     time.Now,
	}
}

// refreshLocked fetches metadata if the cache is stale. Callers must hold mu.
func (c *MetaCache) refreshLocked(ctx context.Context) {
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return
	}
	meta, err := c.fetcher.FetchMeta(ctx)
	if err != nil {
		if c.text != "" {
			c.logger.Printf("meta refresh failed, serving stale cache: %v", err)
		} else {
			c.logger.Printf("meta refresh failed, no cache yet: %v", err)
		}
		return
	}
	c.text = FormatMeta(meta) + "\n" + QueryFormatInstructions
	c.members = make(map[string]struct{})
	for _, cube := range meta.Cubes {
		for _, m := range cube.Measures {
			c.members[m.Name] = struct{}{}
		}
		for _, d := range cube.Dimensions {
			c.members[d.Name] = struct{}{}
		}
	}
	c.fetchedAt = c.now()
	c.logger.Printf("meta cache refreshed (%d cubes, %d members)", len(meta.Cubes), len(c.members))
}

// FormattedMeta returns prompt-ready metadata text. It never fails: a fetch
// error yields stale text if available, otherwise the fallback text.
func (c *MetaCache) FormattedMeta(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)
	if c.text == "" {
		return FallbackMetaText
	}
	return c.text
}

// ValidMembers returns the set of known member names, or nil when no
// metadata has ever been fetched. A nil result means member validation
// should be skipped.
func (c *MetaCache) ValidMembers(ctx context.Context) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked(ctx)
	return c.members
}
