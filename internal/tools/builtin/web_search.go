package builtin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"iris/internal/agent/ports"
	"iris/internal/httpclient"
	"iris/internal/logging"
)

// DefaultSearchEndpoint is DuckDuckGo's script-free results page.
const DefaultSearchEndpoint = "https://html.duckduckgo.com/html/"

const maxSearchPageBytes = 2 << 20

type webSearch struct {
	client   *http.Client
	endpoint string
}

// NewWebSearch returns the web_search tool. An empty endpoint uses
// DefaultSearchEndpoint.
func NewWebSearch(endpoint string, client *http.Client) ports.ToolExecutor {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultSearchEndpoint
	}
	if client == nil {
		client = httpclient.New(20*time.Second, logging.NewComponentLogger("web-search"))
	}
	return &webSearch{client: client, endpoint: endpoint}
}

func (t *webSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web and return the top results with titles, URLs and snippets.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"query":       {Type: "string", Description: "The search query to execute"},
				"max_results": {Type: "integer", Description: "Maximum number of results (1-10, default 5)"},
			},
			Required: []string{"query"},
		},
	}
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func (t *webSearch) Execute(ctx context.Context, call ports.ToolCall) (ports.ToolOutput, error) {
	query := stringArg(call.Arguments, "query")
	if query == "" {
		return ports.TextOutput("Error: query parameter required"), fmt.Errorf("missing query")
	}
	maxResults := 5
	if n := intArg(call.Arguments, "max_results"); n != 0 {
		maxResults = clampInt(n, 1, 10)
	}

	endpoint := t.endpoint + "?" + url.Values{"q": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; iris-gateway)")
	req.Header.Set("Accept", "text/html")

	resp, err := t.client.Do(req)
	if err != nil {
		return ports.TextOutput(fmt.Sprintf("Search failed: %v", err)), err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ports.TextOutput(fmt.Sprintf("Search failed: status %d", resp.StatusCode)), fmt.Errorf("search status %d", resp.StatusCode)
	}

	body, err := httpclient.ReadAllWithLimit(resp.Body, maxSearchPageBytes)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("read search page: %w", err)
	}
	results, err := parseSearchResults(string(body), maxResults)
	if err != nil {
		return ports.ToolOutput{}, err
	}
	return ports.TextOutput(formatSearchResults(query, results)), nil
}

func parseSearchResults(html string, limit int) ([]searchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}
	var results []searchResult
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.HasClass("result--ad") {
			return true
		}
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, searchResult{
			Title:   title,
			URL:     resolveResultURL(href),
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").Text()), " "),
		})
		return len(results) < limit
	})
	return results, nil
}

// resolveResultURL unwraps the redirect links the results page uses.
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func formatSearchResults(query string, results []searchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
