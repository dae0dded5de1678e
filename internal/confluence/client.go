// Package confluence fetches pages from a Confluence Cloud content space via
// its REST API and exposes them as pipeline documents.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"confluenceqa/internal/pipeline"
)

// DefaultPageLimit caps how many pages one ingestion fetches.
const DefaultPageLimit = 100

// batchSize is the per-request limit parameter; Confluence Cloud caps page
// expansion requests at 25 results anyway.
const batchSize = 25

type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
	spaceKey   string
	pageLimit  int
}

// NewClient builds a loader for one space. Empty username/apiKey means
// anonymous access to a public space.
func NewClient(baseURL, username, apiKey, spaceKey string, pageLimit int) *Client {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiKey:     apiKey,
		spaceKey:   spaceKey,
		pageLimit:  pageLimit,
	}
}

type contentResponse struct {
	Results []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Links struct {
			WebUI string `json:"webui"`
		} `json:"_links"`
		Body struct {
			View struct {
				Value string `json:"value"`
			} `json:"view"`
		} `json:"body"`
	} `json:"results"`
	Size  int `json:"size"`
	Links struct {
		Base string `json:"base"`
		Next string `json:"next"`
	} `json:"_links"`
}

// Load fetches up to the configured page cap from the space, rendering each
// page's view body to plain text. Network and auth failures surface to the
// caller unretried.
func (c *Client) Load(ctx context.Context) ([]pipeline.Document, error) {
	var docs []pipeline.Document
	start := 0

	for len(docs) < c.pageLimit {
		limit := batchSize
		if remaining := c.pageLimit - len(docs); remaining < limit {
			limit = remaining
		}

		page, err := c.fetch(ctx, start, limit)
		if err != nil {
			return nil, err
		}

		base := page.Links.Base
		if base == "" {
			base = c.baseURL
		}

		for _, result := range page.Results {
			docs = append(docs, pipeline.Document{
				PageContent: htmlToText(result.Body.View.Value),
				Metadata: map[string]string{
					"id":     result.ID,
					"source": base + result.Links.WebUI,
					"title":  result.Title,
				},
			})
		}

		if page.Size < limit || page.Links.Next == "" {
			break
		}
		start += page.Size
	}

	slog.InfoContext(ctx, "confluence space loaded", "space_key", c.spaceKey, "pages", len(docs))
	return docs, nil
}

func (c *Client) fetch(ctx context.Context, start, limit int) (*contentResponse, error) {
	endpoint := c.baseURL + "/rest/api/content"
	params := url.Values{}
	params.Set("spaceKey", c.spaceKey)
	params.Set("type", "page")
	params.Set("expand", "body.view")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("start", strconv.Itoa(start))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch space %q: %w", c.spaceKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch space %q: unexpected status %d", c.spaceKey, resp.StatusCode)
	}

	var page contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("fetch space %q: decode response: %w", c.spaceKey, err)
	}
	return &page, nil
}

// blockTags are elements whose boundaries end a line of rendered text.
var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "pre": true,
}

// skipTags are elements whose text content must never reach the index.
var skipTags = map[string]bool{
	"script": true, "style": true,
}

// htmlToText renders a Confluence storage/view body to plain text: comments
// and script/style bodies are dropped, entities decoded, whitespace
// collapsed so the result chunks cleanly.
func htmlToText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tt == html.StartTagToken && skipTags[tag] {
				skip++
			}
			if tt == html.EndTagToken && skipTags[tag] && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	space := false
	newline := false
	for _, r := range s {
		switch r {
		case '\n', '\r':
			newline = true
		case ' ', '\t', ' ':
			space = true
		default:
			if newline {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
			} else if space {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
			}
			newline = false
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
