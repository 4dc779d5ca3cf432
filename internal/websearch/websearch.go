// Package websearch talks to the exa.ai search API and keeps a short
// in-memory history of past searches.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.exa.ai/search"
	// maxHistory bounds the in-memory search log.
	maxHistory = 20
	// articleContentLimit caps each article digest fed to the model.
	articleContentLimit = 500
)

// ErrNoResults is returned when the API answers but finds nothing.
var ErrNoResults = errors.New("no search results")

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client

	mu      sync.Mutex
	history []HistoryEntry
}

func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL allows overriding the API endpoint (useful for tests)
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

// Article is one cleaned search hit.
type Article struct {
	Title         string
	URL           string
	PublishedDate string
	Author        string
	Content       string
}

// Result carries the formatted article list plus the raw articles for
// further processing.
type Result struct {
	Query    string
	Content  string
	Articles []Article
	Duration time.Duration
}

// HistoryEntry records one past search.
type HistoryEntry struct {
	Query     string
	URLs      []string
	Titles    []string
	Timestamp time.Time
}

// Exa request/response types. The API has served two envelope shapes;
// both are handled, matching whichever comes back.
type searchRequest struct {
	Query    string         `json:"query"`
	Contents searchContents `json:"contents"`
}

type searchContents struct {
	Text    bool `json:"text"`
	Summary bool `json:"summary"`
}

type searchResponse struct {
	Data    *searchData    `json:"data,omitempty"`
	Results []searchResult `json:"results,omitempty"`
}

type searchData struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	PublishedDate string `json:"publishedDate"`
	Author        string `json:"author"`
	Text          string `json:"text"`
	Summary       string `json:"summary"`
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Search runs a query and returns cleaned, formatted results. Every
// successful search lands in the history.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	start := time.Now()

	reqBody := searchRequest{
		Query:    query,
		Contents: searchContents{Text: true, Summary: true},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search api error (status %d): %s", resp.StatusCode, string(body))
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	results := searchResp.Results
	if searchResp.Data != nil {
		results = searchResp.Data.Results
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	// The older envelope has no server-side cap.
	if len(results) > 10 {
		results = results[:10]
	}

	articles := make([]Article, 0, len(results))
	for _, r := range results {
		content := cleanText(r.Text)
		if content == "" {
			content = cleanText(r.Summary)
		}
		if content == "" {
			continue
		}
		if runes := []rune(content); len(runes) > articleContentLimit {
			content = string(runes[:articleContentLimit]) + "..."
		}
		articles = append(articles, Article{
			Title:         r.Title,
			URL:           r.URL,
			PublishedDate: r.PublishedDate,
			Author:        r.Author,
			Content:       content,
		})
	}
	if len(articles) == 0 {
		return nil, ErrNoResults
	}

	result := &Result{
		Query:    query,
		Content:  formatArticles(articles),
		Articles: articles,
		Duration: time.Since(start),
	}
	c.recordSearch(result)
	return result, nil
}

// History returns a copy of the search log, newest last.
func (c *Client) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// ClearHistory wipes the search log.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

func (c *Client) recordSearch(result *Result) {
	entry := HistoryEntry{
		Query:     result.Query,
		Timestamp: time.Now(),
	}
	for _, a := range result.Articles {
		entry.URLs = append(entry.URLs, a.URL)
		entry.Titles = append(entry.Titles, a.Title)
	}

	c.mu.Lock()
	c.history = append(c.history, entry)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.mu.Unlock()
}

// cleanText strips tags, decodes entities and collapses whitespace.
func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// formatArticles renders the compact source list handed to the model.
func formatArticles(articles []Article) string {
	var b strings.Builder
	b.WriteString("以下是我找到的信息：\n\n")
	for i, a := range articles {
		fmt.Fprintf(&b, "【来源 %d】%s\n", i+1, a.Title)
		if a.PublishedDate != "" {
			fmt.Fprintf(&b, "发布日期：%s\n", formatDate(a.PublishedDate))
		}
		if a.Author != "" {
			fmt.Fprintf(&b, "作者：%s\n", a.Author)
		}
		fmt.Fprintf(&b, "链接：%s\n", a.URL)
		fmt.Fprintf(&b, "内容摘要：%s\n\n", a.Content)
	}
	return b.String()
}

func formatDate(raw string) string {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.Format("2006年01月02日")
	}
	return raw
}
