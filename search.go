package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".svg":  true,
	".jpg":  true,
	".jpeg": true,
}

// GoogleImageSearch resolves logos through the Google Custom Search API
// (searchType=image). It only participates when credentials are set.
type GoogleImageSearch struct {
	apiKey   string
	cx       string
	endpoint string
	client   *http.Client
}

func NewGoogleImageSearch(apiKey, cx string, client *http.Client) *GoogleImageSearch {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleImageSearch{
		apiKey:   apiKey,
		cx:       cx,
		endpoint: "https://www.googleapis.com/customsearch/v1",
		client:   client,
	}
}

func (g *GoogleImageSearch) Configured() bool {
	return g.apiKey != "" && g.cx != ""
}

func (g *GoogleImageSearch) Source() string { return "google" }

func (g *GoogleImageSearch) Resolve(orgName string) (string, error) {
	if !g.Configured() {
		return "", fmt.Errorf("google search credentials not configured")
	}

	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.cx)
	params.Set("searchType", "image")
	params.Set("num", "5")
	params.Set("q", orgName+" logo")

	resp, err := g.client.Get(g.endpoint + "?" + params.Encode())
	if err != nil {
		return "", fmt.Errorf("google search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google search returned status %d", resp.StatusCode)
	}

	var result struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("can't decode google search response: %w", err)
	}
	if len(result.Items) == 0 {
		return "", fmt.Errorf("google search returned no results for %q", orgName)
	}

	links := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		links = append(links, item.Link)
	}
	return selectCandidate(links), nil
}

// selectCandidate prefers the first URL with an image-like extension;
// with none present it falls back to the first result unconditionally.
func selectCandidate(links []string) string {
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if imageExtensions[strings.ToLower(path.Ext(u.Path))] {
			return link
		}
	}
	return links[0]
}

// ClearbitLogo is the keyless fallback: it guesses a .com domain from
// the org name and points at Clearbit's logo-by-domain endpoint. The
// guess is only validated when the download is attempted.
type ClearbitLogo struct {
	endpoint string
}

func NewClearbitLogo() *ClearbitLogo {
	return &ClearbitLogo{endpoint: "https://logo.clearbit.com"}
}

func (c *ClearbitLogo) Source() string { return "clearbit" }

func (c *ClearbitLogo) Resolve(orgName string) (string, error) {
	domain := guessDomain(orgName)
	if domain == "" {
		return "", fmt.Errorf("can't guess a domain for %q", orgName)
	}
	return c.endpoint + "/" + domain, nil
}

// guessDomain lowercases the name, strips everything but letters and
// digits, and appends .com. "Docker Inc." becomes "dockerinc.com".
func guessDomain(orgName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(orgName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + ".com"
}
