package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectCandidatePrefersImageExtensions(t *testing.T) {
	tests := []struct {
		name  string
		links []string
		want  string
	}{
		{
			name: "image extension beats earlier non-image",
			links: []string{
				"https://example.com/page.html",
				"https://example.com/logo.png",
				"https://example.com/other.svg",
			},
			want: "https://example.com/logo.png",
		},
		{
			name: "first result when nothing looks like an image",
			links: []string{
				"https://example.com/page",
				"https://example.com/другое",
			},
			want: "https://example.com/page",
		},
		{
			name:  "query strings do not hide the extension",
			links: []string{"https://example.com/a?f=.png", "https://example.com/b.jpeg?v=2"},
			want:  "https://example.com/b.jpeg?v=2",
		},
		{
			name:  "svg counts as an image",
			links: []string{"https://example.com/x.webm", "https://example.com/y.svg"},
			want:  "https://example.com/y.svg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectCandidate(tt.links))
		})
	}
}

func TestGoogleImageSearchResolve(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"q":          r.URL.Query().Get("q"),
			"searchType": r.URL.Query().Get("searchType"),
			"key":        r.URL.Query().Get("key"),
			"cx":         r.URL.Query().Get("cx"),
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"items": []map[string]string{
				{"link": "https://example.com/result.html"},
				{"link": "https://cdn.example.com/docker.png"},
			},
		})
	}))
	defer server.Close()

	g := NewGoogleImageSearch("test-key", "test-cx", server.Client())
	g.endpoint = server.URL

	candidate, err := g.Resolve("Docker")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/docker.png", candidate)
	assert.Equal(t, "Docker logo", gotQuery["q"])
	assert.Equal(t, "image", gotQuery["searchType"])
	assert.Equal(t, "test-key", gotQuery["key"])
	assert.Equal(t, "test-cx", gotQuery["cx"])
}

func TestGoogleImageSearchNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	g := NewGoogleImageSearch("test-key", "test-cx", server.Client())
	g.endpoint = server.URL

	_, err := g.Resolve("Nothing")
	assert.Error(t, err)
}

func TestGoogleImageSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	g := NewGoogleImageSearch("test-key", "test-cx", server.Client())
	g.endpoint = server.URL

	_, err := g.Resolve("Docker")
	assert.Error(t, err)
}

func TestGoogleImageSearchUnconfigured(t *testing.T) {
	g := NewGoogleImageSearch("", "", nil)
	assert.False(t, g.Configured())

	_, err := g.Resolve("Docker")
	assert.Error(t, err)
}

func TestClearbitResolve(t *testing.T) {
	c := NewClearbitLogo()

	url, err := c.Resolve("Docker")
	require.NoError(t, err)
	assert.Equal(t, "https://logo.clearbit.com/docker.com", url)

	url, err = c.Resolve("Docker Inc.")
	require.NoError(t, err)
	assert.Equal(t, "https://logo.clearbit.com/dockerinc.com", url)

	_, err = c.Resolve("!!!")
	assert.Error(t, err)
}

func TestGuessDomain(t *testing.T) {
	assert.Equal(t, "docker.com", guessDomain("Docker"))
	assert.Equal(t, "visualstudiocode.com", guessDomain("Visual Studio Code"))
	assert.Equal(t, "", guessDomain("  ?! "))
}
