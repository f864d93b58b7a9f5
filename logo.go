package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
)

var ErrLogoNotFound = errors.New("no logo found")

// LogoProvider turns an organization name into a candidate image URL.
// Whether the candidate is actually fetchable is only known at download
// time, so providers are tried in order until one materializes.
type LogoProvider interface {
	Resolve(orgName string) (string, error)
	Source() string
}

// LogoResult is the outcome of a resolution. Source is empty on cache
// hits; Cached is false on fresh resolutions.
type LogoResult struct {
	URL    string
	Cached bool
	Source string
}

// LogoResolver maps org names to locally stored logo images, cache-first.
// Cache keys are the exact trimmed names; "Docker" and "docker" are
// distinct entries on purpose. Concurrent misses for one name may both
// resolve externally; the last cache upsert wins, which is harmless.
type LogoResolver struct {
	storage   *Storage
	providers []LogoProvider
	client    *http.Client
}

func NewLogoResolver(storage *Storage, providers []LogoProvider, client *http.Client) *LogoResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &LogoResolver{
		storage:   storage,
		providers: providers,
		client:    client,
	}
}

// Resolve expects a non-empty, already-trimmed org name.
func (r *LogoResolver) Resolve(orgName string) (*LogoResult, error) {
	fileName, _, err := GetLogoEntry(orgName)
	if err == nil {
		return &LogoResult{URL: "/logos/" + fileName, Cached: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var lastErr error
	for _, provider := range r.providers {
		candidate, err := provider.Resolve(orgName)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := r.materialize(orgName, candidate, provider.Source())
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogoNotFound, lastErr)
	}
	return nil, ErrLogoNotFound
}

// materialize downloads the candidate and writes the image file before
// the cache entry, so a failure anywhere leaves the cache untouched and
// every cache entry always has a backing file.
func (r *LogoResolver) materialize(orgName, candidateURL, source string) (*LogoResult, error) {
	resp, err := r.client.Get(candidateURL)
	if err != nil {
		return nil, fmt.Errorf("can't download logo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("logo download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("can't read logo bytes: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("logo download returned empty body")
	}

	fileName := logoFileName(orgName, candidateURL)
	if err := r.storage.SaveLogo(fileName, data); err != nil {
		return nil, fmt.Errorf("can't persist logo: %w", err)
	}

	if err := PutLogoEntry(orgName, fileName, source); err != nil {
		return nil, fmt.Errorf("can't update logo cache: %w", err)
	}

	log.Printf("Resolved logo for %q via %s -> %s", orgName, source, fileName)

	return &LogoResult{URL: "/logos/" + fileName, Source: source}, nil
}

// logoFileName combines a slug of the org name with a short random
// suffix, so near-identical names never collide on disk.
func logoFileName(orgName, sourceURL string) string {
	slug := slugify(orgName)
	if slug == "" {
		slug = "logo"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return slug + "-" + suffix + logoExtension(sourceURL)
}

// logoExtension picks the extension from the source URL path, defaulting
// to .png when there is none.
func logoExtension(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ".png"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".png", ".svg", ".jpg", ".jpeg", ".gif", ".webp", ".ico":
		return ext
	default:
		return ".png"
	}
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
