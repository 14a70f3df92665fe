// Package prefs persists per-site user preferences as JSON blobs under the
// data directory.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// SitePrefs holds what the user configured for one site. Zero values mean
// "use the global default".
type SitePrefs struct {
	// Language overrides the configured native language for translations on
	// this site.
	Language string `json:"language,omitempty"`
	// AutoSummarise triggers a summary as soon as a page from this site loads.
	AutoSummarise bool `json:"autoSummarise,omitempty"`
}

type Store struct {
	bucket *blob.Bucket
}

// Open creates the preference store rooted at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create preference directory: %w", err)
	}
	bucket, err := fileblob.OpenBucket(dir, &fileblob.Options{
		NoTempDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open preference bucket: %w", err)
	}
	return &Store{bucket: bucket}, nil
}

// Get reads the value stored under key into out. It reports false with a nil
// error when the key has never been written.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.bucket.ReadAll(ctx, key+".json")
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("read preference %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode preference %q: %w", key, err)
	}
	return true, nil
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preference %q: %w", key, err)
	}
	if err := s.bucket.WriteAll(ctx, key+".json", data, nil); err != nil {
		return fmt.Errorf("write preference %q: %w", key, err)
	}
	return nil
}

// ForSite reads the preferences for the site hosting pageURL. A site with no
// stored preferences yields the zero value.
func (s *Store) ForSite(ctx context.Context, pageURL string) (SitePrefs, error) {
	var p SitePrefs
	key := SiteKey(pageURL)
	if key == "" {
		return p, nil
	}
	_, err := s.Get(ctx, key, &p)
	return p, err
}

// SetForSite stores the preferences for the site hosting pageURL.
func (s *Store) SetForSite(ctx context.Context, pageURL string, p SitePrefs) error {
	key := SiteKey(pageURL)
	if key == "" {
		return fmt.Errorf("no site in url %q", pageURL)
	}
	return s.Set(ctx, key, p)
}

// SiteKey derives the storage key for a page URL: the lowercased host, with
// ports and credentials stripped. Empty when the URL has no host.
func SiteKey(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	return "sites/" + host
}

func (s *Store) Close() error {
	return s.bucket.Close()
}
