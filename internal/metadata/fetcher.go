// Package metadata loads property metadata documents from IPFS gateways.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
)

const maxDocumentSize = 1 << 20

var ErrInvalidCID = errors.New("invalid ipfs cid")

type Fetcher struct {
	httpClient *http.Client
	gateway    string
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger
}

func NewFetcher(gateway string, timeout time.Duration, maxRetries int, log *zap.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		gateway:    strings.TrimRight(gateway, "/"),
		maxRetries: maxRetries,
		backoff:    500 * time.Millisecond,
		log:        log,
	}
}

// Resolve turns ipfs:// URIs into gateway URLs. Other URIs pass through.
func (f *Fetcher) Resolve(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "ipfs://"); ok {
		return f.gateway + "/ipfs/" + strings.TrimPrefix(rest, "ipfs/")
	}
	return uri
}

func (f *Fetcher) Fetch(ctx context.Context, uri string) (*Document, error) {
	body, err := f.get(ctx, f.Resolve(uri))
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// ListFolder returns the file names of the *.json entries in an IPFS
// directory, read from the gateway's directory index page. Numbered files
// sort numerically (1.json, 2.json, 10.json).
func (f *Fetcher) ListFolder(ctx context.Context, folder string) ([]string, error) {
	c, err := cid.Decode(folder)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCID, folder, err)
	}

	body, err := f.get(ctx, f.FolderURL(c.String()))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse folder index: %w", err)
	}

	seen := make(map[string]struct{})
	var names []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		name := path.Base(u.Path)
		if !strings.HasSuffix(strings.ToLower(name), ".json") {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	})

	sort.Slice(names, func(i, j int) bool {
		a, errA := strconv.Atoi(strings.TrimSuffix(names[i], ".json"))
		b, errB := strconv.Atoi(strings.TrimSuffix(names[j], ".json"))
		if errA == nil && errB == nil {
			return a < b
		}
		return names[i] < names[j]
	})
	return names, nil
}

func (f *Fetcher) FolderURL(folder string) string {
	return f.gateway + "/ipfs/" + folder + "/"
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, text/html;q=0.9")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, target)
			// 4xx will not get better
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	f.log.Warn("metadata fetch failed", zap.String("url", target), zap.Error(lastErr))
	return nil, lastErr
}
