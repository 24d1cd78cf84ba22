// Package catalog serves the activity list: which licensable activities
// exist, which documents each one demands and which questions intake asks.
//
// The catalog can come from a remote registry or from the dataset embedded in
// the binary. The remote fetch is best-effort: any transport error or non-2xx
// response falls back to the embedded dataset, never a hard failure. The
// chosen catalog is built once at startup and handed to whoever needs it.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"rota/internal/domain"
)

//go:embed static.json
var staticJSON []byte

const defaultFetchTimeout = 5 * time.Second

// Catalog is an immutable, ordered view over a set of activities.
type Catalog struct {
	byID    map[string]domain.Activity
	ordered []domain.Activity
}

// New builds a catalog from a raw activity list. Inactive entries are kept
// (old processes still reference them) but excluded from List.
func New(activities []domain.Activity) *Catalog {
	c := &Catalog{byID: make(map[string]domain.Activity, len(activities))}
	c.ordered = append(c.ordered, activities...)
	sort.SliceStable(c.ordered, func(i, j int) bool {
		return c.ordered[i].SortOrder < c.ordered[j].SortOrder
	})
	for _, a := range c.ordered {
		c.byID[a.ID] = a
	}
	return c
}

// Static parses the embedded dataset. An error here means the binary itself
// is broken, so callers treat it as fatal.
func Static() (*Catalog, error) {
	var activities []domain.Activity
	if err := json.Unmarshal(staticJSON, &activities); err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}
	return New(activities), nil
}

// Get returns the activity with the given id.
func (c *Catalog) Get(id string) (domain.Activity, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// ByName resolves an activity by its display name, case-insensitively.
func (c *Catalog) ByName(name string) (domain.Activity, bool) {
	for _, a := range c.ordered {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return domain.Activity{}, false
}

// List returns the active activities in display order.
func (c *Catalog) List() []domain.Activity {
	out := make([]domain.Activity, 0, len(c.ordered))
	for _, a := range c.ordered {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// Groups returns the distinct group names in display order.
func (c *Catalog) Groups() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range c.ordered {
		if !a.Active {
			continue
		}
		if _, ok := seen[a.Group]; ok {
			continue
		}
		seen[a.Group] = struct{}{}
		out = append(out, a.Group)
	}
	return out
}

// HTTPSource fetches the activity list from a remote registry.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Fetch retrieves and parses the remote activity list.
func (s HTTPSource) Fetch(ctx context.Context) ([]domain.Activity, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var activities []domain.Activity
	if err := json.NewDecoder(res.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("decode remote catalog: %w", err)
	}
	if len(activities) == 0 {
		return nil, fmt.Errorf("remote catalog is empty")
	}
	return activities, nil
}

// Load resolves the catalog to serve. With no source configured it returns
// the embedded dataset directly; otherwise it tries the remote registry and
// falls back to the embedded dataset on any failure.
func Load(ctx context.Context, src *HTTPSource) (*Catalog, error) {
	static, err := Static()
	if err != nil {
		return nil, err
	}
	if src == nil || strings.TrimSpace(src.URL) == "" {
		return static, nil
	}
	activities, err := src.Fetch(ctx)
	if err != nil {
		log.Printf("catalog: remote fetch from %s failed, using embedded dataset: %v", src.URL, err)
		return static, nil
	}
	return New(activities), nil
}
