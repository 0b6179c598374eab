// Package changes holds the sets of entities affected by writes and the bus
// that carries them to subscribers. Subscribers typically re-run a query when
// a Changes they are interested in is published.
package changes

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Changes is an immutable set of affected entities: tables, notification tags,
// and resource URIs. The zero value is empty.
type Changes struct {
	tables map[string]struct{}
	tags   map[string]struct{}
	uris   map[string]struct{}
}

// New creates a Changes that affects the given tables and tags. Empty strings
// are ignored.
func New(tables []string, tags []string) Changes {
	return Changes{
		tables: setOf(tables),
		tags:   setOf(tags),
	}
}

// ForTables creates a Changes that affects only the given tables.
func ForTables(tables ...string) Changes {
	return New(tables, nil)
}

// ForURI creates a Changes that affects exactly one URI.
func ForURI(uri string) Changes {
	return Changes{uris: setOf([]string{uri})}
}

// WithTags returns a copy of c that additionally affects the given tags.
func (c Changes) WithTags(tags ...string) Changes {
	return c.Union(Changes{tags: setOf(tags)})
}

// Union returns a new Changes holding every entity in either c or o.
func (c Changes) Union(o Changes) Changes {
	return Changes{
		tables: union(c.tables, o.tables),
		tags:   union(c.tags, o.tags),
		uris:   union(c.uris, o.uris),
	}
}

// IsEmpty returns whether c affects nothing.
func (c Changes) IsEmpty() bool {
	return len(c.tables) == 0 && len(c.tags) == 0 && len(c.uris) == 0
}

// Tables returns the affected tables in sorted order.
func (c Changes) Tables() []string {
	return sorted(c.tables)
}

// Tags returns the affected tags in sorted order.
func (c Changes) Tags() []string {
	return sorted(c.tags)
}

// URIs returns the affected URIs in sorted order.
func (c Changes) URIs() []string {
	return sorted(c.uris)
}

// AffectsTable returns whether the table is in c.
func (c Changes) AffectsTable(table string) bool {
	_, ok := c.tables[table]
	return ok
}

// AffectsTag returns whether the tag is in c.
func (c Changes) AffectsTag(tag string) bool {
	_, ok := c.tags[tag]
	return ok
}

// AffectsURI returns whether the URI is in c.
func (c Changes) AffectsURI(uri string) bool {
	_, ok := c.uris[uri]
	return ok
}

// Equal returns whether c and o affect exactly the same entities.
func (c Changes) Equal(o Changes) bool {
	return setEqual(c.tables, o.tables) && setEqual(c.tags, o.tags) && setEqual(c.uris, o.uris)
}

func (c Changes) String() string {
	var parts []string
	if len(c.tables) > 0 {
		parts = append(parts, "tables="+strings.Join(c.Tables(), ","))
	}
	if len(c.tags) > 0 {
		parts = append(parts, "tags="+strings.Join(c.Tags(), ","))
	}
	if len(c.uris) > 0 {
		parts = append(parts, "uris="+strings.Join(c.URIs(), ","))
	}
	return fmt.Sprintf("Changes{%s}", strings.Join(parts, " "))
}

// Filter selects the Changes a subscriber wants. A Changes matches when it
// shares at least one table, tag, or URI with the Filter. The zero Filter
// matches every non-empty Changes.
type Filter struct {
	Tables []string
	Tags   []string
	URIs   []string
}

// Matches returns whether c is of interest to f.
func (f Filter) Matches(c Changes) bool {
	if c.IsEmpty() {
		return false
	}
	if len(f.Tables) == 0 && len(f.Tags) == 0 && len(f.URIs) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if c.AffectsTable(t) {
			return true
		}
	}
	for _, t := range f.Tags {
		if c.AffectsTag(t) {
			return true
		}
	}
	for _, u := range f.URIs {
		if c.AffectsURI(u) {
			return true
		}
	}
	return false
}

func setOf(items []string) map[string]struct{} {
	var s map[string]struct{}
	for _, it := range items {
		if it == "" {
			continue
		}
		if s == nil {
			s = make(map[string]struct{}, len(items))
		}
		s[it] = struct{}{}
	}
	return s
}

func union(a, b map[string]struct{}) map[string]struct{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	u := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		u[k] = struct{}{}
	}
	for k := range b {
		u[k] = struct{}{}
	}
	return u
}

func sorted(s map[string]struct{}) []string {
	items := make([]string, 0, len(s))
	for k := range s {
		items = append(items, k)
	}
	slices.Sort(items)
	return items
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
