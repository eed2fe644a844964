package models

import (
	"fmt"
	"net/url"
)

// Link is a single downloadable file discovered by a scraper
type Link struct {
	URL     *url.URL
	Referer *url.URL
}

// NewLink parses rawURL and referer into a Link. An empty referer is allowed.
func NewLink(rawURL, referer string) (Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Link{}, fmt.Errorf("invalid link url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Link{}, fmt.Errorf("link url %q must be absolute", rawURL)
	}

	link := Link{URL: u}
	if referer != "" {
		ref, err := url.Parse(referer)
		if err != nil {
			return Link{}, fmt.Errorf("invalid referer %q: %w", referer, err)
		}
		link.Referer = ref
	}
	return link, nil
}

// RefererString returns the referer as a string, or "" when unset
func (l Link) RefererString() string {
	if l.Referer == nil {
		return ""
	}
	return l.Referer.String()
}

func (l Link) String() string {
	if l.URL == nil {
		return ""
	}
	return l.URL.String()
}

// Collection is a titled group of links, usually an album
type Collection struct {
	Title string
	Links []Link
}

// HostGroup holds the collections discovered on one source host
type HostGroup struct {
	Host        string
	Collections map[string]*Collection
	order       []string
}

// NewHostGroup creates an empty group for host
func NewHostGroup(host string) *HostGroup {
	return &HostGroup{Host: host, Collections: make(map[string]*Collection)}
}

// Collection returns the collection with title, creating it if needed
func (g *HostGroup) Collection(title string) *Collection {
	if c, ok := g.Collections[title]; ok {
		return c
	}
	c := &Collection{Title: title}
	g.Collections[title] = c
	g.order = append(g.order, title)
	return c
}

// Titles returns collection titles in insertion order
func (g *HostGroup) Titles() []string {
	titles := make([]string, len(g.order))
	copy(titles, g.order)
	return titles
}

// LinkTree groups links by host and collection. Iteration order is the
// order in which hosts and collections were first added.
type LinkTree struct {
	Hosts map[string]*HostGroup
	order []string
}

// NewLinkTree creates an empty link tree
func NewLinkTree() *LinkTree {
	return &LinkTree{Hosts: make(map[string]*HostGroup)}
}

// Host returns the group for host, creating it if needed
func (t *LinkTree) Host(host string) *HostGroup {
	if g, ok := t.Hosts[host]; ok {
		return g
	}
	g := NewHostGroup(host)
	t.Hosts[host] = g
	t.order = append(t.order, host)
	return g
}

// Add appends link to the collection title under host
func (t *LinkTree) Add(host, title string, link Link) {
	c := t.Host(host).Collection(title)
	c.Links = append(c.Links, link)
}

// Each calls fn for every (host, collection) pair in insertion order
func (t *LinkTree) Each(fn func(host string, c *Collection)) {
	for _, host := range t.order {
		g := t.Hosts[host]
		for _, title := range g.order {
			fn(host, g.Collections[title])
		}
	}
}

// Len returns the total number of links in the tree
func (t *LinkTree) Len() int {
	n := 0
	t.Each(func(_ string, c *Collection) {
		n += len(c.Links)
	})
	return n
}
