package downloader

import (
	"net/url"
	"strings"

	"mediafetch/pkg/media"
)

// MirrorRule rewrites a failing URL to an alternate host
type MirrorRule struct {
	Name    string
	Match   func(u *url.URL) bool
	Rewrite func(u *url.URL) *url.URL
}

// DefaultMirrorRules are tried in order; the first match wins
var DefaultMirrorRules = []MirrorRule{
	{
		Name: "cyberdrop-images",
		Match: func(u *url.URL) bool {
			return strings.Contains(u.Host, "cyberdrop") && media.IsImage(media.Ext(u.Path))
		},
		Rewrite: func(u *url.URL) *url.URL {
			u.Host = "img-01.cyberdrop.to"
			return u
		},
	},
	{
		Name: "fs-05",
		Match: func(u *url.URL) bool {
			return strings.Contains(u.Host, "fs-05.")
		},
		Rewrite: func(u *url.URL) *url.URL {
			u.Host = strings.Replace(u.Host, "fs-05.", "fs-04.", 1)
			return u
		},
	},
}

// MirrorSubstitution applies the first matching MirrorRule between attempts
type MirrorSubstitution struct {
	rules []MirrorRule
}

// NewMirrorSubstitution uses DefaultMirrorRules when no rules are given
func NewMirrorSubstitution(rules ...MirrorRule) *MirrorSubstitution {
	if len(rules) == 0 {
		rules = DefaultMirrorRules
	}
	return &MirrorSubstitution{rules: rules}
}

// Apply returns a rewritten copy of u. u itself is never modified.
func (m *MirrorSubstitution) Apply(u *url.URL) *url.URL {
	c := *u
	for _, rule := range m.rules {
		if rule.Match(&c) {
			return rule.Rewrite(&c)
		}
	}
	return &c
}
