package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLink(t *testing.T) {
	link, err := NewLink("https://fs-05.cyberdrop.to/a.jpg", "https://cyberdrop.me/a/xyz")
	require.NoError(t, err)
	assert.Equal(t, "fs-05.cyberdrop.to", link.URL.Host)
	assert.Equal(t, "https://cyberdrop.me/a/xyz", link.RefererString())

	link, err = NewLink("https://pixeldrain.com/api/file/abc", "")
	require.NoError(t, err)
	assert.Nil(t, link.Referer)
	assert.Equal(t, "", link.RefererString())

	_, err = NewLink("/relative/path.jpg", "")
	assert.Error(t, err)
}

func TestLinkTreeOrdering(t *testing.T) {
	tree := NewLinkTree()
	mustLink := func(raw string) Link {
		l, err := NewLink(raw, "")
		require.NoError(t, err)
		return l
	}

	tree.Add("bunkr.is", "second", mustLink("https://bunkr.is/b.jpg"))
	tree.Add("cyberdrop.me", "first", mustLink("https://cyberdrop.me/a.jpg"))
	tree.Add("bunkr.is", "third", mustLink("https://bunkr.is/c.jpg"))
	tree.Add("bunkr.is", "second", mustLink("https://bunkr.is/d.jpg"))

	var visited []string
	tree.Each(func(host string, c *Collection) {
		visited = append(visited, host+"/"+c.Title)
	})

	assert.Equal(t, []string{"bunkr.is/second", "bunkr.is/third", "cyberdrop.me/first"}, visited)
	assert.Equal(t, 4, tree.Len())
	assert.Len(t, tree.Hosts["bunkr.is"].Collections["second"].Links, 2)
	assert.Equal(t, []string{"second", "third"}, tree.Hosts["bunkr.is"].Titles())
}

func TestParseLinkTree(t *testing.T) {
	doc := `
hosts:
  - host: cyberdrop.me
    collections:
      - title: holiday
        links:
          - url: https://fs-05.cyberdrop.to/a.jpg
            referer: https://cyberdrop.me/a/xyz
          - url: https://fs-05.cyberdrop.to/b.mp4
      - title: empty
  - host: bunkr.is
    collections:
      - title: clips
        links:
          - url: https://media-files.bunkr.ru/c.mp4
`
	tree, err := ParseLinkTree([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 3, tree.Len())
	holiday := tree.Hosts["cyberdrop.me"].Collections["holiday"]
	require.NotNil(t, holiday)
	assert.Equal(t, "https://cyberdrop.me/a/xyz", holiday.Links[0].RefererString())
	assert.Empty(t, tree.Hosts["cyberdrop.me"].Collections["empty"].Links)
}

func TestParseLinkTreeJSON(t *testing.T) {
	doc := `{"hosts":[{"host":"pixeldrain.com","collections":[{"title":"x","links":[{"url":"https://pixeldrain.com/api/file/abc"}]}]}]}`
	tree, err := ParseLinkTree([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())
}

func TestParseLinkTreeErrors(t *testing.T) {
	tests := map[string]string{
		"missing host":  "hosts:\n  - collections: []\n",
		"missing title": "hosts:\n  - host: a.example\n    collections:\n      - links: []\n",
		"bad url":       "hosts:\n  - host: a.example\n    collections:\n      - title: t\n        links:\n          - url: nope\n",
		"bad yaml":      "hosts: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLinkTree([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadLinkTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosts:\n  - host: a.example\n    collections:\n      - title: t\n        links:\n          - url: https://a.example/x.png\n"), 0644))

	tree, err := LoadLinkTree(path)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.Len())

	_, err = LoadLinkTree(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
