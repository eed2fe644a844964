package models

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// linkTreeFile is the on-disk shape of a link tree. JSON input is accepted
// too since it is valid YAML.
//
//	hosts:
//	  - host: cyberdrop.me
//	    collections:
//	      - title: album
//	        links:
//	          - url: https://fs-05.cyberdrop.to/a.jpg
//	            referer: https://cyberdrop.me/a/xyz
type linkTreeFile struct {
	Hosts []struct {
		Host        string `yaml:"host" json:"host"`
		Collections []struct {
			Title string `yaml:"title" json:"title"`
			Links []struct {
				URL     string `yaml:"url" json:"url"`
				Referer string `yaml:"referer" json:"referer"`
			} `yaml:"links" json:"links"`
		} `yaml:"collections" json:"collections"`
	} `yaml:"hosts" json:"hosts"`
}

// LoadLinkTree reads a link tree from a YAML or JSON file
func LoadLinkTree(path string) (*LinkTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read link tree: %w", err)
	}
	return ParseLinkTree(data)
}

// ParseLinkTree decodes a link tree document
func ParseLinkTree(data []byte) (*LinkTree, error) {
	var doc linkTreeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse link tree: %w", err)
	}

	tree := NewLinkTree()
	for _, h := range doc.Hosts {
		if h.Host == "" {
			return nil, fmt.Errorf("link tree entry is missing a host")
		}
		for _, c := range h.Collections {
			if c.Title == "" {
				return nil, fmt.Errorf("collection under %s is missing a title", h.Host)
			}
			// Register empty collections too so they show up in summaries
			tree.Host(h.Host).Collection(c.Title)
			for _, l := range c.Links {
				link, err := NewLink(l.URL, l.Referer)
				if err != nil {
					return nil, fmt.Errorf("%s/%s: %w", h.Host, c.Title, err)
				}
				tree.Add(h.Host, c.Title, link)
			}
		}
	}
	return tree, nil
}
