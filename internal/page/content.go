// Package page holds the rendered-page value type consumed by extraction.
//
// A Content is produced once per navigation by a renderer and is read-only
// afterwards. Queries use CSS selectors; a selector that is invalid or matches
// nothing yields an empty slice, never an error.
package page

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content is a parsed snapshot of one rendered page.
type Content struct {
	url  *url.URL
	html string
	doc  *goquery.Document
}

// Node is a detached copy of one matched element.
type Node struct {
	text  string
	attrs map[string]string
}

// Parse builds Content from the rendered HTML served at rawURL.
func Parse(rawURL string, html []byte) (*Content, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	doc.Url = u
	return &Content{url: u, html: string(html), doc: doc}, nil
}

// URL returns the address the content was rendered from.
func (c *Content) URL() string {
	if c == nil || c.url == nil {
		return ""
	}
	return c.url.String()
}

// HTML returns the raw rendered markup.
func (c *Content) HTML() string {
	if c == nil {
		return ""
	}
	return c.html
}

// FindAll returns every element matching selector in document order.
func (c *Content) FindAll(selector string) []Node {
	if c == nil || c.doc == nil || strings.TrimSpace(selector) == "" {
		return nil
	}
	var nodes []Node
	c.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		nodes = append(nodes, newNode(sel))
	})
	return nodes
}

// Resolve turns href into an absolute URL relative to the page address.
// Fragment-only, javascript: and empty references resolve to false.
func (c *Content) Resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if c == nil || c.url == nil {
		if !ref.IsAbs() {
			return "", false
		}
		return ref.String(), true
	}
	abs := c.url.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), true
}

func newNode(sel *goquery.Selection) Node {
	n := Node{text: sel.Text()}
	if len(sel.Nodes) == 0 {
		return n
	}
	attrs := sel.Nodes[0].Attr
	if len(attrs) > 0 {
		n.attrs = make(map[string]string, len(attrs))
		for _, a := range attrs {
			n.attrs[a.Key] = a.Val
		}
	}
	return n
}

// Text returns the untrimmed text content of the element and its descendants.
func (n Node) Text() string {
	return n.text
}

// Attr returns the named attribute and whether it was present.
func (n Node) Attr(name string) (string, bool) {
	v, ok := n.attrs[name]
	return v, ok
}
