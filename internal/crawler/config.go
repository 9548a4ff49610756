package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Default selectors for the zoomit.ir archive and article layout.
const (
	DefaultListingLinkSelector = `a[class="link__CustomNextLink-sc-1r7l32j-0 eoKbWT BrowseArticleListItemDesktop__WrapperLink-zb6c6m-6 bzMtyO"]`
	DefaultTitleSelector       = `h1[class="typography__StyledDynamicTypographyComponent-t787b7-0 jQMKGt"], ` +
		`h1[class="typography__StyledDynamicTypographyComponent-t787b7-0 fzMmhL"]`
	DefaultBodySelector = `p[class="typography__StyledDynamicTypographyComponent-t787b7-0 fZZfUi ParagraphElement__ParagraphBase-sc-1soo3i3-0 gOVZGU"], ` +
		`h2[class="typography__StyledDynamicTypographyComponent-t787b7-0 cAPRcR HeadingTwo__HeadingTwoBase-sc-3nstjw-1 aMVhn"], ` +
		`span[font-size="1.6"][class="typography__StyledDynamicTypographyComponent-t787b7-0 fNeDiY"]`
	DefaultLabelSelector = `span[class="typography__StyledDynamicTypographyComponent-t787b7-0 cHbulB"], ` +
		`span[class="typography__StyledDynamicTypographyComponent-t787b7-0 bLZGOP"]`
	DefaultPublishedAtSelector = `time`
)

// Selectors are the CSS queries used against rendered pages.
type Selectors struct {
	ListingLink string `mapstructure:"listing_link"`
	Title       string `mapstructure:"title"`
	Body        string `mapstructure:"body"`
	Labels      string `mapstructure:"labels"`
	PublishedAt string `mapstructure:"published_at"`
}

// DefaultSelectors returns the zoomit.ir selector set.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingLink: DefaultListingLinkSelector,
		Title:       DefaultTitleSelector,
		Body:        DefaultBodySelector,
		Labels:      DefaultLabelSelector,
		PublishedAt: DefaultPublishedAtSelector,
	}
}

// Validate requires the selectors without which nothing can be ingested.
func (s Selectors) Validate() error {
	if strings.TrimSpace(s.ListingLink) == "" {
		return fmt.Errorf("selectors.listing_link is required")
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("selectors.title is required")
	}
	if strings.TrimSpace(s.Body) == "" {
		return fmt.Errorf("selectors.body is required")
	}
	return nil
}

// Archive locates the paginated listing.
type Archive struct {
	BaseURL   string `mapstructure:"base_url"`
	PageParam string `mapstructure:"page_param"`
}

// ListingURL returns the address of listing page n, keeping any query
// parameters already present on BaseURL.
func (a Archive) ListingURL(n int) (string, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse archive base url: %w", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("archive base url %q is not absolute", a.BaseURL)
	}
	param := a.PageParam
	if param == "" {
		param = "pageNumber"
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
