package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// csrfFieldName is the hidden form input carrying the CSRF token on host pages.
const csrfFieldName = "csrfmiddlewaretoken"

// ErrNoCSRFToken is returned when a page carries no CSRF input.
var ErrNoCSRFToken = errors.New("no csrf token found in page")

// ExtractCSRFToken returns the value of the first
// <input name="csrfmiddlewaretoken"> in the page.
func ExtractCSRFToken(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing page: %w", err)
	}

	var find func(n *html.Node) (string, bool)
	find = func(n *html.Node) (string, bool) {
		if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == csrfFieldName {
			if v := strings.TrimSpace(attr(n, "value")); v != "" {
				return v, true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if v, ok := find(c); ok {
				return v, true
			}
		}
		return "", false
	}

	if token, ok := find(doc); ok {
		return token, nil
	}
	return "", ErrNoCSRFToken
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// LoadCSRFToken fetches a host page and adopts the CSRF token found in its
// markup. The backend's csrftoken cookie set by the same response is kept
// by the client's cookie jar.
func (c *Client) LoadCSRFToken(ctx context.Context, pagePath string) error {
	req, err := c.newRequest(ctx, http.MethodGet, pagePath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("fetching csrf page: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("fetching csrf page: HTTP %d", resp.Status)
	}

	token, err := ExtractCSRFToken(bytes.NewReader(resp.Body))
	if err != nil {
		return err
	}
	c.SetCSRFToken(token)
	return nil
}
