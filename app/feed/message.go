package feed

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const DefaultIcon = "📰"

// DisplayName derives a short label such as "example.com/news" from a feed URL.
func DisplayName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil {
		return feedURL
	}

	host := u.Hostname()
	if host == "" {
		host = "feed"
	}
	path := strings.TrimRight(u.Path, "/")
	tail := path[strings.LastIndex(path, "/")+1:]
	if tail == "" {
		tail = host
	}
	return host + "/" + tail
}

// FormatMessage renders the text posted for an item. An empty name omits the
// prefix and an empty link omits the second line.
func FormatMessage(icon, name string, item Item) string {
	if icon == "" {
		icon = DefaultIcon
	}

	title := item.Title
	if title == "" {
		title = "(untitled)"
	}

	var b strings.Builder
	b.WriteString(icon)
	b.WriteString(" ")
	if name != "" {
		b.WriteString(norm.NFC.String(name))
		b.WriteString(": ")
	}
	b.WriteString(norm.NFC.String(title))
	// links are sent byte for byte
	if item.Link != "" {
		b.WriteString("\n")
		b.WriteString(item.Link)
	}
	return b.String()
}
