package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
	"golang.org/x/net/html/charset"
)

const atomNamespace = "http://www.w3.org/2005/Atom"

var (
	ErrUnknownFormat = errors.New("unknown feed format")
	ErrMalformed     = errors.New("malformed xml")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser reads Atom and RSS/RDF documents into Items. It is stateless and
// safe for concurrent use.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Run never panics on bad input. Malformed documents yield no items and an
// error describing why.
func (p *Parser) Run(feedURL string, data []byte) ([]Item, error) {
	data = bytes.TrimLeft(data, " \t\r\n")
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.TrimLeft(data, " \t\r\n")

	root, err := checkWellFormed(data)
	if err != nil {
		return nil, err
	}

	if root.Local == "feed" {
		if root.Space != atomNamespace {
			return nil, ErrUnknownFormat
		}
		return p.parseAtom(feedURL, data)
	}
	if gofeed.DetectFeedType(bytes.NewReader(data)) == gofeed.FeedTypeRSS {
		return p.parseRSS(feedURL, data)
	}
	return nil, ErrUnknownFormat
}

// checkWellFormed reads the whole document with a strict decoder and returns
// the name of its root element. gofeed recovers from broken markup, so this
// pass is what rejects it.
func checkWellFormed(data []byte) (xml.Name, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = true
	decoder.CharsetReader = charset.NewReaderLabel

	var root xml.Name
	depth, closed := 0, false
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return xml.Name{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if closed {
				return xml.Name{}, fmt.Errorf("%w: content after document element", ErrMalformed)
			}
			if depth == 0 {
				root = t.Name
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				closed = true
			}
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(t)) > 0 {
				return xml.Name{}, fmt.Errorf("%w: text outside document element", ErrMalformed)
			}
		}
	}

	if !closed || depth != 0 {
		return xml.Name{}, fmt.Errorf("%w: no complete document element", ErrMalformed)
	}
	return root, nil
}

func (p *Parser) parseAtom(feedURL string, data []byte) ([]Item, error) {
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse atom feed: %w", err)
	}

	items := make([]Item, 0, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		if entry == nil {
			continue
		}
		title := strings.TrimSpace(entry.Title)
		link := atomLink(entry.Links)

		published := parseISODate(cmp.Or(strings.TrimSpace(entry.Published), strings.TrimSpace(entry.Updated)))

		items = append(items, Item{
			FeedURL:     feedURL,
			ID:          cmp.Or(strings.TrimSpace(entry.ID), link, title),
			Title:       title,
			Link:        link,
			PublishedAt: published,
		})
	}
	return items, nil
}

func (p *Parser) parseRSS(feedURL string, data []byte) ([]Item, error) {
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rss feed: %w", err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)

		var guid string
		if it.GUID != nil {
			guid = strings.TrimSpace(it.GUID.Value)
		}

		items = append(items, Item{
			FeedURL:     feedURL,
			ID:          cmp.Or(guid, link, title),
			Title:       title,
			Link:        link,
			PublishedAt: parseMailDate(it.PubDate),
		})
	}
	return items, nil
}

// atomLink picks the first alternate or unlabelled link.
func atomLink(links []*atom.Link) string {
	for _, l := range links {
		if l == nil {
			continue
		}
		href := strings.TrimSpace(l.Href)
		if href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return href
		}
	}
	return ""
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISODate accepts ISO-8601 timestamps only. Values without a zone are
// taken as UTC.
func parseISODate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// parseMailDate accepts RFC 2822 dates only.
func parseMailDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}
