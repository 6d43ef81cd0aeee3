package scraper

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/dreschagin/media-relay/internal/domain/entity"
)

// HTMLParser разбирает страницу зеркала через DOM-дерево golang.org/x/net/html
type HTMLParser struct {
	maxItems int
}

func NewHTMLParser() *HTMLParser {
	return &HTMLParser{maxItems: MaxItems}
}

func (p *HTMLParser) ParseMirrorMarkup(markup, mirrorBase, subject string) []entity.MediaItem {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	items := make([]entity.MediaItem, 0, p.maxItems)
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if len(items) >= p.maxItems {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "timeline-item") {
			draft := &postDraft{}
			collectPost(n, draft)
			if item, ok := draft.toItem(mirrorBase, subject); ok {
				items = append(items, item)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(doc)

	return items
}

func collectPost(n *html.Node, draft *postDraft) {
	if n.Type == html.ElementNode {
		switch {
		case n.Data == "div" && hasClass(n, "retweet-header"):
			draft.repost = true
		case n.Data == "a" && hasClass(n, "tweet-link"):
			if draft.id == "" {
				draft.id = statusIDFromHref(attr(n, "href"))
			}
		case n.Data == "span" && hasClass(n, "tweet-date"):
			if a := firstChildElement(n, "a"); a != nil {
				if draft.id == "" {
					draft.id = statusIDFromHref(attr(a, "href"))
				}
				draft.createdAt = parseDate(attr(a, "title"))
			}
		case n.Data == "div" && hasClass(n, "tweet-content"):
			draft.text = cleanText(renderText(n))
			return
		case n.Data == "a" && hasClass(n, "tweet-avatar"):
			if img := firstChildElement(n, "img"); img != nil {
				draft.avatar = attr(img, "src")
			}
			return
		case n.Data == "a" && hasClass(n, "still-image"):
			draft.photos = append(draft.photos, attr(n, "href"))
			return
		case n.Data == "div" && hasClass(n, "attachment") && hasClass(n, "image"):
			if firstDescendant(n, "a", "still-image") == nil {
				if img := firstDescendant(n, "img", ""); img != nil {
					draft.photos = append(draft.photos, attr(img, "src"))
				}
				return
			}
		case n.Data == "video":
			video := videoDraft{
				poster: attr(n, "poster"),
				gif:    hasClass(n, "gif"),
			}
			if source := firstDescendant(n, "source", ""); source != nil {
				video.src = attr(source, "src")
			}
			draft.videos = append(draft.videos, video)
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectPost(c, draft)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func firstChildElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

func firstDescendant(n *html.Node, tag, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag && (class == "" || hasClass(c, class)) {
			return c
		}
		if found := firstDescendant(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			b.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "br" {
				b.WriteByte(' ')
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if node.Type == html.ElementNode {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return b.String()
}
