package scraper

import (
	"regexp"
	"strings"

	"github.com/dreschagin/media-relay/internal/domain/entity"
)

var (
	tweetLinkPattern     = regexp.MustCompile(`class="tweet-link"[^>]*href="([^"]+)"|href="([^"]+)"[^>]*class="tweet-link"`)
	tweetDatePattern     = regexp.MustCompile(`(?s)class="tweet-date"[^>]*>\s*<a[^>]*href="([^"]+)"[^>]*title="([^"]*)"`)
	contentPattern       = regexp.MustCompile(`(?s)<div class="tweet-content[^"]*"[^>]*>(.*?)</div>`)
	avatarPattern        = regexp.MustCompile(`(?s)class="tweet-avatar"[^>]*>\s*<img[^>]*src="([^"]+)"`)
	stillImagePattern    = regexp.MustCompile(`class="still-image"[^>]*href="([^"]+)"`)
	attachmentImgPattern = regexp.MustCompile(`(?s)<div class="attachment image">.*?<img[^>]*src="([^"]+)"`)
	videoPattern         = regexp.MustCompile(`(?s)<video([^>]*)>(.*?)</video>`)
	posterPattern        = regexp.MustCompile(`poster="([^"]+)"`)
	sourcePattern        = regexp.MustCompile(`<source[^>]*src="([^"]+)"`)
	gifClassPattern      = regexp.MustCompile(`class="[^"]*\bgif\b[^"]*"`)
)

// RegexParser разбирает страницу зеркала регулярными выражениями
type RegexParser struct {
	maxItems int
}

func NewRegexParser() *RegexParser {
	return &RegexParser{maxItems: MaxItems}
}

func (p *RegexParser) ParseMirrorMarkup(markup, mirrorBase, subject string) []entity.MediaItem {
	chunks := strings.Split(markup, `class="timeline-item`)
	if len(chunks) < 2 {
		return nil
	}

	items := make([]entity.MediaItem, 0, p.maxItems)
	for _, chunk := range chunks[1:] {
		if len(items) >= p.maxItems {
			break
		}

		draft := p.parseChunk(chunk)
		if item, ok := draft.toItem(mirrorBase, subject); ok {
			items = append(items, item)
		}
	}

	return items
}

func (p *RegexParser) parseChunk(chunk string) *postDraft {
	draft := &postDraft{
		repost: strings.Contains(chunk, `class="retweet-header"`),
	}

	if m := tweetLinkPattern.FindStringSubmatch(chunk); m != nil {
		draft.id = statusIDFromHref(m[1] + m[2])
	}
	if m := tweetDatePattern.FindStringSubmatch(chunk); m != nil {
		if draft.id == "" {
			draft.id = statusIDFromHref(m[1])
		}
		draft.createdAt = parseDate(m[2])
	}
	if m := contentPattern.FindStringSubmatch(chunk); m != nil {
		draft.text = cleanText(m[1])
	}
	if m := avatarPattern.FindStringSubmatch(chunk); m != nil {
		draft.avatar = m[1]
	}

	for _, m := range stillImagePattern.FindAllStringSubmatch(chunk, -1) {
		draft.photos = append(draft.photos, m[1])
	}
	if len(draft.photos) == 0 {
		for _, m := range attachmentImgPattern.FindAllStringSubmatch(chunk, -1) {
			draft.photos = append(draft.photos, m[1])
		}
	}

	for _, m := range videoPattern.FindAllStringSubmatch(chunk, -1) {
		video := videoDraft{gif: gifClassPattern.MatchString(m[1])}
		if poster := posterPattern.FindStringSubmatch(m[1]); poster != nil {
			video.poster = poster[1]
		}
		if source := sourcePattern.FindStringSubmatch(m[2]); source != nil {
			video.src = source[1]
		}
		draft.videos = append(draft.videos, video)
	}

	return draft
}
