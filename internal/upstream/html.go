package upstream

import (
	"bytes"
	"fmt"
	"html"

	"github.com/PuerkitoBio/goquery"

	"ranking-cache-service/api/dto"
)

const serverResponseSelector = `meta[name="server-response"]`

// maxUnescapeRounds: the payload is entity-encoded twice; the HTML parser
// removes one layer and the rest are peeled off here until it decodes.
const maxUnescapeRounds = 2

// Page — результат разбора одной страницы рейтинга.
type Page struct {
	Items       []dto.RankingItem
	PopularTags []string
}

// ParseHTML extracts the embedded ranking payload. ok is false when the
// payload is absent or structurally unusable, so the caller can fall back to
// the feed. rankOffset is added to positional ranks.
func ParseHTML(body []byte, rankOffset int) (page *Page, ok bool, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("parse html: %w", err)
	}

	content, found := doc.Find(serverResponseSelector).First().Attr("content")
	if !found || content == "" {
		return nil, false, nil
	}

	p, err := decodeEmbedded(content)
	if err != nil {
		return nil, false, fmt.Errorf("decode server-response: %w", err)
	}

	rawItems, found := p.rankingItems()
	if !found {
		return nil, false, nil
	}

	items := make([]dto.RankingItem, 0, len(rawItems))
	for i, raw := range rawItems {
		items = append(items, itemFromPayload(raw, rankOffset+i+1))
	}
	return &Page{Items: items, PopularTags: p.trendTags()}, true, nil
}

func decodeEmbedded(content string) (payload, error) {
	p, err := decodePayload(content)
	for round := 0; err != nil && round < maxUnescapeRounds; round++ {
		content = html.UnescapeString(content)
		p, err = decodePayload(content)
	}
	return p, err
}
