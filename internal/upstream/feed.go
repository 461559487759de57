package upstream

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"

	"ranking-cache-service/api/dto"
)

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string       `xml:"title"`
	Link        string       `xml:"link"`
	Description string       `xml:"description"`
	Extensions  []rssElement `xml:",any"`
}

// rssElement captures vendor-namespaced children of <item>.
type rssElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Value   string     `xml:",chardata"`
}

var (
	feedTitleRe     = regexp.MustCompile(`^\s*第\s*(\d+)\s*位\s*[：:]\s*(.*)$`)
	contentIDRe     = regexp.MustCompile(`\b([a-z]{2}\d+)\b`)
	descViewRe      = regexp.MustCompile(`nico-info-total-view"?[^>]*>\s*([\d,]+)\s*<`)
	descThumbnailRe = regexp.MustCompile(`<img[^>]+src="([^"]+)"`)
)

var viewElementNames = map[string]bool{"view": true, "views": true, "viewCounter": true}

// ParseFeed parses an RSS 2.0 ranking feed. It never fails: an empty or
// non-XML body yields an empty list. Feed items carry no author, tag or
// sensitivity data.
func ParseFeed(body []byte) []dto.RankingItem {
	items := make([]dto.RankingItem, 0)
	if len(bytes.TrimSpace(body)) == 0 {
		return items
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return items
	}

	for i, it := range doc.Channel.Items {
		items = append(items, feedItem(it, i+1))
	}
	return items
}

func feedItem(it rssItem, position int) dto.RankingItem {
	item := dto.RankingItem{Rank: position, Title: strings.TrimSpace(it.Title)}

	if m := feedTitleRe.FindStringSubmatch(it.Title); m != nil {
		if rank, err := strconv.Atoi(m[1]); err == nil && rank > 0 {
			item.Rank = rank
		}
		item.Title = strings.TrimSpace(m[2])
	}

	item.ID = contentIDFromLink(it.Link)

	viewsFound := false
	for _, ext := range it.Extensions {
		if ext.XMLName.Space == "" {
			continue
		}
		switch {
		case viewElementNames[ext.XMLName.Local]:
			item.Views, _ = parseCount(ext.Value)
			viewsFound = true
		case ext.XMLName.Local == "thumbnail" && item.ThumbnailURL == "":
			for _, a := range ext.Attrs {
				if a.Name.Local == "url" {
					item.ThumbnailURL = a.Value
				}
			}
		}
	}

	if !viewsFound {
		if m := descViewRe.FindStringSubmatch(it.Description); m != nil {
			item.Views, _ = parseCount(m[1])
		}
	}
	if item.ThumbnailURL == "" {
		if m := descThumbnailRe.FindStringSubmatch(it.Description); m != nil {
			item.ThumbnailURL = m[1]
		}
	}
	return item
}

// contentIDFromLink returns the id from ".../watch/sm123?ref=..." links.
func contentIDFromLink(link string) string {
	link = strings.TrimSpace(link)
	if idx := strings.Index(link, "/watch/"); idx >= 0 {
		id := link[idx+len("/watch/"):]
		if cut := strings.IndexAny(id, "?#/"); cut >= 0 {
			id = id[:cut]
		}
		return id
	}
	if m := contentIDRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}
