package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedHeader = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0" xmlns:nicovideo="https://www.nicovideo.jp/rss/">
<channel><title>ranking</title>`

const feedFooter = `</channel></rss>`

func TestParseFeed_TitleRankAndViews(t *testing.T) {
	body := feedHeader + `
<item>
  <title>第1位：Foo</title>
  <link>https://www.nicovideo.jp/watch/sm9?ref=rss_specified_ranking_rss2</link>
  <description><![CDATA[<p class="nico-thumbnail"><img src="https://img.example/sm9.jpg"/></p>]]></description>
  <nicovideo:view>1,234</nicovideo:view>
</item>` + feedFooter

	items := ParseFeed([]byte(body))

	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Rank)
	assert.Equal(t, "Foo", items[0].Title)
	assert.Equal(t, "sm9", items[0].ID)
	assert.EqualValues(t, 1234, items[0].Views)
	assert.Equal(t, "https://img.example/sm9.jpg", items[0].ThumbnailURL)
	assert.Empty(t, items[0].AuthorID)
	assert.Nil(t, items[0].Tags)
	assert.False(t, items[0].Sensitive)
}

func TestParseFeed_NonNumericViewsIsZero(t *testing.T) {
	body := feedHeader + `
<item>
  <title>第2位：Bar</title>
  <link>https://www.nicovideo.jp/watch/so42</link>
  <nicovideo:view>abc</nicovideo:view>
</item>` + feedFooter

	items := ParseFeed([]byte(body))

	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Rank)
	assert.Equal(t, "Bar", items[0].Title)
	assert.Equal(t, "so42", items[0].ID)
	assert.Zero(t, items[0].Views)
}

func TestParseFeed_ViewsFromDescription(t *testing.T) {
	body := feedHeader + `
<item>
  <title>第3位：Baz</title>
  <link>https://www.nicovideo.jp/watch/sm3</link>
  <description><![CDATA[<strong class="nico-info-total-view">12,345</strong>]]></description>
</item>` + feedFooter

	items := ParseFeed([]byte(body))

	require.Len(t, items, 1)
	assert.EqualValues(t, 12345, items[0].Views)
}

func TestParseFeed_UnnumberedTitleKeepsPosition(t *testing.T) {
	body := feedHeader + `
<item><title>first</title><link>https://www.nicovideo.jp/watch/sm1</link></item>
<item><title>second</title><link>https://www.nicovideo.jp/watch/sm2</link></item>` + feedFooter

	items := ParseFeed([]byte(body))

	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Rank)
	assert.Equal(t, "first", items[0].Title)
	assert.Equal(t, 2, items[1].Rank)
}

func TestParseFeed_EmptyOrInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "",
		"whitespace": "  \n\t",
		"not xml":    "<html><body>blocked</body",
		"plain text": "service unavailable",
	} {
		t.Run(name, func(t *testing.T) {
			items := ParseFeed([]byte(body))
			assert.NotNil(t, items)
			assert.Empty(t, items)
		})
	}
}

func TestContentIDFromLink(t *testing.T) {
	assert.Equal(t, "sm9", contentIDFromLink("https://www.nicovideo.jp/watch/sm9"))
	assert.Equal(t, "sm9", contentIDFromLink(" https://www.nicovideo.jp/watch/sm9?ref=x "))
	assert.Equal(t, "nm77", contentIDFromLink("https://example.com/v/nm77"))
	assert.Equal(t, "", contentIDFromLink("https://example.com/"))
}
