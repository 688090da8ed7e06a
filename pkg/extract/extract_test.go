package extract

import (
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
)

const base = "https://conf.example.org"

func siteConfig(t *testing.T) config.SiteConfig {
	t.Helper()
	site := config.SiteConfig{BaseURL: base, StartURLs: []string{base + "/terms/cc_track"}}
	_, err := site.Validate()
	require.NoError(t, err)
	return site
}

func newHookedLogger() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func warnings(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			n++
		}
	}
	return n
}

func mustParse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := Parse([]byte(html))
	require.NoError(t, err)
	return doc
}

const collectionPage = `<html><body><ul>
<li class="card">
  <a href="/terms/flag">icon</a>
  <a href="/symposium/ai">AI for Networks</a>
  <a href="/taxonomy/conference">Symposium</a>
</li>
<li class="card">
  <a href="/terms/flag">icon</a>
  <a class="use-ajax" href="/bookmark/1">Bookmark</a>
  <a href="https://other.example.org/ws/iot">IoT Workshop</a>
</li>
<li class="card">
  <a href="/terms/flag">icon</a>
</li>
<li class="card">
  <a href="/terms/flag">icon</a>
  <a href="/symposium/sec">
     Security and
     Privacy
  </a>
  <a href="/taxonomy/conference">Symposium</a>
</li>
<li class="card">
  <a href="/terms/flag">icon</a>
  <a href="/symposium/opt">Optical</a>
  <a href="/taxonomy/track">Track</a>
</li>
</ul></body></html>`

func TestCollections_MalformedCardIsSkipped(t *testing.T) {
	site := siteConfig(t)
	log, hook := newHookedLogger()

	recs := Collections(mustParse(t, collectionPage), site.CollectionStage, site.BaseURL, log)

	require.Len(t, recs, 4)
	assert.Equal(t, 1, warnings(hook))

	assert.Equal(t, "AI for Networks", recs[0].Title)
	assert.Equal(t, base+"/symposium/ai", recs[0].URL)
	require.NotNil(t, recs[0].Type)
	assert.Equal(t, "Symposium", *recs[0].Type)

	// use-ajax anchor dropped, absolute href passes through, no type label left
	assert.Equal(t, "IoT Workshop", recs[1].Title)
	assert.Equal(t, "https://other.example.org/ws/iot", recs[1].URL)
	assert.Nil(t, recs[1].Type)
	assert.Equal(t, models.NoneType, recs[1].TypeName())

	assert.Equal(t, "Security and Privacy", recs[2].Title)
	assert.Equal(t, "Track", *recs[3].Type)
}

func TestCollections_EmptyPage(t *testing.T) {
	site := siteConfig(t)
	log, hook := newHookedLogger()
	recs := Collections(mustParse(t, `<html><body><p>nothing</p></body></html>`), site.CollectionStage, site.BaseURL, log)
	assert.Empty(t, recs)
	assert.Equal(t, 0, warnings(hook))
}

func TestSubCollections(t *testing.T) {
	site := siteConfig(t)
	log, hook := newHookedLogger()
	page := `<html><body>
<div class="card"><a href="/presentation/1">Talk One</a><a href="/author/x">Author</a></div>
<div class="card"><span>no link</span></div>
<div class="card"><a href="//cdn.example.org/p/2">Talk Two</a></div>
<div class="card"><a href="">Empty href</a></div>
</body></html>`

	recs := SubCollections(mustParse(t, page), site.SubCollectionStage, site.BaseURL, "AI for Networks", log)

	require.Len(t, recs, 2)
	assert.Equal(t, 2, warnings(hook))
	assert.Equal(t, models.SubCollectionRecord{Title: "Talk One", ParentTitle: "AI for Networks", URL: base + "/presentation/1"}, recs[0])
	assert.Equal(t, "https://cdn.example.org/p/2", recs[1].URL)
}

func TestDetail(t *testing.T) {
	site := siteConfig(t)
	log, _ := newHookedLogger()
	page := `<html><body>
<div class="field--name-field-cc-abstract"><div class="field__label">Abstract</div><div class="field__item">
  We study routing.
  Results are good.
</div></div>
<a type="button" data-action="Download" href="/files/papers/p1.pdf">Paper</a>
<a type="button" data-action="Download" href="/files/slides/s1.pdf">Slides</a>
<a type="button" data-action="Download" href="/files/papers/p2.pdf">Paper 2</a>
<a type="button" data-action="Download" href="/files/video/v.mp4">Video</a>
<a href="/files/papers/not-a-button.pdf">Plain link</a>
</body></html>`

	rec := Detail(mustParse(t, page), site.DetailStage, site.KindRules, site.BaseURL, "Talk One", log)

	assert.Equal(t, "Talk One", rec.Title)
	assert.Equal(t, "We study routing. Results are good.", rec.Abstract)
	assert.Equal(t, []string{base + "/files/papers/p1.pdf", base + "/files/papers/p2.pdf"}, rec.Artifacts["papers"])
	assert.Equal(t, []string{base + "/files/slides/s1.pdf"}, rec.Artifacts["slides"])
	assert.Len(t, rec.Artifacts, 2)
	assert.NoError(t, rec.Validate())
}

func TestDetail_NoAbstractNoArtifacts(t *testing.T) {
	site := siteConfig(t)
	log, _ := newHookedLogger()
	rec := Detail(mustParse(t, `<html><body></body></html>`), site.DetailStage, site.KindRules, site.BaseURL, "Empty", log)

	assert.Equal(t, "", rec.Abstract)
	assert.Equal(t, map[string][]string{"papers": {}, "slides": {}}, rec.Artifacts)
}

func TestKindOf_FirstMatchWins(t *testing.T) {
	rules := []config.KindRule{
		{Contains: "slides", Kind: "slides"},
		{Contains: ".pdf", Kind: "papers"},
	}
	kind, ok := KindOf("/files/slides/deck.pdf", rules)
	assert.True(t, ok)
	assert.Equal(t, "slides", kind)

	kind, ok = KindOf("/files/other/doc.pdf", rules)
	assert.True(t, ok)
	assert.Equal(t, "papers", kind)

	_, ok = KindOf("/files/video.mp4", rules)
	assert.False(t, ok)
}

func TestCollapseText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  plain  ", "plain"},
		{"keeps  inner  spaces", "keeps  inner  spaces"},
		{"line one\nline two", "line one line two"},
		{"a \r\n\r\n   b\n\nc", "a b c"},
		{"\n\n", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseText(tt.in), "input %q", tt.in)
	}
}
