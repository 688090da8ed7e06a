// Package extract turns listing and detail pages into records.
// The functions here do no I/O; they read a parsed document and the selectors from config.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/parse"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// card is what one listing candidate yields
type card struct {
	Title string
	URL   string
	Label *string
}

// Parse builds a goquery document from a response body
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

// Collections reads the top-level listing: one record per card, typed by the card's label anchor when present
func Collections(doc *goquery.Document, sel config.StageSelectors, base string, log *logrus.Entry) []models.CollectionRecord {
	cards := readCards(doc, sel, base, log)
	out := make([]models.CollectionRecord, 0, len(cards))
	for _, c := range cards {
		out = append(out, models.CollectionRecord{Title: c.Title, Type: c.Label, URL: c.URL})
	}
	return out
}

// SubCollections reads a collection page. Records are tagged with parentTitle.
func SubCollections(doc *goquery.Document, sel config.StageSelectors, base, parentTitle string, log *logrus.Entry) []models.SubCollectionRecord {
	cards := readCards(doc, sel, base, log)
	out := make([]models.SubCollectionRecord, 0, len(cards))
	for _, c := range cards {
		out = append(out, models.SubCollectionRecord{Title: c.Title, ParentTitle: parentTitle, URL: c.URL})
	}
	return out
}

// Detail reads a leaf page. Every configured kind is present in Artifacts, possibly empty;
// artifact links matching no kind rule are dropped.
func Detail(doc *goquery.Document, sel config.DetailSelectors, rules []config.KindRule, base, title string, log *logrus.Entry) models.DetailRecord {
	rec := models.DetailRecord{
		Title:     title,
		Artifacts: make(map[string][]string, len(rules)),
	}
	for _, r := range rules {
		if _, ok := rec.Artifacts[r.Kind]; !ok {
			rec.Artifacts[r.Kind] = []string{}
		}
	}

	if abstract := doc.Find(sel.AbstractSelector).First(); abstract.Length() > 0 {
		rec.Abstract = CollapseText(abstract.Text())
	} else {
		log.Debug("No abstract on detail page")
	}

	doc.Find(sel.ArtifactSelector).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		kind, ok := KindOf(href, rules)
		if !ok {
			log.WithField("href", href).Debug("Artifact link matches no kind rule, skipping")
			return
		}
		rec.Artifacts[kind] = append(rec.Artifacts[kind], parse.JoinBase(base, href))
	})
	return rec
}

// KindOf labels an artifact href with the first rule whose substring it contains
func KindOf(href string, rules []config.KindRule) (string, bool) {
	for _, r := range rules {
		if strings.Contains(href, r.Contains) {
			return r.Kind, true
		}
	}
	return "", false
}

// CollapseText trims s and joins its non-blank lines with single spaces
func CollapseText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	parts := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

// readCards applies the stage selectors to every candidate. A candidate without a usable
// anchor is logged once and skipped; the rest of the page is still read.
func readCards(doc *goquery.Document, sel config.StageSelectors, base string, log *logrus.Entry) []card {
	var cards []card
	candidates := doc.Find(sel.CardSelector)
	log.WithField("candidates", candidates.Length()).Debugf("Matched '%s'", sel.CardSelector)

	candidates.Each(func(i int, s *goquery.Selection) {
		var anchors []*goquery.Selection
		s.Find(sel.AnchorSelector).Each(func(j int, a *goquery.Selection) {
			if j < sel.SkipLeadingAnchors {
				return
			}
			if sel.DynamicAnchorClass != "" && a.HasClass(sel.DynamicAnchorClass) {
				return
			}
			anchors = append(anchors, a)
		})

		if len(anchors) == 0 {
			warnCard(log, i, s, "no usable anchor")
			return
		}
		primary := anchors[0]
		href, _ := primary.Attr("href")
		href = strings.TrimSpace(href)
		title := CollapseText(primary.Text())
		if href == "" || title == "" {
			warnCard(log, i, s, "anchor has no href or text")
			return
		}

		c := card{Title: title, URL: parse.JoinBase(base, href)}
		if sel.ReadTypeLabel && len(anchors) > 1 {
			if label := CollapseText(anchors[1].Text()); label != "" {
				c.Label = &label
			}
		}
		cards = append(cards, c)
	})
	return cards
}

func warnCard(log *logrus.Entry, index int, s *goquery.Selection, reason string) {
	text := []rune(strings.Join(strings.Fields(s.Text()), " "))
	if len(text) > 120 {
		text = append(text[:120], []rune("...")...)
	}
	log.WithFields(logrus.Fields{"card_index": index, "card_text": string(text)}).Warnf("Skipping card: %s", reason)
}
