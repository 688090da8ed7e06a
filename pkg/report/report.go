// Package report renders the stored records as a LaTeX outline.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
)

// MissingAbstract is printed for a title that has no detail record
const MissingAbstract = "None"

// Reporter reads the crawl collections
type Reporter struct {
	colls *storage.Collections
	log   *logrus.Entry
}

// NewReporter creates a reporter over colls
func NewReporter(colls *storage.Collections, log *logrus.Entry) *Reporter {
	return &Reporter{colls: colls, log: log.WithField("component", "report")}
}

// Summary counts what a render wrote
type Summary struct {
	Sections       int
	Subsections    int
	Subsubsections int
	Missing        int // Titles without a detail record
}

// RenderLaTeX writes one \section per collection type (sorted, untyped as "None"), one
// \subsection per collection and one \subsubsection per sub-collection followed by its abstract.
func (r *Reporter) RenderLaTeX(ctx context.Context, w io.Writer) (Summary, error) {
	var sum Summary
	byTitle := storage.FindOptions{SortBy: "title"}

	collections, err := r.colls.Collections.FindAll(ctx, byTitle)
	if err != nil {
		return sum, fmt.Errorf("reading collections: %w", err)
	}
	subs, err := r.colls.SubCollections.FindAll(ctx, byTitle)
	if err != nil {
		return sum, fmt.Errorf("reading sub-collections: %w", err)
	}
	details, err := r.colls.Details.FindAll(ctx, storage.FindOptions{})
	if err != nil {
		return sum, fmt.Errorf("reading details: %w", err)
	}

	subsByParent := make(map[string][]models.SubCollectionRecord)
	for _, s := range subs {
		subsByParent[s.ParentTitle] = append(subsByParent[s.ParentTitle], s)
	}
	abstracts := make(map[string]string, len(details))
	for _, d := range details {
		abstracts[d.Title] = d.Abstract
	}
	byType := make(map[string][]models.CollectionRecord)
	for _, c := range collections {
		byType[c.TypeName()] = append(byType[c.TypeName()], c)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	bw := bufio.NewWriter(w)
	for _, typ := range types {
		fmt.Fprintf(bw, "\\section{%s}\n", typ)
		sum.Sections++
		for _, coll := range byType[typ] {
			fmt.Fprintf(bw, "\\subsection{%s}\n", coll.Title)
			sum.Subsections++
			for _, sub := range subsByParent[coll.Title] {
				fmt.Fprintf(bw, "\\subsubsection{%s}\n", sub.Title)
				sum.Subsubsections++
				abstract, ok := abstracts[sub.Title]
				if !ok {
					abstract = MissingAbstract
					sum.Missing++
				}
				fmt.Fprintf(bw, "abstract:%s\n", stripNewlines(abstract))
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return sum, fmt.Errorf("writing report: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"sections":       sum.Sections,
		"subsections":    sum.Subsections,
		"subsubsections": sum.Subsubsections,
		"missing":        sum.Missing,
	}).Info("Report written")
	return sum, nil
}

func stripNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "")
}
