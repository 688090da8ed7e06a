package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Group is every artifact of one kind for one title. A DownloadRecord marks a whole group.
type Group struct {
	Title   string
	Kind    string
	RelDir  string   // Destination directory relative to the output base, slash separated
	Keys    []string // RelDir as path tree keys
	Tasks   []models.DownloadTask
	Pending []models.DownloadTask // Tasks whose file is not on disk yet
	Status  models.DownloadStatus // Planned as SkippedRecord, SkippedFile (backfill) or Pending; Run settles Pending to Success or Failure
}

// Plan is the outcome of walking the stored records
type Plan struct {
	Groups        []*Group
	Dirs          utils.PathTree // Directories that will receive files
	Tasks         int            // Artifacts referenced by the records
	Pending       int
	SkippedRecord int // Tasks skipped because their group is marked complete
	SkippedFile   int // Tasks skipped because the file exists
}

// PendingTasks returns every task left to download, in plan order
func (p *Plan) PendingTasks() []models.DownloadTask {
	out := make([]models.DownloadTask, 0, p.Pending)
	for _, g := range p.Groups {
		out = append(out, g.Pending...)
	}
	return out
}

func groupKey(title, kind string) string {
	return title + "\x00" + kind
}

// FileName is the on-disk name of artifact index of a group with count artifacts
func FileName(title string, index, count int, ext string) string {
	name := utils.SanitizePathComponent(title)
	if count > 1 {
		name += "(" + strconv.Itoa(index) + ")"
	}
	return name + "." + ext
}

// Plan walks collections grouped by sorted type, then their sub-collections, then each detail
// record, and decides for every artifact whether it still has to be downloaded.
func (d *Downloader) Plan(ctx context.Context) (*Plan, error) {
	all := storage.FindOptions{SortBy: "title"}

	collections, err := d.colls.Collections.FindAll(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("reading collections: %w", err)
	}
	subs, err := d.colls.SubCollections.FindAll(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("reading sub-collections: %w", err)
	}
	details, err := d.colls.Details.FindAll(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("reading details: %w", err)
	}
	marks, err := d.colls.Downloads.FindAll(ctx, storage.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("reading download records: %w", err)
	}

	subsByParent := make(map[string][]models.SubCollectionRecord)
	for _, s := range subs {
		subsByParent[s.ParentTitle] = append(subsByParent[s.ParentTitle], s)
	}
	detailByTitle := make(map[string]models.DetailRecord, len(details))
	for _, dr := range details {
		detailByTitle[dr.Title] = dr
	}
	marked := make(map[string]bool, len(marks))
	for _, m := range marks {
		marked[groupKey(m.Title, m.Kind)] = true
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

	plan := &Plan{Dirs: utils.PathTree{}}
	for _, typ := range types {
		for _, coll := range byType[typ] {
			for _, sub := range subsByParent[coll.Title] {
				detail, ok := detailByTitle[sub.Title]
				if !ok {
					d.log.WithFields(logrus.Fields{"title": sub.Title, "collection": coll.Title}).Warn("No detail record, skipping")
					continue
				}
				kinds := make([]string, 0, len(detail.Artifacts))
				for k := range detail.Artifacts {
					kinds = append(kinds, k)
				}
				sort.Strings(kinds)
				for _, kind := range kinds {
					urls := detail.Artifacts[kind]
					if len(urls) == 0 {
						continue
					}
					g := d.planGroup(typ, coll.Title, detail.Title, kind, urls, marked[groupKey(detail.Title, kind)])
					plan.add(g)
				}
			}
		}
	}
	return plan, nil
}

func (d *Downloader) planGroup(typ, collTitle, title, kind string, urls []string, marked bool) *Group {
	keys := []string{
		utils.SanitizePathComponent(typ),
		utils.SanitizePathComponent(collTitle),
		utils.SanitizePathComponent(title),
		utils.SanitizePathComponent(kind),
	}
	g := &Group{
		Title:  title,
		Kind:   kind,
		Keys:   keys,
		RelDir: filepath.ToSlash(filepath.Join(keys...)),
		Status: models.DownloadStatusPending,
	}
	dir := filepath.Join(append([]string{d.outputDir}, keys...)...)
	for i, u := range urls {
		g.Tasks = append(g.Tasks, models.DownloadTask{
			Title: title,
			Kind:  kind,
			URL:   u,
			Path:  filepath.Join(dir, FileName(title, i, len(urls), d.ext)),
			Index: i,
		})
	}

	if marked {
		g.Status = models.DownloadStatusSkippedRecord
		return g
	}
	for _, t := range g.Tasks {
		if _, err := os.Stat(t.Path); err == nil {
			continue
		}
		g.Pending = append(g.Pending, t)
	}
	if len(g.Pending) == 0 {
		g.Status = models.DownloadStatusSkippedFile
	}
	return g
}

func (p *Plan) add(g *Group) {
	p.Groups = append(p.Groups, g)
	p.Tasks += len(g.Tasks)
	switch g.Status {
	case models.DownloadStatusSkippedRecord:
		p.SkippedRecord += len(g.Tasks)
		return
	}
	p.Pending += len(g.Pending)
	p.SkippedFile += len(g.Tasks) - len(g.Pending)
	p.Dirs.UpdateKeys(g.Keys...)
	if len(g.Pending) == 0 {
		prune(p.Dirs, g.Keys)
	}
}

// prune removes the leaf at keys and then every ancestor left without children
func prune(tree utils.PathTree, keys []string) {
	for i := len(keys); i > 0; i-- {
		node := tree
		for _, k := range keys[:i-1] {
			node = node[k]
			if node == nil {
				return
			}
		}
		if child := node[keys[i-1]]; i < len(keys) && len(child) > 0 {
			return
		}
		tree.Delete(keys[:i]...)
	}
}

// MakeDirs creates every planned directory under base
func (p *Plan) MakeDirs(base string) error {
	for _, leaf := range p.Dirs.Leaves() {
		dir := filepath.Join(base, filepath.FromSlash(leaf))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: creating directory '%s': %w", utils.ErrFilesystem, dir, err)
		}
	}
	return nil
}
