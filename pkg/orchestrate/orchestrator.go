package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/proceedings-scraper/pkg/cache"
	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/extract"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Stage names one level of the crawl
type Stage string

const (
	StageCollections    Stage = "collections"
	StageSubCollections Stage = "subcollections"
	StageDetails        Stage = "details"
)

// Stages lists the crawl levels in execution order
var Stages = []Stage{StageCollections, StageSubCollections, StageDetails}

// Fetcher returns the body of a page. *cache.CachedFetcher satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*cache.Response, error)
}

// StageResult summarizes one stage run
type StageResult struct {
	Stage    Stage
	Items    int // Source items read
	Done     int
	Failed   int
	Stale    int // Items served from a stale cache entry
	Records  int // Records upserted
	Duration time.Duration
	Err      error // Set when the stage halted
}

// Orchestrator runs the crawl stages against one site, each stage reading what the previous one stored
type Orchestrator struct {
	appCfg  *config.AppConfig
	site    config.SiteConfig
	fetcher Fetcher
	colls   *storage.Collections
	log     *logrus.Entry

	results   []StageResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates an orchestrator. site must already be validated.
func NewOrchestrator(appCfg *config.AppConfig, site config.SiteConfig, fetcher Fetcher, colls *storage.Collections, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		appCfg:  appCfg,
		site:    site,
		fetcher: fetcher,
		colls:   colls,
		log:     log.WithField("component", "orchestrator"),
	}
}

// source is one page to visit: a start URL or a record from the previous stage
type source struct {
	Title string
	URL   string
}

// RunAll runs every stage in order and stops at the first stage that halts
func (o *Orchestrator) RunAll(ctx context.Context) ([]StageResult, error) {
	startTime := time.Now()
	var results []StageResult
	for _, stage := range Stages {
		res, err := o.Run(ctx, stage)
		results = append(results, res)
		if err != nil {
			o.logSummary(time.Since(startTime))
			return results, err
		}
	}
	o.logSummary(time.Since(startTime))
	return results, nil
}

// Run executes a single stage
func (o *Orchestrator) Run(ctx context.Context, stage Stage) (StageResult, error) {
	var (
		res StageResult
		err error
	)
	switch stage {
	case StageCollections:
		res, err = o.RunCollections(ctx)
	case StageSubCollections:
		res, err = o.RunSubCollections(ctx)
	case StageDetails:
		res, err = o.RunDetails(ctx)
	default:
		return StageResult{Stage: stage}, fmt.Errorf("unknown stage '%s'", stage)
	}
	o.resultsMu.Lock()
	o.results = append(o.results, res)
	o.resultsMu.Unlock()
	return res, err
}

// RunCollections reads the configured start URLs into collection records
func (o *Orchestrator) RunCollections(ctx context.Context) (StageResult, error) {
	sources := make([]source, 0, len(o.site.StartURLs))
	for _, u := range o.site.StartURLs {
		sources = append(sources, source{Title: u, URL: u})
	}
	return runStage(ctx, o, StageCollections, sources, o.colls.Collections,
		func(doc *goquery.Document, src source, log *logrus.Entry) []models.CollectionRecord {
			return extract.Collections(doc, o.site.CollectionStage, o.site.BaseURL, log)
		})
}

// RunSubCollections visits every stored collection and stores its cards tagged with the collection title
func (o *Orchestrator) RunSubCollections(ctx context.Context) (StageResult, error) {
	parents, err := o.colls.Collections.FindAll(ctx, storage.FindOptions{SortBy: "title"})
	if err != nil {
		err = fmt.Errorf("stage %s: reading collections: %w", StageSubCollections, err)
		return StageResult{Stage: StageSubCollections, Err: err}, err
	}
	sources := make([]source, 0, len(parents))
	for _, p := range parents {
		sources = append(sources, source{Title: p.Title, URL: p.URL})
	}
	return runStage(ctx, o, StageSubCollections, sources, o.colls.SubCollections,
		func(doc *goquery.Document, src source, log *logrus.Entry) []models.SubCollectionRecord {
			return extract.SubCollections(doc, o.site.SubCollectionStage, o.site.BaseURL, src.Title, log)
		})
}

// RunDetails visits every stored sub-collection and stores one detail record per page
func (o *Orchestrator) RunDetails(ctx context.Context) (StageResult, error) {
	subs, err := o.colls.SubCollections.FindAll(ctx, storage.FindOptions{SortBy: "title"})
	if err != nil {
		err = fmt.Errorf("stage %s: reading sub-collections: %w", StageDetails, err)
		return StageResult{Stage: StageDetails, Err: err}, err
	}
	sources := make([]source, 0, len(subs))
	for _, s := range subs {
		sources = append(sources, source{Title: s.Title, URL: s.URL})
	}
	return runStage(ctx, o, StageDetails, sources, o.colls.Details,
		func(doc *goquery.Document, src source, log *logrus.Entry) []models.DetailRecord {
			return []models.DetailRecord{
				extract.Detail(doc, o.site.DetailStage, o.site.KindRules, o.site.BaseURL, src.Title, log),
			}
		})
}

// itemRun tracks one source through pending -> fetching -> extracting -> persisting -> done
type itemRun struct {
	src   source
	state models.ItemState
	log   *logrus.Entry
}

func (it *itemRun) transition(next models.ItemState) {
	if !it.state.CanTransition(next) {
		it.log.Errorf("Illegal item state transition %s -> %s", it.state, next)
	}
	it.log.Tracef("Item %s -> %s", it.state, next)
	it.state = next
}

// haltsStage reports whether err must stop the whole stage rather than just fail one item
func haltsStage(err error) bool {
	return errors.Is(err, utils.ErrStoreUnavailable) ||
		errors.Is(err, utils.ErrInvalidQuery) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// runStage fetches every source with bounded concurrency, extracts records and upserts them.
// Fetch failures fail only their item; store failures halt the stage.
func runStage[R models.Record](
	ctx context.Context,
	o *Orchestrator,
	stage Stage,
	sources []source,
	coll *storage.Collection[R],
	extractFn func(doc *goquery.Document, src source, log *logrus.Entry) []R,
) (StageResult, error) {
	startTime := time.Now()
	stageLog := o.log.WithField("stage", stage)
	stageLog.Infof("Starting stage with %d items", len(sources))

	var done, failed, stale, records atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.appCfg.NumWorkers))

	for _, src := range sources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			it := &itemRun{
				src:   src,
				state: models.ItemStatePending,
				log:   stageLog.WithFields(logrus.Fields{"title": src.Title, "url": src.URL}),
			}

			it.transition(models.ItemStateFetching)
			doc, isStale, err := o.fetchDocument(gctx, src.URL)
			if err != nil {
				it.transition(models.ItemStateFailed)
				failed.Add(1)
				if gctx.Err() != nil {
					return gctx.Err()
				}
				it.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Failed to fetch page: %v", err)
				return nil
			}
			if isStale {
				stale.Add(1)
				it.log.Warn("Using stale cached page")
			}

			it.transition(models.ItemStateExtracting)
			recs := extractFn(doc, src, it.log)
			it.log.Debugf("Extracted %d records", len(recs))

			it.transition(models.ItemStatePersisting)
			n, err := coll.UpsertMany(gctx, recs)
			records.Add(int64(n))
			if err != nil {
				it.transition(models.ItemStateFailed)
				failed.Add(1)
				if haltsStage(err) {
					return fmt.Errorf("persisting records from %s: %w", src.URL, err)
				}
				it.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Failed to persist records: %v", err)
				return nil
			}
			it.transition(models.ItemStateDone)
			done.Add(1)
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	res := StageResult{
		Stage:    stage,
		Items:    len(sources),
		Done:     int(done.Load()),
		Failed:   int(failed.Load()),
		Stale:    int(stale.Load()),
		Records:  int(records.Load()),
		Duration: time.Since(startTime),
	}
	if err != nil {
		res.Err = fmt.Errorf("stage %s: %w", stage, err)
		stageLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Stage halted: %v", err)
		return res, res.Err
	}

	stageLog.WithFields(logrus.Fields{
		"items":   res.Items,
		"done":    res.Done,
		"failed":  res.Failed,
		"stale":   res.Stale,
		"records": res.Records,
	}).Infof("Stage completed in %v", res.Duration)
	return res, nil
}

// fetchDocument gets and parses one page, reporting whether it came from a stale cache entry
func (o *Orchestrator) fetchDocument(ctx context.Context, url string) (*goquery.Document, bool, error) {
	resp, err := o.fetcher.Get(ctx, url)
	if err != nil {
		return nil, false, err
	}
	doc, err := extract.Parse(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return doc, resp.Stale, nil
}

// Results returns every stage result recorded so far
func (o *Orchestrator) Results() []StageResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	out := make([]StageResult, len(o.results))
	copy(out, o.results)
	return out
}

// logSummary logs a summary of all stage results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Crawl completed in %v", totalDuration)
	o.log.Info("Stage Results:")

	var totalRecords, totalFailed int
	for _, r := range o.Results() {
		status := "SUCCESS"
		if r.Err != nil {
			status = "HALTED"
		}
		totalRecords += r.Records
		totalFailed += r.Failed

		o.log.Infof("  %s: %s - %d/%d items, %d records, %d stale in %v",
			r.Stage, status, r.Done, r.Items, r.Records, r.Stale, r.Duration)
		if r.Err != nil {
			o.log.Infof("    Error: %v", r.Err)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d records written, %d items failed", totalRecords, totalFailed)
	o.log.Info("============================================")
}

// ParseStage maps a CLI stage name to a Stage
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown stage '%s' (want one of %v)", name, Stages)
}
