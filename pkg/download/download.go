// Package download materializes the artifacts referenced by detail records into the output tree.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// StructureFileName is written under the output base when structure output is enabled
const StructureFileName = "structure.txt"

// Doer sends one request with retries. *fetch.Fetcher satisfies it.
type Doer interface {
	FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TaskError is a failed artifact download
type TaskError struct {
	URL   string
	Path  string
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("download '%s' -> '%s': %v", e.URL, e.Path, e.Cause)
}

func (e *TaskError) Unwrap() []error {
	return []error{e.Cause, utils.ErrDownload}
}

// Result summarizes one download run
type Result struct {
	Tasks         int
	Succeeded     int
	Failed        int
	SkippedRecord int
	SkippedFile   int
	Backfilled    int // Groups marked complete because every file was already on disk
	Completed     int // Groups marked complete by this run's downloads
	Failures      []*TaskError
	Groups        []*Group // Every planned group with its final status
	Duration      time.Duration
}

// Downloader plans and runs the artifact downloads for one site
type Downloader struct {
	appCfg    *config.AppConfig
	colls     *storage.Collections
	doer      Doer
	userAgent string
	cookie    string
	outputDir string
	ext       string
	log       *logrus.Entry
}

// NewDownloader creates a downloader writing under appCfg.OutputBaseDir
func NewDownloader(appCfg *config.AppConfig, site config.SiteConfig, colls *storage.Collections, doer Doer, log *logrus.Entry) *Downloader {
	return &Downloader{
		appCfg:    appCfg,
		colls:     colls,
		doer:      doer,
		userAgent: config.GetEffectiveUserAgent(site, *appCfg),
		cookie:    site.Cookie,
		outputDir: appCfg.OutputBaseDir,
		ext:       site.ArtifactExtension,
		log:       log.WithField("component", "downloader"),
	}
}

type outcome struct {
	task models.DownloadTask
	err  *TaskError
}

// Run plans the downloads, fetches every pending artifact on a fixed worker pool and marks
// each (title, kind) group complete once all of its files are on disk. Individual download
// failures are reported in the result; only store errors and cancellation fail the run.
func (d *Downloader) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	plan, err := d.Plan(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Tasks:         plan.Tasks,
		SkippedRecord: plan.SkippedRecord,
		SkippedFile:   plan.SkippedFile,
		Groups:        plan.Groups,
	}
	d.log.WithFields(logrus.Fields{
		"tasks":          plan.Tasks,
		"pending":        plan.Pending,
		"skipped_record": plan.SkippedRecord,
		"skipped_file":   plan.SkippedFile,
	}).Info("Download plan ready")

	if err := plan.MakeDirs(d.outputDir); err != nil {
		return res, err
	}

	// Groups already on disk only need their marker
	remaining := make(map[string]int, len(plan.Groups))
	groups := make(map[string]*Group, len(plan.Groups))
	for _, g := range plan.Groups {
		key := groupKey(g.Title, g.Kind)
		groups[key] = g
		remaining[key] = len(g.Pending)
		if g.Status == models.DownloadStatusSkippedFile {
			if err := d.markComplete(ctx, g); err != nil {
				res.Duration = time.Since(startTime)
				return res, err
			}
			res.Backfilled++
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := plan.PendingTasks()
	taskChan := make(chan models.DownloadTask)
	successChan := make(chan outcome)
	failureChan := make(chan outcome)

	numWorkers := max(1, d.appCfg.NumDownloadWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= numWorkers; i++ {
		wg.Add(1)
		go d.worker(runCtx, i, taskChan, successChan, failureChan, &wg)
	}

	go func() {
		defer close(taskChan)
		for _, t := range tasks {
			select {
			case taskChan <- t:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(successChan)
		close(failureChan)
	}()

	var storeErr error
	for successChan != nil || failureChan != nil {
		select {
		case o, ok := <-successChan:
			if !ok {
				successChan = nil
				continue
			}
			res.Succeeded++
			key := groupKey(o.task.Title, o.task.Kind)
			remaining[key]--
			if remaining[key] > 0 || storeErr != nil {
				continue
			}
			g := groups[key]
			if g.Status == models.DownloadStatusFailure {
				continue
			}
			if err := d.markComplete(runCtx, g); err != nil {
				storeErr = err
				cancel()
				continue
			}
			g.Status = models.DownloadStatusSuccess
			res.Completed++
		case o, ok := <-failureChan:
			if !ok {
				failureChan = nil
				continue
			}
			res.Failed++
			res.Failures = append(res.Failures, o.err)
			groups[groupKey(o.task.Title, o.task.Kind)].Status = models.DownloadStatusFailure
		}
	}

	res.Duration = time.Since(startTime)
	if storeErr != nil {
		return res, storeErr
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("download run interrupted: %w", err)
	}

	if config.GetEffectiveWriteStructureFile(*d.appCfg) {
		outputFile := filepath.Join(d.outputDir, StructureFileName)
		if err := utils.WriteStructureFile(d.outputDir, outputFile, d.log); err != nil {
			d.log.WithField("error_type", utils.CategorizeError(err)).Warnf("Could not write structure file: %v", err)
		}
	}

	d.logSummary(res)
	return res, nil
}

// worker downloads tasks until taskChan closes or ctx is cancelled
func (d *Downloader) worker(ctx context.Context, id int, taskChan <-chan models.DownloadTask, successChan, failureChan chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	workerLog := d.log.WithField("worker_id", id)
	workerLog.Debug("Download worker started")

	for task := range taskChan {
		taskLog := workerLog.WithFields(logrus.Fields{"title": task.Title, "kind": task.Kind, "url": task.URL})
		err := d.downloadOne(ctx, task, taskLog)
		if err != nil {
			te := &TaskError{URL: task.URL, Path: task.Path, Cause: err}
			taskLog.WithField("error_type", utils.CategorizeError(te)).Warnf("Download failed: %v", err)
			failureChan <- outcome{task: task, err: te}
			continue
		}
		taskLog.WithField("path", task.Path).Debug("Downloaded")
		successChan <- outcome{task: task}
	}
	workerLog.Debug("Download worker finished")
}

// downloadOne streams one artifact into a temporary file beside its destination and renames it into place
func (d *Downloader) downloadOne(ctx context.Context, task models.DownloadTask, taskLog *logrus.Entry) (taskErr error) {
	defer func() {
		if r := recover(); r != nil {
			taskLog.WithField("stack_trace", string(debug.Stack())).Error("PANIC recovered in download worker")
			taskErr = fmt.Errorf("panic downloading '%s': %v", task.URL, r)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if d.cookie != "" {
		req.Header.Set("Cookie", d.cookie)
	}

	resp, err := d.doer.FetchWithRetry(ctx, req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
		}
		return err
	}

	dir := filepath.Dir(task.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: ensuring directory '%s': %w", utils.ErrFilesystem, dir, err)
	}

	tmpPath := filepath.Join(dir, "."+uuid.New().String()+".part")
	out, err := os.Create(tmpPath)
	if err != nil {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: creating '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
				return copyErr
			}
			return fmt.Errorf("%w: writing '%s' (%d bytes): %w", utils.ErrResponseBodyRead, tmpPath, n, copyErr)
		}
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, tmpPath, closeErr)
	}

	if err := os.Rename(tmpPath, task.Path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: moving into '%s': %w", utils.ErrFilesystem, task.Path, err)
	}
	return nil
}

func (d *Downloader) markComplete(ctx context.Context, g *Group) error {
	rec := models.DownloadRecord{Title: g.Title, Kind: g.Kind, Count: len(g.Tasks), Dir: g.RelDir}
	if err := d.colls.Downloads.UpsertByKey(ctx, rec); err != nil {
		return fmt.Errorf("marking '%s'/%s complete: %w", g.Title, g.Kind, err)
	}
	d.log.WithFields(logrus.Fields{"title": g.Title, "kind": g.Kind, "files": len(g.Tasks)}).Debug("Group marked complete")
	return nil
}

func (d *Downloader) logSummary(res *Result) {
	d.log.Info("============================================")
	d.log.Infof("Download completed in %v", res.Duration)
	d.log.Infof("  Artifacts: %d", res.Tasks)
	d.log.Infof("  Downloaded: %d, failed: %d", res.Succeeded, res.Failed)
	d.log.Infof("  Skipped (marked complete): %d, skipped (on disk): %d", res.SkippedRecord, res.SkippedFile)
	d.log.Infof("  Groups marked: %d completed, %d backfilled", res.Completed, res.Backfilled)
	d.log.Info("============================================")
}
