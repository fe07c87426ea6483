package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/imagegen"
	"github.com/joffreyzhang/kurangame/internal/ingest"
	"github.com/joffreyzhang/kurangame/pkg/memory"
)

// Workflow bundles the collaborators of the ingest pipeline. Images and
// Catalog are optional; their checkpoints degrade to no-ops when absent.
type Workflow struct {
	Store     *game.Store
	Extractor ingest.TextExtractor
	Generator *ingest.WorldGenerator
	Uploader  ingest.Uploader
	Images    *imagegen.Pipeline
	Catalog   memory.Catalog
	UserFiles *UserFiles
}

// run executes the workflow for one task, resuming past completed
// checkpoints. It always returns with the record in a terminal state.
// At most one worker exists per task: a second run for the same id is a
// no-op, so a stale-looking task that still has a live worker cannot be
// double-executed by Resume or RecoverAll.
func (m *Manager) run(ctx context.Context, taskID string) {
	m.mu.Lock()
	rec := m.tasks[taskID]
	if rec == nil {
		m.mu.Unlock()
		m.log.Error("run called for unknown task", "task", taskID)
		return
	}
	if _, busy := m.running[taskID]; busy {
		m.mu.Unlock()
		m.log.Warn("task already has a worker, skipping launch", "task", taskID)
		return
	}
	m.running[taskID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, taskID)
		m.mu.Unlock()
	}()

	if err := m.steps(ctx, rec); err != nil {
		m.log.Error("task failed", "task", taskID, "progress", rec.Progress, "error", err)
		m.mu.Lock()
		rec.State = StateFailed
		rec.Error = err.Error()
		rec.Message = "failed"
		rec.UpdatedAt = m.now().UTC()
		if saveErr := m.save(rec); saveErr != nil {
			m.log.Error("failed task record not persisted", "task", taskID, "error", saveErr)
		}
		m.mu.Unlock()
		return
	}
	m.log.Info("task completed", "task", taskID, "file", rec.FileID)
}

// checkpoint persists progress. Every call is a resume point.
func (m *Manager) checkpoint(rec *Record, progress int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.State = StateProcessing
	rec.Progress = progress
	rec.Message = message
	rec.UpdatedAt = m.now().UTC()
	return m.save(rec)
}

// steps walks the workflow checkpoints, skipping those already passed.
func (m *Manager) steps(ctx context.Context, rec *Record) error {
	wf := m.workflow

	// 10% — init.
	if rec.Progress < progressInit {
		if rec.FileDataBase64 == "" {
			return fmt.Errorf("task %s: no source document", rec.TaskID)
		}
		if err := m.checkpoint(rec, progressInit, "initialized"); err != nil {
			return err
		}
	}

	// 30% → 70% — text extraction and world generation; fileId known after.
	if rec.Progress < progressExtractionDone {
		if err := m.checkpoint(rec, progressExtractionStarted, "extracting text"); err != nil {
			return err
		}
		data, err := rec.fileData()
		if err != nil {
			return err
		}
		text, err := wf.Extractor.Extract(ctx, rec.FileName, data)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		world, err := wf.Generator.Generate(ctx, text)
		if err != nil {
			return fmt.Errorf("generate world: %w", err)
		}

		fileID := uuid.NewString()
		if err := world.Save(wf.Store, fileID); err != nil {
			return err
		}
		m.mu.Lock()
		rec.FileID = fileID
		rec.Result = &Result{
			FileID:      fileID,
			Title:       world.Title,
			Description: world.Description,
		}
		m.mu.Unlock()
		if err := m.checkpoint(rec, progressExtractionDone, "world documents generated"); err != nil {
			return err
		}
	}

	// 75% — source document uploaded.
	if rec.Progress < progressSourceUploaded {
		data, err := rec.fileData()
		if err != nil {
			return err
		}
		url, err := wf.Uploader.Upload(ctx, rec.FileID+"/source/"+rec.FileName, data)
		if err != nil {
			return fmt.Errorf("upload source: %w", err)
		}
		m.mu.Lock()
		rec.Result.SourceURL = url
		m.mu.Unlock()
		if err := m.checkpoint(rec, progressSourceUploaded, "source document stored"); err != nil {
			return err
		}
	}

	// 80% — image synthesis (skippable).
	if rec.Progress < progressImagesUploaded {
		if wf.Images != nil && !rec.Options.SkipImages {
			opts := rec.Options.Images
			if opts == (imagegen.Options{}) {
				opts = imagegen.AllOptions()
			}
			imgRes, err := wf.Images.GenerateAll(ctx, rec.FileID, opts)
			if err != nil {
				return fmt.Errorf("image pipeline: %w", err)
			}
			m.mu.Lock()
			rec.Result.ImageErrors = imgRes.Errors
			m.mu.Unlock()
		}
		if err := m.checkpoint(rec, progressImagesUploaded, "images generated"); err != nil {
			return err
		}
	}

	// 85% — world-JSON uploaded to the object store.
	if rec.Progress < progressWorldUploaded {
		if err := m.uploadWorldJSON(ctx, rec); err != nil {
			return err
		}
		if err := m.checkpoint(rec, progressWorldUploaded, "world documents stored"); err != nil {
			return err
		}
	}

	// 90% — title/description confirmed on the record.
	if rec.Progress < progressMetadataFetched {
		if rec.Result == nil || rec.Result.Title == "" {
			return fmt.Errorf("task %s: world metadata missing", rec.TaskID)
		}
		if err := m.checkpoint(rec, progressMetadataFetched, "metadata recorded"); err != nil {
			return err
		}
	}

	// 95% — catalog record created.
	if rec.Progress < progressRecordCreated {
		if wf.Catalog != nil {
			err := wf.Catalog.CreateFile(ctx, memory.FileRecord{
				FileID:      rec.FileID,
				UserID:      rec.UserID,
				Title:       rec.Result.Title,
				Description: rec.Result.Description,
				CreatedAt:   rec.CreatedAt,
			})
			if err != nil {
				return fmt.Errorf("create catalog record: %w", err)
			}
		}
		if err := m.checkpoint(rec, progressRecordCreated, "catalog record created"); err != nil {
			return err
		}
	}

	// 98% — user linkage.
	if rec.Progress < progressUserLinked {
		if wf.UserFiles != nil {
			if err := wf.UserFiles.Add(rec.UserID, rec.FileID); err != nil {
				return fmt.Errorf("link user file: %w", err)
			}
		}
		if err := m.checkpoint(rec, progressUserLinked, "user files updated"); err != nil {
			return err
		}
	}

	// 100% — done. The source bytes are dropped from the record.
	m.mu.Lock()
	rec.State = StateCompleted
	rec.Progress = progressDone
	rec.Message = "done"
	rec.FileDataBase64 = ""
	rec.UpdatedAt = m.now().UTC()
	err := m.save(rec)
	m.mu.Unlock()
	return err
}

// uploadWorldJSON pushes the four generated documents to the object store
// under the template's key prefix.
func (m *Manager) uploadWorldJSON(ctx context.Context, rec *Record) error {
	wf := m.workflow
	docs := []struct {
		name string
		load func() (any, error)
	}{
		{"lore", func() (any, error) { return wf.Store.LoadLore(rec.FileID) }},
		{"player", func() (any, error) { return wf.Store.LoadPlayer(rec.FileID) }},
		{"items", func() (any, error) { return wf.Store.LoadItems(rec.FileID) }},
		{"scenes", func() (any, error) { return wf.Store.LoadScenes(rec.FileID) }},
	}
	for _, doc := range docs {
		v, err := doc.load()
		if err != nil {
			return fmt.Errorf("load %s document: %w", doc.name, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s document: %w", doc.name, err)
		}
		key := rec.FileID + "/world/" + doc.name + ".json"
		if _, err := wf.Uploader.Upload(ctx, key, data); err != nil {
			return fmt.Errorf("upload %s document: %w", doc.name, err)
		}
	}
	return nil
}

// RecoverAll scans the task store on startup, removes expired terminal
// records, and relaunches every non-terminal task from its last checkpoint.
// Recoveries run concurrently and independently; one failure does not stop
// the others.
func (m *Manager) RecoverAll(ctx context.Context) error {
	if err := m.loadAll(); err != nil {
		return err
	}
	m.CleanupExpired()

	m.mu.Lock()
	var resume []string
	for id, rec := range m.tasks {
		if rec.State.Terminal() {
			continue
		}
		rec.State = StateProcessing
		rec.UpdatedAt = m.now().UTC()
		if err := m.save(rec); err != nil {
			m.log.Warn("recovered task not persisted", "task", id, "error", err)
		}
		resume = append(resume, id)
	}
	m.mu.Unlock()

	if len(resume) == 0 {
		return nil
	}
	m.log.Info("recovering tasks", "count", len(resume))

	var g errgroup.Group
	for _, id := range resume {
		id := id
		g.Go(func() error {
			m.run(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

// StartCleanup runs CleanupExpired periodically until ctx is cancelled.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}
