package engine

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dgnsrekt/styleurl/internal/backend"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/notify"
	"github.com/dgnsrekt/styleurl/internal/upload"
)

// Transition functions run on the event loop only.

func (e *Engine) start(req message.Request) {
	now := e.now()
	wf := &Workflow{
		ID:        uuid.NewString(),
		TabID:     req.TabID,
		State:     StateIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
	e.workflows[wf.ID] = wf
	e.metrics.WorkflowStarted()

	sheets := req.Stylesheets()
	slog.Info("workflow started", "workflow_id", wf.ID, "tab_id", wf.TabID, "stylesheets", len(sheets))

	e.transition(wf, StateAwaitingOriginInfo)
	e.async(func(ctx context.Context) {
		tab, err := e.host.Tab(ctx, wf.TabID)
		e.post(func() { e.onOriginResolved(wf, sheets, tab, err) })
	})
}

func (e *Engine) onOriginResolved(wf *Workflow, sheets []message.Stylesheet, tab host.Tab, err error) {
	if err != nil || tab.URL == "" {
		e.fail(wf, OutcomeOriginUnresolved, err)
		return
	}
	wf.PageURL = tab.URL

	e.transition(wf, StateUploadingStylesheets)
	e.async(func(ctx context.Context) {
		res := e.backend.SubmitStylesheets(ctx, tab.URL, sheets)
		e.post(func() { e.onStylesheetsSubmitted(wf, res) })
	})
}

func (e *Engine) onStylesheetsSubmitted(wf *Workflow, res message.StylesheetGroupResult) {
	if !res.Success || res.Data == nil {
		e.fail(wf, OutcomeSubmissionFailed, nil)
		return
	}
	wf.Artifact = Artifact{ID: res.Data.ID, URL: res.Data.URL, Domain: res.Data.Domain}

	e.transition(wf, StateCapturingScreenshot)
	e.async(func(ctx context.Context) {
		img, err := e.host.CaptureVisible(ctx, wf.TabID)
		e.post(func() { e.onCaptured(wf, img, err) })
	})
}

// onCaptured opens the artifact page whatever the capture produced. The
// capture is taken first so the new view cannot end up in the screenshot.
func (e *Engine) onCaptured(wf *Workflow, img []byte, err error) {
	viewURL := wf.Artifact.URL
	e.async(func(ctx context.Context) {
		if err := e.host.OpenView(ctx, viewURL); err != nil {
			slog.Error("open artifact view failed", "workflow_id", wf.ID, "url", viewURL, "error", err)
		}
	})

	if err != nil {
		slog.Warn("screenshot capture failed", "workflow_id", wf.ID, "tab_id", wf.TabID, "error", err)
	}
	if len(img) == 0 {
		e.finish(wf, OutcomeCaptureSkipped)
		return
	}
	e.startUpload(wf, img)
}

func (e *Engine) startUpload(wf *Workflow, img []byte) {
	e.transition(wf, StateUploadingScreenshot)

	key := wf.Artifact.ID
	slot := &inflight{}
	if err := e.uploads.Start(key, slot); err != nil {
		slog.Error("upload already in flight for artifact", "workflow_id", wf.ID, "artifact_id", key)
		wf.Err = err.Error()
		e.finish(wf, OutcomeRegistryRejected)
		return
	}
	e.metrics.SetUploadsInFlight(e.uploads.Len())

	file := upload.File{Name: ScreenshotName, ContentType: ScreenshotContentType}
	opts := upload.Options{SigningPath: backend.PathPhotosPresign, Headers: map[string]string{}}
	slot.handle = e.uploader.Start(e.runCtx, img, file, opts,
		func(res upload.Result) { e.post(func() { e.onUploaded(wf, slot, res) }) },
		func(err error) { e.post(func() { e.onUploadFailed(wf, slot, err) }) },
	)
	slog.Info("screenshot upload started", "workflow_id", wf.ID, "artifact_id", key, "bytes", len(img))
}

func (e *Engine) onUploaded(wf *Workflow, slot *inflight, res upload.Result) {
	if wf.State.Terminal() {
		return
	}
	wf.PublicURL = res.PublicURL

	e.transition(wf, StateProcessing)
	req := backend.ProcessRequest{
		URL:              res.PublicURL,
		StylesheetKey:    wf.Artifact.ID,
		StylesheetDomain: wf.Artifact.Domain,
		ContentType:      ScreenshotContentType,
	}
	e.async(func(ctx context.Context) {
		resp := e.backend.ProcessPhoto(ctx, req)
		e.post(func() { e.onProcessed(wf, slot, resp) })
	})
}

// onProcessed is the only cleanup point of a successful upload, whatever
// the backend answered.
func (e *Engine) onProcessed(wf *Workflow, slot *inflight, resp backend.Response) {
	e.release(wf.Artifact.ID, slot, true)
	if !resp.Success {
		slog.Warn("screenshot processing not acknowledged", "workflow_id", wf.ID, "artifact_id", wf.Artifact.ID)
	}
	e.finish(wf, OutcomeProcessed)
}

func (e *Engine) onUploadFailed(wf *Workflow, slot *inflight, err error) {
	if wf.State.Terminal() {
		return
	}
	slog.Error("screenshot upload failed", "workflow_id", wf.ID, "artifact_id", wf.Artifact.ID, "error", err)
	wf.Err = err.Error()
	e.release(wf.Artifact.ID, slot, false)
	e.finish(wf, OutcomeUploadFailed)
}

// release drops the registry entry for key if it still belongs to slot.
func (e *Engine) release(key string, slot *inflight, ok bool) {
	if cur, found := e.uploads.Get(key); found && cur == slot {
		if slot.handle != nil {
			slog.Debug("upload released", "artifact_id", key, "file", slot.handle.File().Name, "ok", ok)
		}
		if ok {
			e.uploads.Complete(key)
		} else {
			e.uploads.Fail(key)
		}
	}
	e.metrics.SetUploadsInFlight(e.uploads.Len())
}

func (e *Engine) transition(wf *Workflow, to State) {
	slog.Debug("workflow transition", "workflow_id", wf.ID, "from", string(wf.State), "to", string(to))
	wf.State = to
	wf.UpdatedAt = e.now()
}

func (e *Engine) finish(wf *Workflow, outcome Outcome) {
	wf.Outcome = outcome
	e.transition(wf, StateDone)
	e.terminate(wf)
}

// fail ends wf and tells the user.
func (e *Engine) fail(wf *Workflow, outcome Outcome, err error) {
	if err != nil {
		wf.Err = err.Error()
	}
	wf.Outcome = outcome
	e.transition(wf, StateFailed)
	e.async(func(ctx context.Context) {
		e.notifier.Alert(ctx, notify.MsgTryAgain)
	})
	e.terminate(wf)
}

func (e *Engine) terminate(wf *Workflow) {
	delete(e.workflows, wf.ID)
	e.metrics.WorkflowFinished(string(wf.State), string(wf.Outcome))
	slog.Info("workflow finished",
		"workflow_id", wf.ID,
		"tab_id", wf.TabID,
		"state", string(wf.State),
		"outcome", string(wf.Outcome),
		"artifact_id", wf.Artifact.ID,
		"error", wf.Err,
		"duration_ms", wf.UpdatedAt.Sub(wf.StartedAt).Milliseconds(),
	)
	if e.onTerminal != nil {
		e.onTerminal(*wf)
	}
}
