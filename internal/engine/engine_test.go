package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/styleurl/internal/backend"
	"github.com/dgnsrekt/styleurl/internal/host"
	"github.com/dgnsrekt/styleurl/internal/message"
	"github.com/dgnsrekt/styleurl/internal/notify"
	"github.com/dgnsrekt/styleurl/internal/upload"
)

const waitFor = 2 * time.Second

type fakeHost struct {
	mu      sync.Mutex
	tabs    map[int]host.Tab
	image   []byte
	capErr  error
	opened  chan string
	capture int
}

func newFakeHost() *fakeHost {
	return &fakeHost{tabs: map[int]host.Tab{}, opened: make(chan string, 4)}
}

func (h *fakeHost) Tab(_ context.Context, id int) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tab, ok := h.tabs[id]
	if !ok {
		return host.Tab{}, host.ErrTabNotFound
	}
	return tab, nil
}

func (h *fakeHost) Tabs(context.Context) ([]host.Tab, error) { return nil, nil }

func (h *fakeHost) CaptureVisible(context.Context, int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capture++
	return h.image, h.capErr
}

func (h *fakeHost) captures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capture
}

func (h *fakeHost) OpenView(_ context.Context, url string) error {
	h.opened <- url
	return nil
}

type fakeBackend struct {
	mu        sync.Mutex
	group     message.StylesheetGroupResult
	submitted []string
	processed []backend.ProcessRequest
	// onProcess runs inside ProcessPhoto before it returns.
	onProcess func()
	content   string
	fetchErr  error
	fetches   atomic.Int32
}

func (b *fakeBackend) SubmitStylesheets(_ context.Context, pageURL string, _ []message.Stylesheet) message.StylesheetGroupResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, pageURL)
	return b.group
}

func (b *fakeBackend) ProcessPhoto(_ context.Context, req backend.ProcessRequest) backend.Response {
	if b.onProcess != nil {
		b.onProcess()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processed = append(b.processed, req)
	return backend.Response{Success: true}
}

func (b *fakeBackend) FetchText(context.Context, string) (string, error) {
	b.fetches.Add(1)
	return b.content, b.fetchErr
}

type fakeNotifier struct {
	alerts chan string
}

func (n *fakeNotifier) Alert(_ context.Context, msg string) { n.alerts <- msg }

type storage struct {
	signs     atomic.Int32
	puts      atomic.Int32
	putStatus int
	putBody   []byte
	mu        sync.Mutex
}

func newStorage(t *testing.T) (*storage, *httptest.Server) {
	t.Helper()
	st := &storage{putStatus: http.StatusOK}
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/photos/presign", func(w http.ResponseWriter, r *http.Request) {
		st.signs.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"signedUrl": srv.URL + "/bucket/photo.png?sig=1",
			"publicUrl": "https://cdn.example.com/photo.png",
		})
	})
	mux.HandleFunc("/bucket/photo.png", func(w http.ResponseWriter, r *http.Request) {
		st.puts.Add(1)
		body, _ := io.ReadAll(r.Body)
		st.mu.Lock()
		st.putBody = body
		st.mu.Unlock()
		w.WriteHeader(st.putStatus)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return st, srv
}

type harness struct {
	eng      *Engine
	host     *fakeHost
	backend  *fakeBackend
	notifier *fakeNotifier
	storage  *storage
	terminal chan Workflow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, srv := newStorage(t)
	h := &harness{
		host: newFakeHost(),
		backend: &fakeBackend{group: message.StylesheetGroupResult{
			Success: true,
			Data:    &message.StylesheetGroup{ID: "abc", URL: "https://x/abc", Domain: "x"},
		}},
		notifier: &fakeNotifier{alerts: make(chan string, 4)},
		storage:  st,
		terminal: make(chan Workflow, 4),
	}
	h.host.tabs[7] = host.Tab{ID: 7, URL: "https://site.test/page"}
	h.eng = New(Options{
		Backend:    h.backend,
		Uploader:   upload.New(upload.Config{Server: srv.URL, HTTPClient: srv.Client()}),
		Host:       h.host,
		Notifier:   h.notifier,
		OnTerminal: func(wf Workflow) { h.terminal <- wf },
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) submit(t *testing.T, tabID int) {
	t.Helper()
	req := message.Request{
		Type:  message.TypeGetStylesDiff,
		TabID: tabID,
		Value: &message.Value{Stylesheets: []message.Stylesheet{json.RawMessage(`{"href":"a.css"}`)}},
	}
	if pending := h.eng.Handle(context.Background(), req, func(message.Result) {
		t.Error("stylesheet submission must not be answered")
	}); pending {
		t.Fatalf("Handle(get_styles_diff) pending = true; want false")
	}
}

func (h *harness) wait(t *testing.T) Workflow {
	t.Helper()
	select {
	case wf := <-h.terminal:
		return wf
	case <-time.After(waitFor):
		t.Fatal("workflow did not reach a terminal state")
		return Workflow{}
	}
}

func TestWorkflowHappyPath(t *testing.T) {
	h := newHarness(t)
	h.host.image = []byte("png-bytes")
	var inFlight atomic.Bool
	h.backend.onProcess = func() { inFlight.Store(h.eng.UploadInFlight("abc")) }

	h.submit(t, 7)
	wf := h.wait(t)

	if wf.State != StateDone || wf.Outcome != OutcomeProcessed {
		t.Fatalf("terminal = %s/%s; want done/processed", wf.State, wf.Outcome)
	}
	if wf.PageURL != "https://site.test/page" {
		t.Fatalf("PageURL = %q; want %q", wf.PageURL, "https://site.test/page")
	}
	if wf.PublicURL != "https://cdn.example.com/photo.png" {
		t.Fatalf("PublicURL = %q", wf.PublicURL)
	}
	if !inFlight.Load() {
		t.Fatal("upload was not registered while processing")
	}
	if h.eng.UploadInFlight("abc") {
		t.Fatal("upload still registered after processing")
	}

	h.backend.mu.Lock()
	processed := h.backend.processed
	submitted := h.backend.submitted
	h.backend.mu.Unlock()
	if len(submitted) != 1 || submitted[0] != "https://site.test/page" {
		t.Fatalf("submitted = %v", submitted)
	}
	want := backend.ProcessRequest{
		URL:              "https://cdn.example.com/photo.png",
		StylesheetKey:    "abc",
		StylesheetDomain: "x",
		ContentType:      "image/png",
	}
	if len(processed) != 1 || processed[0] != want {
		t.Fatalf("processed = %+v; want [%+v]", processed, want)
	}

	h.storage.mu.Lock()
	body := string(h.storage.putBody)
	h.storage.mu.Unlock()
	if body != "png-bytes" {
		t.Fatalf("uploaded body = %q; want %q", body, "png-bytes")
	}

	select {
	case url := <-h.host.opened:
		if url != "https://x/abc" {
			t.Fatalf("opened = %q; want %q", url, "https://x/abc")
		}
	case <-time.After(waitFor):
		t.Fatal("artifact view was not opened")
	}
	select {
	case msg := <-h.notifier.alerts:
		t.Fatalf("unexpected alert %q", msg)
	default:
	}
}

func TestWorkflowSubmissionFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.group = message.StylesheetGroupResult{Success: false}

	h.submit(t, 7)
	wf := h.wait(t)

	if wf.State != StateFailed || wf.Outcome != OutcomeSubmissionFailed {
		t.Fatalf("terminal = %s/%s; want failed/submission_failed", wf.State, wf.Outcome)
	}
	select {
	case msg := <-h.notifier.alerts:
		if msg != notify.MsgTryAgain {
			t.Fatalf("alert = %q; want %q", msg, notify.MsgTryAgain)
		}
	case <-time.After(waitFor):
		t.Fatal("no alert after submission failure")
	}
	if n := h.host.captures(); n != 0 {
		t.Fatalf("capture attempts = %d; want 0", n)
	}
	select {
	case url := <-h.host.opened:
		t.Fatalf("unexpected view %q", url)
	default:
	}
	if h.eng.UploadsInFlight() != 0 {
		t.Fatalf("uploads in flight = %d; want 0", h.eng.UploadsInFlight())
	}
}

func TestWorkflowOriginUnresolved(t *testing.T) {
	h := newHarness(t)

	h.submit(t, 99)
	wf := h.wait(t)

	if wf.State != StateFailed || wf.Outcome != OutcomeOriginUnresolved {
		t.Fatalf("terminal = %s/%s; want failed/origin_unresolved", wf.State, wf.Outcome)
	}
	if wf.Err == "" {
		t.Fatal("Err is empty; want tab lookup error")
	}
	select {
	case msg := <-h.notifier.alerts:
		if msg != notify.MsgTryAgain {
			t.Fatalf("alert = %q; want %q", msg, notify.MsgTryAgain)
		}
	case <-time.After(waitFor):
		t.Fatal("no alert after origin failure")
	}
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if len(h.backend.submitted) != 0 {
		t.Fatalf("submitted = %v; want none", h.backend.submitted)
	}
}

func TestWorkflowCaptureSkipped(t *testing.T) {
	h := newHarness(t)
	h.host.capErr = errors.New("capture denied")

	h.submit(t, 7)
	wf := h.wait(t)

	if wf.State != StateDone || wf.Outcome != OutcomeCaptureSkipped {
		t.Fatalf("terminal = %s/%s; want done/capture_skipped", wf.State, wf.Outcome)
	}
	select {
	case url := <-h.host.opened:
		if url != "https://x/abc" {
			t.Fatalf("opened = %q; want %q", url, "https://x/abc")
		}
	case <-time.After(waitFor):
		t.Fatal("artifact view was not opened after capture failure")
	}
	if n := h.storage.signs.Load(); n != 0 {
		t.Fatalf("sign requests = %d; want 0", n)
	}
	if h.eng.UploadInFlight("abc") {
		t.Fatal("skipped capture left an upload registered")
	}
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if len(h.backend.processed) != 0 {
		t.Fatalf("processed = %v; want none", h.backend.processed)
	}
}

func TestWorkflowEmptyCaptureSkipsUpload(t *testing.T) {
	h := newHarness(t)
	// No image and no error: the host captured nothing.
	h.host.image = nil

	h.submit(t, 7)
	wf := h.wait(t)

	if wf.State != StateDone || wf.Outcome != OutcomeCaptureSkipped {
		t.Fatalf("terminal = %s/%s; want done/capture_skipped", wf.State, wf.Outcome)
	}
	if wf.Err != "" {
		t.Fatalf("Err = %q; want empty", wf.Err)
	}
	select {
	case <-h.host.opened:
	case <-time.After(waitFor):
		t.Fatal("artifact view was not opened")
	}
	if n := h.storage.signs.Load(); n != 0 {
		t.Fatalf("sign requests = %d; want 0", n)
	}
	if h.eng.UploadInFlight("abc") {
		t.Fatal("empty capture left an upload registered")
	}
}

func TestWorkflowTabWithoutURLFails(t *testing.T) {
	h := newHarness(t)
	h.host.tabs[8] = host.Tab{ID: 8, TargetID: "T8"}

	h.submit(t, 8)
	wf := h.wait(t)

	if wf.State != StateFailed || wf.Outcome != OutcomeOriginUnresolved {
		t.Fatalf("terminal = %s/%s; want failed/origin_unresolved", wf.State, wf.Outcome)
	}
	select {
	case msg := <-h.notifier.alerts:
		if msg != notify.MsgTryAgain {
			t.Fatalf("alert = %q; want %q", msg, notify.MsgTryAgain)
		}
	case <-time.After(waitFor):
		t.Fatal("no alert for a tab without url")
	}
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if len(h.backend.submitted) != 0 {
		t.Fatalf("submitted = %v; want none", h.backend.submitted)
	}
}

func TestWorkflowUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.host.image = []byte("png-bytes")
	h.storage.putStatus = http.StatusForbidden

	h.submit(t, 7)
	wf := h.wait(t)

	if wf.State != StateDone || wf.Outcome != OutcomeUploadFailed {
		t.Fatalf("terminal = %s/%s; want done/upload_failed", wf.State, wf.Outcome)
	}
	if h.eng.UploadInFlight("abc") {
		t.Fatal("failed upload still registered")
	}
	h.backend.mu.Lock()
	processed := len(h.backend.processed)
	h.backend.mu.Unlock()
	if processed != 0 {
		t.Fatalf("processed = %d; want 0", processed)
	}
	select {
	case msg := <-h.notifier.alerts:
		t.Fatalf("unexpected alert %q", msg)
	default:
	}
}

func TestWorkflowRegistryRejectsDuplicateArtifact(t *testing.T) {
	h := newHarness(t)
	h.host.image = []byte("png-bytes")
	release := make(chan struct{})
	var calls atomic.Int32
	h.backend.onProcess = func() {
		if calls.Add(1) == 1 {
			<-release
		}
	}

	h.submit(t, 7)
	deadline := time.Now().Add(waitFor)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first workflow never reached processing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.submit(t, 7)
	second := h.wait(t)
	if second.Outcome != OutcomeRegistryRejected {
		t.Fatalf("second outcome = %s; want registry_rejected", second.Outcome)
	}
	if n := h.storage.signs.Load(); n != 1 {
		t.Fatalf("sign requests = %d; want 1: a rejected workflow must not start an upload", n)
	}
	if !h.eng.UploadInFlight("abc") {
		t.Fatal("rejection removed the first workflow's upload")
	}

	close(release)
	first := h.wait(t)
	if first.Outcome != OutcomeProcessed {
		t.Fatalf("first outcome = %s; want processed", first.Outcome)
	}
	if h.eng.UploadInFlight("abc") {
		t.Fatal("upload still registered after processing")
	}
}

func TestWorkflowsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.host.image = []byte("png-bytes")
	release := make(chan struct{})
	h.backend.onProcess = func() { <-release }

	h.submit(t, 7)
	deadline := time.Now().Add(waitFor)
	for {
		list, err := h.eng.Workflows(context.Background())
		if err != nil {
			t.Fatalf("Workflows() error: %v", err)
		}
		if len(list) == 1 && list[0].State == StateProcessing {
			if list[0].Artifact.ID != "abc" || list[0].TabID != 7 {
				t.Fatalf("snapshot = %+v", list[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never showed processing: %+v", list)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	h.wait(t)

	list, err := h.eng.Workflows(context.Background())
	if err != nil {
		t.Fatalf("Workflows() error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("len(Workflows()) = %d; want 0", len(list))
	}
}

func TestHandleContentFetch(t *testing.T) {
	h := newHarness(t)
	h.backend.content = "body{color:red}"

	got := make(chan message.Result, 1)
	pending := h.eng.Handle(context.Background(), message.Request{
		Type: message.TypeGetGistContent,
		URL:  "https://gist.test/raw",
	}, func(r message.Result) { got <- r })
	if !pending {
		t.Fatal("Handle(get_gist_content) pending = false; want true")
	}

	select {
	case r := <-got:
		want := message.Result{
			Success:  true,
			Type:     message.TypeGetGistContent,
			URL:      "https://gist.test/raw",
			Response: true,
			Content:  "body{color:red}",
		}
		if r != want {
			t.Fatalf("result = %+v; want %+v", r, want)
		}
	case <-time.After(waitFor):
		t.Fatal("content fetch never answered")
	}
}

func TestHandleContentFetchRepeats(t *testing.T) {
	h := newHarness(t)
	h.backend.content = "body{color:red}"

	req := message.Request{Type: message.TypeGetGistContent, URL: "https://gist.test/raw"}
	for i := 0; i < 2; i++ {
		got := make(chan message.Result, 1)
		if !h.eng.Handle(context.Background(), req, func(r message.Result) { got <- r }) {
			t.Fatalf("fetch %d: pending = false; want true", i)
		}
		select {
		case r := <-got:
			if !r.Success || r.Content != "body{color:red}" || r.URL != req.URL {
				t.Fatalf("fetch %d: result = %+v", i, r)
			}
		case <-time.After(waitFor):
			t.Fatalf("fetch %d never answered", i)
		}
	}
	if n := h.backend.fetches.Load(); n != 2 {
		t.Fatalf("fetches = %d; want 2", n)
	}
	list, err := h.eng.Workflows(context.Background())
	if err != nil {
		t.Fatalf("Workflows() error: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("content fetches created workflows: %+v", list)
	}
}

func TestHandleContentFetchFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.fetchErr = errors.New("dial tcp: refused")

	got := make(chan message.Result, 1)
	h.eng.Handle(context.Background(), message.Request{
		Type: message.TypeGetGistContent,
		URL:  "https://gist.test/raw",
	}, func(r message.Result) { got <- r })

	select {
	case r := <-got:
		if r.Success {
			t.Fatalf("result = %+v; want failure", r)
		}
	case <-time.After(waitFor):
		t.Fatal("content fetch never answered")
	}
}

func TestHandleContentFetchMissingURL(t *testing.T) {
	h := newHarness(t)

	var got []message.Result
	pending := h.eng.Handle(context.Background(), message.Request{Type: message.TypeGetGistContent},
		func(r message.Result) { got = append(got, r) })

	if !pending {
		t.Fatal("pending = false; want true")
	}
	if len(got) != 1 || got[0].Success {
		t.Fatalf("responses = %+v; want one failure", got)
	}
	if n := h.backend.fetches.Load(); n != 0 {
		t.Fatalf("fetches = %d; want 0", n)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed} {
		if !s.Terminal() {
			t.Fatalf("%s.Terminal() = false; want true", s)
		}
	}
	for _, s := range []State{StateIdle, StateAwaitingOriginInfo, StateUploadingStylesheets, StateCapturingScreenshot, StateUploadingScreenshot, StateProcessing} {
		if s.Terminal() {
			t.Fatalf("%s.Terminal() = true; want false", s)
		}
	}
}
