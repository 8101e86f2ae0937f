package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/content/memstore"
	"github.com/JonMunkholm/pagegen/internal/csvtable"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/history"
	"github.com/JonMunkholm/pagegen/internal/jobcache"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/JonMunkholm/pagegen/internal/render"
)

const templateID content.PageID = 1

func newTestStore() *memstore.Store {
	return memstore.New(content.Page{
		ID:    templateID,
		Title: "Visit {{city}}",
		Body:  "Welcome to {{city}}, {{state}}. Call {{phone}}.",
	})
}

func newTestService(t *testing.T, store content.Store, cfg config.GenerateConfig) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Store:  store,
		Config: cfg,
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func cityRows(n int) []csvtable.Row {
	rows := make([]csvtable.Row, n)
	for i := range rows {
		rows[i] = csvtable.Row{"City": fmt.Sprintf("City %d", i+1), "State": "NV"}
	}
	return rows
}

var cityMapping = render.Mapping{"city": "City", "state": "State"}

// blockingStore holds every CreatePage until gate is closed or the call's
// context is done.
type blockingStore struct {
	*memstore.Store
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		Store:   newTestStore(),
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
}

func (b *blockingStore) CreatePage(ctx context.Context, np content.NewPage) (content.Page, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.gate:
	case <-ctx.Done():
		return content.Page{}, ctx.Err()
	}
	return b.Store.CreatePage(ctx, np)
}

func waitEntered(t *testing.T, b *blockingStore) {
	t.Helper()
	select {
	case <-b.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the store")
	}
}

func waitJobs(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.WaitForJobs(ctx); err != nil {
		t.Fatalf("WaitForJobs() error = %v", err)
	}
}

func TestNewService_RequiresStore(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("NewService() without a store should fail")
	}
}

func TestNewService_Defaults(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})
	cfg := svc.Config()
	if cfg.BatchSize != generate.DefaultChunkSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, generate.DefaultChunkSize)
	}
	if cfg.CacheTTL <= cfg.ResultTTL {
		t.Errorf("CacheTTL = %s, want longer than ResultTTL %s", cfg.CacheTTL, cfg.ResultTTL)
	}
	if svc.LimiterStatus().MaxConcurrent != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrent = %d, want %d", svc.LimiterStatus().MaxConcurrent, DefaultMaxConcurrentJobs)
	}
}

func TestService_ListTemplates(t *testing.T) {
	store := memstore.New(
		content.Page{Title: "Zebra"},
		content.Page{Title: "apple"},
	)
	svc := newTestService(t, store, config.GenerateConfig{})

	pages, err := svc.ListTemplates(context.Background())
	if err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if len(pages) != 2 || pages[0].Title != "apple" {
		t.Errorf("ListTemplates() = %+v, want apple first", pages)
	}
}

func TestService_ScanTemplate(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	res, err := svc.ScanTemplate(context.Background(), templateID)
	if err != nil {
		t.Fatalf("ScanTemplate() error = %v", err)
	}

	want := []string{"city", "phone", "state"}
	if strings.Join(res.Placeholders, ",") != strings.Join(want, ",") {
		t.Errorf("Placeholders = %v, want %v", res.Placeholders, want)
	}
	if res.Debug.PlaceholderCount != 3 {
		t.Errorf("PlaceholderCount = %d, want 3", res.Debug.PlaceholderCount)
	}
	if res.Debug.Title != "Visit {{city}}" {
		t.Errorf("Debug.Title = %q", res.Debug.Title)
	}
	if res.Debug.RawBodyLength == 0 || res.Debug.RenderedBodyLength == 0 {
		t.Errorf("Debug lengths = %d/%d, want non-zero", res.Debug.RawBodyLength, res.Debug.RenderedBodyLength)
	}
	if len(res.Debug.RenderedOnly) != 0 {
		t.Errorf("RenderedOnly = %v, want empty", res.Debug.RenderedOnly)
	}
}

func TestService_ScanTemplate_NotFound(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	for _, id := range []content.PageID{0, -1, 99} {
		if _, err := svc.ScanTemplate(context.Background(), id); !errors.Is(err, generate.ErrTemplateNotFound) {
			t.Errorf("ScanTemplate(%d) error = %v, want ErrTemplateNotFound", id, err)
		}
	}
}

func TestService_Preview(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	res, err := svc.Preview(context.Background(), PreviewRequest{
		TemplateID: templateID,
		Mapping:    render.Mapping{"city": "City", "state": "State", "phone": "Phone"},
		Row:        csvtable.Row{"City": "Reno", "State": "NV", generate.ColumnMetaTitle: "Reno Guide"},
		Meta:       generate.MetaSettings{ImportTitle: true, ImportDescription: true},
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}

	if res.Title != "Visit Reno" {
		t.Errorf("Title = %q, want %q", res.Title, "Visit Reno")
	}
	if res.Body != "Welcome to Reno, NV. Call {{phone}}." {
		t.Errorf("Body = %q", res.Body)
	}
	if res.Slug != "visit-reno" {
		t.Errorf("Slug = %q, want visit-reno", res.Slug)
	}
	if res.Meta[content.MetaKeySEOTitle] != "Reno Guide" {
		t.Errorf("Meta = %v", res.Meta)
	}
	if _, ok := res.Meta[content.MetaKeySEODescription]; ok {
		t.Error("empty description should be skipped")
	}
	if len(res.Unmapped) != 0 {
		t.Errorf("Unmapped = %v, want none", res.Unmapped)
	}
	if strings.Join(res.MissingColumns, ",") != "Phone" {
		t.Errorf("MissingColumns = %v, want [Phone]", res.MissingColumns)
	}
}

func TestService_PreviewUnmapped(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	res, err := svc.Preview(context.Background(), PreviewRequest{
		TemplateID: templateID,
		Mapping:    render.Mapping{"city": "City"},
		Row:        csvtable.Row{"City": "Boise"},
		Slug:       generate.SlugSettings{Column: "City"},
	})
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if strings.Join(res.Unmapped, ",") != "phone,state" {
		t.Errorf("Unmapped = %v, want [phone state]", res.Unmapped)
	}
	if res.Slug != "boise" {
		t.Errorf("Slug = %q, want boise", res.Slug)
	}
}

func TestService_Generate(t *testing.T) {
	store := newTestStore()
	svc := newTestService(t, store, config.GenerateConfig{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, GenerateRequest{
		TemplateID: templateID,
		Mapping:    cityMapping,
		Rows:       cityRows(3),
		Source:     "cities.csv",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.SuccessCount != 3 || res.FailureCount != 0 {
		t.Errorf("Generate() = %d/%d, want 3/0", res.SuccessCount, res.FailureCount)
	}
	if store.Len() != 4 {
		t.Errorf("store has %d pages, want 4", store.Len())
	}

	runs, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Source != "cities.csv" || runs[0].Status != history.StatusComplete {
		t.Errorf("History() = %+v", runs)
	}
}

func TestService_GenerateRejects(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{MaxRowsPerRequest: 2})

	tests := []struct {
		name string
		req  GenerateRequest
		want error
	}{
		{
			name: "no rows checked before template",
			req:  GenerateRequest{TemplateID: 99, Mapping: cityMapping},
			want: generate.ErrEmptyInput,
		},
		{
			name: "no mapping",
			req:  GenerateRequest{TemplateID: templateID, Rows: cityRows(1)},
			want: generate.ErrEmptyInput,
		},
		{
			name: "too many rows",
			req:  GenerateRequest{TemplateID: templateID, Mapping: cityMapping, Rows: cityRows(3)},
			want: ErrInvalidRequest,
		},
		{
			name: "negative parent",
			req: GenerateRequest{
				TemplateID: templateID, Mapping: cityMapping, Rows: cityRows(1),
				Slug: generate.SlugSettings{ParentID: -4},
			},
			want: ErrInvalidRequest,
		},
		{
			name: "missing template",
			req:  GenerateRequest{TemplateID: 99, Mapping: cityMapping, Rows: cityRows(1)},
			want: generate.ErrTemplateNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Generate(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_StartGeneration(t *testing.T) {
	store := newTestStore()
	cache := jobcache.NewMemory()
	svc, err := NewService(Options{
		Store:  store,
		Cache:  cache,
		Config: config.GenerateConfig{BatchSize: 10},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	ctx := context.Background()

	jobID, err := svc.StartGeneration(ctx, GenerateRequest{
		TemplateID: templateID,
		Mapping:    cityMapping,
		Rows:       cityRows(25),
		Source:     "big.csv",
	})
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}

	ch, err := svc.SubscribeProgress(jobID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	var last JobProgress
	for p := range ch {
		if p.JobID != jobID {
			t.Errorf("progress JobID = %q, want %q", p.JobID, jobID)
		}
		last = p
	}
	if last.Phase != PhaseComplete || last.Processed != 25 || last.Percent() != 100 {
		t.Errorf("final progress = %+v", last)
	}

	res, err := svc.JobResult(ctx, jobID)
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if res.Result.SuccessCount != 25 || res.Total != 25 || res.Source != "big.csv" {
		t.Errorf("JobResult() = %+v", res)
	}

	waitJobs(t, svc)

	data, err := cache.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("cache.Get() error = %v", err)
	}
	var cached JobResult
	if err := json.Unmarshal(data, &cached); err != nil {
		t.Fatalf("cached result is not JSON: %v", err)
	}
	if cached.Result.SuccessCount != 25 {
		t.Errorf("cached success = %d, want 25", cached.Result.SuccessCount)
	}

	runs, _ := svc.History(ctx, 0)
	if len(runs) != 1 || runs[0].ID != jobID {
		t.Errorf("History() = %+v, want one run %s", runs, jobID)
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("active jobs = %d, want 0", got)
	}
}

func TestService_StartGenerationValidates(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	if _, err := svc.StartGeneration(context.Background(), GenerateRequest{TemplateID: templateID, Mapping: cityMapping}); !errors.Is(err, generate.ErrEmptyInput) {
		t.Errorf("error = %v, want ErrEmptyInput", err)
	}
	if _, err := svc.StartGeneration(context.Background(), GenerateRequest{TemplateID: 42, Mapping: cityMapping, Rows: cityRows(1)}); !errors.Is(err, generate.ErrTemplateNotFound) {
		t.Errorf("error = %v, want ErrTemplateNotFound", err)
	}
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("rejected requests must not hold a slot, active = %d", got)
	}
}

func TestService_CancelJob(t *testing.T) {
	store := newBlockingStore()
	svc := newTestService(t, store, config.GenerateConfig{BatchSize: 10})
	ctx := context.Background()

	jobID, err := svc.StartGeneration(ctx, GenerateRequest{
		TemplateID: templateID,
		Mapping:    cityMapping,
		Rows:       cityRows(25),
	})
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	waitEntered(t, store)

	if err := svc.CancelJob(jobID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	res, err := svc.JobResult(ctx, jobID)
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("Phase = %q, want %q", res.Phase, PhaseCancelled)
	}
	// The blocked row is abandoned, not counted as a failure.
	if res.Result.Processed() != 0 || len(res.Result.Errors) != 0 {
		t.Errorf("result = %+v, want nothing processed", res.Result)
	}
	if !strings.Contains(res.Error, "JOB001") {
		t.Errorf("Error = %q, want JOB001", res.Error)
	}

	waitJobs(t, svc)
	runs, _ := svc.History(ctx, 1)
	if len(runs) != 1 || runs[0].Status != history.StatusCancelled {
		t.Errorf("History() = %+v, want cancelled run", runs)
	}
}

func TestService_CancelJobInLastChunk(t *testing.T) {
	store := newBlockingStore()
	svc := newTestService(t, store, config.GenerateConfig{BatchSize: 10})
	ctx := context.Background()

	jobID, err := svc.StartGeneration(ctx, GenerateRequest{
		TemplateID: templateID,
		Mapping:    cityMapping,
		Rows:       cityRows(5),
	})
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	waitEntered(t, store)
	if err := svc.CancelJob(jobID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}

	res, err := svc.JobResult(ctx, jobID)
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if res.Phase != PhaseCancelled {
		t.Errorf("Phase = %q, want %q", res.Phase, PhaseCancelled)
	}
	if res.Result.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0; errors = %q", res.Result.FailureCount, res.Result.Errors)
	}
}

// cancelOnCreate cancels a context when CreatePage is called for the nth
// time and passes that context's state on to the store.
type cancelOnCreate struct {
	*memstore.Store
	n      int
	calls  int
	cancel context.CancelFunc
}

func (c *cancelOnCreate) CreatePage(ctx context.Context, np content.NewPage) (content.Page, error) {
	c.calls++
	if c.calls == c.n {
		c.cancel()
	}
	return c.Store.CreatePage(ctx, np)
}

func TestService_GenerateContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelOnCreate{Store: newTestStore(), n: 3, cancel: cancel}
	svc := newTestService(t, store, config.GenerateConfig{})

	res, err := svc.Generate(ctx, GenerateRequest{TemplateID: templateID, Mapping: cityMapping, Rows: cityRows(6)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	if res.SuccessCount != 2 || res.FailureCount != 0 {
		t.Errorf("Generate() = %+v, want 2 successes", res)
	}
	if got := MapError(err).Code; got != "JOB001" {
		t.Errorf("code = %q, want JOB001", got)
	}

	runs, _ := svc.History(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != history.StatusCancelled || runs[0].Success != 2 {
		t.Errorf("History() = %+v, want one cancelled run", runs)
	}
}

func TestService_TooManyJobs(t *testing.T) {
	store := newBlockingStore()
	svc := newTestService(t, store, config.GenerateConfig{
		MaxConcurrent: 1,
		MaxWaitTime:   20 * time.Millisecond,
	})
	ctx := context.Background()
	req := GenerateRequest{TemplateID: templateID, Mapping: cityMapping, Rows: cityRows(1)}

	first, err := svc.StartGeneration(ctx, req)
	if err != nil {
		t.Fatalf("first StartGeneration() error = %v", err)
	}
	waitEntered(t, store)

	if _, err := svc.StartGeneration(ctx, req); !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("second StartGeneration() error = %v, want ErrTooManyJobs", err)
	}

	close(store.gate)
	res, err := svc.JobResult(ctx, first)
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if res.Phase != PhaseComplete || res.Result.SuccessCount != 1 {
		t.Errorf("JobResult() = %+v", res)
	}
}

func TestService_JobPanicRecovered(t *testing.T) {
	store := newTestStore()
	runner := generate.NewRunner(store, logging.Discard())
	runner.Slugify = func(string) string { panic("boom") }

	svc, err := NewService(Options{Store: store, Runner: runner, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	jobID, err := svc.StartGeneration(context.Background(), GenerateRequest{
		TemplateID: templateID,
		Mapping:    cityMapping,
		Rows:       cityRows(2),
	})
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}

	res, err := svc.JobResult(context.Background(), jobID)
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if res.Phase != PhaseFailed {
		t.Errorf("Phase = %q, want %q", res.Phase, PhaseFailed)
	}

	waitJobs(t, svc)
	if got := svc.LimiterStatus().Active; got != 0 {
		t.Errorf("panicking job kept its slot, active = %d", got)
	}
}

func TestService_JobNotFound(t *testing.T) {
	svc := newTestService(t, newTestStore(), config.GenerateConfig{})

	if _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("SubscribeProgress() error = %v", err)
	}
	if err := svc.CancelJob("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelJob() error = %v", err)
	}
	if _, err := svc.JobProgress("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("JobProgress() error = %v", err)
	}
	if _, err := svc.JobResult(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("JobResult() error = %v", err)
	}
}

func TestService_JobResultOutlivesRegistry(t *testing.T) {
	svc, err := NewService(Options{
		Store:  newTestStore(),
		Cache:  jobcache.NewMemory(),
		Config: config.GenerateConfig{ResultTTL: 20 * time.Millisecond},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	ctx := context.Background()

	jobID, err := svc.StartGeneration(ctx, GenerateRequest{TemplateID: templateID, Mapping: cityMapping, Rows: cityRows(3)})
	if err != nil {
		t.Fatalf("StartGeneration() error = %v", err)
	}
	if _, err := svc.JobResult(ctx, jobID); err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	waitJobs(t, svc)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := svc.JobProgress(jobID); errors.Is(err, ErrJobNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never left the registry")
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := svc.JobResult(ctx, jobID)
	if err != nil {
		t.Fatalf("JobResult() after cleanup error = %v", err)
	}
	if got.Phase != PhaseComplete || got.Result.SuccessCount != 3 {
		t.Errorf("JobResult() = %+v", got)
	}
}

func TestService_JobResultFromCache(t *testing.T) {
	cache := jobcache.NewMemory()
	svc, err := NewService(Options{Store: newTestStore(), Cache: cache, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	want := JobResult{JobID: "old-job", Phase: PhaseComplete, Total: 4, Result: generate.Result{SuccessCount: 4}}
	data, _ := json.Marshal(want)
	if err := cache.Set(context.Background(), "old-job", data, time.Minute); err != nil {
		t.Fatalf("cache.Set() error = %v", err)
	}

	got, err := svc.JobResult(context.Background(), "old-job")
	if err != nil {
		t.Fatalf("JobResult() error = %v", err)
	}
	if got.Result.SuccessCount != 4 || got.Phase != PhaseComplete {
		t.Errorf("JobResult() = %+v", got)
	}
}
