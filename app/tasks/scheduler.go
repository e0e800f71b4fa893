package tasks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/state"
)

var _ FetchScheduler = (*Scheduler)(nil)

var ErrBudgetExceeded = errors.New("fetch budget exceeded")

// FetchScheduler fetches a set of feeds under one wall-clock budget.
type FetchScheduler interface {
	Run(ctx context.Context, urls []string, cached state.Metadata) Batch
}

// Batch holds the fetches that completed within the budget, ordered like the
// input URLs, and the URLs that were abandoned. Cause says why fetches were
// abandoned and is nil when every feed reported back.
type Batch struct {
	Results []FetchResult
	Skipped []string
	Cause   error
}

type Options struct {
	UserAgent   string
	Timeout     time.Duration
	WorkerCount int
	Budget      time.Duration
}

type Scheduler struct {
	httpClient  *http.Client
	parser      *feed.Parser
	userAgent   string
	timeout     time.Duration
	workerCount int
	budget      time.Duration
}

func NewScheduler(httpClient *http.Client, parser *feed.Parser, opts Options) *Scheduler {
	return &Scheduler{
		httpClient:  httpClient,
		parser:      parser,
		userAgent:   opts.UserAgent,
		timeout:     opts.Timeout,
		workerCount: max(opts.WorkerCount, 1),
		budget:      opts.Budget,
	}
}

// Run dispatches one FetchFeedTask per URL to at most workerCount workers and
// waits for them until the budget runs out. Unfinished tasks are cancelled
// and anything they report afterwards is dropped.
func (s *Scheduler) Run(ctx context.Context, urls []string, cached state.Metadata) Batch {
	var batch Batch
	if len(urls) == 0 {
		return batch
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskQueue := make(chan TaskInterface, len(urls))
	for i, url := range urls {
		taskQueue <- NewFetchFeedTask(i, url, cached[url], s.httpClient, s.parser, s.userAgent, s.timeout)
	}
	close(taskQueue)

	results := make(chan FetchResult, len(urls))
	var wg sync.WaitGroup
	for i := 0; i < min(s.workerCount, len(urls)); i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, i, taskQueue, results)
	}

	budget := time.NewTimer(s.budget)
	defer budget.Stop()

	done := make([]bool, len(urls))
	pending := len(urls)

collect:
	for pending > 0 {
		select {
		case result := <-results:
			done[result.Index] = true
			batch.Results = append(batch.Results, result)
			pending--
		case <-budget.C:
			batch.Cause = ErrBudgetExceeded
			break collect
		case <-ctx.Done():
			batch.Cause = context.Cause(ctx)
			break collect
		}
	}

	if pending == 0 {
		wg.Wait()
	} else {
		cancel()
		for i, url := range urls {
			if done[i] {
				continue
			}
			batch.Skipped = append(batch.Skipped, url)
			if errors.Is(batch.Cause, ErrBudgetExceeded) {
				slog.WarnContext(ctx, "Fetch abandoned, budget exceeded", "url", url, "budget", s.budget)
			} else {
				slog.WarnContext(ctx, "Fetch abandoned, run cancelled", "url", url, "cause", batch.Cause)
			}
		}
	}

	sort.Slice(batch.Results, func(i, j int) bool {
		return batch.Results[i].Index < batch.Results[j].Index
	})
	return batch
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, id int, taskQueue <-chan TaskInterface, results chan<- FetchResult) {
	defer wg.Done()

	for task := range taskQueue {
		if ctx.Err() != nil {
			return
		}
		s.executeTask(ctx, id, task)
		results <- task.GetResult()
	}
}

func (s *Scheduler) executeTask(ctx context.Context, workerID int, task TaskInterface) {
	task.Start()
	slog.DebugContext(ctx, "Executing task", "worker_id", workerID, "task_id", task.GetID(), "task_type", string(task.GetType()), "url", task.GetFeedURL())

	if err := task.Execute(ctx); err != nil {
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "Fetch cancelled", "worker_id", workerID, "task_id", task.GetID(), "url", task.GetFeedURL(), "error", err)
			return
		}
		slog.WarnContext(ctx, "Feed fetch failed", "worker_id", workerID, "task_id", task.GetID(), "url", task.GetFeedURL(), "outcome", string(task.GetResult().Outcome), "duration", task.GetDuration(), "error", err)
	}
}
