package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/docvec/ai"
	"github.com/poiesic/docvec/cache"
	"github.com/poiesic/docvec/core"
	"github.com/poiesic/docvec/retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultSubBatchSize        = 16
	DefaultSubBatchConcurrency = 4
	DefaultCallTimeout         = 60 * time.Second
	DefaultRetryDelay          = 250 * time.Millisecond
)

// Result is the outcome of EmbedBatch.
// Vectors is aligned with the input texts; entries listed in Failures are nil.
type Result struct {
	Vectors   [][]float32
	CacheHits int
	Failures  []int
}

// AllFailed reports whether no text could be embedded.
func (r *Result) AllFailed() bool {
	return len(r.Vectors) > 0 && len(r.Failures) == len(r.Vectors)
}

// ProgressFunc is called after each sub-batch finishes, successfully or not.
// Calls are serialized and done increases by one on every call.
type ProgressFunc func(done, total int)

// Client generates embeddings with caching, bounded parallelism, rate limiting
// and an ordered chain of fallback backends.
type Client struct {
	primary       ai.Embedder
	fallbacks     []ai.Embedder
	cache         cache.Store
	limiter       *rate.Limiter
	ratePerMinute int
	subBatchSize  int
	concurrency   int
	callTimeout   time.Duration
	retryDelay    time.Duration
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithFallbacks appends backends tried in order after the primary gives up.
func WithFallbacks(embedders ...ai.Embedder) Option {
	return func(c *Client) error {
		for _, e := range embedders {
			if e == nil {
				return fmt.Errorf("%w: nil fallback", ErrEmbedderRequired)
			}
		}
		c.fallbacks = append(c.fallbacks, embedders...)
		return nil
	}
}

// WithCache sets the embedding cache. Without one every text is sent to the backend.
func WithCache(store cache.Store) Option {
	return func(c *Client) error {
		c.cache = store
		return nil
	}
}

// WithRateLimit caps backend requests per minute. Zero or less disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) error {
		c.ratePerMinute = perMinute
		return nil
	}
}

// WithSubBatchSize sets the number of texts per backend request.
func WithSubBatchSize(size int) Option {
	return func(c *Client) error {
		if size < 1 {
			return fmt.Errorf("sub-batch size must be positive, got %d", size)
		}
		c.subBatchSize = size
		return nil
	}
}

// WithConcurrency sets how many sub-batches may be in flight at once.
func WithConcurrency(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("sub-batch concurrency must be positive, got %d", n)
		}
		c.concurrency = n
		return nil
	}
}

// WithCallTimeout bounds each backend request.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.callTimeout = d
		return nil
	}
}

// WithRetryDelay sets the pause before the primary backend is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) error {
		c.retryDelay = d
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "embedding-client")
		return nil
	}
}

// NewClient creates an embedding client for primary.
// The limiter burst equals the sub-batch concurrency.
func NewClient(primary ai.Embedder, opts ...Option) (*Client, error) {
	if primary == nil {
		return nil, ErrEmbedderRequired
	}
	c := &Client{
		primary:      primary,
		subBatchSize: DefaultSubBatchSize,
		concurrency:  DefaultSubBatchConcurrency,
		callTimeout:  DefaultCallTimeout,
		retryDelay:   DefaultRetryDelay,
		logger:       slog.Default().With("component", "embedding-client"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.ratePerMinute > 0 {
		burst := max(1, min(c.ratePerMinute, c.concurrency))
		c.limiter = rate.NewLimiter(rate.Limit(float64(c.ratePerMinute)/60.0), burst)
	}
	return c, nil
}

// missGroup is one distinct uncached text and every input index that carries it.
type missGroup struct {
	key     string
	text    string
	indexes []int
}

// EmbedBatch embeds texts with model.
// Backend failures never produce an error; they are reported in Result.Failures.
// An error is returned only for invalid arguments or when ctx ends.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, model string, progress ProgressFunc) (*Result, error) {
	if model == "" {
		return nil, ErrModelRequired
	}
	result := &Result{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return result, nil
	}

	var (
		misses []*missGroup
		byKey  = make(map[string]*missGroup)
	)
	for i, text := range texts {
		key := cache.Key(text, model)
		if c.cache != nil {
			if v, ok := c.cache.Get(ctx, key); ok {
				result.Vectors[i] = v
				result.CacheHits++
				continue
			}
		}
		if g, ok := byKey[key]; ok {
			g.indexes = append(g.indexes, i)
			continue
		}
		g := &missGroup{key: key, text: text, indexes: []int{i}}
		byKey[key] = g
		misses = append(misses, g)
	}

	c.logger.Debug("embedding batch", "texts", len(texts), "cache_hits", result.CacheHits, "misses", len(misses))
	if len(misses) == 0 {
		if progress != nil {
			progress(1, 1)
		}
		return result, nil
	}

	var batches [][]*missGroup
	for start := 0; start < len(misses); start += c.subBatchSize {
		batches = append(batches, misses[start:min(start+c.subBatchSize, len(misses))])
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, batch := range batches {
		g.Go(func() error {
			batchTexts := make([]string, len(batch))
			for i, m := range batch {
				batchTexts[i] = m.text
			}

			vecs, err := c.embedSubBatch(gctx, model, batchTexts)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err == nil {
				for i, m := range batch {
					if c.cache != nil {
						c.cache.Set(gctx, m.key, vecs[i])
					}
				}
			} else {
				c.logger.Warn("sub-batch failed on every backend", "texts", len(batch), "err", err)
			}

			mu.Lock()
			defer mu.Unlock()
			for i, m := range batch {
				for _, idx := range m.indexes {
					if err != nil {
						result.Failures = append(result.Failures, idx)
					} else {
						result.Vectors[idx] = slices.Clone(vecs[i])
					}
				}
			}
			done++
			if progress != nil {
				progress(done, len(batches))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.Sort(result.Failures)
	return result, nil
}

// Embed embeds a single text, typically a search query.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	res, err := c.EmbedBatch(ctx, []string{text}, model, nil)
	if err != nil {
		return nil, err
	}
	if res.AllFailed() {
		return nil, core.ErrEmbeddingTotalFailure
	}
	return res.Vectors[0], nil
}

// embedSubBatch runs the primary twice, then each fallback once.
func (c *Client) embedSubBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := c.call(ctx, c.primary, model, texts)
	if err == nil {
		return vecs, nil
	}
	c.logger.Debug("primary backend failed, retrying", "backend", c.primary.Name(), "err", err)

	if sleepErr := retry.Sleep(ctx, c.retryDelay); sleepErr != nil {
		return nil, sleepErr
	}
	if vecs, err = c.call(ctx, c.primary, model, texts); err == nil {
		return vecs, nil
	}

	for _, fb := range c.fallbacks {
		c.logger.Debug("trying fallback backend", "backend", fb.Name(), "err", err)
		if vecs, err = c.call(ctx, fb, model, texts); err == nil {
			return vecs, nil
		}
	}
	return nil, err
}

// call issues one rate-limited, time-bounded backend request.
func (c *Client) call(ctx context.Context, e ai.Embedder, model string, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	vecs, err := e.EmbedTexts(callCtx, model, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrEmbeddingTransient, e.Name(), err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", ErrResultMismatch, e.Name(), len(vecs), len(texts))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: %s returned an empty vector", ErrResultMismatch, e.Name())
		}
		out[i] = NormalizeVector(v)
	}
	return out, nil
}
