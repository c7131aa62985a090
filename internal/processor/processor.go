// Package processor orchestrates one request end to end: query
// understanding, hybrid retrieval, reranking, and multi-provider answer
// generation in a bounded iterative loop.
package processor

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/cache"
	"github.com/askdocs/service/internal/config"
	"github.com/askdocs/service/internal/embedding"
	"github.com/askdocs/service/internal/llm"
	"github.com/askdocs/service/internal/rag"
)

// ErrEmptyQuery rejects blank input before any retrieval side effects.
var ErrEmptyQuery = errors.New("query message is empty")

// Degraded user-facing messages, one per failure stage.
const (
	msgEmbeddingDown = "Сервис поиска временно недоступен. Попробуйте повторить запрос позже."
	msgRetrievalDown = "Не удалось выполнить поиск по документации. Попробуйте повторить запрос позже."
	msgNoResults     = "К сожалению, по вашему запросу ничего не найдено. Попробуйте переформулировать вопрос."
	msgProvidersDown = "Сервис генерации ответов временно недоступен. Попробуйте позже."
)

// Source is one cited document.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Answer is the terminal artifact returned to the serving layer.
type Answer struct {
	Text         string   `json:"answer"`
	Sources      []Source `json:"sources"`
	Provider     string   `json:"provider"`
	Degraded     bool     `json:"degraded"`
	Insufficient bool     `json:"insufficient_context"`
	Iterations   int      `json:"iterations"`
}

// requestState is the per-request loop state.
type requestState int

const (
	stateInit requestState = iota
	stateProcessing
	stateNeedsMoreContext
	stateDone
)

// Embedder produces the dense+sparse pair for a query.
type Embedder interface {
	EmbedPair(ctx context.Context, text string) (embedding.Pair, error)
}

// Retriever runs one hybrid retrieval pass.
type Retriever interface {
	Retrieve(ctx context.Context, pair embedding.Pair, k int, boosts config.BoostProfile) ([]rag.FusedResult, error)
}

// Reranker reorders fused candidates by cross-encoder relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, fused []rag.FusedResult, topN, topK int) ([]rag.RerankedResult, error)
}

// Generator produces an answer from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, policy llm.Policy) (*llm.Generation, error)
}

// Config bounds the iterative loop and the per-stage timeouts.
type Config struct {
	MaxDepth        int
	TopK            int
	RerankTopN      int
	RerankTopK      int
	MaxSubQueries   int
	EmbedTimeout    time.Duration
	RetrieveTimeout time.Duration
	RerankTimeout   time.Duration
	// RetrievalCacheTTL is short: the index changes on reindex and there is
	// no invalidation channel back to this service.
	RetrievalCacheTTL time.Duration
	Policy            llm.Policy
}

// DefaultConfig returns conservative loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxDepth:          3,
		TopK:              20,
		RerankTopN:        30,
		RerankTopK:        10,
		MaxSubQueries:     3,
		EmbedTimeout:      15 * time.Second,
		RetrieveTimeout:   10 * time.Second,
		RerankTimeout:     10 * time.Second,
		RetrievalCacheTTL: 5 * time.Minute,
	}
}

// Processor owns the request lifecycle.
type Processor struct {
	embedder  Embedder
	retriever Retriever
	reranker  Reranker
	generator Generator
	boosts    *config.BoostTable
	store     *cache.Store
	config    Config
	logger    *logrus.Logger
}

// New creates a processor. The cache store may be nil, disabling retrieval
// memoization.
func New(embedder Embedder, retriever Retriever, reranker Reranker, generator Generator, boosts *config.BoostTable, store *cache.Store, cfg Config, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	return &Processor{
		embedder:  embedder,
		retriever: retriever,
		reranker:  reranker,
		generator: generator,
		boosts:    boosts,
		store:     store,
		config:    cfg,
		logger:    logger,
	}
}

// Process answers one message. Infrastructure failures yield a degraded
// Answer rather than an error; only invalid input returns an error.
func (p *Processor) Process(ctx context.Context, message string) (*Answer, error) {
	start := time.Now()

	q := NewQuery(message, p.config.MaxSubQueries)
	if q.Normalized == "" {
		return nil, ErrEmptyQuery
	}

	log := p.logger.WithFields(logrus.Fields{
		"query":    truncate(q.Normalized, 80),
		"form":     q.Form,
		"entities": q.Entities,
	})
	log.Info("processing query")

	state := stateInit
	depth := 0
	var answer *Answer

	for state != stateDone {
		switch state {
		case stateInit:
			state = stateProcessing

		case stateNeedsMoreContext:
			depth++
			state = stateProcessing

		case stateProcessing:
			iterStart := time.Now()
			a, retryable := p.iterate(ctx, q, depth, log)
			log.WithFields(logrus.Fields{
				"depth":      depth,
				"elapsed_ms": time.Since(iterStart).Milliseconds(),
			}).Debug("iteration finished")

			if retryable && depth+1 < p.config.MaxDepth {
				state = stateNeedsMoreContext
				continue
			}
			answer = a
			state = stateDone
		}
	}

	answer.Iterations = depth + 1
	observeQuery(answer.Degraded, time.Since(start))
	log.WithFields(logrus.Fields{
		"elapsed_ms": time.Since(start).Milliseconds(),
		"provider":   answer.Provider,
		"degraded":   answer.Degraded,
		"iterations": answer.Iterations,
	}).Info("query processed")

	return answer, nil
}

// iterate runs one retrieve→rerank→generate cycle. The second return value
// reports whether another, broader iteration could improve the answer.
func (p *Processor) iterate(ctx context.Context, q Query, depth int, log *logrus.Entry) (*Answer, bool) {
	// Deeper iterations widen k and relax boosts to broaden recall.
	k := p.config.TopK * (depth + 1)
	var boosts config.BoostProfile
	if depth == 0 && p.boosts != nil {
		boosts = p.boosts.Profile(q.Form)
	}

	fused, err := p.retrieveAll(ctx, q, k, boosts)
	if err != nil {
		if errors.Is(err, embedding.ErrUnavailable) {
			log.WithError(err).Error("embedding stage failed")
			return &Answer{Text: msgEmbeddingDown, Degraded: true}, false
		}
		log.WithError(err).Error("retrieval stage failed")
		return &Answer{Text: msgRetrievalDown, Degraded: true}, false
	}
	if len(fused) == 0 {
		return &Answer{Text: msgNoResults, Degraded: true}, false
	}

	topDocs := p.rerank(ctx, q.Normalized, fused, log)

	prompt := llm.BuildPrompt(q.Normalized, topDocs)
	gen, err := p.generator.Generate(ctx, prompt, p.config.Policy)
	if err != nil {
		log.WithError(err).Error("generation stage failed")
		return &Answer{Text: msgProvidersDown, Degraded: true}, false
	}

	insufficient := llm.IsInsufficient(gen.Content)
	answer := &Answer{
		Text:         gen.Content,
		Sources:      collectSources(topDocs),
		Provider:     gen.Provider,
		Insufficient: insufficient,
	}
	return answer, insufficient
}

// retrieveAll embeds and retrieves the query, or each sub-query
// independently with the fused lists merged before generation.
func (p *Processor) retrieveAll(ctx context.Context, q Query, k int, boosts config.BoostProfile) ([]rag.FusedResult, error) {
	texts := q.SubQueries
	if len(texts) == 0 {
		texts = []string{q.Normalized}
	}

	merged := make(map[string]rag.FusedResult)
	var lastErr error
	succeeded := 0

	for _, text := range texts {
		fused, err := p.retrieveOne(ctx, text, k, boosts)
		if err != nil {
			lastErr = err
			continue
		}

		succeeded++
		for _, f := range fused {
			if prev, ok := merged[f.ID]; !ok || f.FusedScore > prev.FusedScore {
				merged[f.ID] = f
			}
		}
	}

	if succeeded == 0 {
		return nil, lastErr
	}

	out := make([]rag.FusedResult, 0, len(merged))
	for _, f := range merged {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// retrieveOne embeds and retrieves a single query text, memoizing the fused
// list in the shared cache keyed by text, k, and the boost profile.
func (p *Processor) retrieveOne(ctx context.Context, text string, k int, boosts config.BoostProfile) ([]rag.FusedResult, error) {
	key := cache.Key("ret", text, strconv.Itoa(k), boostSignature(boosts))
	if p.store != nil {
		var cached []rag.FusedResult
		if p.store.Get(ctx, key, &cached) {
			return cached, nil
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.config.EmbedTimeout)
	pair, err := p.embedder.EmbedPair(embedCtx, text)
	cancel()
	if err != nil {
		return nil, err
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, p.config.RetrieveTimeout)
	fused, err := p.retriever.Retrieve(retrieveCtx, pair, k, boosts)
	cancel()
	if err != nil {
		return nil, err
	}

	if p.store != nil && len(fused) > 0 {
		p.store.Put(ctx, key, fused, p.config.RetrievalCacheTTL)
	}
	return fused, nil
}

// boostSignature renders a boost profile deterministically for cache keys.
func boostSignature(boosts config.BoostProfile) string {
	if len(boosts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(boosts))
	for k := range boosts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(boosts[k], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

// rerank applies the cross-encoder, failing open to the fused order.
func (p *Processor) rerank(ctx context.Context, query string, fused []rag.FusedResult, log *logrus.Entry) []rag.RerankedResult {
	rerankCtx, cancel := context.WithTimeout(ctx, p.config.RerankTimeout)
	defer cancel()

	reranked, err := p.reranker.Rerank(rerankCtx, query, fused, p.config.RerankTopN, p.config.RerankTopK)
	if err != nil {
		log.WithError(err).Warn("reranking failed, using fused order")
		return rag.FallbackRerank(fused, p.config.RerankTopK)
	}
	return reranked
}

// collectSources extracts unique cited sources in rank order.
func collectSources(docs []rag.RerankedResult) []Source {
	seen := make(map[string]bool)
	sources := make([]Source, 0, len(docs))
	for _, d := range docs {
		if d.URL == "" || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		title := d.Title
		if title == "" {
			title = "Документация"
		}
		sources = append(sources, Source{URL: d.URL, Title: title})
	}
	return sources
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
