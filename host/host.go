// Package host mounts contributed models and schema fragments and serves the
// generated schema over HTTP.
package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/auth"
	"github.com/eddieafk/ormql/events"
	"github.com/eddieafk/ormql/generator"
	"github.com/eddieafk/ormql/graph"
	"github.com/eddieafk/ormql/handler"
	"github.com/eddieafk/ormql/internal/logger"
	"github.com/eddieafk/ormql/internal/metrics"
	"github.com/eddieafk/ormql/model"
)

// Kind identifies what a contribution carries
type Kind string

const (
	KindModel        Kind = "model"
	KindResolver     Kind = "resolver"
	KindTypeDef      Kind = "typeDef"
	KindQuery        Kind = "query"
	KindMutation     Kind = "mutation"
	KindSubscription Kind = "subscription"
)

// Contribution is one item offered by an application module.
//
// Item must be a ModelItem for KindModel, a graph.ResolverTable for
// KindResolver and an SDL string for every other kind.
type Contribution struct {
	AppID string
	Kind  Kind
	Item  interface{}
}

// ModelItem registers an ORM model. A nil Config keeps the model out of the
// schema.
type ModelItem struct {
	Model  model.Model
	Config *generator.ModelConfig
}

var (
	ErrAlreadyMounted = errors.New("host is already mounted")
	ErrNotMounted     = errors.New("host is not mounted")
)

// Options configures a Host
type Options struct {
	Whitelist []string
	Blacklist []string
	Broker    events.Broker

	Server    handler.Config
	JWTSecret []byte
	// RateLimit is requests per second per caller; zero disables it
	RateLimit float64
	RateBurst int
	Tracing   bool
	// Extensions are added after the built-in ones
	Extensions []handler.Extension

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Host owns the mounted schema. The served schema is swapped atomically so
// requests in flight keep the schema they started with.
type Host struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	limiter *handler.RateLimiter

	mu      sync.Mutex
	mounted bool
	items   []Contribution
	pending []Contribution
	errs    error

	server atomic.Pointer[handler.Server]
	schema atomic.Pointer[generator.Schema]
}

// New creates an unmounted host. Until Mount succeeds every operation is
// answered with a 500.
func New(opts Options) *Host {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Server.Endpoint == "" {
		opts.Server.Endpoint = "/graphql"
	}
	opts.Server.Logger = opts.Logger

	h := &Host{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.RateLimit > 0 {
		h.limiter = handler.NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	h.server.Store(h.newServer(nil))
	return h
}

// Mount processes contributions and starts serving the generated schema.
// Items that fail are logged and skipped; see Errors. The returned error is
// non-nil only when the schema itself cannot be built.
func (h *Host) Mount(ctx context.Context, contributions []Contribution) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mounted {
		return ErrAlreadyMounted
	}
	items := append(append([]Contribution(nil), h.items...), contributions...)
	if err := h.build(ctx, items); err != nil {
		return err
	}
	h.items = items
	h.mounted = true
	return nil
}

// Contribute adds one item. Before Mount it joins the initial set; after
// Mount it is queued until Remount.
func (h *Host) Contribute(c Contribution) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.mounted {
		h.items = append(h.items, c)
		return
	}
	h.pending = append(h.pending, c)
	h.logger.Warn("contribution queued until remount",
		zap.String("app", c.AppID),
		zap.String("kind", string(c.Kind)),
		zap.Int("pending", len(h.pending)),
	)
}

// Pending returns how many contributions wait for Remount
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Remount rebuilds everything from the mounted and queued contributions and
// swaps the served schema. On failure the previous schema keeps serving and
// the queue is kept.
func (h *Host) Remount(ctx context.Context) error {
	return h.RemountWith(ctx, nil)
}

// RemountWith is Remount with the contributions of the given apps replaced
// by replace. Apps not named in replace keep their items.
func (h *Host) RemountWith(ctx context.Context, replace map[string][]Contribution) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.mounted {
		return ErrNotMounted
	}

	items := make([]Contribution, 0, len(h.items)+len(h.pending))
	for _, c := range append(append([]Contribution(nil), h.items...), h.pending...) {
		if _, replaced := replace[c.AppID]; !replaced {
			items = append(items, c)
		}
	}
	for _, app := range slices.Sorted(maps.Keys(replace)) {
		items = append(items, replace[app]...)
	}

	if err := h.build(ctx, items); err != nil {
		return err
	}
	h.items = items
	h.pending = nil
	return nil
}

// Errors returns the item errors of the last build
func (h *Host) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return multierr.Errors(h.errs)
}

// Schema returns the schema being served
func (h *Host) Schema() (generator.Schema, bool) {
	s := h.schema.Load()
	if s == nil {
		return generator.Schema{}, false
	}
	return *s, true
}

// Metrics returns the host's metrics
func (h *Host) Metrics() *metrics.Metrics {
	return h.metrics
}

// build runs every item through a fresh generator and swaps in the result.
// An item is accepted only if the schema still builds with it, so one
// malformed model or SDL fragment cannot take the other apps down. Items
// that fail are retried once the rest are in, which lets a fragment refer to
// types contributed after it. Callers hold h.mu.
func (h *Host) build(ctx context.Context, items []Contribution) error {
	type rejected struct {
		index int
		c     Contribution
		err   error
	}

	var (
		accepted []Contribution
		skipped  []rejected
		retry    []rejected
	)
	for i, c := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		gen, err := h.generate(append(slices.Clip(accepted), c), zap.NewNop())
		if err != nil {
			skipped = append(skipped, rejected{i, c, err})
			continue
		}
		if c.Kind != KindResolver {
			if err := check(gen); err != nil {
				retry = append(retry, rejected{i, c, err})
				continue
			}
		}
		accepted = append(accepted, c)
	}

	for progress := true; progress && len(retry) > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress = false
		var still []rejected
		for _, r := range retry {
			gen, err := h.generate(append(slices.Clip(accepted), r.c), zap.NewNop())
			if err == nil {
				err = check(gen)
			}
			if err != nil {
				r.err = err
				still = append(still, r)
				continue
			}
			accepted = append(accepted, r.c)
			progress = true
		}
		retry = still
	}

	skipped = append(skipped, retry...)
	slices.SortFunc(skipped, func(a, b rejected) int { return a.index - b.index })

	var errs error
	for _, r := range skipped {
		h.logger.Error("skipping contribution",
			zap.String("app", r.c.AppID),
			zap.String("kind", string(r.c.Kind)),
			zap.Error(r.err),
		)
		h.metrics.RecordSkipped(string(r.c.Kind))
		errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", r.c.AppID, r.c.Kind, r.err))
	}

	gen, err := h.generate(accepted, h.logger)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	schema := gen.GetSchema()
	es, err := schema.Executable()
	h.metrics.RecordMount(err)
	if err != nil {
		h.logger.Error("schema build failed", zap.Error(err))
		return fmt.Errorf("build schema: %w", err)
	}

	h.errs = errs
	h.schema.Store(&schema)
	h.server.Store(h.newServer(es))
	h.logger.Info("schema mounted",
		zap.Int("contributions", len(items)),
		zap.Int("skipped", len(skipped)),
		zap.Strings("models", gen.Registry().Names()),
	)
	return nil
}

// generate applies items to a fresh generator. The error is that of the
// first item that could not be applied.
func (h *Host) generate(items []Contribution, log *zap.Logger) (*generator.Generator, error) {
	gen := generator.New(generator.NewRegistry(), generator.Options{
		Whitelist: h.opts.Whitelist,
		Blacklist: h.opts.Blacklist,
		Broker:    h.opts.Broker,
		Logger:    log,
	})
	for _, c := range items {
		if err := h.apply(gen, c); err != nil {
			return nil, err
		}
	}
	return gen, nil
}

// check reports whether gen produces an executable schema
func check(gen *generator.Generator) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	_, err = gen.GetSchema().Executable()
	return err
}

// apply registers one contribution. A panic is returned as an error.
func (h *Host) apply(gen *generator.Generator, c Contribution) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	switch c.Kind {
	case KindModel:
		item, ok := c.Item.(ModelItem)
		if !ok {
			return fmt.Errorf("want ModelItem, got %T", c.Item)
		}
		return gen.Registry().Register(item.Model, item.Config)
	case KindResolver:
		table, ok := c.Item.(graph.ResolverTable)
		if !ok {
			return fmt.Errorf("want graph.ResolverTable, got %T", c.Item)
		}
		gen.AddResolvers(table)
	case KindTypeDef, KindQuery, KindMutation, KindSubscription:
		sdl, ok := c.Item.(string)
		if !ok || sdl == "" {
			return fmt.Errorf("want SDL string, got %T", c.Item)
		}
		switch c.Kind {
		case KindTypeDef:
			gen.AddTypeDefs(sdl)
		case KindQuery:
			gen.AddQuery(sdl)
		case KindMutation:
			gen.AddMutation(sdl)
		default:
			gen.AddSubscription(sdl)
		}
	default:
		return fmt.Errorf("unknown contribution kind %q", c.Kind)
	}
	return nil
}

func (h *Host) newServer(es *graph.ExecutableSchema) *handler.Server {
	srv := handler.NewWithConfig(es, h.opts.Server)
	srv.Use(handler.NewMetrics(h.metrics))
	srv.Use(handler.NewLogging(h.logger))
	if h.limiter != nil {
		srv.Use(h.limiter)
	}
	if h.opts.Tracing {
		srv.Use(handler.NewTracing())
	}
	for _, ext := range h.opts.Extensions {
		srv.Use(ext)
	}
	return srv
}

// ServeHTTP serves GraphQL with the current schema
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.Load().ServeHTTP(w, r)
}

// Handler wraps the host with request ids, access logs and bearer auth
func (h *Host) Handler() http.Handler {
	return logger.RequestIDMiddleware(
		logger.AccessLog(h.logger)(
			auth.Middleware(h.opts.JWTSecret, h.logger)(h),
		),
	)
}

// Routes registers the GraphQL endpoint and /metrics on mux
func (h *Host) Routes(mux *http.ServeMux) {
	mux.Handle(h.opts.Server.Endpoint, h.Handler())
	mux.Handle("/metrics", h.metrics.Handler())
}
