package signal

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"signal-core/internal/events"
	"signal-core/internal/gateway"
	"signal-core/internal/ratelimit"
	"signal-core/internal/router"
	"signal-core/pkg/db"
	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

var (
	// ErrDuplicateSignal marks an id replay within the dedup window.
	ErrDuplicateSignal = errors.New("duplicate signal id")
	// ErrQueueFull is returned when the target shard's queue is saturated.
	ErrQueueFull = errors.New("signal queue full")
	// ErrNotCancellable is returned by Cancel once execution has started.
	ErrNotCancellable = errors.New("signal is not cancellable")
	// ErrNotFound is returned by Cancel for an unknown signal id.
	ErrNotFound = errors.New("signal not found")
)

// Error kinds recorded on terminal statuses beyond the venue taxonomy.
const (
	errKindRateLimit  = "rate_limit_exceeded"
	errKindNoAccount  = "no_active_account"
	errKindCredential = "credential_decryption"
	errKindCancelled  = "cancelled"
	errKindExpired    = "expired"
	errKindQueueFull  = "queue_full"
)

// Config tunes the pipeline.
type Config struct {
	Shards      int           // worker count; signals shard by owner
	QueueDepth  int           // per-shard queue capacity
	DedupWindow time.Duration // id retention for duplicate rejection
	MaxAge      time.Duration // signals older than this expire unexecuted, 0 disables
	Tier        string        // rate-limit tier applied per owner
}

// Rejection is the payload published with signal.rejected events. RetryAfter
// is non-zero when the rate gate denied the signal and names the remainder of
// the owner's quota window.
type Rejection struct {
	SignalID   string        `json:"signal_id"`
	ErrorKind  string        `json:"error_kind"`
	RetryAfter time.Duration `json:"retry_after,omitzero"`
}

// Stats are the pipeline's monotonic counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Executed uint64 `json:"executed"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
	Expired  uint64 `json:"expired"`
}

// Pipeline ingests signals and drives them to a terminal status. Signals for
// the same owner land on the same shard, which serializes execution per
// account while distinct owners proceed in parallel.
type Pipeline struct {
	cfg     Config
	queries *db.Queries
	router  *router.Router
	vault   *vault.Vault
	limiter *ratelimit.Limiter
	exec    *gateway.Executor
	bus     *events.Bus

	dedup  *dedupSet
	shards []chan Signal
	wg     sync.WaitGroup
	now    func() time.Time

	accepted atomic.Uint64
	executed atomic.Uint64
	rejected atomic.Uint64
	failed   atomic.Uint64
	expired  atomic.Uint64
}

// New wires a Pipeline. bus may be nil.
func New(cfg Config, q *db.Queries, rt *router.Router, v *vault.Vault, lim *ratelimit.Limiter, exec *gateway.Executor, bus *events.Bus) *Pipeline {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Tier == "" {
		cfg.Tier = ratelimit.TierStandard
	}
	p := &Pipeline{
		cfg:     cfg,
		queries: q,
		router:  rt,
		vault:   v,
		limiter: lim,
		exec:    exec,
		bus:     bus,
		dedup:   newDedupSet(cfg.DedupWindow),
		shards:  make([]chan Signal, cfg.Shards),
		now:     time.Now,
	}
	for i := range p.shards {
		p.shards[i] = make(chan Signal, cfg.QueueDepth)
	}
	return p
}

// Run starts the shard workers and the retention janitor. It blocks until
// ctx is canceled and all workers have drained.
func (p *Pipeline) Run(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go func(shard int, ch chan Signal) {
			defer p.wg.Done()
			p.work(ctx, shard, ch)
		}(i, ch)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.janitor(ctx)
	}()

	p.wg.Wait()
}

// Submit validates and enqueues a signal. It returns once the signal is
// persisted with status pending; execution is asynchronous.
func (p *Pipeline) Submit(ctx context.Context, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if sig.SubmittedAt.IsZero() {
		sig.SubmittedAt = p.now()
	}

	if !p.dedup.Claim(sig.ID) {
		return ErrDuplicateSignal
	}

	rec := db.SignalRecord{
		ID:          sig.ID,
		Kind:        string(sig.Kind),
		Instrument:  sig.Instrument,
		Volume:      sig.Volume,
		Price:       sig.Price,
		Stop:        sig.Stop,
		Target:      sig.Target,
		Ticket:      sig.Ticket,
		OwnerID:     sig.Owner,
		AccountRef:  sig.AccountRef,
		Comment:     sig.Comment,
		Status:      string(StatusPending),
		SubmittedAt: sig.SubmittedAt,
	}
	if err := p.queries.InsertSignal(ctx, rec); err != nil {
		// The id may belong to a terminal signal whose retention window has
		// elapsed but whose row the janitor has not swept yet. Recycle it so
		// the legitimate reuse is accepted instead of surfacing a conflict.
		if p.recycleExpired(ctx, sig.ID) {
			err = p.queries.InsertSignal(ctx, rec)
		}
		if err != nil {
			p.dedup.Release(sig.ID)
			return fmt.Errorf("persist signal: %w", err)
		}
	}

	select {
	case p.shards[p.shardFor(sig.Owner)] <- sig:
	default:
		// Saturated shard. The row stays for the audit trail but is closed
		// out immediately rather than silently dropped.
		p.finish(ctx, sig.ID, StatusRejected, errKindQueueFull, db.ExecutionResult{
			SignalID: sig.ID, ErrorKind: errKindQueueFull,
		}, string(StatusPending))
		return ErrQueueFull
	}

	p.accepted.Add(1)
	p.publish(events.EventSignalAccepted, sig)
	return nil
}

// Cancel aborts a signal that has not started executing. Past that point the
// signal runs to its terminal result.
func (p *Pipeline) Cancel(ctx context.Context, id string) error {
	rec, err := p.queries.GetSignal(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	ok, err := p.queries.UpdateSignalStatus(ctx, id, string(StatusRejected), errKindCancelled,
		string(StatusPending), string(StatusGated))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancellable
	}

	p.rejected.Add(1)
	p.recordResult(ctx, db.ExecutionResult{SignalID: id, ErrorKind: errKindCancelled})
	p.publish(events.EventSignalRejected, Rejection{SignalID: id, ErrorKind: errKindCancelled})
	return nil
}

// Stats returns a copy of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted: p.accepted.Load(),
		Executed: p.executed.Load(),
		Rejected: p.rejected.Load(),
		Failed:   p.failed.Load(),
		Expired:  p.expired.Load(),
	}
}

// recycleExpired drops a terminal signal row whose retention window has
// elapsed, reporting whether the id is free for reuse.
func (p *Pipeline) recycleExpired(ctx context.Context, id string) bool {
	rec, err := p.queries.GetSignal(ctx, id)
	if err != nil || rec == nil {
		return false
	}
	if !Status(rec.Status).Terminal() || p.now().Sub(rec.SubmittedAt) < p.dedup.window {
		return false
	}
	ok, err := p.queries.DeleteSignal(ctx, id)
	if err != nil {
		log.Printf("pipeline: recycle %s: %v", id, err)
		return false
	}
	return ok
}

func (p *Pipeline) shardFor(owner string) int {
	h := fnv.New32a()
	h.Write([]byte(owner))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) work(ctx context.Context, shard int, ch chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			p.process(ctx, sig)
		}
	}
}

// process advances one signal to a terminal status. Errors here are local to
// the signal and never abort the worker.
func (p *Pipeline) process(ctx context.Context, sig Signal) {
	if p.cfg.MaxAge > 0 && p.now().Sub(sig.SubmittedAt) > p.cfg.MaxAge {
		p.expired.Add(1)
		p.finish(ctx, sig.ID, StatusExpired, errKindExpired, db.ExecutionResult{
			SignalID: sig.ID, ErrorKind: errKindExpired,
		}, string(StatusPending))
		p.publish(events.EventSignalExpired, sig.ID)
		return
	}

	// Gate before routing so denied signals never touch credentials.
	if p.limiter != nil {
		if d := p.limiter.Allow(sig.Owner, p.cfg.Tier); !d.Allowed {
			p.rejected.Add(1)
			p.finish(ctx, sig.ID, StatusRejected, errKindRateLimit, db.ExecutionResult{
				SignalID: sig.ID, ErrorKind: errKindRateLimit,
			}, string(StatusPending))
			p.publish(events.EventSignalRejected, Rejection{
				SignalID:   sig.ID,
				ErrorKind:  errKindRateLimit,
				RetryAfter: d.RetryAfter,
			})
			return
		}
	}

	ok, err := p.queries.UpdateSignalStatus(ctx, sig.ID, string(StatusGated), "", string(StatusPending))
	if err != nil {
		log.Printf("pipeline: gate %s: %v", sig.ID, err)
		return
	}
	if !ok {
		// Cancelled between enqueue and gating.
		return
	}
	p.publish(events.EventSignalGated, sig.ID)

	account, err := p.router.Resolve(ctx, sig.Owner, sig.AccountRef)
	if err != nil {
		if errors.Is(err, router.ErrNoActiveAccount) {
			p.failed.Add(1)
			p.finish(ctx, sig.ID, StatusFailed, errKindNoAccount, db.ExecutionResult{
				SignalID: sig.ID, ErrorKind: errKindNoAccount,
			}, string(StatusGated))
			p.publish(events.EventSignalFailed, sig.ID)
			return
		}
		log.Printf("pipeline: route %s: %v", sig.ID, err)
		p.failed.Add(1)
		p.finish(ctx, sig.ID, StatusFailed, "routing_error", db.ExecutionResult{
			SignalID: sig.ID, AccountID: "", ErrorKind: "routing_error",
		}, string(StatusGated))
		p.publish(events.EventSignalFailed, sig.ID)
		return
	}

	ok, err = p.queries.UpdateSignalStatus(ctx, sig.ID, string(StatusExecuting), "", string(StatusGated))
	if err != nil || !ok {
		// Cancelled at the last permitted moment.
		return
	}

	var res venue.TradeResult
	verr := p.vault.WithCredentials(account.CredentialsEncrypted, func(creds vault.Credentials) error {
		res = p.exec.Execute(ctx, creds, venue.TradeRequest{
			SignalID:   sig.ID,
			Kind:       venue.TradeKind(sig.Kind),
			Instrument: sig.Instrument,
			Volume:     sig.Volume,
			Price:      sig.Price,
			Stop:       sig.Stop,
			Target:     sig.Target,
			Ticket:     sig.Ticket,
			Comment:    sig.comment(),
		})
		return nil
	})
	if verr != nil {
		// Undecryptable stored credentials imply misconfiguration, not a
		// bad signal. Alert loudly.
		log.Printf("pipeline: credentials for account %s: %v", account.ID, verr)
		p.failed.Add(1)
		p.finish(ctx, sig.ID, StatusFailed, errKindCredential, db.ExecutionResult{
			SignalID: sig.ID, AccountID: account.ID, ErrorKind: errKindCredential,
		}, string(StatusExecuting))
		p.publish(events.EventSignalFailed, sig.ID)
		p.publish(events.EventAlert, fmt.Sprintf("credential decryption failed for account %s", account.ID))
		return
	}

	result := db.ExecutionResult{
		SignalID:  sig.ID,
		AccountID: account.ID,
		Success:   res.Success,
		Ticket:    res.Ticket,
		ErrorKind: string(res.ErrorKind),
		LatencyMs: res.LatencyMs,
	}
	if res.Success {
		p.executed.Add(1)
		p.finish(ctx, sig.ID, StatusExecuted, "", result, string(StatusExecuting))
		p.publish(events.EventSignalExecuted, sig.ID)
	} else {
		p.failed.Add(1)
		p.finish(ctx, sig.ID, StatusFailed, string(res.ErrorKind), result, string(StatusExecuting))
		p.publish(events.EventSignalFailed, sig.ID)
	}
}

// finish moves a signal to a terminal status and records its single
// execution result. The from-status guard keeps transitions forward-only.
func (p *Pipeline) finish(ctx context.Context, id string, status Status, errorKind string, result db.ExecutionResult, from ...string) {
	ok, err := p.queries.UpdateSignalStatus(ctx, id, string(status), errorKind, from...)
	if err != nil {
		log.Printf("pipeline: finish %s as %s: %v", id, status, err)
		return
	}
	if !ok {
		return
	}
	p.recordResult(ctx, result)
}

func (p *Pipeline) recordResult(ctx context.Context, r db.ExecutionResult) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = p.now()
	}
	if err := p.queries.InsertExecutionResult(ctx, r); err != nil {
		log.Printf("pipeline: record result for %s: %v", r.SignalID, err)
	}
}

func (p *Pipeline) publish(e events.Event, payload any) {
	if p.bus != nil {
		p.bus.Publish(e, payload)
	}
}

// janitor periodically evicts everything past its retention window.
func (p *Pipeline) janitor(ctx context.Context) {
	interval := p.dedup.window / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep evicts stale dedup entries, rate-limit buckets, and terminal signal
// rows whose retention window has elapsed. Once a row is swept its id may be
// legitimately reused.
func (p *Pipeline) sweep(ctx context.Context) {
	if n := p.dedup.Sweep(); n > 0 {
		log.Printf("pipeline: evicted %d dedup entries", n)
	}
	if p.limiter != nil {
		p.limiter.Sweep(p.now().Add(-10 * time.Minute))
	}
	n, err := p.queries.SweepSignals(ctx, p.now().Add(-p.dedup.window))
	if err != nil {
		log.Printf("pipeline: sweep signals: %v", err)
		return
	}
	if n > 0 {
		log.Printf("pipeline: archived %d terminal signals", n)
	}
}

func (s *Signal) comment() string {
	if s.Comment != "" {
		return s.Comment
	}
	return s.Tag
}
