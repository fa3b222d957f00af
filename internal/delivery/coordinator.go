package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/physique/internal/gateway"
	"github.com/kiranshivaraju/physique/internal/ledger"
	"github.com/kiranshivaraju/physique/internal/realtime"
	"github.com/kiranshivaraju/physique/internal/session"
	"github.com/kiranshivaraju/physique/pkg/models"
)

const (
	DefaultGraceTimeout     = 5000 * time.Millisecond
	defaultLedgerTimeout    = 2 * time.Second
	defaultResubscribeDelay = time.Second
	inboxSize               = 64
)

// Options wires a Coordinator to its collaborators. Gateway, Ledger,
// Realtime and Session are required.
type Options struct {
	Gateway  gateway.Gateway
	Ledger   ledger.Ledger
	Realtime realtime.Subscriber
	Session  session.Source

	Clock            Clock
	NewJobID         func() string
	GraceTimeout     time.Duration
	LedgerTimeout    time.Duration
	ResubscribeDelay time.Duration
	Logger           *slog.Logger

	// OnState and OnOutcome run on the coordinator goroutine. They must not
	// block or call back into the Coordinator.
	OnState   func(DeliveryState)
	OnOutcome func(Outcome)
}

// Coordinator is the single owner of the delivery state, the grace timer
// and the realtime subscription.
type Coordinator struct {
	opts  Options
	log   *slog.Logger
	m     *machine
	inbox chan any

	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
	started  chan struct{}
	runCtx   context.Context

	grace Timer
	sub   realtime.Subscription
	gen   uint64

	mu       sync.RWMutex
	snapshot DeliveryState
	// clearing counts sign-outs posted but not yet applied. While it is
	// non-zero the snapshot stays reset.
	clearing int
}

// mailbox messages
type (
	startReq struct {
		imageRef string
		reply    chan startReply
	}
	startReply struct {
		jobID string
		err   error
	}
	userReq struct {
		ev    event
		reply chan *models.AnalysisResult
	}
	pendingReq struct {
		reply chan pendingReply
	}
	pendingReply struct {
		jobs []AnalysisJob
		err  error
	}
	inputMsg    struct{ ev event }
	identityMsg struct {
		id session.Identity
		ok bool
	}
	rtMsg struct {
		gen uint64
		ev  models.CompletionEvent
	}
	subReady struct {
		gen uint64
		sub realtime.Subscription
	}
	subLost  struct{ gen uint64 }
	subRetry struct{ gen uint64 }
)

func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.NewJobID == nil {
		opts.NewJobID = NewJobID
	}
	if opts.GraceTimeout <= 0 {
		opts.GraceTimeout = DefaultGraceTimeout
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = defaultLedgerTimeout
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = defaultResubscribeDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		opts:    opts,
		log:     log.With("component", "delivery"),
		m:       newMachine(),
		inbox:   make(chan any, inboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Run processes the mailbox until ctx is cancelled or Close is called.
// It must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx = ctx
	close(c.started)
	defer close(c.done)

	cancel := c.opts.Session.OnChange(func(id session.Identity, ok bool) {
		if !ok {
			c.mu.Lock()
			c.clearing++
			c.snapshot = DeliveryState{}
			c.mu.Unlock()
		}
		c.post(identityMsg{id: id, ok: ok})
	})
	defer cancel()
	if id, ok := c.opts.Session.Current(); ok {
		c.exec(c.m.apply(evIdentity{id: id, ok: true}))
	}

	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			return nil
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

// Close stops Run and waits for it to return if it was started.
func (c *Coordinator) Close() {
	c.quitOnce.Do(func() { close(c.quit) })
	select {
	case <-c.started:
		<-c.done
	default:
	}
}

// StartAnalysis begins a new job for imageRef, superseding any job in
// flight. It returns once the job is recorded; the outcome arrives through
// OnOutcome.
func (c *Coordinator) StartAnalysis(ctx context.Context, imageRef string) (string, error) {
	reply := make(chan startReply, 1)
	if err := c.send(ctx, startReq{imageRef: imageRef, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.jobID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrCoordinatorDone
	}
}

// Dismiss hides the completion banner without discarding the result.
func (c *Coordinator) Dismiss() {
	c.request(evDismiss{})
}

// View hides the banner and returns the completed result, if any.
func (c *Coordinator) View() (*models.AnalysisResult, bool) {
	res := c.request(evView{})
	return res, res != nil
}

// Hide clears the banner if it still belongs to jobID.
func (c *Coordinator) Hide(jobID string) {
	c.request(evHide{jobID: jobID})
}

// Acknowledge returns a completed job to Idle, clearing its result.
func (c *Coordinator) Acknowledge() {
	c.request(evAcknowledge{})
}

// State returns the latest published state. A sign-out shows as the reset
// state as soon as the session store reports it, before the mailbox has
// processed it.
func (c *Coordinator) State() DeliveryState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Pending lists ledger entries owned by the current identity that this
// process has not started, i.e. jobs awaiting a resumed completion.
func (c *Coordinator) Pending(ctx context.Context) ([]AnalysisJob, error) {
	reply := make(chan pendingReply, 1)
	if err := c.send(ctx, pendingReq{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.jobs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrCoordinatorDone
	}
}

func (c *Coordinator) request(ev event) *models.AnalysisResult {
	reply := make(chan *models.AnalysisResult, 1)
	if err := c.send(context.Background(), userReq{ev: ev, reply: reply}); err != nil {
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-c.done:
		return nil
	}
}

func (c *Coordinator) send(ctx context.Context, msg any) error {
	select {
	case <-c.quit:
		return ErrCoordinatorDone
	case <-c.done:
		return ErrCoordinatorDone
	default:
	}
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrCoordinatorDone
	case <-c.done:
		return ErrCoordinatorDone
	}
}

// post is send for internal producers that have no caller to report to.
func (c *Coordinator) post(msg any) {
	_ = c.send(context.Background(), msg)
}

func (c *Coordinator) handle(msg any) {
	switch msg := msg.(type) {
	case startReq:
		jobID, err := c.start(msg.imageRef)
		msg.reply <- startReply{jobID: jobID, err: err}
	case userReq:
		c.exec(c.m.apply(msg.ev))
		var res *models.AnalysisResult
		if _, ok := msg.ev.(evView); ok && c.m.state.Phase == Complete {
			res = c.m.state.Result
		}
		msg.reply <- res
	case pendingReq:
		jobs, err := c.pending()
		msg.reply <- pendingReply{jobs: jobs, err: err}
	case inputMsg:
		c.exec(c.m.apply(msg.ev))
	case identityMsg:
		c.exec(c.m.apply(evIdentity{id: msg.id, ok: msg.ok}))
		if !msg.ok {
			c.mu.Lock()
			c.clearing--
			c.mu.Unlock()
		}
	case rtMsg:
		if msg.gen != c.gen {
			c.log.Debug("discarding event from previous subscription", "job_id", msg.ev.JobID)
			return
		}
		c.exec(c.m.apply(evRealtime{ev: msg.ev, entry: c.lookup(msg.ev.JobID)}))
	case subReady:
		if msg.gen != c.gen || !c.m.signedIn {
			_ = msg.sub.Close()
			return
		}
		c.sub = msg.sub
		go c.pump(msg.gen, msg.sub)
	case subLost:
		if msg.gen != c.gen || !c.m.signedIn {
			return
		}
		c.log.Warn("realtime subscription lost, retrying", "retry_in", c.opts.ResubscribeDelay)
		gen := msg.gen
		c.opts.Clock.AfterFunc(c.opts.ResubscribeDelay, func() { c.post(subRetry{gen: gen}) })
	case subRetry:
		if msg.gen == c.gen && c.m.signedIn {
			c.subscribe(c.m.identity.UserID)
		}
	}
}

func (c *Coordinator) start(imageRef string) (string, error) {
	if !c.m.signedIn {
		return "", ErrNotSignedIn
	}

	job := AnalysisJob{
		JobID:          c.opts.NewJobID(),
		ImageRef:       imageRef,
		OwnerID:        c.m.identity.UserID,
		OwnerSessionID: c.m.identity.SessionID,
	}

	ctx, cancel := context.WithTimeout(c.runCtx, c.opts.LedgerTimeout)
	err := c.opts.Ledger.Put(ctx, job.JobID, ledger.Entry{
		ImageRef:  job.ImageRef,
		OwnerID:   job.OwnerID,
		CreatedAt: time.Now().UTC(),
	})
	cancel()
	if err != nil {
		c.log.Warn("ledger write failed, job will not survive a restart", "job_id", job.JobID, "error", err)
	}

	c.exec(c.m.apply(evStart{job: job}))
	go c.callGateway(job)
	return job.JobID, nil
}

func (c *Coordinator) callGateway(job AnalysisJob) {
	res, err := c.opts.Gateway.Analyze(c.runCtx, gateway.Request{
		JobID:    job.JobID,
		UserID:   job.OwnerID,
		ImageRef: job.ImageRef,
	})
	if err != nil && c.runCtx.Err() != nil {
		return
	}
	c.post(inputMsg{ev: evDirect{jobID: job.JobID, result: res, err: err}})
}

func (c *Coordinator) exec(effects []effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case effArmGrace:
			c.stopGrace()
			jobID := e.jobID
			c.grace = c.opts.Clock.AfterFunc(c.opts.GraceTimeout, func() {
				c.post(inputMsg{ev: evGraceExpired{jobID: jobID}})
			})
		case effCancelGrace:
			c.stopGrace()
		case effForget:
			c.forget(e.jobID)
		case effDeliver:
			c.logOutcome(e.outcome)
			if c.opts.OnOutcome != nil {
				c.opts.OnOutcome(e.outcome)
			}
		case effPublish:
			c.mu.Lock()
			if c.clearing == 0 {
				c.snapshot = e.state
			}
			c.mu.Unlock()
			if c.opts.OnState != nil {
				c.opts.OnState(e.state)
			}
		case effSubscribe:
			c.subscribe(e.userID)
		case effUnsubscribe:
			c.log.Info("identity cleared, delivery state reset")
			c.closeSubscription()
		case effDiscard:
			c.log.Debug("discarding arrival", "job_id", e.jobID, "reason", e.reason)
		}
	}
}

func (c *Coordinator) logOutcome(o Outcome) {
	switch {
	case o.Failed():
		c.log.Info("analysis failed", "job_id", o.JobID, "source", o.Source, "error", o.Err)
	case o.Source == SourceDirect:
		c.log.Info("no realtime completion within grace period, delivering direct result", "job_id", o.JobID)
	default:
		c.log.Info("analysis delivered", "job_id", o.JobID, "source", o.Source, "resumed", o.Resumed)
	}
}

func (c *Coordinator) stopGrace() {
	if c.grace != nil {
		c.grace.Stop()
		c.grace = nil
	}
}

// subscribe replaces the current subscription. Connecting happens off the
// mailbox goroutine; the result comes back as subReady tagged with the
// generation it was opened for.
func (c *Coordinator) subscribe(userID string) {
	c.closeSubscription()
	gen := c.gen
	go func() {
		sub, err := c.opts.Realtime.Subscribe(c.runCtx, userID)
		if err != nil {
			if c.runCtx.Err() != nil {
				return
			}
			c.log.Warn("realtime subscribe failed", "user_id", userID, "error", err)
			c.post(subLost{gen: gen})
			return
		}
		c.post(subReady{gen: gen, sub: sub})
	}()
}

func (c *Coordinator) closeSubscription() {
	c.gen++
	if c.sub != nil {
		if err := c.sub.Close(); err != nil {
			c.log.Warn("close realtime subscription", "error", err)
		}
		c.sub = nil
	}
}

func (c *Coordinator) pump(gen uint64, sub realtime.Subscription) {
	for ev := range sub.Events() {
		c.post(rtMsg{gen: gen, ev: ev})
	}
	c.post(subLost{gen: gen})
}

func (c *Coordinator) lookup(jobID string) *ledger.Entry {
	ctx, cancel := context.WithTimeout(c.runCtx, c.opts.LedgerTimeout)
	defer cancel()
	e, err := c.opts.Ledger.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			c.log.Warn("ledger read failed", "job_id", jobID, "error", err)
		}
		return nil
	}
	return &e
}

func (c *Coordinator) forget(jobID string) {
	ctx, cancel := context.WithTimeout(c.runCtx, c.opts.LedgerTimeout)
	defer cancel()
	if err := c.opts.Ledger.Remove(ctx, jobID); err != nil {
		c.log.Warn("ledger remove failed", "job_id", jobID, "error", err)
	}
}

func (c *Coordinator) pending() ([]AnalysisJob, error) {
	if !c.m.signedIn {
		return nil, ErrNotSignedIn
	}
	ctx, cancel := context.WithTimeout(c.runCtx, c.opts.LedgerTimeout)
	defer cancel()
	entries, err := c.opts.Ledger.List(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []AnalysisJob
	for jobID, e := range entries {
		if e.OwnerID != c.m.identity.UserID {
			continue
		}
		if c.m.known.has(jobID) {
			continue
		}
		jobs = append(jobs, AnalysisJob{JobID: jobID, ImageRef: e.ImageRef, OwnerID: e.OwnerID})
	}
	return jobs, nil
}

func (c *Coordinator) shutdown() {
	c.stopGrace()
	c.gen++
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
}
