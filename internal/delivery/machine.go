package delivery

import (
	"fmt"

	"github.com/kiranshivaraju/physique/internal/ledger"
	"github.com/kiranshivaraju/physique/internal/session"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// event is an input to the reducer.
type event interface{ isEvent() }

type (
	evStart  struct{ job AnalysisJob }
	evDirect struct {
		jobID  string
		result *models.AnalysisResult
		err    error
	}
	// evRealtime carries the ledger entry for the event's job, nil on miss.
	evRealtime struct {
		ev    models.CompletionEvent
		entry *ledger.Entry
	}
	evGraceExpired struct{ jobID string }
	evIdentity     struct {
		id session.Identity
		ok bool
	}
	evDismiss     struct{}
	evView        struct{}
	evHide        struct{ jobID string }
	evAcknowledge struct{}
)

func (evStart) isEvent()        {}
func (evDirect) isEvent()       {}
func (evRealtime) isEvent()     {}
func (evGraceExpired) isEvent() {}
func (evIdentity) isEvent()     {}
func (evDismiss) isEvent()      {}
func (evView) isEvent()         {}
func (evHide) isEvent()         {}
func (evAcknowledge) isEvent()  {}

// effect is an instruction the coordinator carries out after a transition.
type effect interface{ isEffect() }

type (
	effArmGrace    struct{ jobID string }
	effCancelGrace struct{}
	effDeliver     struct{ outcome Outcome }
	effForget      struct{ jobID string }
	effPublish     struct{ state DeliveryState }
	effSubscribe   struct{ userID string }
	effUnsubscribe struct{}
	effDiscard     struct {
		jobID  string
		reason string
	}
)

func (effArmGrace) isEffect()    {}
func (effCancelGrace) isEffect() {}
func (effDeliver) isEffect()     {}
func (effForget) isEffect()      {}
func (effPublish) isEffect()     {}
func (effSubscribe) isEffect()   {}
func (effUnsubscribe) isEffect() {}
func (effDiscard) isEffect()     {}

// machine is the delivery state plus the bookkeeping the transitions need.
// It performs no I/O.
type machine struct {
	state    DeliveryState
	job      *AnalysisJob
	held     *models.AnalysisResult
	identity session.Identity
	signedIn bool
	// known holds the jobs started or resumed by this process. A realtime
	// completion for an unknown job in the ledger is a resume candidate.
	known *jobSet
}

func newMachine() *machine {
	return &machine{known: newJobSet(maxKnownJobs)}
}

func (m *machine) apply(e event) []effect {
	switch e := e.(type) {
	case evStart:
		return m.start(e.job)
	case evDirect:
		return m.direct(e)
	case evRealtime:
		return m.realtime(e)
	case evGraceExpired:
		return m.graceExpired(e.jobID)
	case evIdentity:
		return m.identityChanged(e.id, e.ok)
	case evDismiss:
		return m.hide("")
	case evView:
		return m.hide("")
	case evHide:
		return m.hide(e.jobID)
	case evAcknowledge:
		if m.state.Phase != Complete {
			return nil
		}
		m.reset()
		return []effect{m.publish()}
	}
	return nil
}

func (m *machine) start(job AnalysisJob) []effect {
	if !m.signedIn {
		return []effect{effDiscard{jobID: job.JobID, reason: "start without identity"}}
	}

	var effects []effect
	if m.state.Phase == Analyzing {
		if m.held != nil {
			effects = append(effects, effCancelGrace{})
		}
		effects = append(effects, effForget{jobID: m.job.JobID})
	}

	j := job
	m.job = &j
	m.held = nil
	m.known.add(job.JobID)
	m.state = DeliveryState{Phase: Analyzing, JobID: job.JobID, ImageRef: job.ImageRef}
	return append(effects, m.publish())
}

func (m *machine) direct(e evDirect) []effect {
	if !m.isActive(e.jobID) {
		return []effect{effDiscard{jobID: e.jobID, reason: "direct response for inactive job"}}
	}
	if m.held != nil {
		return []effect{effDiscard{jobID: e.jobID, reason: "duplicate direct response"}}
	}

	if e.err != nil {
		return m.fail(Outcome{Err: e.err, Source: SourceDirect})
	}
	if e.result == nil {
		return m.fail(Outcome{Err: fmt.Errorf("%w: empty direct response", ErrAnalysisFailed), Source: SourceDirect})
	}

	m.held = e.result
	return []effect{effArmGrace{jobID: e.jobID}}
}

func (m *machine) realtime(e evRealtime) []effect {
	jobID := e.ev.JobID
	if !m.signedIn {
		return []effect{effDiscard{jobID: jobID, reason: "realtime event without identity"}}
	}

	if m.isActive(jobID) {
		if m.job.OwnerID != m.identity.UserID {
			return []effect{effDiscard{jobID: jobID, reason: "realtime event for another identity"}}
		}
		return m.resolveRealtime(e)
	}

	// Resume: a job this process never saw, recorded in the ledger by the
	// current identity, arriving while nothing else is in flight.
	if m.state.Phase != Analyzing && !m.known.has(jobID) && e.entry != nil && e.entry.OwnerID == m.identity.UserID {
		return m.resume(e)
	}

	return []effect{effDiscard{jobID: jobID, reason: "realtime event for inactive job"}}
}

func (m *machine) resolveRealtime(e evRealtime) []effect {
	jobID := e.ev.JobID
	switch e.ev.Status {
	case models.EventStatusError:
		return m.fail(Outcome{Err: realtimeErr(e.ev), Source: SourceRealtime})
	case models.EventStatusCompleted:
		if err := e.ev.Result.Validate(); err != nil {
			return []effect{effDiscard{jobID: jobID, reason: "completed event without valid result: " + err.Error()}}
		}
		imageRef := m.job.ImageRef
		if e.entry != nil && e.entry.ImageRef != "" {
			imageRef = e.entry.ImageRef
		}
		return m.complete(e.ev.Result, imageRef, SourceRealtime, false)
	default:
		return []effect{effDiscard{jobID: jobID, reason: "unknown event status " + e.ev.Status}}
	}
}

// resume delivers the completion of a job started by an earlier process.
// A resumed result replaces a completed one on display; a resumed failure
// is reported without touching the state.
func (m *machine) resume(e evRealtime) []effect {
	jobID := e.ev.JobID
	switch e.ev.Status {
	case models.EventStatusError:
		m.known.add(jobID)
		return []effect{
			effForget{jobID: jobID},
			effDeliver{outcome: Outcome{
				JobID:    jobID,
				ImageRef: e.entry.ImageRef,
				Err:      realtimeErr(e.ev),
				Source:   SourceRealtime,
				Resumed:  true,
			}},
		}
	case models.EventStatusCompleted:
		if err := e.ev.Result.Validate(); err != nil {
			return []effect{effDiscard{jobID: jobID, reason: "completed event without valid result: " + err.Error()}}
		}
		m.known.add(jobID)
		m.job = &AnalysisJob{JobID: jobID, ImageRef: e.entry.ImageRef, OwnerID: e.entry.OwnerID}
		return m.complete(e.ev.Result, e.entry.ImageRef, SourceRealtime, true)
	default:
		return []effect{effDiscard{jobID: jobID, reason: "unknown event status " + e.ev.Status}}
	}
}

func realtimeErr(ev models.CompletionEvent) error {
	msg := ev.Error
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Errorf("%w: %s", ErrAnalysisFailed, msg)
}

func (m *machine) graceExpired(jobID string) []effect {
	if !m.isActive(jobID) || m.held == nil {
		return []effect{effDiscard{jobID: jobID, reason: "stale grace expiry"}}
	}
	return m.complete(m.held, m.job.ImageRef, SourceDirect, false)
}

func (m *machine) identityChanged(id session.Identity, ok bool) []effect {
	if !ok {
		if !m.signedIn && m.state.Phase == Idle {
			return nil
		}
		effects := m.signOut()
		return append(effects, m.publish())
	}

	if m.signedIn && m.identity == id {
		return nil
	}
	if m.signedIn && m.identity.UserID == id.UserID {
		m.identity = id
		return []effect{effSubscribe{userID: id.UserID}}
	}

	var effects []effect
	changed := m.signedIn || m.state.Phase != Idle
	if changed {
		effects = m.signOut()
	}
	m.identity = id
	m.signedIn = true
	effects = append(effects, effSubscribe{userID: id.UserID})
	if changed {
		effects = append(effects, m.publish())
	}
	return effects
}

// signOut resets unconditionally, whatever is in flight.
func (m *machine) signOut() []effect {
	var effects []effect
	if m.held != nil {
		effects = append(effects, effCancelGrace{})
	}
	if m.state.Phase == Analyzing {
		effects = append(effects, effForget{jobID: m.job.JobID})
	}
	effects = append(effects, effUnsubscribe{})
	m.reset()
	m.identity = session.Identity{}
	m.signedIn = false
	return effects
}

// hide clears the banner. An empty jobID matches whichever job is complete.
func (m *machine) hide(jobID string) []effect {
	if m.state.Phase != Complete || !m.state.NotificationVisible {
		return nil
	}
	if jobID != "" && jobID != m.state.JobID {
		return []effect{effDiscard{jobID: jobID, reason: "hide for another job"}}
	}
	m.state.NotificationVisible = false
	return []effect{m.publish()}
}

func (m *machine) complete(result *models.AnalysisResult, imageRef string, src Source, resumed bool) []effect {
	jobID := m.job.JobID
	var effects []effect
	if m.held != nil {
		effects = append(effects, effCancelGrace{})
	}
	m.held = nil
	m.state = DeliveryState{
		Phase:               Complete,
		JobID:               jobID,
		ImageRef:            imageRef,
		Result:              result,
		NotificationVisible: true,
	}
	return append(effects,
		effForget{jobID: jobID},
		effDeliver{outcome: Outcome{JobID: jobID, ImageRef: imageRef, Result: result, Source: src, Resumed: resumed}},
		m.publish(),
	)
}

func (m *machine) fail(o Outcome) []effect {
	jobID := m.job.JobID
	o.JobID = jobID
	o.ImageRef = m.job.ImageRef

	var effects []effect
	if m.held != nil {
		effects = append(effects, effCancelGrace{})
	}
	m.reset()
	return append(effects, effForget{jobID: jobID}, effDeliver{outcome: o}, m.publish())
}

func (m *machine) reset() {
	m.state = DeliveryState{}
	m.job = nil
	m.held = nil
}

func (m *machine) isActive(jobID string) bool {
	return m.state.Phase == Analyzing && m.job != nil && m.job.JobID == jobID
}

func (m *machine) publish() effect {
	return effPublish{state: m.state}
}

const maxKnownJobs = 1024

// jobSet remembers the most recent job ids, dropping the oldest past limit.
type jobSet struct {
	limit int
	ids   map[string]struct{}
	order []string
}

func newJobSet(limit int) *jobSet {
	return &jobSet{limit: limit, ids: make(map[string]struct{})}
}

func (s *jobSet) add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *jobSet) has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *jobSet) len() int { return len(s.ids) }
