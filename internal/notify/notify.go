// Package notify turns delivery state into the transient "analysis ready"
// banner and owns its auto-hide timer.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kiranshivaraju/physique/internal/delivery"
	"github.com/kiranshivaraju/physique/pkg/models"
)

// DefaultBannerTimeout is how long a banner stays on screen. It is
// unrelated to the delivery grace timer.
const DefaultBannerTimeout = 10 * time.Second

// Banner is what the UI shows when a result is ready.
type Banner struct {
	JobID    string
	ImageRef string
	Title    string
	Message  string
}

// Render is a pure function of the delivery state. viewingJobID is the job
// whose results screen is open, if any; its banner is suppressed.
func Render(s delivery.DeliveryState, viewingJobID string) (Banner, bool) {
	if s.Phase != delivery.Complete || !s.NotificationVisible || s.Result == nil {
		return Banner{}, false
	}
	if viewingJobID != "" && viewingJobID == s.JobID {
		return Banner{}, false
	}
	return Banner{
		JobID:    s.JobID,
		ImageRef: s.ImageRef,
		Title:    "Your analysis is ready",
		Message:  fmt.Sprintf("Overall rating %.1f/10. Tap to view your results.", s.Result.OverallRating),
	}, true
}

// Renderer draws and removes banners.
type Renderer interface {
	Show(b Banner)
	Hide(jobID string)
}

// Actions are the delivery operations the banner drives.
type Actions interface {
	View() (*models.AnalysisResult, bool)
	Dismiss()
	Hide(jobID string)
}

// Presenter applies state snapshots to a Renderer. Apply is safe to call
// from the delivery coordinator's OnState callback; it never calls back
// into Actions synchronously.
type Presenter struct {
	renderer Renderer
	actions  Actions
	clock    delivery.Clock
	timeout  time.Duration

	mu      sync.Mutex
	last    delivery.DeliveryState
	viewing string
	shown   string
	timer   delivery.Timer
}

func NewPresenter(r Renderer, a Actions, clock delivery.Clock, timeout time.Duration) *Presenter {
	if clock == nil {
		clock = delivery.SystemClock
	}
	if timeout <= 0 {
		timeout = DefaultBannerTimeout
	}
	return &Presenter{renderer: r, actions: a, clock: clock, timeout: timeout}
}

// Apply renders the latest delivery state.
func (p *Presenter) Apply(s delivery.DeliveryState) {
	p.mu.Lock()
	p.last = s
	p.redrawLocked()
	suppressed := s.Phase == delivery.Complete && s.NotificationVisible && p.viewing != "" && p.viewing == s.JobID
	p.mu.Unlock()

	// The results are already on screen, so the banner counts as viewed.
	if suppressed {
		go p.actions.Hide(s.JobID)
	}
}

// View navigates to the result behind the banner. It is a no-op once the
// banner is gone.
func (p *Presenter) View() (*models.AnalysisResult, bool) {
	p.mu.Lock()
	jobID := p.shown
	if jobID == "" {
		p.mu.Unlock()
		return nil, false
	}
	p.viewing = jobID
	p.clearLocked()
	p.mu.Unlock()

	return p.actions.View()
}

// Dismiss closes the banner without navigating. No-op once it is gone.
func (p *Presenter) Dismiss() {
	p.mu.Lock()
	if p.shown == "" {
		p.mu.Unlock()
		return
	}
	p.clearLocked()
	p.mu.Unlock()

	p.actions.Dismiss()
}

// ShowingResults records which job's results screen is open; "" when the
// user leaves it.
func (p *Presenter) ShowingResults(jobID string) {
	p.mu.Lock()
	p.viewing = jobID
	p.redrawLocked()
	suppressed := jobID != "" && p.last.Phase == delivery.Complete && p.last.NotificationVisible && p.last.JobID == jobID
	p.mu.Unlock()

	if suppressed {
		p.actions.Hide(jobID)
	}
}

// Visible returns the job whose banner is on screen, if any.
func (p *Presenter) Visible() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown, p.shown != ""
}

func (p *Presenter) redrawLocked() {
	b, ok := Render(p.last, p.viewing)
	if !ok {
		p.clearLocked()
		return
	}
	if p.shown == b.JobID {
		return
	}

	p.clearLocked()
	p.shown = b.JobID
	p.renderer.Show(b)

	jobID := b.JobID
	p.timer = p.clock.AfterFunc(p.timeout, func() { p.expire(jobID) })
}

func (p *Presenter) clearLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.shown != "" {
		p.renderer.Hide(p.shown)
		p.shown = ""
	}
}

func (p *Presenter) expire(jobID string) {
	p.mu.Lock()
	if p.shown != jobID {
		p.mu.Unlock()
		return
	}
	p.clearLocked()
	p.mu.Unlock()

	p.actions.Hide(jobID)
}

// TextRenderer prints banners as lines of text.
type TextRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Show(b Banner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, "[%s] %s\n", b.Title, b.Message)
}

func (r *TextRenderer) Hide(jobID string) {}
