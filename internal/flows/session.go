package flows

import (
	"sync"
	"time"

	"github.com/Proton-105/himera-lend/internal/domain"
	"github.com/Proton-105/himera-lend/internal/txflow"
	"github.com/Proton-105/himera-lend/internal/wizard"
)

// Session is one client's flow: its wizard, its event stream and the state of
// a running submission.
type Session struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	wizard *wizard.Wizard[Data]
	events *txflow.Broadcaster

	mu         sync.Mutex
	lastActive time.Time
	running    bool
	done       chan struct{}
}

// StepView describes one step to clients.
type StepView struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	HideBackButton bool   `json:"hideBackButton"`
	HideTitle      bool   `json:"hideTitle"`
}

// View is the JSON snapshot of a session.
type View struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	StepIndex  int        `json:"stepIndex"`
	Step       StepView   `json:"step"`
	Steps      []StepView `json:"steps"`
	Open       bool       `json:"open"`
	Modal      bool       `json:"modal"`
	Submitting bool       `json:"submitting"`
	Data       Data       `json:"data"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// View returns a consistent snapshot.
func (s *Session) View() View {
	snap := s.wizard.Snapshot()

	steps := s.wizard.Steps()
	views := make([]StepView, 0, len(steps))
	for _, step := range steps {
		views = append(views, stepView(step))
	}

	s.mu.Lock()
	running, updated := s.running, s.lastActive
	s.mu.Unlock()

	return View{
		ID:         s.ID,
		Kind:       s.Kind,
		StepIndex:  snap.Index,
		Step:       stepView(snap.Step),
		Steps:      views,
		Open:       snap.Open,
		Modal:      s.wizard.Modal(),
		Submitting: running,
		Data:       snap.Data.clone(),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  updated,
	}
}

// Data returns the current shared data.
func (s *Session) Data() Data {
	return s.wizard.Data().clone()
}

// Subscribe streams the transaction events of the session.
func (s *Session) Subscribe() (<-chan txflow.Event, func()) {
	return s.events.Subscribe()
}

// Network returns the network of the flow.
func (s *Session) Network() domain.Network {
	return s.wizard.Data().Network
}

// Submitting reports whether an action is running.
func (s *Session) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done returns a channel closed when the running submission ends, or nil when
// nothing is running.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.done
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.running
}

func (s *Session) close() {
	s.events.Close()
}

func stepView(step wizard.Step[Data]) StepView {
	return StepView{
		ID:             step.ID,
		Title:          step.Title,
		Description:    step.Description,
		HideBackButton: step.HideBackButton,
		HideTitle:      step.HideTitle,
	}
}
