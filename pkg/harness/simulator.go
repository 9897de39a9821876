package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dukex/orgflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// ErrSimulatedFailure is returned by a simulated collaborator call picked to fail.
var ErrSimulatedFailure = errors.New("simulated collaborator failure")

// Call is one recorded collaborator call.
type Call struct {
	Op       string
	Args     []any
	Duration time.Duration
	Err      error
}

// Simulator stands in for every external collaborator. Failures and call
// durations are drawn from a seeded source so a seed always replays the same
// run; durations advance the fake clock the executor measures with.
type Simulator struct {
	clock       *clockwork.FakeClock
	failureRate float64
	maxLatency  time.Duration

	mu    sync.Mutex
	rnd   *rand.Rand
	calls []Call
	seq   int
}

func NewSimulator(clock *clockwork.FakeClock, seed uint64, failureRate float64, maxLatency time.Duration) *Simulator {
	return &Simulator{
		clock:       clock,
		failureRate: failureRate,
		maxLatency:  maxLatency,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Collaborators returns the simulated collaborator bundle.
func (s *Simulator) Collaborators() protocol.Collaborators {
	return protocol.Collaborators{
		Email:        simEmail{s},
		Notification: simNotification{s},
		Members:      simMembers{s},
		Tasks:        simTasks{s},
		Webhooks:     simWebhooks{s},
		Approvals:    simApprovals{s},
	}
}

// Calls returns the calls made so far, in order.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// call records op, advances the clock by a simulated duration and decides
// whether the call fails. It returns a sequence number for generated ids.
func (s *Simulator) call(ctx context.Context, op string, args ...any) (int, error) {
	s.mu.Lock()

	var latency time.Duration
	if s.maxLatency > 0 {
		latency = time.Duration(s.rnd.Int64N(int64(s.maxLatency) + 1))
	}

	var err error
	if s.failureRate > 0 && s.rnd.Float64() < s.failureRate {
		err = fmt.Errorf("%w: %s", ErrSimulatedFailure, op)
	}

	s.seq++
	seq := s.seq
	s.calls = append(s.calls, Call{Op: op, Args: args, Duration: latency, Err: err})
	s.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return seq, ctxErr
	}

	if latency > 0 {
		s.clock.Advance(latency)
	}

	return seq, err
}

type simEmail struct{ s *Simulator }

func (e simEmail) Send(ctx context.Context, to, subject, body string) error {
	_, err := e.s.call(ctx, "email.send", to, subject, body)

	return err
}

type simNotification struct{ s *Simulator }

func (n simNotification) Send(ctx context.Context, recipients []string, title, message, urgency string) error {
	_, err := n.s.call(ctx, "notification.send", recipients, title, message, urgency)

	return err
}

type simMembers struct{ s *Simulator }

func (m simMembers) Update(ctx context.Context, recordID, field string, value any) error {
	_, err := m.s.call(ctx, "member.update", recordID, field, value)

	return err
}

func (m simMembers) AwardPoints(ctx context.Context, recordID string, points int, reason string) error {
	_, err := m.s.call(ctx, "member.award_points", recordID, points, reason)

	return err
}

type simTasks struct{ s *Simulator }

func (t simTasks) Create(ctx context.Context, title, description, assignee, dueDate, priority string) (string, error) {
	seq, err := t.s.call(ctx, "task.create", title, description, assignee, dueDate, priority)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("task-%d", seq), nil
}

type simWebhooks struct{ s *Simulator }

func (w simWebhooks) Call(ctx context.Context, url, method string, headers map[string]string, body any) (int, string, error) {
	_, err := w.s.call(ctx, "webhook.call", url, method, headers, body)
	if err != nil {
		return 0, "", err
	}

	return 200, `{"ok":true}`, nil
}

type simApprovals struct{ s *Simulator }

func (a simApprovals) Request(ctx context.Context, approvers []string, title, description string, timeoutHours *int) (string, error) {
	seq, err := a.s.call(ctx, "approval.request", approvers, title, description, timeoutHours)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("approval-%d", seq), nil
}
