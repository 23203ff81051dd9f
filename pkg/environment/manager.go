// Package environment resolves deployment environments: their secrets
// and the approval policy gating environment-bound jobs.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

var (
	// ErrUnknownEnvironment indicates a job referenced an environment that
	// was never configured.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrApprovalTimeout indicates no approval signal arrived in time.
	ErrApprovalTimeout = errors.New("approval timed out")

	// ErrApprovalRejected indicates an explicit rejection signal.
	ErrApprovalRejected = errors.New("approval rejected")

	// ErrNoPendingApproval indicates an approval signal named a job that
	// is not waiting on one.
	ErrNoPendingApproval = errors.New("no pending approval")
)

// Manager holds the configured environments and brokers approval
// signals between the API surface and blocked jobs.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	envs    map[string]models.Environment
	pending map[string]chan bool // "runID/jobID" → approve(true)/reject(false)
}

// NewManager creates a manager over a fixed environment configuration.
func NewManager(logger *slog.Logger, envs []models.Environment) *Manager {
	byName := make(map[string]models.Environment, len(envs))
	for _, env := range envs {
		byName[env.Name] = env
	}

	return &Manager{
		logger:  logger.With("module", "environment"),
		envs:    byName,
		pending: make(map[string]chan bool),
	}
}

// Resolve returns the environment bound to a job. Secrets in the
// returned value are resolved at dispatch time; callers must not retain
// them beyond the job's execution context.
func (m *Manager) Resolve(name string) (models.Environment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	env, ok := m.envs[name]
	if !ok {
		return models.Environment{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}

	return env, nil
}

// AwaitApproval blocks until the environment-gated job is approved,
// rejected, or the timeout elapses. Jobs bound to environments without
// a manual policy return immediately.
func (m *Manager) AwaitApproval(ctx context.Context, runID, jobID string, env models.Environment, timeout time.Duration) error {
	if env.Approval != models.ApprovalPolicyManual {
		return nil
	}

	key := approvalKey(runID, jobID)
	decision := make(chan bool, 1)

	m.mu.Lock()
	m.pending[key] = decision
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
	}()

	m.logger.Info("Awaiting manual approval",
		"run_id", runID,
		"job_id", jobID,
		"environment", env.Name,
		"timeout", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case approved := <-decision:
		if !approved {
			return fmt.Errorf("%w: %s/%s", ErrApprovalRejected, runID, jobID)
		}

		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s: %s/%s", ErrApprovalTimeout, timeout, runID, jobID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Signal delivers an external approve/reject decision to a waiting job.
func (m *Manager) Signal(runID, jobID string, approved bool) error {
	m.mu.Lock()
	decision, ok := m.pending[approvalKey(runID, jobID)]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNoPendingApproval, runID, jobID)
	}

	select {
	case decision <- approved:
	default:
		// A decision already landed; later signals are ignored.
	}

	return nil
}

// Redactor builds a redactor covering every secret value of every
// configured environment, for scrubbing the run-wide log stream.
func (m *Manager) Redactor() *Redactor {
	m.mu.Lock()
	defer m.mu.Unlock()

	var values []string

	for _, env := range m.envs {
		for _, v := range env.Secrets {
			values = append(values, v)
		}
	}

	return NewRedactor(values)
}

func approvalKey(runID, jobID string) string {
	return runID + "/" + jobID
}
