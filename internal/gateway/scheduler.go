package gateway

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// scheduler wraps a cron.Cron and tracks the job ids the Gateway hands out,
// so CancelJob can look up the underlying cron.EntryID by an opaque string.
type scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func newScheduler() *scheduler {
	return &scheduler{
		cron:    cron.New(cron.WithSeconds()),
		entries: make(map[string]cron.EntryID),
	}
}

func (s *scheduler) start() { s.cron.Start() }
func (s *scheduler) stop()  { s.cron.Stop() }

func (s *scheduler) add(spec string, fn func()) (string, error) {
	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return "", fmt.Errorf("gateway: invalid schedule %q: %w", spec, err)
	}
	jobID := "job_" + uuid.NewString()[:8]

	s.mu.Lock()
	s.entries[jobID] = entryID
	s.mu.Unlock()

	return jobID, nil
}

func (s *scheduler) cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[jobID]
	if !ok {
		return fmt.Errorf("gateway: unknown job %q", jobID)
	}
	s.cron.Remove(entryID)
	delete(s.entries, jobID)
	return nil
}

// everyMinutesSpec builds a seconds-field cron expression firing every n
// minutes, matching robfig/cron/v3's WithSeconds parser.
func everyMinutesSpec(n int) string {
	return fmt.Sprintf("0 */%d * * * *", n)
}

// ScheduleHeartbeat registers a periodic Heartbeat emitter for every
// portfolio in portfolioIDs, submitted under sessionID every
// intervalMinutes with priority 3.
func (g *Gateway) ScheduleHeartbeat(portfolioIDs []string, sessionID string, intervalMinutes int) (string, error) {
	return g.scheduler.add(everyMinutesSpec(intervalMinutes), func() {
		for _, portfolioID := range portfolioIDs {
			_, err := g.Submit(types.Event{
				Kind:             types.EventKindHeartbeat,
				SessionID:        sessionID,
				PortfolioID:      portfolioID,
				Priority:         3,
				HeartbeatPayload: &types.HeartbeatPayload{},
			})
			if err != nil {
				g.logger.Warn("scheduled heartbeat submission failed", zap.Error(err))
			}
		}
	})
}

// ScheduleCronJob registers a periodic CronJob emitter firing on
// cronExpression, submitted under sessionID with priority 4.
func (g *Gateway) ScheduleCronJob(jobType types.CronJobType, sessionID, cronExpression string, instructions map[string]any) (string, error) {
	return g.scheduler.add(cronExpression, func() {
		_, err := g.Submit(types.Event{
			Kind:      types.EventKindCronJob,
			SessionID: sessionID,
			Priority:  4,
			CronPayload: &types.CronJobPayload{
				JobType:      jobType,
				Instructions: instructions,
			},
		})
		if err != nil {
			g.logger.Warn("scheduled cron job submission failed", zap.Error(err))
		}
	})
}

// CancelJob stops and removes a scheduled heartbeat or cron job.
func (g *Gateway) CancelJob(jobID string) error {
	return g.scheduler.cancel(jobID)
}
