package jobqueue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
)

const (
	resetScanInterval = 5 * time.Minute
	resetScanBatch    = 500
)

// Manager owns the global job queue and the scheduler that feeds it.
type Manager struct {
	queue       *Queue
	resetTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue:  NewQueue(2),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and the reset scheduler
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate the stop channel so the manager can be restarted after Stop.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Println("[JobQueue Manager] Starting job queue and reset scheduler")

	m.queue.Start()

	m.resetTicker = time.NewTicker(resetScanInterval)
	m.wg.Add(1)
	go m.resetScheduler()
}

// Stop stops the job queue and the reset scheduler
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Println("[JobQueue Manager] Stopping...")

	if m.resetTicker != nil {
		m.resetTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()
	log.Println("[JobQueue Manager] Stopped")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// resetScheduler periodically scans for counters whose billing window has
// lapsed and enqueues one reset job per row.
func (m *Manager) resetScheduler() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			log.Println("[JobQueue Manager] Reset scheduler stopping")
			return
		case <-m.resetTicker.C:
			if err := m.ScheduleDueResets(context.Background()); err != nil {
				log.Printf("[JobQueue Manager] Reset scan error: %v", err)
			}
		}
	}
}

// ScheduleDueResets enqueues a period reset job for every counter whose window
// ended in the past. The reset processor drops stale jobs, so enqueueing the
// same row twice across scans is harmless.
func (m *Manager) ScheduleDueResets(ctx context.Context) error {
	var due []models.UsageQuota
	err := database.GetDB().WithContext(ctx).
		Where("period_end IS NOT NULL AND period_end < ?", time.Now()).
		Limit(resetScanBatch).
		Find(&due).Error
	if err != nil {
		return err
	}

	for i := range due {
		row := &due[i]
		payload := QuotaResetJobPayload{
			OrganizationID: row.OrganizationID,
			Dimension:      string(row.Dimension),
			PeriodStart:    *row.PeriodEnd,
			PeriodEnd:      row.PeriodEnd.AddDate(0, 1, 0),
		}
		if _, err := m.queue.EnqueueJob(JobTypeQuotaPeriodReset, payload.ToMap()); err != nil {
			log.Printf("[JobQueue Manager] Failed to enqueue reset for org %d dimension %s: %v", row.OrganizationID, row.Dimension, err)
		}
	}
	return nil
}
