package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
	"github.com/PageForgeHQ/PageForge/internal/pkg/quota"
)

// processQuotaResetJob zeroes one counter and rotates its billing window.
func (q *Queue) processQuotaResetJob(ctx context.Context, job *Job) error {
	payload, err := QuotaResetJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid quota reset payload: %w", err)
	}

	db := database.GetDB()
	repo := quota.NewRepository(db)

	row, err := repo.GetQuota(ctx, payload.OrganizationID, models.QuotaDimension(payload.Dimension))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Counter was deleted after scheduling; nothing to reset.
			log.Printf("[JobQueue] Quota reset skipped, no counter for org %d dimension %s", payload.OrganizationID, payload.Dimension)
			return nil
		}
		return err
	}

	// The new window starts where the old one ended. If the row's window no
	// longer matches the one this job was scheduled against, another reset
	// already ran; zeroing again would wipe fresh usage.
	if row.PeriodEnd == nil || !row.PeriodEnd.Equal(payload.PeriodStart) {
		log.Printf("[JobQueue] Quota reset for org %d dimension %s is stale, dropping", payload.OrganizationID, payload.Dimension)
		return nil
	}

	start := payload.PeriodStart
	end := payload.PeriodEnd
	if err := quota.NewLedgerFromDB(db).ResetPeriod(ctx, payload.OrganizationID, models.QuotaDimension(payload.Dimension), &start, &end); err != nil {
		return err
	}

	log.Printf("[JobQueue] Reset %s counter for org %d, window %s to %s",
		payload.Dimension, payload.OrganizationID,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}
