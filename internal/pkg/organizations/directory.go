package organizations

import (
	"context"
	"errors"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"gorm.io/gorm"
)

// Directory is the read interface to the host product's organization
// directory. The billing engine consults it for ownership checks and plan
// defaults; the directory itself is owned elsewhere.
type Directory interface {
	GetOrganization(ctx context.Context, id uint) (*models.Organization, error)
}

type gormDirectory struct {
	db *gorm.DB
}

// NewDirectory creates a directory reading the host's organizations table.
func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) GetOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	var org models.Organization
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("organization not found")
		}
		return nil, errs.Persistence(err)
	}
	return &org, nil
}
