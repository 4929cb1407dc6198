package orderintent

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/storefront/internal/orderintent/domain"
	"github.com/smallbiznis/storefront/internal/orderintent/repository"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("orderintent",
	fx.Provide(repository.Provide),
	fx.Provide(NewLookup),
)

type lookup struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewLookup(db *gorm.DB, repo domain.Repository) domain.Lookup {
	return &lookup{db: db, repo: repo}
}

func (l *lookup) FindByReference(ctx context.Context, reference string) (*domain.Snapshot, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.ErrNotFound
	}
	snapshot, err := l.repo.FindByReference(ctx, l.db, reference)
	if err != nil {
		return nil, fmt.Errorf("find order intent %s: %w", reference, err)
	}
	if snapshot == nil {
		return nil, domain.ErrNotFound
	}
	return snapshot, nil
}
