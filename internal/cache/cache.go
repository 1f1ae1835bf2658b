package cache

import (
	"context"
	"time"

	"pargorojo/backend/internal/domain"
)

// PreviewCache holds recently computed reconciliation previews per session.
// Previews are recomputed in full from orders and vouchers, so a short TTL
// only smooths over a user refreshing the close screen repeatedly.
type PreviewCache interface {
	Get(ctx context.Context, sessionID string) (*domain.ReconciliationPreview, bool, error)
	Set(ctx context.Context, sessionID string, preview *domain.ReconciliationPreview, ttl time.Duration) error
	Invalidate(ctx context.Context, sessionID string) error
}

type NoopPreviewCache struct{}

func (NoopPreviewCache) Get(_ context.Context, _ string) (*domain.ReconciliationPreview, bool, error) {
	return nil, false, nil
}

func (NoopPreviewCache) Set(_ context.Context, _ string, _ *domain.ReconciliationPreview, _ time.Duration) error {
	return nil
}

func (NoopPreviewCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
