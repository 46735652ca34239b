package identity

import (
	"context"
	"time"

	"github.com/avelez/chapterboard/internal/models"
)

// SweepExpiredTokens deletes linking tokens past their expiry. Storage
// hygiene only: expiry and the used flag are enforced at read time, so
// correctness does not depend on this running.
func (r *Resolver) SweepExpiredTokens(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&models.AccountLinkingToken{})
	return res.RowsAffected, res.Error
}
