package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/evermore-labs/relate-api/databases"
)

// codeRetention is how long consumed or expired pairing codes are kept before
// the purge job removes them. Code validity is always computed on read; this
// job is storage hygiene only and never touches a still-redeemable code.
const codeRetention = 30 * 24 * time.Hour

// Scheduler handles periodic background housekeeping jobs
type Scheduler struct {
	cron   *cron.Cron
	CodeDB databases.PairingCodeDatabase
}

// NewScheduler creates a new scheduler instance
func NewScheduler(codeDB databases.PairingCodeDatabase) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		CodeDB: codeDB,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// hourly pairing code purge
	_, err := s.cron.AddFunc("0 * * * *", s.PurgeStalePairingCodes)
	if err != nil {
		zap.S().Errorw("failed to register pairing code purge job", "error", err)
		return
	}

	s.cron.Start()
	zap.S().Info("scheduler started")
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	zap.S().Info("scheduler stopped")
}

// PurgeStalePairingCodes deletes pairing codes that were consumed or expired
// longer than the retention window ago
func (s *Scheduler) PurgeStalePairingCodes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-codeRetention)
	filter := bson.M{"$or": bson.A{
		bson.M{"usedAt": bson.M{"$lt": cutoff}},
		bson.M{"expiresAt": bson.M{"$lt": cutoff}},
	}}

	deleted, err := s.CodeDB.DeleteMany(ctx, filter)
	if err != nil {
		zap.S().Errorw("failed to purge stale pairing codes", "error", err)
		return
	}
	if deleted > 0 {
		zap.S().Infow("purged stale pairing codes", "count", deleted)
	}
}
