package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/stager/internal/core/domain"
	"github.com/vietddude/stager/internal/infra/storage"
)

// MemoryStorage backs tests and database-less demo runs. Semantics mirror
// the PostgreSQL repositories, including upsert start_time preservation.
type MemoryStorage struct {
	checkpoints map[string]*domain.Checkpoint
	months      map[string]*domain.ProcessedMonth
	monthBackup map[string]*domain.ProcessedMonth
	logs        []*domain.LogRecord
	nextID      int64
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		checkpoints: make(map[string]*domain.Checkpoint),
		months:      make(map[string]*domain.ProcessedMonth),
		monthBackup: make(map[string]*domain.ProcessedMonth),
	}
}

func checkpointKey(pipeline, runID, stage, key string) string {
	return fmt.Sprintf("%s|%s|%s|%s", pipeline, runID, stage, key)
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyCheckpoint(cp *domain.Checkpoint) *domain.Checkpoint {
	cc := *cp
	cc.Metadata = copyMeta(cp.Metadata)
	return &cc
}

func copyMonth(pm *domain.ProcessedMonth) *domain.ProcessedMonth {
	cc := *pm
	cc.Metadata = copyMeta(pm.Metadata)
	return &cc
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(
	ctx context.Context,
	pipeline, runID, stage, key string,
) (*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if cp, ok := r.store.checkpoints[checkpointKey(pipeline, runID, stage, key)]; ok {
		return copyCheckpoint(cp), nil
	}
	return nil, nil
}

func (r *CheckpointRepo) Upsert(ctx context.Context, cp *domain.Checkpoint) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	k := checkpointKey(cp.PipelineName, cp.RunID, cp.Stage, cp.Key)

	status := cp.Status
	if status == "" {
		status = domain.CheckpointStatusPending
	}

	if existing, ok := r.store.checkpoints[k]; ok {
		existing.Value = cp.Value
		existing.Status = status
		existing.EndTime = &now
		if existing.StartTime != nil {
			existing.DurationMs = now.Sub(*existing.StartTime).Milliseconds()
		}
		existing.Metadata = copyMeta(cp.Metadata)
		existing.UpdatedAt = now
		return nil
	}

	r.store.nextID++
	start := now
	end := now
	r.store.checkpoints[k] = &domain.Checkpoint{
		ID:           r.store.nextID,
		PipelineName: cp.PipelineName,
		RunID:        cp.RunID,
		Stage:        cp.Stage,
		Key:          cp.Key,
		Value:        cp.Value,
		Status:       status,
		StartTime:    &start,
		EndTime:      &end,
		DurationMs:   0,
		Metadata:     copyMeta(cp.Metadata),
		UpdatedAt:    now,
	}
	return nil
}

func (r *CheckpointRepo) Start(
	ctx context.Context,
	pipeline, runID, stage, key string,
	startTime time.Time,
) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	k := checkpointKey(pipeline, runID, stage, key)
	if _, ok := r.store.checkpoints[k]; ok {
		return nil // First writer wins
	}

	r.store.nextID++
	start := startTime
	r.store.checkpoints[k] = &domain.Checkpoint{
		ID:           r.store.nextID,
		PipelineName: pipeline,
		RunID:        runID,
		Stage:        stage,
		Key:          key,
		Status:       domain.CheckpointStatusInProgress,
		StartTime:    &start,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

func (r *CheckpointRepo) ListByRun(
	ctx context.Context,
	pipeline, runID string,
) ([]*domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var cps []*domain.Checkpoint
	for _, cp := range r.store.checkpoints {
		if cp.PipelineName == pipeline && cp.RunID == runID {
			cps = append(cps, copyCheckpoint(cp))
		}
	}
	sort.Slice(cps, func(i, j int) bool { return cps[i].ID < cps[j].ID })
	return cps, nil
}

func (r *CheckpointRepo) CountStuck(
	ctx context.Context,
	pipeline string,
	cutoff time.Time,
) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, cp := range r.store.checkpoints {
		if cp.PipelineName == pipeline &&
			cp.Status == domain.CheckpointStatusInProgress &&
			cp.StartTime != nil && cp.StartTime.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (r *CheckpointRepo) CountFailed(ctx context.Context, pipeline string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, cp := range r.store.checkpoints {
		if cp.PipelineName == pipeline && cp.Status == domain.CheckpointStatusFailed {
			count++
		}
	}
	return count, nil
}

// -----------------------------------------------------------------------------
// Month Repository
// -----------------------------------------------------------------------------

type MonthRepo struct {
	store *MemoryStorage
}

func NewMonthRepo(store *MemoryStorage) *MonthRepo {
	return &MonthRepo{store: store}
}

func (r *MonthRepo) ListProcessed(ctx context.Context) ([]*domain.ProcessedMonth, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var months []*domain.ProcessedMonth
	for _, pm := range r.store.months {
		months = append(months, copyMonth(pm))
	}
	sort.Slice(months, func(i, j int) bool { return months[i].MonthKey < months[j].MonthKey })
	return months, nil
}

func (r *MonthRepo) Upsert(ctx context.Context, pm *domain.ProcessedMonth) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	monthKey := pm.MonthKey
	if monthKey == "" {
		monthKey = domain.Month{Year: pm.Year, Month: pm.Month}.Key()
	}

	status := pm.Status
	if status == "" {
		status = domain.MonthStatusInProgress
	}

	if existing, ok := r.store.months[monthKey]; ok {
		existing.Status = status
		existing.Metadata = copyMeta(pm.Metadata)
		existing.ProcessedAt = now
		existing.UpdatedAt = now
		return nil
	}

	r.store.nextID++
	r.store.months[monthKey] = &domain.ProcessedMonth{
		ID:          r.store.nextID,
		MonthKey:    monthKey,
		Year:        pm.Year,
		Month:       pm.Month,
		Status:      status,
		ProcessedAt: now,
		UpdatedAt:   now,
		Metadata:    copyMeta(pm.Metadata),
	}
	return nil
}

func (r *MonthRepo) ListByStatus(
	ctx context.Context,
	status domain.MonthStatus,
) ([]*domain.ProcessedMonth, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var months []*domain.ProcessedMonth
	for _, pm := range r.store.months {
		if pm.Status == status {
			months = append(months, copyMonth(pm))
		}
	}
	sort.Slice(months, func(i, j int) bool { return months[i].MonthKey < months[j].MonthKey })
	return months, nil
}

func (r *MonthRepo) CountByStatus(ctx context.Context, status domain.MonthStatus) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, pm := range r.store.months {
		if pm.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *MonthRepo) DeleteAll(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	count := int64(len(r.store.months))
	r.store.months = make(map[string]*domain.ProcessedMonth)
	return count, nil
}

// -----------------------------------------------------------------------------
// Log Repository
// -----------------------------------------------------------------------------

type LogRepo struct {
	store *MemoryStorage
}

func NewLogRepo(store *MemoryStorage) *LogRepo {
	return &LogRepo{store: store}
}

func (r *LogRepo) Insert(ctx context.Context, rec *domain.LogRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.insertLocked(rec)
	return nil
}

func (r *LogRepo) InsertBatch(ctx context.Context, recs []*domain.LogRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, rec := range recs {
		r.insertLocked(rec)
	}
	return nil
}

func (r *LogRepo) insertLocked(rec *domain.LogRecord) {
	r.store.nextID++
	cc := *rec
	cc.ID = r.store.nextID
	if cc.Timestamp.IsZero() {
		cc.Timestamp = time.Now().UTC()
	}
	cc.Metadata = copyMeta(rec.Metadata)
	r.store.logs = append(r.store.logs, &cc)
}

func (r *LogRepo) GapStats(ctx context.Context, runID string) (*storage.GapStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	stats := &storage.GapStats{}
	for _, rec := range r.store.logs {
		if rec.RunID != runID {
			continue
		}
		stats.Count++
		ts := rec.Timestamp
		if stats.First == nil || ts.Before(*stats.First) {
			first := ts
			stats.First = &first
		}
		if stats.Last == nil || ts.After(*stats.Last) {
			last := ts
			stats.Last = &last
		}
	}
	return stats, nil
}

func (r *LogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var kept []*domain.LogRecord
	var removed int64
	for _, rec := range r.store.logs {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.store.logs = kept
	return removed, nil
}

// -----------------------------------------------------------------------------
// Recovery Repository (Minimal)
// -----------------------------------------------------------------------------

// In-memory metadata is always a parsed map, so only the status and
// year/month corruption classes are detectable here.

type RecoveryRepo struct{ store *MemoryStorage }

func NewRecoveryRepo(s *MemoryStorage) *RecoveryRepo { return &RecoveryRepo{store: s} }

func corruptedReason(pm *domain.ProcessedMonth) string {
	if pm.Year == 0 || pm.Month == 0 {
		return "missing year or month"
	}
	switch pm.Status {
	case domain.MonthStatusInProgress, domain.MonthStatusCompleted, domain.MonthStatusFailed:
	default:
		return "invalid status: " + string(pm.Status)
	}
	return ""
}

func (r *RecoveryRepo) FindCorrupted(ctx context.Context) ([]storage.CorruptedRow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var corrupted []storage.CorruptedRow
	for _, pm := range r.store.months {
		if reason := corruptedReason(pm); reason != "" {
			corrupted = append(corrupted, storage.CorruptedRow{
				MonthKey: pm.MonthKey,
				Reason:   reason,
			})
		}
	}
	sort.Slice(corrupted, func(i, j int) bool {
		return corrupted[i].MonthKey < corrupted[j].MonthKey
	})
	return corrupted, nil
}

func (r *RecoveryRepo) BackupMonths(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for k, pm := range r.store.months {
		r.store.monthBackup[k] = copyMonth(pm)
	}
	return int64(len(r.store.months)), nil
}

func (r *RecoveryRepo) DeleteCorrupted(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var removed int64
	for k, pm := range r.store.months {
		if corruptedReason(pm) != "" {
			delete(r.store.months, k)
			removed++
		}
	}
	return removed, nil
}
