package store

import (
	"fmt"
	"log/slog"

	"github.com/cepro/dispatchengine/simulator"
	"github.com/cepro/dispatchengine/types"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// SupabaseSyncer uploads a finished run's summary rows, the role
// supabase.Client plays for data_platform.DataPlatform. Kept as a narrow
// interface so a Store can be built without a real Supabase project.
type SupabaseSyncer interface {
	UploadDecisions(rows []StoredDecision) error
	UploadMonthCloses(rows []StoredMonthClose) error
}

// Store buffers per-tick decisions and monthly summaries in a local SQLite
// database, and satisfies simulator.RunSink. It implements
// simulator.RunSink.
type Store struct {
	db     *gorm.DB
	sync   SupabaseSyncer // nil disables Supabase sync entirely
	logger *slog.Logger
}

var _ simulator.RunSink = (*Store)(nil)

// New opens (creating if necessary) a SQLite database at path and migrates
// the schema, mirroring repository.New.
func New(path string, sync SupabaseSyncer) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&StoredDecision{}, &StoredMonthClose{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{
		db:     db,
		sync:   sync,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// RecordTick persists one tick's Decision, implementing simulator.RunSink.
func (s *Store) RecordTick(dec types.Decision, outcome simulator.PhysicalOutcome) error {
	row := StoredDecision{
		ID:                dec.ID,
		Timestamp:         dec.Timestamp,
		Action:            string(dec.Action),
		KWhDelivered:      dec.KWhDelivered,
		SoCAfter:          outcome.SoCAfter,
		GridImportKW:      outcome.GridImportKW,
		GridExportKW:      outcome.GridExportKW,
		SelfConsumptionKW: outcome.SelfConsumptionKW,
		ChosenPolicy:      dec.ChosenPolicy,
		Reasoning:         dec.Reasoning,
	}
	if result := s.db.Create(&row); result.Error != nil {
		return fmt.Errorf("store decision: %w", result.Error)
	}
	return nil
}

// RecordMonthClose persists one month's effect-tariff summary.
func (s *Store) RecordMonthClose(monthKey string, effectTariffCost float64) error {
	row := StoredMonthClose{
		MonthKey:         monthKey,
		EffectTariffCost: effectTariffCost,
	}
	if result := s.db.Create(&row); result.Error != nil {
		return fmt.Errorf("store month close: %w", result.Error)
	}
	return nil
}

// SyncPending best-effort-uploads any rows not yet successfully synced to
// Supabase, incrementing the attempt count on failure and leaving them for
// the next call — the same "process fresh, then retry old" shape as
// data_platform.DataPlatform.Run, but invoked once at the end of a
// finished run rather than on an upload ticker.
func (s *Store) SyncPending(maxAttempts uint) error {
	if s.sync == nil {
		return nil
	}

	var decisions []StoredDecision
	if result := s.db.Where("upload_attempt_count < ?", maxAttempts).Find(&decisions); result.Error != nil {
		return fmt.Errorf("load pending decisions: %w", result.Error)
	}
	if len(decisions) > 0 {
		if err := s.sync.UploadDecisions(decisions); err != nil {
			s.logger.Error("Failed to sync decisions to Supabase", "error", err)
			s.db.Model(&StoredDecision{}).Where("upload_attempt_count < ?", maxAttempts).
				UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1))
		} else {
			ids := make([]string, 0, len(decisions))
			for _, d := range decisions {
				ids = append(ids, d.ID.String())
			}
			s.db.Where("id IN ?", ids).Delete(&StoredDecision{})
		}
	}

	var closes []StoredMonthClose
	if result := s.db.Where("upload_attempt_count < ?", maxAttempts).Find(&closes); result.Error != nil {
		return fmt.Errorf("load pending month closes: %w", result.Error)
	}
	if len(closes) > 0 {
		if err := s.sync.UploadMonthCloses(closes); err != nil {
			s.logger.Error("Failed to sync month closes to Supabase", "error", err)
			s.db.Model(&StoredMonthClose{}).Where("upload_attempt_count < ?", maxAttempts).
				UpdateColumn("upload_attempt_count", gorm.Expr("upload_attempt_count + ?", 1))
		} else {
			s.db.Delete(&closes)
		}
	}

	return nil
}
