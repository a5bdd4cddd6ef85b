// Package store buffers per-tick decisions and monthly summaries to a
// local SQLite file via gorm/glebarez-sqlite, with an optional best-effort
// sync of a finished run's summary to Supabase.
//
// Grounded on repository.Repository (gorm + glebarez/sqlite local buffer,
// one row type per thing stored, an "upload attempt count" column) and
// data_platform.DataPlatform (buffer-then-upload retry shape on top of
// it). Unlike the teacher, which buffers live telemetry pushed onto
// channels, Store is driven synchronously by simulator.RunSink's
// RecordTick/RecordMonthClose calls — there's no independent polling
// cadence here, the simulator already ticks deterministically.
package store

import (
	"time"

	"github.com/google/uuid"
)

// StoredDecision is a persisted per-tick decision row, mirroring
// repository.StoredBessReading's "embed the domain type, add bookkeeping
// columns" shape.
type StoredDecision struct {
	ID                 uuid.UUID `gorm:"primaryKey"`
	Timestamp          time.Time
	Action             string
	KWhDelivered       float64
	SoCAfter           float64
	GridImportKW       float64
	GridExportKW       float64
	SelfConsumptionKW  float64
	ChosenPolicy       string
	Reasoning          string
	UploadAttemptCount uint
}

// StoredMonthClose is a persisted monthly effect-tariff summary row.
type StoredMonthClose struct {
	ID                 uint `gorm:"primaryKey;autoIncrement"`
	MonthKey           string
	EffectTariffCost   float64
	ClosedAt           time.Time
	UploadAttemptCount uint
}
