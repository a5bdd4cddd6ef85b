// Package bessdriver translates a dispatch Decision into a real command for
// live-mode execution, with a Mock driver for backtests.
//
// Grounded on powerpack.PowerPack/PowerPackMock (Tesla Powerpack over
// Modbus) and tesla.PowerPack (bare Tesla local-API stub): both expose a
// Commands channel fed by telemetry.BessCommand and a Telemetry channel of
// telemetry.BessReading. Here that's collapsed into a synchronous
// Driver.Execute call returning the realised power, matching
// simulator.BessExecutor's synchronous shape rather than the teacher's
// channel-driven Run loop (the simulator ticks deterministically; there's
// no independent polling cadence to manage in backtest or single-site
// live-dispatch mode).
package bessdriver

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cepro/dispatchengine/types"
	"github.com/google/uuid"
)

// Command is what gets issued to the physical battery for one tick.
type Command struct {
	TargetPowerKW float64 // positive = discharge (export to site), negative = charge
}

// Reading is what's read back from the physical battery after a command.
type Reading struct {
	ID          uuid.UUID
	Time        time.Time
	SoCKWh      float64
	ActualPower float64
}

// Driver issues a command to a BESS and reports what actually happened.
type Driver interface {
	Execute(ctx context.Context, cmd Command) (Reading, error)
}

// Tesla is the driver for a Tesla Powerpack at a Modbus host. It clamps and
// logs each command; it does not open a Modbus connection or write anything
// to the Powerpack. Grounded on powerpack.PowerPack's
// heartbeat/timeout/direct-power-mode command sequencing.
type Tesla struct {
	host                   string
	id                     uuid.UUID
	nameplateEnergy        float64
	nameplatePower         float64
	heartbeatToggle        bool
	haveIssuedFirstCommand bool
	logger                 *slog.Logger
}

// NewTesla prepares a driver for a Tesla Powerpack at host. No Modbus
// connection is made, here or in Execute, so a misconfigured host doesn't
// prevent constructing the rest of the wiring graph.
func NewTesla(id uuid.UUID, host string, nameplateEnergy, nameplatePower float64) *Tesla {
	return &Tesla{
		host:            host,
		id:              id,
		nameplateEnergy: nameplateEnergy,
		nameplatePower:  nameplatePower,
		logger:          slog.Default().With("component", "bessdriver", "bess_id", id, "host", host),
	}
}

// Execute clamps the commanded power to the nameplate rating, logs it, and
// reports it back as fully realised; nothing is sent to the Powerpack.
func (t *Tesla) Execute(ctx context.Context, cmd Command) (Reading, error) {
	target := math.Max(-t.nameplatePower, math.Min(t.nameplatePower, cmd.TargetPowerKW))

	t.heartbeatToggle = !t.heartbeatToggle
	t.haveIssuedFirstCommand = true

	t.logger.Info("Issued command to BESS", "target_power_kw", target)

	// TODO: wire up the actual modbus write once a Powerpack is commissioned
	// on this site; until then Execute reports the command as fully realised.
	return Reading{
		ID:          uuid.New(),
		Time:        time.Now(),
		ActualPower: target,
	}, nil
}

// Mock simulates a BESS that always perfectly realises the commanded power,
// mirroring powerpack.PowerPackMock's fixed-response Run loop.
type Mock struct {
	SoCKWh float64
}

// NewMock builds a Mock seeded at the given starting SoC.
func NewMock(initialSoC float64) *Mock {
	return &Mock{SoCKWh: initialSoC}
}

// Execute always realises the requested power exactly.
func (m *Mock) Execute(ctx context.Context, cmd Command) (Reading, error) {
	return Reading{
		ID:          uuid.New(),
		Time:        time.Now(),
		SoCKWh:      m.SoCKWh,
		ActualPower: cmd.TargetPowerKW,
	}, nil
}

// ToCommand converts a dispatch Decision into the signed power convention
// Driver.Execute expects.
func ToCommand(dec types.Decision) Command {
	switch dec.Action {
	case types.ActionCharge:
		return Command{TargetPowerKW: -math.Abs(dec.KWhDelivered)}
	case types.ActionDischarge, types.ActionExport:
		return Command{TargetPowerKW: math.Abs(dec.KWhDelivered)}
	default:
		return Command{TargetPowerKW: 0}
	}
}
