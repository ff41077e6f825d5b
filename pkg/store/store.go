// Package store implements the SQLite-backed time-series store that the
// collector, runner, and campaign driver read and write: BMC and RAPL
// samples, capping-command history, test-run records, and a single
// system-info row.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" //nolint:revive // driver registration
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// BMCKind identifies which BMC back-end produced a sample or was configured
// for a run; stored verbatim in system_info.bmc_type.
type BMCKind string

// Supported BMC kinds (mirrors pkg/bmc.Kind; kept independent so pkg/store
// has no import-time dependency on pkg/bmc).
const (
	IPMI    BMCKind = "ipmi"
	Redfish BMCKind = "redfish"
)

// BMCSample is one row of the bmc table.
type BMCSample struct {
	Timestamp     time.Time
	PowerWatts    int
	CapLevelWatts *int
}

// RAPLSample is one row of the rapl table.
type RAPLSample struct {
	Timestamp  time.Time
	Package    string
	PowerWatts float64
}

// CappingCommand is one row of the capping_commands table.
type CappingCommand struct {
	Timestamp     time.Time
	CapLevelWatts int
}

// TestRecord is one row of the tests table.
type TestRecord struct {
	ID                          int64
	Start, End                  time.Time
	CapFrom, CapTo              int
	NSteps                      int
	LoadPct                     int
	PauseLoadBetweenCapSettings bool
}

// SystemInfo is the single row of the system_info table: a flat mapping of
// hardware/OS facts collected by the agent (spec §6.3 columns). Empty string
// fields are omitted from the JSON encoding; numeric fields are always present.
type SystemInfo struct {
	Hostname       string  `json:"hostname,omitempty"`
	OSName         string  `json:"os_name,omitempty"`
	Architecture   string  `json:"architecture,omitempty"`
	CPUs           int     `json:"cpus"`
	ThreadsPerCore int     `json:"threads_per_core"`
	CoresPerSocket int     `json:"cores_per_socket"`
	Sockets        int     `json:"sockets"`
	VendorID       string  `json:"vendor_id,omitempty"`
	ModelName      string  `json:"model_name,omitempty"`
	CPUMHz         float64 `json:"cpu_mhz"`
	CPUMaxMHz      float64 `json:"cpu_max_mhz"`
	CPUMinMHz      float64 `json:"cpu_min_mhz"`
	BIOSDate       string  `json:"bios_date,omitempty"`
	BIOSVendor     string  `json:"bios_vendor,omitempty"`
	BIOSVersion    string  `json:"bios_version,omitempty"`
	BoardName      string  `json:"board_name,omitempty"`
	BoardVendor    string  `json:"board_vendor,omitempty"`
	BoardVersion   string  `json:"board_version,omitempty"`
	SysVendor      string  `json:"sys_vendor,omitempty"`
	BMCType        string  `json:"bmc_type,omitempty"`
}

// Store wraps a single *sql.DB connection to a capping-test SQLite database,
// with the schema already migrated to the latest version.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and applies
// any pending schema migrations. The caller must call Close.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	// A single writer connection avoids SQLITE_BUSY from concurrent writers
	// in the same process (collector ticks and runner cap-log inserts both
	// target this handle; spec §5's "each task holds its own BMC endpoint"
	// contract doesn't extend to the store, which is explicitly shared).
	db.SetMaxOpenConns(1)

	m, err := newMigrator(logger)
	if err != nil {
		db.Close()

		return nil, err
	}

	if err := m.apply(db); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSample writes one BMC sample and zero or more RAPL samples collected
// at the same logical timestamp in a single transaction (spec §4.3, §5
// "logically simultaneous" ordering guarantee).
func (s *Store) InsertSample(ctx context.Context, bmcSample BMCSample, raplSamples []RAPLSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ts := bmcSample.Timestamp.UTC().Format(timeLayout)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bmc (timestamp, power, cap_level) VALUES (?, ?, ?)`,
		ts, bmcSample.PowerWatts, bmcSample.CapLevelWatts,
	); err != nil {
		return fmt.Errorf("store: insert bmc sample: %w", err)
	}

	for _, r := range raplSamples {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rapl (timestamp, package, power) VALUES (?, ?, ?)`,
			r.Timestamp.UTC().Format(timeLayout), r.Package, r.PowerWatts,
		); err != nil {
			return fmt.Errorf("store: insert rapl sample for package %s: %w", r.Package, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit sample tx: %w", err)
	}

	return nil
}

// InsertCappingCommand logs one applied cap level (spec §4.4.1 cap-change
// logging — used both for the real applied cap and the "shadow" row one
// millisecond earlier that renders a staircase in plots).
func (s *Store) InsertCappingCommand(ctx context.Context, cmd CappingCommand) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO capping_commands (timestamp, cap_level) VALUES (?, ?)`,
		cmd.Timestamp.UTC().Format(timeLayout), cmd.CapLevelWatts,
	)
	if err != nil {
		return fmt.Errorf("store: insert capping command: %w", err)
	}

	return nil
}

// InsertTestRecord records one completed run_test invocation and returns its
// assigned test_id.
func (s *Store) InsertTestRecord(ctx context.Context, rec TestRecord) (int64, error) {
	pause := 0
	if rec.PauseLoadBetweenCapSettings {
		pause = 1
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tests (start, end, cap_from, cap_to, n_steps, load_pct, pause_load_between_cap_settings)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Start.UTC().Format(timeLayout), rec.End.UTC().Format(timeLayout),
		rec.CapFrom, rec.CapTo, rec.NSteps, rec.LoadPct, pause,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert test record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: read test record id: %w", err)
	}

	return id, nil
}

// InsertSystemInfo writes the single system_info row. Spec §3 requires
// exactly one row to ever exist; callers are expected to call this once at
// runner startup.
func (s *Store) InsertSystemInfo(ctx context.Context, info SystemInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_info (
			hostname, os_name, architecture, cpus, threads_per_core, cores_per_socket,
			sockets, vendor_id, model_name, cpu_mhz, cpu_max_mhz, cpu_min_mhz,
			bios_date, bios_vendor, bios_version, board_name, board_vendor,
			board_version, sys_vendor, bmc_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.Hostname, info.OSName, info.Architecture, info.CPUs, info.ThreadsPerCore,
		info.CoresPerSocket, info.Sockets, info.VendorID, info.ModelName, info.CPUMHz,
		info.CPUMaxMHz, info.CPUMinMHz, info.BIOSDate, info.BIOSVendor, info.BIOSVersion,
		info.BoardName, info.BoardVendor, info.BoardVersion, info.SysVendor, info.BMCType,
	)
	if err != nil {
		return fmt.Errorf("store: insert system info: %w", err)
	}

	return nil
}

// CountBMCSamplesBetween returns the number of bmc rows with timestamp in
// [start, end], used by tests asserting the "non-empty BMC samples per test
// window" invariant (spec §3).
func (s *Store) CountBMCSamplesBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bmc WHERE timestamp BETWEEN ? AND ?`,
		start.UTC().Format(timeLayout), end.UTC().Format(timeLayout),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count bmc samples: %w", err)
	}

	return n, nil
}

// CappingCommandsBetween returns capping_commands rows ordered by timestamp,
// used by tests and post-campaign analysis to verify monotonic logging and
// cap-shadow pairing (spec §8 property 5).
func (s *Store) CappingCommandsBetween(ctx context.Context, start, end time.Time) ([]CappingCommand, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, cap_level FROM capping_commands WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp`,
		start.UTC().Format(timeLayout), end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("store: query capping commands: %w", err)
	}
	defer rows.Close()

	var out []CappingCommand

	for rows.Next() {
		var (
			tsStr string
			level int
		)

		if err := rows.Scan(&tsStr, &level); err != nil {
			return nil, fmt.Errorf("store: scan capping command: %w", err)
		}

		ts, err := time.Parse(timeLayout, tsStr)
		if err != nil {
			return nil, fmt.Errorf("store: parse capping command timestamp: %w", err)
		}

		out = append(out, CappingCommand{Timestamp: ts, CapLevelWatts: level})
	}

	return out, rows.Err()
}

// CountTestRecords returns the number of tests rows matching the given
// cap_from/cap_to pair, used by tests asserting one tests row per run_test
// invocation (spec §3, §8).
func (s *Store) CountTestRecords(ctx context.Context, capFrom, capTo int) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tests WHERE cap_from = ? AND cap_to = ?`,
		capFrom, capTo,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count test records: %w", err)
	}

	return n, nil
}
