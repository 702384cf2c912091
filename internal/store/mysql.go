package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/go-sql-driver/mysql"

	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

// Archive is the retired-segment store: when the manager evicts a shard
// with a flush, the final state of each segment still active in it is
// written here for later analysis, leaving Redis free to hold only
// resumable state. Segments a Segmenter retires as stale while its shard
// is live are not archived.
type Archive struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewArchive opens the MySQL connection pool. It does not run migrations;
// call MigrateUp with the path to the migrations directory first.
func NewArchive(cfg config.MySQLConfig, logger *utils.Logger) (*Archive, error) {
	if logger == nil {
		logger = utils.NewLogger("info", "text")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql connection: %w", err)
	}
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Archive{db: db, logger: logger}, nil
}

// Ping verifies connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		metrics.MySQLConnectionStatus.Set(0)
		return fmt.Errorf("store: mysql ping: %w", err)
	}
	metrics.MySQLConnectionStatus.Set(1)
	return nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	return a.db.Close()
}

// MigrateUp applies every pending migration under migrationsDir.
func (a *Archive) MigrateUp(migrationsDir string) error {
	m, err := a.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up: %w", err)
	}
	return nil
}

func (a *Archive) newMigrate(migrationsDir string) (*migrate.Migrate, error) {
	absPath, err := filepath.Abs(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("store: resolve migrations path: %w", err)
	}

	driver, err := mysql.WithInstance(a.db, &mysql.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: create mysql migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "mysql", driver)
	if err != nil {
		return nil, fmt.Errorf("store: initialize migrator: %w", err)
	}
	return m, nil
}

// RetiredSegment is one archived segment's final state, flattened for
// tabular storage.
type RetiredSegment struct {
	SSVID       int64
	SegmentID   string
	Kind        string
	Born        time.Time
	RetiredAt   time.Time
	MsgCount    int
	LastLat     *float64
	LastLon     *float64
	LastMsgTime *time.Time
}

// FromManagerSnapshot flattens the Segmenter-level snapshot the manager
// hands to a retiring sink into the archive's row shape.
func FromManagerSnapshot(ssvid int64, retiredAt time.Time, seg segmenter.SegmentSnapshot) RetiredSegment {
	row := RetiredSegment{
		SSVID:     ssvid,
		SegmentID: seg.ID,
		Kind:      seg.Kind.String(),
		Born:      seg.Born,
		RetiredAt: retiredAt,
		MsgCount:  seg.MsgCount,
	}
	if seg.LastPositionalMsg != nil {
		lat, lon := seg.LastPositionalMsg.Position.Lat, seg.LastPositionalMsg.Position.Lon
		row.LastLat, row.LastLon = &lat, &lon
	}
	if seg.LastMsg != nil {
		t := seg.LastMsg.Timestamp
		row.LastMsgTime = &t
	}
	return row
}

// InsertBatch archives a batch of retired segments in one transaction.
func (a *Archive) InsertBatch(ctx context.Context, rows []RetiredSegment) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.MySQLBatchDuration.Observe(time.Since(start).Seconds())
		metrics.MySQLBatchSize.Observe(float64(len(rows)))
	}()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("store: begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO retired_segments
			(ssvid, segment_id, kind, born, retired_at, msg_count, last_lat, last_lon, last_msg_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			kind = VALUES(kind), retired_at = VALUES(retired_at), msg_count = VALUES(msg_count),
			last_lat = VALUES(last_lat), last_lon = VALUES(last_lon), last_msg_time = VALUES(last_msg_time)
	`)
	if err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("store: prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.SSVID, row.SegmentID, row.Kind, row.Born, row.RetiredAt,
			row.MsgCount, row.LastLat, row.LastLon, row.LastMsgTime); err != nil {
			metrics.MySQLWriteErrors.Inc()
			return fmt.Errorf("store: archive segment %s: %w", row.SegmentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("store: commit archive transaction: %w", err)
	}
	return nil
}

// SegmentsForSSVID returns every archived segment for one vessel, most
// recently retired first.
func (a *Archive) SegmentsForSSVID(ctx context.Context, ssvid int64, limit int) ([]RetiredSegment, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT segment_id, kind, born, retired_at, msg_count, last_lat, last_lon, last_msg_time
		FROM retired_segments
		WHERE ssvid = ?
		ORDER BY retired_at DESC
		LIMIT ?
	`, ssvid, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query archived segments for ssvid %d: %w", ssvid, err)
	}
	defer rows.Close()

	var out []RetiredSegment
	for rows.Next() {
		row := RetiredSegment{SSVID: ssvid}
		if err := rows.Scan(&row.SegmentID, &row.Kind, &row.Born, &row.RetiredAt, &row.MsgCount,
			&row.LastLat, &row.LastLon, &row.LastMsgTime); err != nil {
			return nil, fmt.Errorf("store: scan archived segment: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate archived segments: %w", err)
	}
	return out, nil
}
