package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/smarthome-bridge/internal/infrastructure/database"
)

// Repository defines device graph persistence.
type Repository interface {
	// GetByName retrieves a device by its unique name.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByName(ctx context.Context, name string) (*Device, error)

	// List retrieves all devices ordered by id.
	List(ctx context.Context) ([]Device, error)

	// Provision returns the device called spec.Name, creating it (and the
	// home and gateway controller it needs) when missing. The boolean
	// reports whether a new device row was inserted.
	Provision(ctx context.Context, spec Spec, p Provisioning) (*Device, bool, error)

	// CreateHome inserts a home. The spec is stored as given.
	CreateHome(ctx context.Context, spec HomeSpec) (*Home, error)

	// ListHomes retrieves all homes ordered by id.
	ListHomes(ctx context.Context) ([]Home, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const deviceColumns = `id, home_id, controller_id, name, description, type, pin, model,
	http_path, state, active, created_at, updated_at`

// GetByName retrieves a device by its unique name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Device, error) {
	return getByName(ctx, r.db, name)
}

func getByName(ctx context.Context, q database.Querier, name string) (*Device, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE name = ?`, name)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Provision runs get-or-create for the whole graph in one transaction.
// The UNIQUE constraints on devices.name and controllers.hardware_id turn a
// racing insert into a no-op followed by a read of the winning row.
func (r *SQLiteRepository) Provision(ctx context.Context, spec Spec, p Provisioning) (*Device, bool, error) {
	var (
		dev     *Device
		created bool
	)

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getByName(ctx, tx, spec.Name)
		if err == nil {
			dev = existing
			return nil
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			return err
		}

		now := database.FormatTime(r.now())

		homeID, err := firstOrCreateHome(ctx, tx, p, now)
		if err != nil {
			return err
		}
		controllerID, err := ensureController(ctx, tx, homeID, p, now)
		if err != nil {
			return err
		}

		var state sql.NullString
		if spec.State != nil {
			state = sql.NullString{String: string(*spec.State), Valid: true}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO devices (home_id, controller_id, name, description, type, pin, model,
				http_path, state, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(name) DO NOTHING`,
			homeID, controllerID, spec.Name, spec.Description, string(spec.Type), spec.Pin, spec.Model,
			nullableString(spec.HTTPPath), state, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting device: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		created = n > 0

		dev, err = getByName(ctx, tx, spec.Name)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return dev, created, nil
}

// firstOrCreateHome returns the lowest-id home, creating one when none exists.
func firstOrCreateHome(ctx context.Context, q database.Querier, p Provisioning, now string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM homes ORDER BY id LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("querying first home: %w", err)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO homes (name, timezone, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		p.HomeName, p.HomeTimezone, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting home: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading home id: %w", err)
	}
	return id, nil
}

func ensureController(ctx context.Context, q database.Querier, homeID int64, p Provisioning, now string) (int64, error) {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO controllers (home_id, name, description, hardware_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hardware_id) DO NOTHING`,
		homeID, p.GatewayName, p.GatewayDescription, p.GatewayHardwareID, now, now,
	); err != nil {
		return 0, fmt.Errorf("inserting controller: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx,
		`SELECT id FROM controllers WHERE hardware_id = ?`, p.GatewayHardwareID,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying controller: %w", err)
	}
	return id, nil
}

// SaveState writes a device state using q, which may be a transaction.
func SaveState(ctx context.Context, q database.Querier, id int64, state State, at time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE devices SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), database.FormatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

const homeColumns = `id, name, description, address, timezone, created_at, updated_at`

// CreateHome inserts a home and returns the stored row.
func (r *SQLiteRepository) CreateHome(ctx context.Context, spec HomeSpec) (*Home, error) {
	now := database.FormatTime(r.now())

	var h *Home
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO homes (name, description, address, timezone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			spec.Name, nullableString(spec.Description), nullableString(spec.Address), spec.Timezone, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting home: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading home id: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+homeColumns+` FROM homes WHERE id = ?`, id)
		if h, err = scanHome(row); err != nil {
			return fmt.Errorf("reading home: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ListHomes retrieves all homes ordered by id.
func (r *SQLiteRepository) ListHomes(ctx context.Context) ([]Home, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+homeColumns+` FROM homes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying homes: %w", err)
	}
	defer rows.Close()

	homes := []Home{}
	for rows.Next() {
		h, err := scanHome(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning home: %w", err)
		}
		homes = append(homes, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating homes: %w", err)
	}
	return homes, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var deviceType string
	var httpPath, state sql.NullString
	var active int
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&d.ID,
		&d.HomeID,
		&d.ControllerID,
		&d.Name,
		&d.Description,
		&deviceType,
		&d.Pin,
		&d.Model,
		&httpPath,
		&state,
		&active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.HTTPPath = stringPtr(httpPath)
	if state.Valid {
		d.State = State(state.String).Ptr()
	}
	d.Active = active != 0

	var err error
	if d.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

func scanHome(scanner rowScanner) (*Home, error) {
	var h Home
	var description, address sql.NullString
	var createdAt, updatedAt string

	if err := scanner.Scan(&h.ID, &h.Name, &description, &address, &h.Timezone, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	h.Description = stringPtr(description)
	h.Address = stringPtr(address)

	var err error
	if h.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if h.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &h, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
