// Package postgresdb provides a PostgreSQL-backed implementation of the
// storage contract. Alias allocation relies on the database's conditional
// upsert so that "check alias free" and "insert" happen in one atomic
// statement.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/quicklnk/quicklnk/internal/models"
	"github.com/quicklnk/quicklnk/internal/user"
)

// PostgresDB persists all collections in a PostgreSQL database.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

const uniqueViolation = "23505"

// New establishes the connection, runs the goose migrations and returns a
// configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
) (*PostgresDB, error) {
	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.Up(result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

func (db *PostgresDB) withTimeout(outerCtx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(outerCtx, db.connectionTimeout)
}

// UpsertLinkByAlias inserts the record or reclaims the alias slot from an
// expired incumbent in a single conditional upsert. Zero affected rows
// means the incumbent is still active.
func (db *PostgresDB) UpsertLinkByAlias(
	outerCtx context.Context,
	record models.LinkRecord,
	now time.Time,
) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	result, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO links (alias, id, long_url, short_url, created_at, expires_at, owner_user_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (alias) DO UPDATE
					SET id = EXCLUDED.id,
						long_url = EXCLUDED.long_url,
						short_url = EXCLUDED.short_url,
						created_at = EXCLUDED.created_at,
						expires_at = EXCLUDED.expires_at,
						owner_user_id = EXCLUDED.owner_user_id
					WHERE NOT (links.expires_at = $8 OR links.expires_at > $9)
		`,
		record.Alias,
		record.ID,
		record.LongURL,
		record.ShortURL,
		int64(record.CreatedAt),
		int64(record.ExpiresAt),
		nullableOwner(record.OwnerUserID),
		int64(models.NeverExpires),
		now.UnixMilli(),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrAliasTaken
	}

	return nil
}

// FindLinkByAlias returns the record holding the alias, active or not.
func (db *PostgresDB) FindLinkByAlias(
	outerCtx context.Context,
	alias string,
) (*models.LinkRecord, bool, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT alias, id, long_url, short_url, created_at, expires_at, owner_user_id
				FROM links
				WHERE alias = $1
		`,
		alias,
	)

	return scanLink(row)
}

// FindLinkByID returns the record with the given immutable id.
func (db *PostgresDB) FindLinkByID(
	outerCtx context.Context,
	id string,
) (*models.LinkRecord, bool, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT alias, id, long_url, short_url, created_at, expires_at, owner_user_id
				FROM links
				WHERE id = $1
		`,
		id,
	)

	return scanLink(row)
}

// GetLinksByOwner returns every record owned by the user, newest first.
func (db *PostgresDB) GetLinksByOwner(
	outerCtx context.Context,
	ownerUserID string,
) ([]models.LinkRecord, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT alias, id, long_url, short_url, created_at, expires_at, owner_user_id
				FROM links
				WHERE owner_user_id = $1
				ORDER BY created_at DESC
		`,
		ownerUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.LinkRecord{}
	for rows.Next() {
		record, _, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}

	return result, rows.Err()
}

// DeleteLink removes one record by id.
func (db *PostgresDB) DeleteLink(outerCtx context.Context, id string) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(ctx, `DELETE FROM links WHERE id = $1`, id)

	return err
}

// DeleteLinksByOwner removes every record owned by the user.
func (db *PostgresDB) DeleteLinksByOwner(outerCtx context.Context, ownerUserID string) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`DELETE FROM links WHERE owner_user_id = $1`,
		ownerUserID,
	)

	return err
}

// ExtendLinks moves the expiry of the owner's listed links.
func (db *PostgresDB) ExtendLinks(
	outerCtx context.Context,
	ownerUserID string,
	ids []string,
	newExpiresAt models.Millis,
) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`
			UPDATE links
				SET expires_at = $1
				WHERE owner_user_id = $2
					AND id = ANY($3)
		`,
		int64(newExpiresAt),
		ownerUserID,
		pq.Array(ids),
	)

	return err
}

// CreateUser stores a new user. The unique index on lower(email) enforces
// the case-insensitive uniqueness invariant.
func (db *PostgresDB) CreateUser(outerCtx context.Context, usr *user.User) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO users (
				id, name, email, password_hash, created_at,
				sub_plan, sub_expires_at,
				api_key, api_plan, api_expires_at,
				warning_threshold, is_admin, can_set_custom_expiry
			)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
		userColumns(usr)...,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrEmailTaken
		}

		return err
	}

	return nil
}

// GetUserByID returns the user with the given id.
func (db *PostgresDB) GetUserByID(
	outerCtx context.Context,
	userID string,
) (*user.User, bool, error) {
	return db.findUser(outerCtx, `WHERE id = $1`, userID)
}

// FindUserByEmail looks a user up case-insensitively.
func (db *PostgresDB) FindUserByEmail(
	outerCtx context.Context,
	email string,
) (*user.User, bool, error) {
	return db.findUser(outerCtx, `WHERE lower(email) = lower($1)`, email)
}

// FindUserByAPIKey looks a user up by its issued API key.
func (db *PostgresDB) FindUserByAPIKey(
	outerCtx context.Context,
	apiKey string,
) (*user.User, bool, error) {
	return db.findUser(outerCtx, `WHERE api_key = $1`, apiKey)
}

// UpdateUser replaces the stored user record.
func (db *PostgresDB) UpdateUser(outerCtx context.Context, usr *user.User) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	columns := userColumns(usr)
	result, err := db.database.ExecContext(
		ctx,
		`
			UPDATE users
				SET name = $2,
					email = $3,
					password_hash = $4,
					created_at = $5,
					sub_plan = $6,
					sub_expires_at = $7,
					api_key = $8,
					api_plan = $9,
					api_expires_at = $10,
					warning_threshold = $11,
					is_admin = $12,
					can_set_custom_expiry = $13
				WHERE id = $1
		`,
		columns...,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetAllUsers returns every stored user, oldest first.
func (db *PostgresDB) GetAllUsers(outerCtx context.Context) ([]user.User, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, name, email, password_hash, created_at,
					sub_plan, sub_expires_at,
					api_key, api_plan, api_expires_at,
					warning_threshold, is_admin, can_set_custom_expiry
				FROM users
				ORDER BY created_at
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []user.User{}
	for rows.Next() {
		usr, _, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *usr)
	}

	return result, rows.Err()
}

// AppendPayment appends to the payment ledger. Rows are never updated.
func (db *PostgresDB) AppendPayment(
	outerCtx context.Context,
	record models.PaymentRecord,
) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO payments (id, payment_id, user_id, user_email, amount, currency, duration_label, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		record.ID,
		record.PaymentID,
		record.UserID,
		record.UserEmail,
		record.Amount,
		record.Currency,
		record.DurationLabel,
		int64(record.CreatedAt),
	)

	return err
}

// GetPaymentsByUser returns the user's payment receipts, newest first.
func (db *PostgresDB) GetPaymentsByUser(
	outerCtx context.Context,
	userID string,
) ([]models.PaymentRecord, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, payment_id, user_id, user_email, amount, currency, duration_label, created_at
				FROM payments
				WHERE user_id = $1
				ORDER BY created_at DESC
		`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.PaymentRecord{}
	for rows.Next() {
		var record models.PaymentRecord
		var createdAt int64
		err := rows.Scan(
			&record.ID,
			&record.PaymentID,
			&record.UserID,
			&record.UserEmail,
			&record.Amount,
			&record.Currency,
			&record.DurationLabel,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		record.CreatedAt = models.Millis(createdAt)
		result = append(result, record)
	}

	return result, rows.Err()
}

// AppendQrCode appends to the QR generation log.
func (db *PostgresDB) AppendQrCode(outerCtx context.Context, record models.QrCodeRecord) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO qr_codes (id, owner_user_id, type, payload, created_at)
				VALUES ($1, $2, $3, $4, $5)
		`,
		record.ID,
		nullableOwner(record.OwnerUserID),
		record.Type,
		record.Payload,
		int64(record.CreatedAt),
	)

	return err
}

// GetQrCodesByOwner returns the user's QR generation events, newest first.
func (db *PostgresDB) GetQrCodesByOwner(
	outerCtx context.Context,
	ownerUserID string,
) ([]models.QrCodeRecord, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, owner_user_id, type, payload, created_at
				FROM qr_codes
				WHERE owner_user_id = $1
				ORDER BY created_at DESC
		`,
		ownerUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.QrCodeRecord{}
	for rows.Next() {
		var record models.QrCodeRecord
		var owner sql.NullString
		var createdAt int64
		if err := rows.Scan(&record.ID, &owner, &record.Type, &record.Payload, &createdAt); err != nil {
			return nil, err
		}
		record.OwnerUserID = owner.String
		record.CreatedAt = models.Millis(createdAt)
		result = append(result, record)
	}

	return result, rows.Err()
}

// AppendScan appends to the scan log.
func (db *PostgresDB) AppendScan(outerCtx context.Context, record models.ScanRecord) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	_, err := db.database.ExecContext(
		ctx,
		`
			INSERT INTO scans (id, owner_user_id, content, scanned_at)
				VALUES ($1, $2, $3, $4)
		`,
		record.ID,
		nullableOwner(record.OwnerUserID),
		record.Content,
		int64(record.ScannedAt),
	)

	return err
}

// GetScansByOwner returns the user's scan events, newest first.
func (db *PostgresDB) GetScansByOwner(
	outerCtx context.Context,
	ownerUserID string,
) ([]models.ScanRecord, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, owner_user_id, content, scanned_at
				FROM scans
				WHERE owner_user_id = $1
				ORDER BY scanned_at DESC
		`,
		ownerUserID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.ScanRecord{}
	for rows.Next() {
		var record models.ScanRecord
		var owner sql.NullString
		var scannedAt int64
		if err := rows.Scan(&record.ID, &owner, &record.Content, &scannedAt); err != nil {
			return nil, err
		}
		record.OwnerUserID = owner.String
		record.ScannedAt = models.Millis(scannedAt)
		result = append(result, record)
	}

	return result, rows.Err()
}

// GetNumberOfLinks returns the total amount of stored links.
func (db *PostgresDB) GetNumberOfLinks(outerCtx context.Context) (int64, error) {
	return db.count(outerCtx, `SELECT count(*) FROM links`)
}

// GetNumberOfUsers returns the total amount of stored users.
func (db *PostgresDB) GetNumberOfUsers(outerCtx context.Context) (int64, error) {
	return db.count(outerCtx, `SELECT count(*) FROM users`)
}

// Ping checks the database connection.
func (db *PostgresDB) Ping(outerCtx context.Context) error {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	return db.database.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) count(outerCtx context.Context, query string) (int64, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	var result int64
	if err := db.database.QueryRowContext(ctx, query).Scan(&result); err != nil {
		return 0, err
	}

	return result, nil
}

func (db *PostgresDB) findUser(
	outerCtx context.Context,
	where string,
	arg any,
) (*user.User, bool, error) {
	ctx, cancel := db.withTimeout(outerCtx)
	defer cancel()

	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT id, name, email, password_hash, created_at,
					sub_plan, sub_expires_at,
					api_key, api_plan, api_expires_at,
					warning_threshold, is_admin, can_set_custom_expiry
				FROM users
		`+where,
		arg,
	)

	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*models.LinkRecord, bool, error) {
	var record models.LinkRecord
	var createdAt, expiresAt int64
	var owner sql.NullString

	err := row.Scan(
		&record.Alias,
		&record.ID,
		&record.LongURL,
		&record.ShortURL,
		&createdAt,
		&expiresAt,
		&owner,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	record.CreatedAt = models.Millis(createdAt)
	record.ExpiresAt = models.Millis(expiresAt)
	record.OwnerUserID = owner.String

	return &record, true, nil
}

func scanUser(row rowScanner) (*user.User, bool, error) {
	var usr user.User
	var createdAt int64
	var subPlan sql.NullString
	var subExpiresAt sql.NullInt64
	var apiKey, apiPlan sql.NullString
	var apiExpiresAt sql.NullInt64

	err := row.Scan(
		&usr.ID,
		&usr.Name,
		&usr.Email,
		&usr.PasswordHash,
		&createdAt,
		&subPlan,
		&subExpiresAt,
		&apiKey,
		&apiPlan,
		&apiExpiresAt,
		&usr.Settings.WarningThresholdHours,
		&usr.IsAdmin,
		&usr.CanSetCustomExpiry,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	usr.CreatedAt = models.Millis(createdAt)
	if subPlan.Valid {
		usr.Subscription = &models.Subscription{
			Plan:      models.SubscriptionPlan(subPlan.String),
			ExpiresAt: models.Millis(subExpiresAt.Int64),
		}
	}
	if apiKey.Valid {
		usr.APIAccess = &models.APIAccess{
			Key: apiKey.String,
			Subscription: models.APISubscription{
				Plan:      models.APIPlan(apiPlan.String),
				ExpiresAt: models.Millis(apiExpiresAt.Int64),
			},
		}
	}

	return &usr, true, nil
}

func userColumns(usr *user.User) []any {
	var subPlan sql.NullString
	var subExpiresAt sql.NullInt64
	if usr.Subscription != nil {
		subPlan = sql.NullString{String: string(usr.Subscription.Plan), Valid: true}
		subExpiresAt = sql.NullInt64{Int64: int64(usr.Subscription.ExpiresAt), Valid: true}
	}

	var apiKey, apiPlan sql.NullString
	var apiExpiresAt sql.NullInt64
	if usr.APIAccess != nil {
		apiKey = sql.NullString{String: usr.APIAccess.Key, Valid: true}
		apiPlan = sql.NullString{String: string(usr.APIAccess.Subscription.Plan), Valid: true}
		apiExpiresAt = sql.NullInt64{Int64: int64(usr.APIAccess.Subscription.ExpiresAt), Valid: true}
	}

	return []any{
		usr.ID,
		usr.Name,
		usr.Email,
		usr.PasswordHash,
		int64(usr.CreatedAt),
		subPlan,
		subExpiresAt,
		apiKey,
		apiPlan,
		apiExpiresAt,
		usr.Settings.WarningThresholdHours,
		usr.IsAdmin,
		usr.CanSetCustomExpiry,
	}
}

func nullableOwner(ownerUserID string) sql.NullString {
	return sql.NullString{
		String: ownerUserID,
		Valid:  ownerUserID != "",
	}
}
