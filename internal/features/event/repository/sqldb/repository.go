// Package sqldb implements the event repository over database/sql for
// Postgres (lib/pq) and SQLite (modernc.org/sqlite).
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/repository"
)

type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlRepository struct {
	db      *sql.DB
	dialect Dialect
}

type sqlTransaction struct {
	tx *sql.Tx
}

func (t *sqlTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTransaction) Rollback() error {
	return t.tx.Rollback()
}

func NewRepository(db *sql.DB, dialect Dialect) repository.EventRepository {
	return &sqlRepository{db: db, dialect: dialect}
}

func (r *sqlRepository) BeginTx(ctx context.Context) (repository.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTransaction{tx: tx}, nil
}

func (r *sqlRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func unwrapTx(tx repository.Transaction) (*sql.Tx, error) {
	t, ok := tx.(*sqlTransaction)
	if !ok {
		return nil, fmt.Errorf("invalid transaction type %T", tx)
	}
	return t.tx, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// isUniqueViolation matches unique and primary key violations of both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// ---- events ----

const eventColumns = `id, name, slug, event_date, lock_date, admin_token, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*models.Event, error) {
	var e models.Event
	var eventDate, lockDate, createdAt int64
	if err := row.Scan(&e.ID, &e.Name, &e.Slug, &eventDate, &lockDate, &e.AdminToken, &createdAt); err != nil {
		return nil, err
	}
	e.EventDate = fromMillis(eventDate)
	e.LockDate = fromMillis(lockDate)
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func (r *sqlRepository) CreateEvent(ctx context.Context, event *models.Event, participants []*models.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Name, event.Slug, toMillis(event.EventDate), toMillis(event.LockDate),
		event.AdminToken, toMillis(event.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create event: %w", err)
	}

	for _, p := range participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *sqlRepository) getEvent(ctx context.Context, q querier, where string, arg any, lock bool) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + where + ` = $1`
	if lock && r.dialect == Postgres {
		query += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (r *sqlRepository) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	return r.getEvent(ctx, r.db, "id", id, false)
}

func (r *sqlRepository) GetEventBySlug(ctx context.Context, slug string) (*models.Event, error) {
	return r.getEvent(ctx, r.db, "slug", slug, false)
}

// LockEventTx reads the event row and, on Postgres, holds its row lock until
// the transaction ends. SQLite already serialises writers.
func (r *sqlRepository) LockEventTx(ctx context.Context, tx repository.Transaction, eventID string) (*models.Event, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}
	return r.getEvent(ctx, sqlTx, "id", eventID, true)
}

func (r *sqlRepository) UpdateLockDate(ctx context.Context, eventID string, lockDate time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE events SET lock_date = $1 WHERE id = $2`, toMillis(lockDate), eventID)
	if err != nil {
		return fmt.Errorf("failed to update lock date: %w", err)
	}
	return expectRow(res, repository.ErrEventNotFound)
}

// DeleteEvent удаляет событие вместе с участниками, списками и назначениями
func (r *sqlRepository) DeleteEvent(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return expectRow(res, repository.ErrEventNotFound)
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// ---- participants ----

const participantColumns = `id, event_id, name, token, wishlist_status, has_drawn, drawn_at, created_at`

func scanParticipant(row interface{ Scan(...any) error }) (*models.Participant, error) {
	var p models.Participant
	var status string
	var drawnAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&p.ID, &p.EventID, &p.Name, &p.Token, &status, &p.HasDrawn, &drawnAt, &createdAt); err != nil {
		return nil, err
	}
	p.WishlistStatus = models.WishlistStatus(status)
	if drawnAt.Valid {
		t := fromMillis(drawnAt.Int64)
		p.DrawnAt = &t
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func insertParticipant(ctx context.Context, q querier, p *models.Participant) error {
	if p.WishlistStatus == "" {
		p.WishlistStatus = models.WishlistPending
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO participants (id, event_id, name, token, wishlist_status, has_drawn, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.EventID, p.Name, p.Token, string(p.WishlistStatus), false, toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

func getParticipant(ctx context.Context, q querier, where string, arg any) (*models.Participant, error) {
	p, err := scanParticipant(q.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE `+where+` = $1`, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func listParticipants(ctx context.Context, q querier, eventID string) ([]*models.Participant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE event_id = $1 ORDER BY created_at, name`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *sqlRepository) GetParticipantByToken(ctx context.Context, token string) (*models.Participant, error) {
	return getParticipant(ctx, r.db, "token", token)
}

func (r *sqlRepository) GetParticipantByID(ctx context.Context, id string) (*models.Participant, error) {
	return getParticipant(ctx, r.db, "id", id)
}

func (r *sqlRepository) ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error) {
	return listParticipants(ctx, r.db, eventID)
}

func (r *sqlRepository) GetParticipantByTokenTx(ctx context.Context, tx repository.Transaction, token string) (*models.Participant, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}
	return getParticipant(ctx, sqlTx, "token", token)
}

func (r *sqlRepository) GetParticipantByIDTx(ctx context.Context, tx repository.Transaction, id string) (*models.Participant, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}
	return getParticipant(ctx, sqlTx, "id", id)
}

func (r *sqlRepository) ListParticipantsTx(ctx context.Context, tx repository.Transaction, eventID string) ([]*models.Participant, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}
	return listParticipants(ctx, sqlTx, eventID)
}

func (r *sqlRepository) InsertParticipantTx(ctx context.Context, tx repository.Transaction, p *models.Participant) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	return insertParticipant(ctx, sqlTx, p)
}

// DeleteParticipantTx removes the participant with its wishlist and its own
// edge. Edges targeting it must be handled by the caller first.
func (r *sqlRepository) DeleteParticipantTx(ctx context.Context, tx repository.Transaction, participantID string) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM assignments WHERE drawer_id = $1`, participantID); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM wishlist_items WHERE participant_id = $1`, participantID); err != nil {
		return fmt.Errorf("failed to delete wishlist: %w", err)
	}
	res, err := sqlTx.ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, participantID)
	if err != nil {
		return fmt.Errorf("failed to delete participant: %w", err)
	}
	return expectRow(res, repository.ErrParticipantNotFound)
}

func (r *sqlRepository) UpdateTokenTx(ctx context.Context, tx repository.Transaction, participantID, token string) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	res, err := sqlTx.ExecContext(ctx, `UPDATE participants SET token = $1 WHERE id = $2`, token, participantID)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to update token: %w", err)
	}
	return expectRow(res, repository.ErrParticipantNotFound)
}

func (r *sqlRepository) MarkDrawnTx(ctx context.Context, tx repository.Transaction, participantID string, at time.Time) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	res, err := sqlTx.ExecContext(ctx,
		`UPDATE participants SET has_drawn = $1, drawn_at = $2 WHERE id = $3`,
		true, toMillis(at), participantID)
	if err != nil {
		return fmt.Errorf("failed to mark drawn: %w", err)
	}
	return expectRow(res, repository.ErrParticipantNotFound)
}

func (r *sqlRepository) ResetDrawnTx(ctx context.Context, tx repository.Transaction, participantIDs ...string) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	for _, id := range participantIDs {
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE participants SET has_drawn = $1, drawn_at = NULL WHERE id = $2`, false, id); err != nil {
			return fmt.Errorf("failed to reset drawn: %w", err)
		}
	}
	return nil
}

// ---- wishlist ----

func (r *sqlRepository) ListWishlist(ctx context.Context, participantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item FROM wishlist_items WHERE participant_id = $1 ORDER BY position, item`, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wishlist: %w", err)
	}
	defer rows.Close()

	items := []string{}
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("failed to scan wishlist item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// wishlistWrite runs fn in a transaction that first rejects the write if the
// event is locked at now. On Postgres the event row stays locked until commit,
// so a concurrent lock date change cannot slip in between.
func (r *sqlRepository) wishlistWrite(ctx context.Context, participantID string, now time.Time, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT e.lock_date FROM participants p JOIN events e ON e.id = p.event_id WHERE p.id = $1`
	if r.dialect == Postgres {
		query += ` FOR UPDATE OF e`
	}
	var lockDate int64
	if err := tx.QueryRowContext(ctx, query, participantID).Scan(&lockDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrParticipantNotFound
		}
		return fmt.Errorf("failed to read lock date: %w", err)
	}
	if toMillis(now) >= lockDate {
		return &repository.LockedError{LockDate: fromMillis(lockDate)}
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceWishlist swaps the whole list and marks it submitted atomically.
func (r *sqlRepository) ReplaceWishlist(ctx context.Context, participantID string, items []string, now time.Time) error {
	return r.wishlistWrite(ctx, participantID, now, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE participants SET wishlist_status = $1 WHERE id = $2`, string(models.WishlistSubmitted), participantID)
		if err != nil {
			return fmt.Errorf("failed to update wishlist status: %w", err)
		}
		if err := expectRow(res, repository.ErrParticipantNotFound); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM wishlist_items WHERE participant_id = $1`, participantID); err != nil {
			return fmt.Errorf("failed to clear wishlist: %w", err)
		}
		for i, item := range items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO wishlist_items (participant_id, item, position, created_at) VALUES ($1, $2, $3, $4)`,
				participantID, item, i, toMillis(now)); err != nil {
				if isUniqueViolation(err) {
					return repository.ErrConflict
				}
				return fmt.Errorf("failed to insert wishlist item: %w", err)
			}
		}
		return nil
	})
}

func (r *sqlRepository) DeleteWishlistItem(ctx context.Context, participantID, item string, now time.Time) error {
	return r.wishlistWrite(ctx, participantID, now, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM wishlist_items WHERE participant_id = $1 AND item = $2`, participantID, item)
		if err != nil {
			return fmt.Errorf("failed to delete wishlist item: %w", err)
		}
		return nil
	})
}

func (r *sqlRepository) SetWishlistStatus(ctx context.Context, participantID string, status models.WishlistStatus, now time.Time) error {
	return r.wishlistWrite(ctx, participantID, now, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE participants SET wishlist_status = $1 WHERE id = $2`, string(status), participantID)
		if err != nil {
			return fmt.Errorf("failed to update wishlist status: %w", err)
		}
		return expectRow(res, repository.ErrParticipantNotFound)
	})
}

// ---- ledger ----

func scanEdges(rows *sql.Rows) ([]*models.AssignmentEdge, error) {
	defer rows.Close()

	var edges []*models.AssignmentEdge
	for rows.Next() {
		var e models.AssignmentEdge
		var createdAt int64
		if err := rows.Scan(&e.EventID, &e.DrawerID, &e.TargetID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

func listEdges(ctx context.Context, q querier, eventID string) ([]*models.AssignmentEdge, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT event_id, drawer_id, target_id, created_at FROM assignments WHERE event_id = $1 ORDER BY created_at, drawer_id`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	return scanEdges(rows)
}

func (r *sqlRepository) ListEdges(ctx context.Context, eventID string) ([]*models.AssignmentEdge, error) {
	return listEdges(ctx, r.db, eventID)
}

func (r *sqlRepository) ListEdgesTx(ctx context.Context, tx repository.Transaction, eventID string) ([]*models.AssignmentEdge, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}
	return listEdges(ctx, sqlTx, eventID)
}

func (r *sqlRepository) GetEdgeByDrawer(ctx context.Context, eventID, drawerID string) (*models.AssignmentEdge, error) {
	var e models.AssignmentEdge
	var createdAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT event_id, drawer_id, target_id, created_at FROM assignments WHERE event_id = $1 AND drawer_id = $2`,
		eventID, drawerID).Scan(&e.EventID, &e.DrawerID, &e.TargetID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrEdgeNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func (r *sqlRepository) CountEdgesTx(ctx context.Context, tx repository.Transaction, eventID string) (int, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := sqlTx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE event_id = $1`, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

// InsertEdgeTx returns repository.ErrConflict when the drawer already has an
// edge or the target is already claimed.
func (r *sqlRepository) InsertEdgeTx(ctx context.Context, tx repository.Transaction, edge *models.AssignmentEdge) error {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return err
	}
	_, err = sqlTx.ExecContext(ctx,
		`INSERT INTO assignments (event_id, drawer_id, target_id, created_at) VALUES ($1, $2, $3, $4)`,
		edge.EventID, edge.DrawerID, edge.TargetID, toMillis(edge.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

func (r *sqlRepository) DeleteEdgeByDrawerTx(ctx context.Context, tx repository.Transaction, eventID, drawerID string) (bool, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return false, err
	}
	res, err := sqlTx.ExecContext(ctx,
		`DELETE FROM assignments WHERE event_id = $1 AND drawer_id = $2`, eventID, drawerID)
	if err != nil {
		return false, fmt.Errorf("failed to delete assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (r *sqlRepository) DeleteEdgesByTargetTx(ctx context.Context, tx repository.Transaction, eventID, targetID string) ([]string, error) {
	sqlTx, err := unwrapTx(tx)
	if err != nil {
		return nil, err
	}

	rows, err := sqlTx.QueryContext(ctx,
		`SELECT drawer_id FROM assignments WHERE event_id = $1 AND target_id = $2`, eventID, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to find drawers: %w", err)
	}
	var drawers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan drawer: %w", err)
		}
		drawers = append(drawers, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := sqlTx.ExecContext(ctx,
		`DELETE FROM assignments WHERE event_id = $1 AND target_id = $2`, eventID, targetID); err != nil {
		return nil, fmt.Errorf("failed to delete assignments: %w", err)
	}
	return drawers, nil
}

var _ repository.EventRepository = (*sqlRepository)(nil)
