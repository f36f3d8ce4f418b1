package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"atendimento/internal/models"
)

const problemColumns = `id, created_at, conversation_id, name, city, position, school,
	description, status, completed_at, attendant_id, feedback_rating`

// SQL implements Problems and Ignored on top of sqlx. The same statements run
// on postgres (lib/pq) and sqlite (modernc).
type SQL struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQL) stamp(p *models.Problem) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.CreatedAt = p.CreatedAt.UTC()
}

func (r *SQL) Admit(ctx context.Context, p *models.Problem, maxActive int) (models.Status, error) {
	r.stamp(p)
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO problems (created_at, conversation_id, name, city, position, school, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			CASE WHEN (SELECT COUNT(*) FROM problems WHERE status = 'active') < $8
				THEN 'active' ELSE 'waiting' END)
		RETURNING id, status
	`, p.CreatedAt, p.ConversationID, p.Name, p.City, p.Position, p.School, p.Description, maxActive).
		Scan(&p.ID, &p.Status)
	if err != nil {
		return "", fmt.Errorf("admit problem for %s: %w", p.ConversationID, err)
	}
	return p.Status, nil
}

func (r *SQL) Insert(ctx context.Context, p *models.Problem) error {
	r.stamp(p)
	if !p.Status.Valid() {
		return fmt.Errorf("insert problem: invalid status %q", p.Status)
	}
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO problems (created_at, conversation_id, name, city, position, school, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, p.CreatedAt, p.ConversationID, p.Name, p.City, p.Position, p.School, p.Description, p.Status).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert problem for %s: %w", p.ConversationID, err)
	}
	return nil
}

func (r *SQL) CountByStatus(ctx context.Context, status models.Status) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM problems WHERE status = $1`, status); err != nil {
		return 0, fmt.Errorf("count %s problems: %w", status, err)
	}
	return n, nil
}

func (r *SQL) WaitingPosition(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM problems w, problems me
		WHERE me.id = $1 AND w.status = 'waiting'
			AND (w.created_at < me.created_at OR (w.created_at = me.created_at AND w.id <= me.id))
	`, id)
	if err != nil {
		return 0, fmt.Errorf("waiting position of %d: %w", id, err)
	}
	return n, nil
}

func (r *SQL) Current(ctx context.Context, conversationID string) (*models.Problem, error) {
	p, err := latestOf(ctx, r.db, conversationID, "status <> 'completed'")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("current problem of %s: %w", conversationID, err)
	}
	return p, err
}

func (r *SQL) ActiveRecord(ctx context.Context, conversationID string) (*models.Problem, error) {
	p, err := latestOf(ctx, r.db, conversationID, "status = 'active'")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("active problem of %s: %w", conversationID, err)
	}
	return p, err
}

// latestOf returns the newest record of the conversation matching filter.
func latestOf(ctx context.Context, q sqlx.QueryerContext, conversationID, filter string) (*models.Problem, error) {
	var p models.Problem
	err := sqlx.GetContext(ctx, q, &p, `
		SELECT `+problemColumns+` FROM problems
		WHERE conversation_id = $1 AND `+filter+`
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *SQL) Complete(ctx context.Context, conversationID string, recordID int64, at time.Time) ([]models.Problem, error) {
	var out []models.Problem
	err := r.db.SelectContext(ctx, &out, `
		UPDATE problems SET status = 'completed', completed_at = $3
		WHERE conversation_id = $1 AND status <> 'completed'
			AND (id = $2 OR status IN ('active', 'pending'))
		RETURNING `+problemColumns,
		conversationID, recordID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("complete problems of %s: %w", conversationID, err)
	}
	log.Debug().Str("conversationID", conversationID).Int64("recordID", recordID).Int("rows", len(out)).Msg("Problems completed")
	return out, nil
}

func (r *SQL) OldestWaiting(ctx context.Context) (*models.Problem, error) {
	var p models.Problem
	err := r.db.GetContext(ctx, &p, `
		SELECT `+problemColumns+` FROM problems
		WHERE status = 'waiting'
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oldest waiting problem: %w", err)
	}
	return &p, nil
}

func (r *SQL) Activate(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE problems SET status = 'active'
		WHERE id = $1 AND status IN ('waiting', 'pending')
	`, id)
	if err != nil {
		return fmt.Errorf("activate problem %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activate problem %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQL) Attend(ctx context.Context, conversationID, attendantID string, maxActive int) (attended *models.Problem, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("attend problem of %s: %w", conversationID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Str("conversationID", conversationID).Msg("Attend rollback failed")
			}
			return
		}
		if err = tx.Commit(); err != nil {
			attended = nil
			err = fmt.Errorf("attend problem of %s: %w", conversationID, err)
		}
	}()

	target, err := latestOf(ctx, tx, conversationID, "status = 'active'")
	if errors.Is(err, ErrNotFound) {
		target, err = latestOf(ctx, tx, conversationID, "status <> 'completed'")
		if err == nil {
			var active int
			if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM problems WHERE status = 'active'`); err != nil {
				return nil, fmt.Errorf("attend problem of %s: %w", conversationID, err)
			}
			if active >= maxActive {
				return nil, ErrQueueFull
			}
		}
	}
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("attend problem of %s: %w", conversationID, err)
	}

	// the target becomes (or stays) the single active slot; pending reports
	// of the conversation are claimed with it
	_, err = tx.ExecContext(ctx, `
		UPDATE problems
		SET attendant_id = $2, status = CASE WHEN id = $3 THEN 'active' ELSE status END
		WHERE conversation_id = $1 AND (id = $3 OR status = 'pending')
	`, conversationID, attendantID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("attend problem of %s: %w", conversationID, err)
	}

	var p models.Problem
	if err = tx.GetContext(ctx, &p, `SELECT `+problemColumns+` FROM problems WHERE id = $1`, target.ID); err != nil {
		return nil, fmt.Errorf("attend problem of %s: %w", conversationID, err)
	}
	return &p, nil
}

func (r *SQL) SetFeedback(ctx context.Context, id int64, rating int) error {
	if !validRating(rating) {
		return ErrInvalidRating
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE problems SET feedback_rating = $2
		WHERE id = $1 AND status = 'completed'
	`, id, rating)
	if err != nil {
		return fmt.Errorf("set feedback of %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set feedback of %d: %w", id, ErrNotFound)
	}
	return nil
}

func (r *SQL) List(ctx context.Context, q ListQuery) ([]models.Problem, error) {
	order := "ASC"
	if q.NewestFirst {
		order = "DESC"
	}
	query := `SELECT ` + problemColumns + ` FROM problems WHERE status = $1 ORDER BY created_at ` +
		order + `, id ` + order
	args := []interface{}{q.Status}
	if q.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, q.Limit)
	}

	out := []models.Problem{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list %s problems: %w", q.Status, err)
	}
	return out, nil
}
