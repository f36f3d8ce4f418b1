package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"atendimento/internal/models"
)

// IgnoredSQL implements Ignored on the ignored_contacts table.
type IgnoredSQL struct {
	db *sqlx.DB
}

func NewIgnoredSQL(db *sqlx.DB) *IgnoredSQL {
	return &IgnoredSQL{db: db}
}

func (r *IgnoredSQL) IsIgnored(ctx context.Context, conversationID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ignored_contacts WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return false, fmt.Errorf("check ignored %s: %w", conversationID, err)
	}
	return n > 0, nil
}

func (r *IgnoredSQL) List(ctx context.Context) ([]models.IgnoredContact, error) {
	out := []models.IgnoredContact{}
	err := r.db.SelectContext(ctx, &out, `
		SELECT conversation_id, name, reason, created_at
		FROM ignored_contacts ORDER BY created_at ASC, conversation_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list ignored contacts: %w", err)
	}
	return out, nil
}

// ReplaceAll is the only multi-statement write of the service and runs in an
// explicit transaction: either the whole new list is visible or the old one stays.
func (r *IgnoredSQL) ReplaceAll(ctx context.Context, contacts []models.IgnoredContact) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ignored replace: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to roll back ignored contacts replace")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM ignored_contacts`); err != nil {
		return fmt.Errorf("clear ignored contacts: %w", err)
	}
	now := time.Now().UTC()
	for _, c := range contacts {
		if c.ConversationID == "" {
			err = fmt.Errorf("ignored contact without conversation id")
			return err
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ignored_contacts (conversation_id, name, reason, created_at)
			VALUES ($1, $2, $3, $4)
		`, c.ConversationID, c.Name, c.Reason, c.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert ignored contact %s: %w", c.ConversationID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ignored replace: %w", err)
	}
	log.Info().Int("contacts", len(contacts)).Msg("Ignored contacts replaced")
	return nil
}
