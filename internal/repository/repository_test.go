package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"atendimento/internal/db"
	"atendimento/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openSQLite(t *testing.T) *SQL {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite", "file::memory:?_time_format=sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(context.Background(), conn))
	return NewSQL(conn)
}

// forEachStore runs the contract against every Problems implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, r Problems)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
}

func profile(id string) models.Profile {
	return models.Profile{ConversationID: id, Name: "Ana " + id, City: "Recife", Position: "Professora", School: "EM Paulo Freire"}
}

func admitAt(t *testing.T, r Problems, id string, at time.Time, maxActive int) *models.Problem {
	t.Helper()
	p := models.NewProblem(profile(id), "")
	p.CreatedAt = at
	_, err := r.Admit(context.Background(), p, maxActive)
	require.NoError(t, err)
	return p
}

func TestAdmitCapsActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d", "e"} {
			p := admitAt(t, r, id, t0.Add(time.Duration(i)*time.Second), 3)
			require.NotZero(t, p.ID)
			if i < 3 {
				require.Equal(t, models.StatusActive, p.Status)
			} else {
				require.Equal(t, models.StatusWaiting, p.Status)
			}
		}
		n, err := r.CountByStatus(ctx, models.StatusActive)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		n, err = r.CountByStatus(ctx, models.StatusWaiting)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
}

func TestWaitingPositionAndOldest(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		admitAt(t, r, "a", t0, 1)
		// d is created before c but admitted later
		c := admitAt(t, r, "c", t0.Add(3*time.Second), 1)
		b := admitAt(t, r, "b", t0.Add(time.Second), 1)
		d := admitAt(t, r, "d", t0.Add(3*time.Second), 1)

		pos, err := r.WaitingPosition(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, 1, pos)
		pos, err = r.WaitingPosition(ctx, c.ID)
		require.NoError(t, err)
		require.Equal(t, 2, pos)
		pos, err = r.WaitingPosition(ctx, d.ID)
		require.NoError(t, err)
		require.Equal(t, 3, pos, "equal timestamps fall back to id order")

		oldest, err := r.OldestWaiting(ctx)
		require.NoError(t, err)
		require.Equal(t, b.ID, oldest.ID)
	})
}

func TestOldestWaitingEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		_, err := r.OldestWaiting(context.Background())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCurrentIsMostRecentOpenRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		_, err := r.Current(ctx, "a")
		require.ErrorIs(t, err, ErrNotFound)

		reg := admitAt(t, r, "a", t0, 3)
		desc := "Cadastro - Cadastrar aluno"
		pending := models.NewProblem(profile("a"), models.StatusPending)
		pending.Description = &desc
		pending.CreatedAt = t0.Add(time.Minute)
		require.NoError(t, r.Insert(ctx, pending))

		cur, err := r.Current(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, pending.ID, cur.ID)
		require.Equal(t, desc, *cur.Description)

		_, err = r.Complete(ctx, "a", pending.ID, t0.Add(2*time.Minute))
		require.NoError(t, err)
		_, err = r.Current(ctx, "a")
		require.ErrorIs(t, err, ErrNotFound, "active registration %d was completed too", reg.ID)
	})
}

func TestCompleteFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		active := admitAt(t, r, "a", t0, 1)
		waiting := admitAt(t, r, "a", t0.Add(time.Second), 1)
		other := admitAt(t, r, "b", t0.Add(2*time.Second), 1)

		done, err := r.Complete(ctx, "a", 0, t0.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, done, 1)
		require.Equal(t, active.ID, done[0].ID)
		require.Equal(t, models.StatusCompleted, done[0].Status)
		require.NotNil(t, done[0].CompletedAt)
		require.True(t, done[0].CompletedAt.Equal(t0.Add(time.Hour)))

		// waiting records only close when named explicitly
		done, err = r.Complete(ctx, "a", waiting.ID, t0.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, done, 1)
		require.Equal(t, waiting.ID, done[0].ID)

		// completedAt is set once
		done, err = r.Complete(ctx, "a", active.ID, t0.Add(3*time.Hour))
		require.NoError(t, err)
		require.Empty(t, done)

		n, err := r.CountByStatus(ctx, models.StatusWaiting)
		require.NoError(t, err)
		require.Equal(t, 1, n, "conversation %d untouched", other.ID)
	})
}

func TestActivateAndAttend(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		admitAt(t, r, "a", t0, 1)
		w := admitAt(t, r, "b", t0.Add(time.Second), 1)

		require.NoError(t, r.Activate(ctx, w.ID))
		require.ErrorIs(t, r.Activate(ctx, w.ID), ErrNotFound)

		desc := "Não consigo lançar notas"
		p := models.NewProblem(profile("c"), models.StatusPending)
		p.Description = &desc
		require.NoError(t, r.Insert(ctx, p))

		_, err := r.Attend(ctx, "c", "operador-1", 2)
		require.ErrorIs(t, err, ErrQueueFull)

		got, err := r.Attend(ctx, "c", "operador-1", 3)
		require.NoError(t, err)
		require.Equal(t, p.ID, got.ID)
		require.Equal(t, models.StatusActive, got.Status)
		require.Equal(t, "operador-1", *got.AttendantID)

		_, err = r.Attend(ctx, "nobody", "operador-1", 3)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAttendClaimsExistingActiveRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		reg := admitAt(t, r, "a", t0, 2)

		desc := "Vídeo não ajudou"
		report := models.NewProblem(profile("a"), models.StatusPending)
		report.CreatedAt = t0.Add(time.Minute)
		report.Description = &desc
		require.NoError(t, r.Insert(ctx, report))

		got, err := r.Attend(ctx, "a", "operador-2", 1)
		require.NoError(t, err, "already holding the slot, so the cap does not apply")
		require.Equal(t, reg.ID, got.ID)
		require.Equal(t, models.StatusActive, got.Status)

		n, err := r.CountByStatus(ctx, models.StatusActive)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		pending, err := r.List(ctx, ListQuery{Status: models.StatusPending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "operador-2", *pending[0].AttendantID)

		active, err := r.ActiveRecord(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, reg.ID, active.ID)
		_, err = r.ActiveRecord(ctx, "nobody")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInsertRejectsUnknownStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		p := models.NewProblem(profile("a"), "archived")
		require.Error(t, r.Insert(context.Background(), p))

		p = models.NewProblem(profile("a"), "")
		require.Error(t, r.Insert(context.Background(), p))

		n, err := r.CountByStatus(context.Background(), "archived")
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestSetFeedback(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		p := admitAt(t, r, "a", t0, 1)

		require.ErrorIs(t, r.SetFeedback(ctx, p.ID, 6), ErrInvalidRating)
		require.ErrorIs(t, r.SetFeedback(ctx, p.ID, 5), ErrNotFound, "only completed records are rated")

		_, err := r.Complete(ctx, "a", p.ID, t0.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, r.SetFeedback(ctx, p.ID, 4))

		done, err := r.List(ctx, ListQuery{Status: models.StatusCompleted})
		require.NoError(t, err)
		require.Len(t, done, 1)
		require.Equal(t, 4, *done[0].FeedbackRating)
	})
}

func TestListOrderingAndLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, r Problems) {
		ctx := context.Background()
		for i, id := range []string{"a", "b", "c", "d"} {
			admitAt(t, r, id, t0.Add(time.Duration(i)*time.Minute), 10)
		}

		oldest, err := r.List(ctx, ListQuery{Status: models.StatusActive})
		require.NoError(t, err)
		require.Len(t, oldest, 4)
		require.Equal(t, "a", oldest[0].ConversationID)

		newest, err := r.List(ctx, ListQuery{Status: models.StatusActive, NewestFirst: true, Limit: 2})
		require.NoError(t, err)
		require.Len(t, newest, 2)
		require.Equal(t, "d", newest[0].ConversationID)
		require.Equal(t, "c", newest[1].ConversationID)

		none, err := r.List(ctx, ListQuery{Status: models.StatusWaiting})
		require.NoError(t, err)
		require.NotNil(t, none)
		require.Empty(t, none)
	})
}

func TestIgnoredReplaceAll(t *testing.T) {
	sqlRepo := openSQLite(t)
	stores := map[string]Ignored{
		"memory": NewMemoryIgnored(),
		"sqlite": NewIgnoredSQL(sqlRepo.db),
	}
	for name, r := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, r.ReplaceAll(ctx, []models.IgnoredContact{
				{ConversationID: "551199990000@s.whatsapp.net", Name: "Diretoria"},
				{ConversationID: "551188880000@s.whatsapp.net", Reason: "teste"},
			}))
			ok, err := r.IsIgnored(ctx, "551199990000@s.whatsapp.net")
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, r.ReplaceAll(ctx, []models.IgnoredContact{{ConversationID: "x"}}))
			ok, err = r.IsIgnored(ctx, "551199990000@s.whatsapp.net")
			require.NoError(t, err)
			require.False(t, ok)

			list, err := r.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	}
}

func TestIgnoredReplaceAllRollsBack(t *testing.T) {
	r := NewIgnoredSQL(openSQLite(t).db)
	ctx := context.Background()
	require.NoError(t, r.ReplaceAll(ctx, []models.IgnoredContact{{ConversationID: "keep"}}))

	err := r.ReplaceAll(ctx, []models.IgnoredContact{{ConversationID: "new"}, {ConversationID: ""}})
	require.Error(t, err)

	ok, err := r.IsIgnored(ctx, "keep")
	require.NoError(t, err)
	require.True(t, ok, "failed replace must keep the previous list")
	ok, err = r.IsIgnored(ctx, "new")
	require.NoError(t, err)
	require.False(t, ok)
}
