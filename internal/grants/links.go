package grants

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
	"github.com/odyssey-erp/odyssey-authz/internal/store"
)

// Invalidator is notified after every successful assign or revoke.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Referent checks that one side of a link exists.
type Referent func(ctx context.Context, id int64) error

// Links manages one relation. Assign and Revoke are idempotent: a duplicate
// assign is a Conflict and a missing revoke is NotFound, leaving state unchanged.
type Links struct {
	rel         Relation
	repo        Repository
	left        Referent
	right       Referent
	audit       audit.Logger
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// Relation reports the link table served by l.
func (l *Links) Relation() Relation {
	return l.rel
}

// Assign creates the (left, right) link.
func (l *Links) Assign(ctx context.Context, left, right, actorID int64) (Grant, error) {
	if err := l.validate(left, right); err != nil {
		return Grant{}, err
	}
	if l.left != nil {
		if err := l.left(ctx, left); err != nil {
			return Grant{}, fmt.Errorf("grants: %s %d: %w", l.rel.LeftColumn, left, err)
		}
	}
	if l.right != nil {
		if err := l.right(ctx, right); err != nil {
			return Grant{}, fmt.Errorf("grants: %s %d: %w", l.rel.RightColumn, right, err)
		}
	}
	grant, err := l.repo.Create(ctx, Grant{LeftID: left, RightID: right, CreatedAt: l.now()})
	if err != nil {
		return Grant{}, fmt.Errorf("grants: assign %s (%d, %d): %w", l.rel.Table, left, right, err)
	}
	l.changed(ctx, actorID, audit.ActionCreate, grant)
	return grant, nil
}

// Revoke removes the (left, right) link and returns it.
func (l *Links) Revoke(ctx context.Context, left, right, actorID int64) (Grant, error) {
	if err := l.validate(left, right); err != nil {
		return Grant{}, err
	}
	removed, err := l.repo.DeleteWhere(ctx, store.Eq(l.rel.LeftColumn, left), store.Eq(l.rel.RightColumn, right))
	if err != nil {
		return Grant{}, fmt.Errorf("grants: revoke %s (%d, %d): %w", l.rel.Table, left, right, err)
	}
	if len(removed) == 0 {
		return Grant{}, fmt.Errorf("grants: revoke %s (%d, %d): %w", l.rel.Table, left, right, shared.ErrNotFound)
	}
	l.changed(ctx, actorID, audit.ActionDelete, removed[0])
	return removed[0], nil
}

// ListForLeft returns the links whose left side is id.
func (l *Links) ListForLeft(ctx context.Context, id int64) ([]Grant, error) {
	return l.repo.Find(ctx, store.Eq(l.rel.LeftColumn, id))
}

// ListForRight returns the links whose right side is id.
func (l *Links) ListForRight(ctx context.Context, id int64) ([]Grant, error) {
	return l.repo.Find(ctx, store.Eq(l.rel.RightColumn, id))
}

// Exists reports whether the (left, right) link is present.
func (l *Links) Exists(ctx context.Context, left, right int64) (bool, error) {
	rows, err := l.repo.Find(ctx, store.Eq(l.rel.LeftColumn, left), store.Eq(l.rel.RightColumn, right))
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (l *Links) validate(left, right int64) error {
	if left <= 0 || right <= 0 {
		return fmt.Errorf("%w: %s requires positive %s and %s", shared.ErrValidation, l.rel.Table, l.rel.LeftColumn, l.rel.RightColumn)
	}
	return nil
}

func (l *Links) changed(ctx context.Context, actorID int64, action audit.Action, grant Grant) {
	if l.audit != nil {
		l.audit.Log(audit.NewEvent(ctx, actorID, action, l.rel.Table, strconv.FormatInt(grant.ID, 10), map[string]any{
			l.rel.LeftColumn:  grant.LeftID,
			l.rel.RightColumn: grant.RightID,
		}))
	}
	if l.invalidator == nil {
		return
	}
	if err := l.invalidator.Bump(ctx); err != nil && l.logger != nil {
		l.logger.Warn("grants: invalidate access cache", slog.String("relation", l.rel.Table), slog.Any("error", err))
	}
}
