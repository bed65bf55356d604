package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

const presenceFanOut = 8

// Service answers presence questions and resolves bearer tokens to actors.
type Service struct {
	repo    Repository
	tracker *Tracker
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, tracker *Tracker) *Service {
	return &Service{repo: repo, tracker: tracker, now: func() time.Time { return time.Now().UTC() }}
}

// Presence labels the newest session of userID. Users without sessions are offline.
func (s *Service) Presence(ctx context.Context, userID int64) (Presence, error) {
	sessions, err := s.repo.ForUser(ctx, userID)
	if err != nil {
		return Presence{}, fmt.Errorf("session: presence %d: %w", userID, err)
	}
	latest, ok := newest(sessions)
	if !ok {
		return Presence{UserID: userID, Status: Offline}, nil
	}
	return Presence{
		UserID:         userID,
		Status:         s.tracker.Status(latest, s.now()),
		LastActivityAt: latest.LastActivityAt,
	}, nil
}

// PresenceMany labels several users concurrently, preserving input order.
func (s *Service) PresenceMany(ctx context.Context, userIDs []int64) ([]Presence, error) {
	out := make([]Presence, len(userIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(presenceFanOut)
	for i, id := range userIDs {
		g.Go(func() error {
			p, err := s.Presence(ctx, id)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// OnlineUsers lists users holding at least one session Tracker.Status would
// label online.
func (s *Service) OnlineUsers(ctx context.Context) ([]int64, error) {
	now := s.now()
	return s.repo.ActiveSince(ctx, now, now.Add(-s.tracker.Threshold()))
}

// Authenticate resolves an access token to its user. Unknown and expired
// tokens are shared.ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (int64, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return 0, shared.ErrUnauthenticated
	}
	rows, err := s.repo.ForAccessToken(ctx, accessToken)
	if err != nil {
		return 0, fmt.Errorf("session: authenticate: %w", err)
	}
	if len(rows) == 0 {
		return 0, shared.ErrUnauthenticated
	}
	if !rows[0].ExpiresAt.After(s.now()) {
		return 0, fmt.Errorf("%w: session expired", shared.ErrUnauthenticated)
	}
	return rows[0].UserID, nil
}

// Middleware stores the actor of a valid bearer token in the request context.
// Requests without a token continue anonymously; route guards decide.
func (s *Service) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := s.Authenticate(r.Context(), token)
			if err != nil {
				if httpx.StatusFor(err) == http.StatusInternalServerError && logger != nil {
					logger.Error("session lookup", slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func newest(sessions []Session) (Session, bool) {
	if len(sessions) == 0 {
		return Session{}, false
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	return latest, true
}
