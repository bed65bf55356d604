package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/catalog"
	"github.com/odyssey-erp/odyssey-authz/internal/grants"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/roles"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// systemActor marks seed mutations in the audit trail.
const systemActor int64 = 0

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: 2, AppName: "odyssey-authz-seed"})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	sink, err := audit.NewSink(audit.Config{
		Kind:         cfg.AuditSink,
		Dir:          cfg.AuditDir,
		FilePrefix:   cfg.AuditFilePrefix,
		FlushDelay:   cfg.AuditFlushDelay,
		WriteTimeout: cfg.AuditWriteTimeout,
		Logger:       app.NewStderrLogger(cfg),
	}, pool)
	if err != nil {
		log.Fatalf("audit sink: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sink.Close(flushCtx)
	}()

	adminUser, err := optionalID("SEED_ADMIN_USER_ID")
	if err != nil {
		log.Fatalf("SEED_ADMIN_USER_ID: %v", err)
	}

	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		catalogService := catalog.NewService(catalog.NewPostgresRepositories(tx), sink)
		roleService := roles.NewService(roles.NewPostgresRepository(tx), sink)
		grantStore := grants.NewStore(grants.NewPostgresRepositories(tx), sink)

		fmt.Println("→ Seeding catalog...")
		perms, err := seedCatalog(ctx, catalogService)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}

		fmt.Println("→ Seeding roles...")
		admin, err := roleService.EnsureRole(ctx, systemActor, cfg.AdminRole, "Full access to every resource")
		if err != nil {
			return fmt.Errorf("seed admin role: %w", err)
		}
		viewer, err := roleService.EnsureRole(ctx, systemActor, "Viewer", "Read access to the authorization core")
		if err != nil {
			return fmt.Errorf("seed viewer role: %w", err)
		}
		for _, perm := range perms[shared.OpRead] {
			if err := ensureLink(ctx, grantStore.RolePermissions(), viewer.ID, perm.ID); err != nil {
				return fmt.Errorf("grant viewer: %w", err)
			}
		}

		if adminUser > 0 {
			fmt.Println("→ Assigning admin role to user", adminUser)
			if err := ensureLink(ctx, grantStore.UserRoles(), adminUser, admin.ID); err != nil {
				return fmt.Errorf("assign admin: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// seedCatalog registers CRUD operations on every core table and returns the
// permissions grouped by operation name.
func seedCatalog(ctx context.Context, svc *catalog.Service) (map[string][]catalog.Permission, error) {
	ops := make([]catalog.Operation, 0, len(shared.CoreOperations()))
	for _, name := range shared.CoreOperations() {
		op, err := svc.EnsureOperation(ctx, systemActor, name, "")
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	byOperation := make(map[string][]catalog.Permission, len(ops))
	for _, table := range shared.CoreAssets() {
		asset, err := svc.EnsureAsset(ctx, systemActor, table, "")
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			perm, err := svc.EnsurePermission(ctx, systemActor, op.ID, asset.ID)
			if err != nil {
				return nil, err
			}
			byOperation[op.Name] = append(byOperation[op.Name], perm)
		}
	}
	return byOperation, nil
}

// ensureLink assigns a grant unless it already exists. Checking first keeps the
// transaction clear of unique violations on reruns.
func ensureLink(ctx context.Context, links *grants.Links, left, right int64) error {
	ok, err := links.Exists(ctx, left, right)
	if err != nil || ok {
		return err
	}
	_, err = links.Assign(ctx, left, right, systemActor)
	return err
}

func optionalID(key string) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
