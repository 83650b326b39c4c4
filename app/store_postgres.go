package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/kiyohachi/matching-app/app/models"
)

// PostgresStore is the production Store. Expected schema:
//
//	profiles(id PK, name, email NULL, created_at)
//	user_subscriptions(user_id PK, plan_type, status, stripe_customer_id,
//	    stripe_subscription_id, current_period_start, current_period_end NULL)
//	like_usage(user_id, month_year, used_count, purchased_count, updated_at,
//	    PRIMARY KEY (user_id, month_year))
//	invites(id PK, user_id, invite_code UNIQUE, name, clicks, signups, created_at)
//	declarations(id PK, user_id, invite_id, target_name, matched, notified,
//	    consumed_like, created_at,
//	    UNIQUE (user_id, invite_id, lower(target_name)))
//	purchase_history(id BIGSERIAL, user_id, purchase_type, amount, quantity,
//	    stripe_payment_intent_id, created_at)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// serializationRetryLimit bounds retries of transactions that lose a
// serialization race (SQLSTATE 40001/40P01).
const serializationRetryLimit = 5

func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func storeErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = COALESCE(EXCLUDED.email, profiles.email);
	`, u.ID, u.Name, nullIfEmpty(u.Email), u.CreatedAt)
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	var (
		u     models.User
		email sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, email, created_at
		FROM profiles
		WHERE id = $1;
	`, id).Scan(&u.Name, &email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, NotFoundError{Kind: "user", ID: id}
		}
		return models.User{}, storeErr("get user", err)
	}
	u.ID = id
	u.Email = email.String
	return u, nil
}

func scanPlan(row *sql.Row, userID string) (models.PlanRecord, bool, error) {
	var (
		p                    models.PlanRecord
		stripeCustomerID     sql.NullString
		stripeSubscriptionID sql.NullString
		periodEnd            sql.NullTime
	)
	err := row.Scan(&p.Kind, &p.Status, &stripeCustomerID, &stripeSubscriptionID, &p.PeriodStart, &periodEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PlanRecord{}, false, nil
		}
		return models.PlanRecord{}, false, storeErr("get plan", err)
	}
	p.UserID = userID
	p.StripeCustomerID = stripeCustomerID.String
	p.StripeSubscriptionID = stripeSubscriptionID.String
	if periodEnd.Valid {
		end := periodEnd.Time
		p.PeriodEnd = &end
	}
	return p, true, nil
}

const planQuery = `
	SELECT plan_type, status, stripe_customer_id, stripe_subscription_id,
	       current_period_start, current_period_end
	FROM user_subscriptions
	WHERE user_id = $1;
`

func (s *PostgresStore) GetPlan(ctx context.Context, userID string) (models.PlanRecord, bool, error) {
	return scanPlan(s.db.QueryRowContext(ctx, planQuery, userID), userID)
}

func (s *PostgresStore) SetPlan(ctx context.Context, p models.PlanRecord) error {
	var periodEnd sql.NullTime
	if p.PeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *p.PeriodEnd, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions
			(user_id, plan_type, status, stripe_customer_id,
			 stripe_subscription_id, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type,
		    status = EXCLUDED.status,
		    stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, user_subscriptions.stripe_customer_id),
		    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end;
	`, p.UserID, p.Kind, p.Status, nullIfEmpty(p.StripeCustomerID),
		nullIfEmpty(p.StripeSubscriptionID), p.PeriodStart, periodEnd)
	if err != nil {
		return storeErr("set plan", err)
	}
	return nil
}

func (s *PostgresStore) SetStripeCustomer(ctx context.Context, userID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions
			(user_id, plan_type, status, stripe_customer_id, current_period_start)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id;
	`, userID, models.PlanFree, models.PlanStatusActive, customerID)
	if err != nil {
		return storeErr("set stripe customer", err)
	}
	return nil
}

func (s *PostgresStore) UserIDByStripeCustomer(ctx context.Context, customerID string) (string, bool, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM user_subscriptions
		WHERE stripe_customer_id = $1;
	`, customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storeErr("user by stripe customer", err)
	}
	return userID, true, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, userID, monthYear string) (models.LikeUsage, error) {
	u := models.LikeUsage{UserID: userID, MonthYear: monthYear}
	err := s.db.QueryRowContext(ctx, `
		SELECT used_count, purchased_count, updated_at
		FROM like_usage
		WHERE user_id = $1 AND month_year = $2;
	`, userID, monthYear).Scan(&u.UsedCount, &u.PurchasedCount, &u.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.LikeUsage{}, storeErr("get usage", err)
	}
	return u, nil
}

// WithUsage runs fn against the (user, month) bucket under a serializable
// transaction with the bucket row locked FOR UPDATE, retrying bounded times
// on serialization failures. Business errors from fn pass through untouched.
func (s *PostgresStore) WithUsage(ctx context.Context, userID, monthYear string, fn UsageMutator) (models.LikeUsage, error) {
	for attempt := 0; ; attempt++ {
		u, err := s.withUsageOnce(ctx, userID, monthYear, fn)
		if err != nil && isRetryableTxError(err) && attempt < serializationRetryLimit {
			continue
		}
		return u, err
	}
}

func (s *PostgresStore) withUsageOnce(ctx context.Context, userID, monthYear string, fn UsageMutator) (models.LikeUsage, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return models.LikeUsage{}, storeErr("begin usage tx", err)
	}
	defer tx.Rollback()

	// Lazily create the bucket so FOR UPDATE has a row to lock.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO like_usage (user_id, month_year, used_count, purchased_count, updated_at)
		VALUES ($1, $2, 0, 0, now())
		ON CONFLICT (user_id, month_year) DO NOTHING;
	`, userID, monthYear); err != nil {
		return models.LikeUsage{}, storeErr("init usage bucket", err)
	}

	u := models.LikeUsage{UserID: userID, MonthYear: monthYear}
	if err := tx.QueryRowContext(ctx, `
		SELECT used_count, purchased_count, updated_at
		FROM like_usage
		WHERE user_id = $1 AND month_year = $2
		FOR UPDATE;
	`, userID, monthYear).Scan(&u.UsedCount, &u.PurchasedCount, &u.UpdatedAt); err != nil {
		return models.LikeUsage{}, storeErr("lock usage bucket", err)
	}

	plan, ok, err := scanPlan(tx.QueryRowContext(ctx, planQuery, userID), userID)
	if err != nil {
		return models.LikeUsage{}, err
	}
	var planRef *models.PlanRecord
	if ok {
		planRef = &plan
	}

	commit, err := fn(planRef, &u)
	if err != nil {
		return models.LikeUsage{}, err
	}
	if commit {
		if _, err := tx.ExecContext(ctx, `
			UPDATE like_usage
			SET used_count = $1, purchased_count = $2, updated_at = now()
			WHERE user_id = $3 AND month_year = $4;
		`, u.UsedCount, u.PurchasedCount, userID, monthYear); err != nil {
			return models.LikeUsage{}, storeErr("update usage bucket", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.LikeUsage{}, storeErr("commit usage tx", err)
	}
	return u, nil
}

func (s *PostgresStore) CreateInvite(ctx context.Context, inv models.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (id, user_id, invite_code, name, clicks, signups, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5);
	`, inv.ID, inv.UserID, inv.InviteCode, inv.Name, inv.CreatedAt)
	if err != nil {
		return storeErr("create invite", err)
	}
	return nil
}

const inviteColumns = `id, user_id, invite_code, name, clicks, signups, created_at`

func (s *PostgresStore) scanInvite(row *sql.Row, notFoundID string) (models.Invite, error) {
	var inv models.Invite
	err := row.Scan(&inv.ID, &inv.UserID, &inv.InviteCode, &inv.Name, &inv.Clicks, &inv.Signups, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invite{}, NotFoundError{Kind: "invite", ID: notFoundID}
		}
		return models.Invite{}, storeErr("get invite", err)
	}
	return inv, nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, id string) (models.Invite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id = $1;`, id)
	return s.scanInvite(row, id)
}

func (s *PostgresStore) GetInviteByCode(ctx context.Context, code string) (models.Invite, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+inviteColumns+` FROM invites WHERE invite_code = $1;`, code)
	return s.scanInvite(row, code)
}

func (s *PostgresStore) IncrementInviteClicks(ctx context.Context, code string) (int, error) {
	var clicks int
	err := s.db.QueryRowContext(ctx, `
		UPDATE invites
		SET clicks = clicks + 1
		WHERE invite_code = $1
		RETURNING clicks;
	`, code).Scan(&clicks)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, NotFoundError{Kind: "invite", ID: code}
		}
		return 0, storeErr("increment invite clicks", err)
	}
	return clicks, nil
}

func (s *PostgresStore) IncrementInviteSignups(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invites
		SET signups = signups + 1
		WHERE id = $1;
	`, id)
	if err != nil {
		return storeErr("increment invite signups", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return NotFoundError{Kind: "invite", ID: id}
	}
	return nil
}

func (s *PostgresStore) CreateDeclaration(ctx context.Context, d models.Declaration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO declarations
			(id, user_id, invite_id, target_name, matched, notified, consumed_like, created_at)
		VALUES ($1, $2, $3, $4, false, false, $5, $6);
	`, d.ID, d.UserID, d.InviteID, d.TargetName, d.ConsumedLike, d.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return DuplicateDeclarationError{TargetName: d.TargetName}
		}
		return storeErr("create declaration", err)
	}
	return nil
}

const declarationColumns = `id, user_id, invite_id, target_name, matched, notified, consumed_like, created_at`

func scanDeclaration(scan func(...any) error) (models.Declaration, error) {
	var d models.Declaration
	err := scan(&d.ID, &d.UserID, &d.InviteID, &d.TargetName, &d.Matched, &d.Notified, &d.ConsumedLike, &d.CreatedAt)
	return d, err
}

func (s *PostgresStore) GetDeclaration(ctx context.Context, id string) (models.Declaration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+declarationColumns+` FROM declarations WHERE id = $1;`, id)
	d, err := scanDeclaration(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Declaration{}, NotFoundError{Kind: "declaration", ID: id}
		}
		return models.Declaration{}, storeErr("get declaration", err)
	}
	return d, nil
}

func (s *PostgresStore) HasDeclaration(ctx context.Context, userID, inviteID, targetName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM declarations
			WHERE user_id = $1 AND invite_id = $2 AND lower(target_name) = lower($3)
		);
	`, userID, inviteID, targetName).Scan(&exists)
	if err != nil {
		return false, storeErr("check declaration", err)
	}
	return exists, nil
}

func (s *PostgresStore) queryDeclarations(ctx context.Context, query string, args ...any) ([]models.Declaration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query declarations", err)
	}
	defer rows.Close()

	var out []models.Declaration
	for rows.Next() {
		d, err := scanDeclaration(rows.Scan)
		if err != nil {
			return nil, storeErr("scan declaration", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query declarations", err)
	}
	return out, nil
}

func (s *PostgresStore) ListDeclarations(ctx context.Context, userID, inviteID string) ([]models.Declaration, error) {
	return s.queryDeclarations(ctx, `
		SELECT `+declarationColumns+`
		FROM declarations
		WHERE user_id = $1 AND invite_id = $2
		ORDER BY created_at DESC, id DESC;
	`, userID, inviteID)
}

func (s *PostgresStore) FindMutualCandidates(ctx context.Context, inviteID, targetName, excludeUserID string) ([]models.Declaration, error) {
	return s.queryDeclarations(ctx, `
		SELECT `+declarationColumns+`
		FROM declarations
		WHERE invite_id = $1
		  AND matched = false
		  AND user_id <> $2
		  AND lower(target_name) = lower($3)
		ORDER BY created_at ASC, id ASC;
	`, inviteID, excludeUserID, targetName)
}

// CompleteMatch flips both rows to matched in one conditional update. The
// matched = false guard makes concurrent symmetric submissions commute:
// exactly one caller sees both rows change.
func (s *PostgresStore) CompleteMatch(ctx context.Context, inviteID, declarationID, counterpartID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, storeErr("begin match tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE declarations
		SET matched = true
		WHERE invite_id = $1
		  AND id = ANY($2)
		  AND matched = false;
	`, inviteID, pq.Array([]string{declarationID, counterpartID}))
	if err != nil {
		return false, storeErr("complete match", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("complete match", err)
	}
	if rows != 2 {
		// One side changed under us; roll back so neither row is left
		// half-matched.
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("commit match tx", err)
	}
	return true, nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE declarations
		SET notified = true
		WHERE id = ANY($1);
	`, pq.Array(ids))
	if err != nil {
		return storeErr("mark notified", err)
	}
	return nil
}

func (s *PostgresStore) RecordPurchase(ctx context.Context, p models.PurchaseRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchase_history
			(user_id, purchase_type, amount, quantity, stripe_payment_intent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, p.UserID, p.Kind, p.Amount, p.Quantity, nullIfEmpty(p.PaymentRef), p.CreatedAt)
	if err != nil {
		return storeErr("record purchase", err)
	}
	return nil
}
