// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/strands/settlement-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrBookingNotFound возвращается, если запись на услугу не найдена.
var (
	ErrBookingNotFound = errors.New("booking not found")
	// ErrInstrumentNotFound возвращается, если платёжное средство не найдено у клиента.
	ErrInstrumentNotFound = errors.New("payment instrument not found")
	// ErrAddressNotFound возвращается, если платёжный адрес не найден у клиента.
	ErrAddressNotFound = errors.New("billing address not found")
	// ErrRewardNotFound возвращается, если активная неиспользованная награда не найдена.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrPromotionNotFound возвращается, если выданный промокод не найден.
	ErrPromotionNotFound = errors.New("promotion not found")
	// ErrPromotionCodeExists возвращается при выдаче промокода с занятым кодом.
	ErrPromotionCodeExists = errors.New("promotion code already exists")
	// ErrRewardUnavailable возвращается, если награду успели использовать параллельно.
	ErrRewardUnavailable = errors.New("reward no longer available")
	// ErrPromotionUnavailable возвращается, если промокод успели использовать параллельно.
	ErrPromotionUnavailable = errors.New("promotion no longer available")
	// ErrBookingConflict возвращается, если статус записи изменился параллельно с расчётом.
	ErrBookingConflict = errors.New("booking status changed concurrently")
	// ErrVisitAlreadyProcessed возвращается, если визит успел обработать другой проход.
	ErrVisitAlreadyProcessed = errors.New("visit already processed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Ошибки контекста не ретраим.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// casExec выполняет условное обновление и сообщает, затронула ли команда ровно одну строку.
// Нулевой результат означает проигранную гонку за строку, а не ошибку запроса.
func casExec(ctx context.Context, tx pgx.Tx, query string, args ...any) (bool, error) {
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetBooking возвращает запись на услугу по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, customer_id, merchant_id, starts_at, ends_at, status, loyalty_state, created_at
		 FROM bookings WHERE id = $1`,
		id,
	)

	var b model.Booking
	var status, loyaltyState string
	err := row.Scan(&b.ID, &b.CustomerID, &b.MerchantID, &b.StartsAt, &b.EndsAt, &status, &loyaltyState, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}

	b.Status = model.BookingStatus(status)
	b.LoyaltyState = model.LoyaltyState(loyaltyState)

	return &b, nil
}

// CheckInstrumentOwnership проверяет, что платёжное средство принадлежит клиенту.
func (r *PostgresRepository) CheckInstrumentOwnership(ctx context.Context, instrumentID, customerID int64) error {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM payment_instruments WHERE id = $1 AND customer_id = $2`,
		instrumentID, customerID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInstrumentNotFound
		}
		return fmt.Errorf("check instrument: %w", err)
	}
	return nil
}

// CheckAddressOwnership проверяет, что платёжный адрес принадлежит клиенту.
func (r *PostgresRepository) CheckAddressOwnership(ctx context.Context, addressID, customerID int64) error {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM billing_addresses WHERE id = $1 AND customer_id = $2`,
		addressID, customerID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAddressNotFound
		}
		return fmt.Errorf("check address: %w", err)
	}
	return nil
}

// GetActiveReward возвращает активную неиспользованную награду клиента.
// Для платежей по записи награда дополнительно ограничивается салоном записи.
func (r *PostgresRepository) GetActiveReward(ctx context.Context, rewardID, customerID int64, merchantID *int64) (*model.Reward, error) {
	query := `SELECT id, customer_id, merchant_id, discount_percentage, note, active, redeemed_at, created_at
		 FROM rewards
		 WHERE id = $1 AND customer_id = $2 AND active AND redeemed_at IS NULL`
	args := []any{rewardID, customerID}
	if merchantID != nil {
		query += ` AND merchant_id = $3`
		args = append(args, *merchantID)
	}

	var rw model.Reward
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&rw.ID, &rw.CustomerID, &rw.MerchantID, &rw.DiscountPercentage,
		&rw.Note, &rw.Active, &rw.RedeemedAt, &rw.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, fmt.Errorf("get reward: %w", err)
	}

	return &rw, nil
}

// GetIssuedPromotion возвращает выданный промокод клиента в салоне записи.
func (r *PostgresRepository) GetIssuedPromotion(ctx context.Context, code string, customerID, merchantID int64) (*model.Promotion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, merchant_id, customer_id, code, discount_percentage, status, expires_at, created_at
		 FROM promotions
		 WHERE code = $1 AND customer_id = $2 AND merchant_id = $3 AND status = $4`,
		code, customerID, merchantID, string(model.PromotionStatusIssued),
	)

	var p model.Promotion
	var status string
	err := row.Scan(&p.ID, &p.MerchantID, &p.CustomerID, &p.Code, &p.DiscountPercentage, &status, &p.ExpiresAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPromotionNotFound
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}

	p.Status = model.PromotionStatus(status)

	return &p, nil
}

// ListRewardsByCustomer возвращает активные награды клиента.
func (r *PostgresRepository) ListRewardsByCustomer(ctx context.Context, customerID int64) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, merchant_id, discount_percentage, note, active, redeemed_at, created_at
		 FROM rewards
		 WHERE customer_id = $1 AND active AND redeemed_at IS NULL
		 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(
			&rw.ID, &rw.CustomerID, &rw.MerchantID, &rw.DiscountPercentage,
			&rw.Note, &rw.Active, &rw.RedeemedAt, &rw.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListPromotionsByCustomer возвращает выданные промокоды клиента.
func (r *PostgresRepository) ListPromotionsByCustomer(ctx context.Context, customerID int64) ([]model.Promotion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, merchant_id, customer_id, code, discount_percentage, status, expires_at, created_at
		 FROM promotions
		 WHERE customer_id = $1 AND status = $2
		 ORDER BY created_at DESC`,
		customerID, string(model.PromotionStatusIssued),
	)
	if err != nil {
		return nil, fmt.Errorf("select promotions: %w", err)
	}
	defer rows.Close()

	var res []model.Promotion
	for rows.Next() {
		var p model.Promotion
		var status string
		if err := rows.Scan(&p.ID, &p.MerchantID, &p.CustomerID, &p.Code, &p.DiscountPercentage, &status, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		p.Status = model.PromotionStatus(status)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreatePromotion сохраняет выданный промокод.
func (r *PostgresRepository) CreatePromotion(ctx context.Context, issue model.PromotionIssue) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO promotions (merchant_id, customer_id, code, discount_percentage, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		issue.MerchantID, issue.CustomerID, issue.Code, issue.DiscountPercentage,
		string(model.PromotionStatusIssued), issue.ExpiresAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrPromotionCodeExists, issue.Code)
		}
		return 0, fmt.Errorf("create promotion: %w", err)
	}
	return id, nil
}

// SettlementPlan описывает подготовленный расчёт для атомарной фиксации.
type SettlementPlan struct {
	CustomerID       int64
	InstrumentID     int64
	BillingAddressID int64
	BookingID        *int64
	OrderID          *int64
	AmountCents      int64
	OriginalCents    *int64
	RewardID         *int64
	PromotionID      *int64
}

// CommitSettlement атомарно фиксирует расчёт: вставляет платёж, условно
// погашает выбранную скидку и условно подтверждает запись. Любой нулевой
// результат условного обновления откатывает всю транзакцию с ошибкой,
// различающей причину гонки.
func (r *PostgresRepository) CommitSettlement(ctx context.Context, plan SettlementPlan) (int64, error) {
	var paymentID int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO payments
			 (customer_id, instrument_id, billing_address_id, booking_id, order_id, amount, original_amount, reward_id, promotion_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			plan.CustomerID, plan.InstrumentID, plan.BillingAddressID,
			plan.BookingID, plan.OrderID, plan.AmountCents, plan.OriginalCents,
			plan.RewardID, plan.PromotionID,
		).Scan(&paymentID)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if plan.RewardID != nil {
			ok, err := casExec(ctx, tx,
				`UPDATE rewards SET active = FALSE, redeemed_at = now()
				 WHERE id = $1 AND customer_id = $2 AND active AND redeemed_at IS NULL`,
				*plan.RewardID, plan.CustomerID,
			)
			if err != nil {
				return fmt.Errorf("redeem reward: %w", err)
			}
			if !ok {
				return ErrRewardUnavailable
			}
		}

		if plan.PromotionID != nil {
			ok, err := casExec(ctx, tx,
				`UPDATE promotions SET status = $3
				 WHERE id = $1 AND customer_id = $2 AND status = $4`,
				*plan.PromotionID, plan.CustomerID,
				string(model.PromotionStatusRedeemed), string(model.PromotionStatusIssued),
			)
			if err != nil {
				return fmt.Errorf("redeem promotion: %w", err)
			}
			if !ok {
				return ErrPromotionUnavailable
			}
		}

		if plan.BookingID != nil {
			ok, err := casExec(ctx, tx,
				`UPDATE bookings SET status = $3
				 WHERE id = $1 AND customer_id = $2 AND status = $4`,
				*plan.BookingID, plan.CustomerID,
				string(model.BookingStatusScheduled), string(model.BookingStatusPending),
			)
			if err != nil {
				return fmt.Errorf("confirm booking: %w", err)
			}
			if !ok {
				return ErrBookingConflict
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return paymentID, nil
}

// ReleaseBooking удаляет предварительную запись, чтобы освободить слот.
// Удаляется только запись клиента, всё ещё находящаяся в статусе PENDING;
// возвращает признак того, что строка действительно была удалена.
func (r *PostgresRepository) ReleaseBooking(ctx context.Context, bookingID, customerID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM bookings WHERE id = $1 AND customer_id = $2 AND status = $3`,
		bookingID, customerID, string(model.BookingStatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("release booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetBookingStaff возвращает идентификаторы мастеров, назначенных на запись.
func (r *PostgresRepository) GetBookingStaff(ctx context.Context, bookingID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT staff_id FROM booking_staff WHERE booking_id = $1 ORDER BY staff_id`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("select booking staff: %w", err)
	}
	defer rows.Close()

	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan staff id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetBookingsForAccrual возвращает завершённые визиты, ожидающие учёта лояльности.
func (r *PostgresRepository) GetBookingsForAccrual(ctx context.Context, limit int) ([]model.AccrualCandidate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, merchant_id
		 FROM bookings
		 WHERE status = $1 AND loyalty_state = $2 AND ends_at < now()
		 ORDER BY ends_at
		 LIMIT $3`,
		string(model.BookingStatusCompleted), string(model.LoyaltyStateUnprocessed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings for accrual: %w", err)
	}
	defer rows.Close()

	var res []model.AccrualCandidate
	for rows.Next() {
		var c model.AccrualCandidate
		if err := rows.Scan(&c.BookingID, &c.CustomerID, &c.MerchantID); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AccrueVisit учитывает один завершённый визит в отдельной транзакции:
// блокирует членство пары (клиент, салон), увеличивает счётчик визитов и при
// достижении порога программы чеканит награду, оставляя излишек визитов на
// следующий цикл. Блокировка строки членства исключает двойной учёт при
// параллельных проходах.
func (r *PostgresRepository) AccrueVisit(ctx context.Context, c model.AccrualCandidate) (*model.Reward, error) {
	var minted *model.Reward

	err := r.withRetry(ctx, func() error {
		minted = nil

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Создаём членство при первом визите; конфликт означает, что строка уже есть.
		_, err = tx.Exec(ctx,
			`INSERT INTO loyalty_memberships (customer_id, merchant_id, visits_count)
			 VALUES ($1, $2, 0)
			 ON CONFLICT (customer_id, merchant_id) DO NOTHING`,
			c.CustomerID, c.MerchantID,
		)
		if err != nil {
			return fmt.Errorf("ensure membership: %w", err)
		}

		var membershipID, visits int64
		err = tx.QueryRow(ctx,
			`SELECT id, visits_count FROM loyalty_memberships
			 WHERE customer_id = $1 AND merchant_id = $2
			 FOR UPDATE`,
			c.CustomerID, c.MerchantID,
		).Scan(&membershipID, &visits)
		if err != nil {
			return fmt.Errorf("lock membership: %w", err)
		}

		visits++

		var program model.LoyaltyProgram
		err = tx.QueryRow(ctx,
			`SELECT merchant_id, target_visits, discount_percentage, active, note
			 FROM loyalty_programs
			 WHERE merchant_id = $1 AND active`,
			c.MerchantID,
		).Scan(&program.MerchantID, &program.TargetVisits, &program.DiscountPercentage, &program.Active, &program.Note)
		hasProgram := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("get loyalty program: %w", err)
		}

		mint := false
		if hasProgram {
			visits, mint = model.AccrualOutcome(visits, program.TargetVisits)
		}

		if mint {
			var rw model.Reward
			err = tx.QueryRow(ctx,
				`INSERT INTO rewards (customer_id, merchant_id, discount_percentage, note)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id, customer_id, merchant_id, discount_percentage, note, active, redeemed_at, created_at`,
				c.CustomerID, c.MerchantID, program.DiscountPercentage, program.Note,
			).Scan(&rw.ID, &rw.CustomerID, &rw.MerchantID, &rw.DiscountPercentage, &rw.Note, &rw.Active, &rw.RedeemedAt, &rw.CreatedAt)
			if err != nil {
				return fmt.Errorf("mint reward: %w", err)
			}

			minted = &rw
		}

		_, err = tx.Exec(ctx,
			`UPDATE loyalty_memberships SET visits_count = $2 WHERE id = $1`,
			membershipID, visits,
		)
		if err != nil {
			return fmt.Errorf("update membership: %w", err)
		}

		processed, err := model.LoyaltyStateUnprocessed.Transition(model.LoyaltyEventAccrue)
		if err != nil {
			return err
		}

		ok, err := casExec(ctx, tx,
			`UPDATE bookings SET loyalty_state = $2
			 WHERE id = $1 AND loyalty_state = $3`,
			c.BookingID, string(processed), string(model.LoyaltyStateUnprocessed),
		)
		if err != nil {
			return fmt.Errorf("mark booking processed: %w", err)
		}
		if !ok {
			return ErrVisitAlreadyProcessed
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return minted, nil
}

// MarkCanceledProcessed помечает отменённые записи обработанными, чтобы они
// не попадали в выборку учёта повторно. Блокировки не требуются: обновление
// условное и идемпотентное.
func (r *PostgresRepository) MarkCanceledProcessed(ctx context.Context) (int64, error) {
	skipped, err := model.LoyaltyStateUnprocessed.Transition(model.LoyaltyEventSkipCanceled)
	if err != nil {
		return 0, err
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET loyalty_state = $1
		 WHERE status = $2 AND loyalty_state = $3`,
		string(skipped), string(model.BookingStatusCanceled), string(model.LoyaltyStateUnprocessed),
	)
	if err != nil {
		return 0, fmt.Errorf("mark canceled processed: %w", err)
	}

	return tag.RowsAffected(), nil
}
