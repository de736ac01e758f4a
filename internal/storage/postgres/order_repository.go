package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

const orderColumns = `
	id, idempotency_key, request_hash, user_id, shipping_address_id, status, currency, total_minor,
	payment_transaction_id, payment_confirmed_at, order_confirmed_at, full_return, version, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.store.conn(ctx)

		_, err := db.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			order.ID, order.IdempotencyKey, order.RequestHash, order.UserID, order.ShippingAddressID,
			string(order.Status), order.Currency, order.TotalMinor, order.PaymentTransactionID,
			nullTime(order.PaymentConfirmedAt), nullTime(order.OrderConfirmedAt), order.FullReturn,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return storageErr("insert order", err)
		}

		for pos, item := range order.Items {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, position, product_id, product_name, unit_price_minor, qty,
					subtotal_minor, returned_qty, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`,
				item.ID, order.ID, pos, item.ProductID, item.ProductName, item.UnitPriceMinor, item.Qty,
				item.SubtotalMinor, item.ReturnedQty, item.CreatedAt,
			); err != nil {
				return storageErr("insert order item", err)
			}
		}

		for _, ri := range order.ReturnedItems {
			if err := upsertReturnedItem(ctx, db, ri); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	return r.getBy(ctx, "idempotency_key", key)
}

func (r *orderRepository) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	db := r.store.conn(ctx)

	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, storageErr("select order", err)
	}

	if err := r.loadChildren(ctx, db, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List возвращает страницу заказов, новые первыми.
func (r *orderRepository) List(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	filter = filter.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	db := r.store.conn(ctx)

	page := domain.OrderPage{Page: filter.Page, Size: filter.Size, Orders: []domain.Order{}}
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE ($1 = '' OR user_id = $1)
	`, filter.UserID).Scan(&page.Total); err != nil {
		return domain.OrderPage{}, storageErr("count orders", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, filter.UserID, filter.Size, filter.Page*filter.Size)
	if err != nil {
		return domain.OrderPage{}, storageErr("list orders", err)
	}
	defer rows.Close()

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, storageErr("scan order row", err)
		}
		page.Orders = append(page.Orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, storageErr("iterate order rows", err)
	}
	rows.Close()

	for i := range page.Orders {
		if err := r.loadChildren(ctx, db, &page.Orders[i]); err != nil {
			return domain.OrderPage{}, err
		}
	}
	return page, nil
}

// Save обновляет заказ с проверкой версии, количество возвращённых единиц по позициям
// и записи ReturnedItem (вставка новых, обновление статуса возврата у существующих).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	return r.store.WithinTransaction(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		db := r.store.conn(ctx)

		res, err := db.ExecContext(ctx, `
			UPDATE orders
			SET status = $1,
			    payment_transaction_id = $2,
			    payment_confirmed_at = $3,
			    order_confirmed_at = $4,
			    full_return = $5,
			    version = version + 1,
			    updated_at = $6
			WHERE id = $7
			  AND version = $8
		`,
			string(order.Status),
			order.PaymentTransactionID,
			nullTime(order.PaymentConfirmedAt),
			nullTime(order.OrderConfirmedAt),
			order.FullReturn,
			order.UpdatedAt,
			order.ID,
			order.Version,
		)
		if err != nil {
			return storageErr("update order", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return storageErr("rows affected", err)
		}
		if affected == 0 {
			exists, err := orderExists(ctx, db, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrOrderNotFound
			}
			return domain.ErrOrderVersionConflict
		}

		for _, item := range order.Items {
			if _, err := db.ExecContext(ctx, `
				UPDATE order_items SET returned_qty = $1 WHERE id = $2 AND order_id = $3
			`, item.ReturnedQty, item.ID, order.ID); err != nil {
				return storageErr("update order item", err)
			}
		}

		for _, ri := range order.ReturnedItems {
			if err := upsertReturnedItem(ctx, db, ri); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertReturnedItem(ctx context.Context, db executor, ri domain.ReturnedItem) error {
	// refund_transaction_id пишется один раз: повторное событие не перезаписывает его.
	_, err := db.ExecContext(ctx, `
		INSERT INTO returned_items (
			id, order_id, order_item_id, product_id, qty, refund_type, reason, refund_status,
			refund_transaction_id, refunded_at, refund_amount_minor, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE
		SET reason = EXCLUDED.reason,
		    refund_status = EXCLUDED.refund_status,
		    refund_transaction_id = CASE
		        WHEN returned_items.refund_transaction_id = '' THEN EXCLUDED.refund_transaction_id
		        ELSE returned_items.refund_transaction_id
		    END,
		    refunded_at = COALESCE(returned_items.refunded_at, EXCLUDED.refunded_at)
	`,
		ri.ID, ri.OrderID, ri.OrderItemID, ri.ProductID, ri.Qty, string(ri.RefundType), ri.Reason,
		string(ri.RefundStatus), ri.RefundTransactionID, nullTime(ri.RefundedAt), ri.RefundAmountMinor, ri.CreatedAt,
	)
	if err != nil {
		return storageErr("upsert returned item", err)
	}
	return nil
}

func (r *orderRepository) loadChildren(ctx context.Context, db executor, order *domain.Order) error {
	items, err := loadItems(ctx, db, order.ID)
	if err != nil {
		return err
	}
	returned, err := loadReturnedItems(ctx, db, order.ID)
	if err != nil {
		return err
	}
	order.Items = items
	order.ReturnedItems = returned
	return nil
}

func loadItems(ctx context.Context, db executor, orderID string) ([]domain.OrderItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, unit_price_minor, qty, subtotal_minor, returned_qty, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, storageErr("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPriceMinor,
			&item.Qty, &item.SubtotalMinor, &item.ReturnedQty, &item.CreatedAt,
		); err != nil {
			return nil, storageErr("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate order items", err)
	}

	return items, nil
}

func loadReturnedItems(ctx context.Context, db executor, orderID string) ([]domain.ReturnedItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, order_item_id, product_id, qty, refund_type, reason, refund_status,
		       refund_transaction_id, refunded_at, refund_amount_minor, created_at
		FROM returned_items
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, storageErr("load returned items", err)
	}
	defer rows.Close()

	result := make([]domain.ReturnedItem, 0)
	for rows.Next() {
		var (
			ri           domain.ReturnedItem
			refundType   string
			refundStatus string
			refundedAt   sql.NullTime
		)
		if err := rows.Scan(
			&ri.ID, &ri.OrderID, &ri.OrderItemID, &ri.ProductID, &ri.Qty, &refundType, &ri.Reason,
			&refundStatus, &ri.RefundTransactionID, &refundedAt, &ri.RefundAmountMinor, &ri.CreatedAt,
		); err != nil {
			return nil, storageErr("scan returned item", err)
		}
		ri.RefundType = domain.RefundType(refundType)
		ri.RefundStatus = domain.RefundStatus(refundStatus)
		ri.RefundedAt = timePtr(refundedAt)
		result = append(result, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate returned items", err)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                     domain.Order
		status                    string
		paymentAt, orderConfirmAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.IdempotencyKey, &order.RequestHash, &order.UserID, &order.ShippingAddressID,
		&status, &order.Currency, &order.TotalMinor, &order.PaymentTransactionID,
		&paymentAt, &orderConfirmAt, &order.FullReturn, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentConfirmedAt = timePtr(paymentAt)
	order.OrderConfirmedAt = timePtr(orderConfirmAt)
	return order, nil
}

func orderExists(ctx context.Context, db executor, orderID string) (bool, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("%w: check order exists: %v", domain.ErrStorage, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var _ domain.OrderRepository = (*orderRepository)(nil)
