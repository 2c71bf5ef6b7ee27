// Package store 是凭证（订单 / 赠票）及其明细的持久化层。
// 读-改-写必须放在 WithTx 里；Locking() 返回的 store 在读取时加行锁。
package store

import (
	"context"
	"fmt"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db      *gorm.DB
	locking bool
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// WithTx 在事务内执行 fn；已处于事务中时 gorm 会退化为 savepoint。
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Store{db: tx, locking: s.locking})
		return fnErr
	})
	if fnErr != nil {
		// 回调的错误原样返回，只对 begin / commit 本身的错误归类。
		return fnErr
	}
	return classify(err)
}

// Locking 返回一个读取时附带 SELECT ... FOR UPDATE 的 store，只应在 WithTx 内使用。
// SQLite 不支持行锁，驱动会忽略该子句，写串行化由单连接保证。
func (s *Store) Locking() *Store {
	return &Store{db: s.db, locking: true}
}

func (s *Store) q(ctx context.Context) *gorm.DB {
	db := s.db.WithContext(ctx)
	if s.locking {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (s *Store) loadItems(ctx context.Context, kind model.EntitlementKind, id string) ([]model.Item, error) {
	var items []model.Item
	err := s.q(ctx).
		Where("owner_kind = ? AND owner_id = ?", kind, id).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, classify(err)
	}
	return items, nil
}

func (s *Store) findOrder(ctx context.Context, query string, arg any) (*model.Order, error) {
	var o model.Order
	if err := s.q(ctx).Where(query, arg).Order("created_at DESC").Take(&o).Error; err != nil {
		return nil, classify(err)
	}
	items, err := s.loadItems(ctx, model.KindOrder, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.findOrder(ctx, "id = ?", id)
}

func (s *Store) FindOrderByToken(ctx context.Context, token string) (*model.Order, error) {
	return s.findOrder(ctx, "exchange_token = ?", token)
}

func (s *Store) FindOrderByPreferenceID(ctx context.Context, preferenceID string) (*model.Order, error) {
	return s.findOrder(ctx, "preference_id = ?", preferenceID)
}

func (s *Store) FindOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	return s.findOrder(ctx, "payment_id = ?", paymentID)
}

func (s *Store) findCourtesy(ctx context.Context, query string, arg any) (*model.Courtesy, error) {
	var c model.Courtesy
	if err := s.q(ctx).Where(query, arg).Take(&c).Error; err != nil {
		return nil, classify(err)
	}
	items, err := s.loadItems(ctx, model.KindCourtesy, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

func (s *Store) GetCourtesy(ctx context.Context, id string) (*model.Courtesy, error) {
	return s.findCourtesy(ctx, "id = ?", id)
}

func (s *Store) FindCourtesyByToken(ctx context.Context, token string) (*model.Courtesy, error) {
	return s.findCourtesy(ctx, "token = ?", token)
}

// TokenExists 查询全局 token 登记表。
func (s *Store) TokenExists(ctx context.Context, token string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.RedemptionToken{}).Where("token = ?", token).Count(&n).Error; err != nil {
		return false, classify(err)
	}
	return n > 0, nil
}

func (s *Store) registerToken(ctx context.Context, token string, kind model.EntitlementKind, id string) error {
	rec := &model.RedemptionToken{Token: token, Kind: kind, EntitlementID: id}
	return classify(s.db.WithContext(ctx).Create(rec).Error)
}

func (s *Store) createItems(ctx context.Context, kind model.EntitlementKind, id string, items []model.Item) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OwnerKind = kind
		items[i].OwnerID = id
	}
	return classify(s.db.WithContext(ctx).Create(&items).Error)
}

// CreateOrder 写入订单及明细。
func (s *Store) CreateOrder(ctx context.Context, o *model.Order) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := classify(tx.db.WithContext(ctx).Create(o).Error); err != nil {
			return err
		}
		if o.ExchangeToken != nil {
			if err := tx.registerToken(ctx, *o.ExchangeToken, model.KindOrder, o.ID); err != nil {
				return err
			}
		}
		return tx.createItems(ctx, model.KindOrder, o.ID, o.Items)
	})
}

// CreateCourtesy 写入赠票、明细并登记 token；token 撞号时返回 ErrDuplicate。
func (s *Store) CreateCourtesy(ctx context.Context, c *model.Courtesy) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.registerToken(ctx, c.Token, model.KindCourtesy, c.ID); err != nil {
			return err
		}
		if err := classify(tx.db.WithContext(ctx).Create(c).Error); err != nil {
			return err
		}
		return tx.createItems(ctx, model.KindCourtesy, c.ID, c.Items)
	})
}

// IssueToken 给订单分配核销 token。登记表主键冲突时返回 ErrDuplicate，绝不覆盖已有 token。
func (s *Store) IssueToken(ctx context.Context, orderID, token string) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if err := tx.registerToken(ctx, token, model.KindOrder, orderID); err != nil {
			return err
		}
		res := tx.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ? AND exchange_token IS NULL", orderID).
			Update("exchange_token", token)
		if res.Error != nil {
			return classify(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order %s already has a token", ErrConflict, orderID)
		}
		return nil
	})
}

// ApplyDelivery 以 compare-and-set 方式增加已发放数量：
// 只有 delivered 仍等于读取时的值且不超过 quantity 才会更新，否则返回 ErrConflict。
func (s *Store) ApplyDelivery(ctx context.Context, item model.Item, qty int, at time.Time, by string) error {
	if qty < 1 {
		return apperr.Newf(apperr.KindInvalidQuantity, "quantity for item %d must be at least 1", item.ID)
	}
	res := s.db.WithContext(ctx).Model(&model.Item{}).
		Where("id = ? AND delivered = ? AND delivered + ? <= quantity", item.ID, item.Delivered, qty).
		Updates(map[string]any{
			"delivered":         gorm.Expr("delivered + ?", qty),
			"last_delivered_at": at,
			"last_delivered_by": by,
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: item %d changed concurrently", ErrConflict, item.ID)
	}
	return nil
}

// MarkRedeemed 持久化终态切换，状态同样做 compare-and-set。
func (s *Store) MarkRedeemed(ctx context.Context, e model.Entitlement) error {
	var res *gorm.DB
	switch x := e.(type) {
	case *model.Order:
		res = s.db.WithContext(ctx).Model(&model.Order{}).
			Where("id = ? AND status = ?", x.ID, model.OrderPaid).
			Updates(map[string]any{
				"status":      x.Status,
				"redeemed_at": x.RedeemedAt,
				"redeemed_by": x.RedeemedBy,
			})
	case *model.Courtesy:
		res = s.db.WithContext(ctx).Model(&model.Courtesy{}).
			Where("id = ? AND status = ?", x.ID, model.CourtesyActive).
			Updates(map[string]any{
				"status":      x.Status,
				"redeemed_at": x.RedeemedAt,
				"redeemed_by": x.RedeemedBy,
			})
	default:
		return fmt.Errorf("unsupported entitlement %T", e)
	}
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: %s %s changed concurrently", ErrConflict, e.Kind(), e.EntitlementID())
	}
	return nil
}

// PaymentUpdate 对账结果落库的字段。
type PaymentUpdate struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
	PaymentID     string
	PaidAt        *time.Time
}

// ApplyPayment 以 from 状态为前提更新订单支付字段。
func (s *Store) ApplyPayment(ctx context.Context, orderID string, from model.OrderStatus, upd PaymentUpdate) error {
	fields := map[string]any{
		"status":         upd.Status,
		"payment_status": upd.PaymentStatus,
	}
	if upd.PaymentID != "" {
		fields["payment_id"] = upd.PaymentID
	}
	if upd.PaidAt != nil {
		fields["paid_at"] = upd.PaidAt
	}
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(fields)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: order %s changed concurrently", ErrConflict, orderID)
	}
	return nil
}

// PurgeCancelledOrders 管理员清理：删除 before 之前已取消的订单、明细与 token 登记。
func (s *Store) PurgeCancelledOrders(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	err := s.WithTx(ctx, func(tx *Store) error {
		var ids []string
		if err := tx.db.WithContext(ctx).Model(&model.Order{}).
			Where("status = ? AND updated_at < ?", model.OrderCancelled, before).
			Pluck("id", &ids).Error; err != nil {
			return classify(err)
		}
		if len(ids) == 0 {
			return nil
		}
		db := tx.db.WithContext(ctx)
		if err := db.Where("owner_kind = ? AND owner_id IN ?", model.KindOrder, ids).Delete(&model.Item{}).Error; err != nil {
			return classify(err)
		}
		if err := db.Where("entitlement_id IN ?", ids).Delete(&model.RedemptionToken{}).Error; err != nil {
			return classify(err)
		}
		res := db.Where("id IN ? AND status = ?", ids, model.OrderCancelled).Delete(&model.Order{})
		if res.Error != nil {
			return classify(res.Error)
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

// ActiveLot 返回 now 时刻可售的批次。
func (s *Store) ActiveLot(ctx context.Context, now time.Time) (*model.Lot, error) {
	var l model.Lot
	err := s.db.WithContext(ctx).
		Where("active = ? AND starts_at <= ? AND ends_at > ?", true, now, now).
		Order("starts_at DESC").
		Take(&l).Error
	if err != nil {
		return nil, classify(err)
	}
	return &l, nil
}

// SyncLots 按名称 upsert 批次配置。
func (s *Store) SyncLots(ctx context.Context, lots []model.Lot) error {
	return s.WithTx(ctx, func(tx *Store) error {
		for i := range lots {
			err := tx.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"primary_price", "add_on_price", "starts_at", "ends_at", "active", "updated_at"}),
			}).Create(&lots[i]).Error
			if err != nil {
				return classify(err)
			}
		}
		return nil
	})
}

func (s *Store) SaveEmailLog(ctx context.Context, l *model.EmailLog) error {
	return classify(s.db.WithContext(ctx).Create(l).Error)
}

// SaveEvent 幂等写入审计事件，event_id 已存在时返回 false。
func (s *Store) SaveEvent(ctx context.Context, rec *model.EntitlementEventRecord) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListEvents(ctx context.Context, entitlementID string) ([]model.EntitlementEventRecord, error) {
	var out []model.EntitlementEventRecord
	err := s.db.WithContext(ctx).Where("entitlement_id = ?", entitlementID).Order("id").Find(&out).Error
	return out, classify(err)
}
