package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

// OrderList: операции Store, которые оркестрирует Controller
type OrderList interface {
	CreateItem(ctx context.Context, in model.NewItem, actor model.Actor) (*model.OrderListItem, error)
	GetItem(ctx context.Context, id int64) (*model.OrderListItem, error)
	SetOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor) (*model.OrderListItem, error)
	RemoveItem(ctx context.Context, id int64, actor model.Actor) error
}

// StockAdjuster увеличивает складской остаток.
// Receive идемпотентен по rc.Key: повтор возвращает credited=false без ошибки
type StockAdjuster interface {
	Receive(ctx context.Context, rc model.StockReceipt) (credited bool, err error)
	PendingReceiptItems(ctx context.Context) ([]int64, error)
}

// receiptNamespace: пространство имён UUIDv5 для ключей оприходования
var receiptNamespace = uuid.MustParse("3f5d7c2e-9b1a-4e6f-8c0d-2a4b6e8f1c3d")

// ReceiptKey: ключ идемпотентности оприходования позиции.
// id позиций не переиспользуются, поэтому одна позиция оприходуется не больше одного раза
func ReceiptKey(itemID int64) string {
	return uuid.NewSHA1(receiptNamespace, []byte(strconv.FormatInt(itemID, 10))).String()
}

// reconcilerActor: от его имени выполняются удаления при сверке
var reconcilerActor = model.Actor{ID: "system", Name: "Reconciler"}

// Controller проверяет права и упорядочивает шаги жизненного цикла позиции
type Controller struct {
	list   OrderList
	stock  StockAdjuster
	events EventPublisher
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewController создаёт Controller
func NewController(list OrderList, stock StockAdjuster, events EventPublisher, log logrus.FieldLogger) *Controller {
	return &Controller{list: list, stock: stock, events: events, log: log, now: time.Now}
}

func authorize(op string, actor model.Actor) error {
	if !actor.Authenticated() {
		return apperr.Unauthorized(op, "authentication required")
	}
	if !actor.CanMutate() {
		return apperr.Unauthorized(op, "actor %q is not allowed to modify the order list", actor.ID)
	}
	return nil
}

// Add помечает SKU как требующий заказа
func (c *Controller) Add(ctx context.Context, in model.NewItem, actor model.Actor) (*model.OrderListItem, error) {
	if err := authorize("Add", actor); err != nil {
		return nil, err
	}
	it, err := c.list.CreateItem(ctx, in, actor)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"item_id": it.ID, "sku_id": it.SKUID, "actor": actor.ID}).Info("item added to order list")
	return it, nil
}

// ToggleOrdered устанавливает флаг ordered от имени actor
func (c *Controller) ToggleOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor) (*model.OrderListItem, error) {
	if err := authorize("ToggleOrdered", actor); err != nil {
		return nil, err
	}
	it, err := c.list.SetOrdered(ctx, id, ordered, actor)
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"item_id": id, "ordered": ordered, "actor": actor.ID}).Info("item ordered flag changed")
	return it, nil
}

// AddStock оприходует заказанную позицию и убирает её из списка:
// 1. Проверяет права actor
// 2. Перечитывает позицию из хранилища; незаказанную отклоняет с ErrValidation без обращения к складу
// 3. Оприходует quantity (или одну единицу) под ключом ReceiptKey(id); склад сам блокирует строку
// позиции и повторно проверяет, что она есть и заказана, поэтому параллельное удаление
// или снятие флага не приводит к оприходованию
// 4. Удаляет позицию из списка
// При ошибке склада позиция остаётся как была, ошибка возвращается без изменений.
// Если удаление не прошло после учтённого поступления, повтор безопасен (ключ тот же),
// а незавершённое удаление доделает Reconcile
func (c *Controller) AddStock(ctx context.Context, id int64, actor model.Actor) (*model.StockReceipt, error) {
	const op = "AddStock"
	if err := authorize(op, actor); err != nil {
		return nil, err
	}
	// состояние перечитываем из хранилища, а не берём у клиента
	it, err := c.list.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !it.Ordered {
		return nil, apperr.Validation(op, "item %d has not been ordered yet", id)
	}
	rc := model.StockReceipt{
		Key:        ReceiptKey(id),
		ItemID:     id,
		SKUID:      it.SKUID,
		Quantity:   it.UnitsToReceive(),
		ReceivedBy: actor.ID,
		ReceivedAt: c.now().UTC(),
	}
	log := c.log.WithFields(logrus.Fields{"item_id": id, "sku_id": rc.SKUID, "actor": actor.ID})
	credited, err := c.stock.Receive(ctx, rc)
	if err != nil {
		return nil, err
	}
	if credited {
		publishEvent(ctx, c.events, c.log, model.NewEvent(model.EventReceived, *it, actor, rc.ReceivedAt))
		log.WithField("quantity", rc.Quantity).Info("stock received")
	} else {
		log.Info("stock receipt already recorded, finishing removal")
	}
	err = c.list.RemoveItem(ctx, id, actor)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		log.WithError(err).Warn("item removal after stock receipt failed, left for reconciliation")
		return nil, apperr.UnknownOutcome(op, err)
	}
	// NotFound: склад учёл поступление, пока позиция была заказана, а убрал её
	// параллельный вызов или сверка уже после этого
	return &rc, nil
}

// Remove безвозвратно удаляет позицию
func (c *Controller) Remove(ctx context.Context, id int64, actor model.Actor) error {
	if err := authorize("Remove", actor); err != nil {
		return err
	}
	if err := c.list.RemoveItem(ctx, id, actor); err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"item_id": id, "actor": actor.ID}).Info("item removed from order list")
	return nil
}

// Reconcile удаляет позиции, поступление которых уже учтено, но которые остались в списке.
// Возвращает число удалённых позиций
func (c *Controller) Reconcile(ctx context.Context) (int, error) {
	ids, err := c.stock.PendingReceiptItems(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		err := c.list.RemoveItem(ctx, id, reconcilerActor)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, apperr.ErrNotFound):
		default:
			return removed, err
		}
	}
	if removed > 0 {
		c.log.WithField("count", removed).Info("reconciled received items")
	}
	return removed, nil
}

// RunReconciler запускает Reconcile каждые interval до отмены ctx
func (c *Controller) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Reconcile(ctx); err != nil && ctx.Err() == nil {
				c.log.WithError(err).Warn("reconciliation failed")
			}
		}
	}
}
