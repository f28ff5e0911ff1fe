package model

import "time"

// SKU представляет позицию каталога (таблица skus)
// Для списка заказов SKU неизменяем, ссылка на него хранится только по идентификатору
type SKU struct {
	ID    string  `db:"id" json:"id"`
	Code  *string `db:"code" json:"code,omitempty"`
	Brand *string `db:"brand" json:"brand,omitempty"`
	Model *string `db:"model" json:"model,omitempty"`
}

// Label возвращает короткую подпись SKU: код, а при его отсутствии "SKU <id>"
func (s SKU) Label() string {
	if s.Code != nil && *s.Code != "" {
		return *s.Code
	}
	return MissingSKULabel(s.ID)
}

// MissingSKULabel: подпись для SKU, которого нет в каталоге
func MissingSKULabel(skuID string) string {
	return "SKU " + skuID
}

// Actor: аутентифицированный пользователь, выполняющий операцию
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// RoleViewer может только читать список
const RoleViewer = "viewer"

// Authenticated сообщает, известна ли личность пользователя
func (a Actor) Authenticated() bool {
	return a.ID != ""
}

// CanMutate сообщает, может ли пользователь изменять список
func (a Actor) CanMutate() bool {
	return a.Authenticated() && a.Role != RoleViewer
}

// NamePtr возвращает имя для записи в nullable-колонку
func (a Actor) NamePtr() *string {
	if a.Name == "" {
		return nil
	}
	name := a.Name
	return &name
}

// OrderListItem представляет строку общего списка заказов (таблица order_list_items)
// Поля с тегом db:"-" вычисляются при чтении и в БД не хранятся
type OrderListItem struct {
	ID            int64      `db:"id" json:"id"`
	SKUID         string     `db:"sku_id" json:"skuId"`
	PartType      string     `db:"part_type" json:"partType"`
	Quantity      *int       `db:"quantity" json:"quantity,omitempty"`
	Ordered       bool       `db:"ordered" json:"ordered"`
	AddedBy       *string    `db:"added_by" json:"addedBy,omitempty"`
	AddedByName   *string    `db:"added_by_name" json:"addedByName,omitempty"`
	AddedAt       time.Time  `db:"added_at" json:"addedAt"`
	OrderedBy     *string    `db:"ordered_by" json:"orderedBy,omitempty"`
	OrderedByName *string    `db:"ordered_by_name" json:"orderedByName,omitempty"`
	OrderedAt     *time.Time `db:"ordered_at" json:"orderedAt,omitempty"`

	SKUCode          *string `db:"-" json:"skuCode,omitempty"`
	SKUBrand         *string `db:"-" json:"skuBrand,omitempty"`
	SKUModel         *string `db:"-" json:"skuModel,omitempty"`
	SKULabel         string  `db:"-" json:"skuLabel"`
	PartTypeDisplay  string  `db:"-" json:"partTypeDisplay"`
	AddedByDisplay   string  `db:"-" json:"addedByDisplay"`
	OrderedByDisplay string  `db:"-" json:"orderedByDisplay,omitempty"`
}

// Normalize убирает отметку о заказе у позиции, которая не заказана.
// Старые строки могли сохранить ordered_at после снятия флага, читать его нельзя
func (i *OrderListItem) Normalize() {
	if !i.Ordered {
		i.OrderedBy = nil
		i.OrderedByName = nil
		i.OrderedAt = nil
	}
}

// OrderedSince возвращает время заказа, только пока позиция заказана
func (i OrderListItem) OrderedSince() (time.Time, bool) {
	if !i.Ordered || i.OrderedAt == nil {
		return time.Time{}, false
	}
	return *i.OrderedAt, true
}

// UnitsToReceive: количество для оприходования; без quantity подразумевается одна единица
func (i OrderListItem) UnitsToReceive() int {
	if i.Quantity == nil {
		return 1
	}
	return *i.Quantity
}

// Enrich заполняет отображаемые поля; sku == nil означает, что SKU удалён из каталога
func (i *OrderListItem) Enrich(sku *SKU) {
	i.Normalize()
	if sku != nil {
		i.SKUCode, i.SKUBrand, i.SKUModel = sku.Code, sku.Brand, sku.Model
		i.SKULabel = sku.Label()
	} else {
		i.SKUCode, i.SKUBrand, i.SKUModel = nil, nil, nil
		i.SKULabel = MissingSKULabel(i.SKUID)
	}
	i.PartTypeDisplay = PartTypeDisplay(i.PartType)
	i.AddedByDisplay = DisplayName(i.AddedBy, i.AddedByName)
	i.OrderedByDisplay = ""
	if i.Ordered {
		i.OrderedByDisplay = DisplayName(i.OrderedBy, i.OrderedByName)
	}
}

// UnknownActor: подпись, когда у записи нет ни имени, ни идентификатора автора
const UnknownActor = "Unknown"

// DisplayName выбирает имя, затем идентификатор, затем "Unknown"
func DisplayName(id, name *string) string {
	if name != nil && *name != "" {
		return *name
	}
	if id != nil && *id != "" {
		return *id
	}
	return UnknownActor
}

// partTypeLabels: человекочитаемые названия категорий деталей
var partTypeLabels = map[string]string{
	"filter":      "Filter",
	"belt":        "Belt",
	"motor":       "Motor",
	"capacitor":   "Capacitor",
	"contactor":   "Contactor",
	"thermostat":  "Thermostat",
	"refrigerant": "Refrigerant",
	"fitting":     "Fitting",
	"other":       "Other",
}

// PartTypeDisplay возвращает название категории или сам код, если названия нет
func PartTypeDisplay(code string) string {
	if label, ok := partTypeLabels[code]; ok {
		return label
	}
	return code
}

// NewItem: входные данные для добавления позиции в список
type NewItem struct {
	SKUID    string `json:"skuId"`
	PartType string `json:"partType"`
	Quantity *int   `json:"quantity,omitempty"`
}

// SortOrder задаёт порядок выдачи списка
type SortOrder string

const (
	// SortInsertion: порядок добавления (по id)
	SortInsertion SortOrder = ""
	// SortNeedsOrderingFirst: сначала незаказанные, затем по added_at и id
	SortNeedsOrderingFirst SortOrder = "needs_ordering_first"
)

// ListOptions: параметры чтения списка
type ListOptions struct {
	Sort SortOrder
}

// EventType: тип события изменения списка
type EventType string

const (
	EventCreated   EventType = "created"
	EventOrdered   EventType = "ordered"
	EventUnordered EventType = "unordered"
	EventReceived  EventType = "received"
	EventRemoved   EventType = "removed"
)

// OrderListEvent: событие, публикуемое в NATS и сохраняемое в ClickHouse (таблица order_list_events)
type OrderListEvent struct {
	Type      EventType `json:"type"`
	ItemID    int64     `json:"itemId"`
	SKUID     string    `json:"skuId"`
	PartType  string    `json:"partType"`
	Quantity  int       `json:"quantity"`
	Ordered   bool      `json:"ordered"`
	ActorID   string    `json:"actorId"`
	EventTime time.Time `json:"eventTime"`
}

// NewEvent собирает событие по подтверждённому состоянию позиции
func NewEvent(t EventType, item OrderListItem, actor Actor, at time.Time) OrderListEvent {
	return OrderListEvent{
		Type:      t,
		ItemID:    item.ID,
		SKUID:     item.SKUID,
		PartType:  item.PartType,
		Quantity:  item.UnitsToReceive(),
		Ordered:   item.Ordered,
		ActorID:   actor.ID,
		EventTime: at,
	}
}

// StockReceipt: оприходование заказанной позиции на склад
// Key: ключ идемпотентности: повтор с тем же ключом не увеличивает остаток второй раз
type StockReceipt struct {
	Key        string    `db:"idempotency_key" json:"key"`
	ItemID     int64     `db:"order_item_id" json:"itemId"`
	SKUID      string    `db:"sku_id" json:"skuId"`
	Quantity   int       `db:"quantity" json:"quantity"`
	ReceivedBy string    `db:"received_by" json:"receivedBy"`
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`
}
