package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
	"OrderListService/pkg/cache"
)

// memRepo: хранилище списка в памяти с той же семантикой, что у Postgres-репозитория.
// fail позволяет подменить результат конкретной операции
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.OrderListItem
	skus   map[string]bool
	fail   map[string]error
}

func newMemRepo(skuIDs ...string) *memRepo {
	r := &memRepo{items: map[int64]model.OrderListItem{}, skus: map[string]bool{}, fail: map[string]error{}}
	for _, id := range skuIDs {
		r.skus[id] = true
	}
	return r
}

func (r *memRepo) CreateItem(_ context.Context, in model.NewItem, actor model.Actor, at time.Time) (*model.OrderListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["CreateItem"]; err != nil {
		return nil, err
	}
	if !r.skus[in.SKUID] {
		return nil, apperr.Validation("CreateItem", "unknown sku %q", in.SKUID)
	}
	r.nextID++
	addedBy := actor.ID
	it := model.OrderListItem{
		ID: r.nextID, SKUID: in.SKUID, PartType: in.PartType, Quantity: in.Quantity,
		AddedBy: &addedBy, AddedByName: actor.NamePtr(), AddedAt: at,
	}
	r.items[it.ID] = it
	return &it, nil
}

func (r *memRepo) GetItem(_ context.Context, id int64) (*model.OrderListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["GetItem"]; err != nil {
		return nil, err
	}
	it, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("GetItem", "order list item %d not found", id)
	}
	return &it, nil
}

func (r *memRepo) ListItems(_ context.Context, order model.SortOrder) ([]model.OrderListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["ListItems"]; err != nil {
		return nil, err
	}
	items := make([]model.OrderListItem, 0, len(r.items))
	for _, it := range r.items {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if order == model.SortNeedsOrderingFirst {
			if a.Ordered != b.Ordered {
				return !a.Ordered
			}
			if !a.AddedAt.Equal(b.AddedAt) {
				return a.AddedAt.Before(b.AddedAt)
			}
		}
		return a.ID < b.ID
	})
	return items, nil
}

func (r *memRepo) SetOrdered(_ context.Context, id int64, ordered bool, actor model.Actor, at time.Time) (*model.OrderListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["SetOrdered"]; err != nil {
		return nil, err
	}
	it, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("SetOrdered", "order list item %d not found", id)
	}
	switch {
	case ordered && !it.Ordered:
		by := actor.ID
		it.OrderedBy, it.OrderedByName, it.OrderedAt = &by, actor.NamePtr(), &at
	case !ordered:
		it.OrderedBy, it.OrderedByName, it.OrderedAt = nil, nil, nil
	}
	it.Ordered = ordered
	r.items[id] = it
	return &it, nil
}

func (r *memRepo) RemoveItem(_ context.Context, id int64) (*model.OrderListItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail["RemoveItem"]; err != nil {
		return nil, err
	}
	it, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("RemoveItem", "order list item %d not found", id)
	}
	delete(r.items, id)
	return &it, nil
}

// mockResolver: каталог с настраиваемым Lookup
type mockResolver struct {
	lookup    func(ctx context.Context, ids []string) (map[string]model.SKU, error)
	forgotten []string
}

func (m *mockResolver) Lookup(ctx context.Context, ids []string) (map[string]model.SKU, error) {
	if m.lookup == nil {
		return map[string]model.SKU{}, nil
	}
	return m.lookup(ctx, ids)
}

func (m *mockResolver) Forget(_ context.Context, id string) {
	m.forgotten = append(m.forgotten, id)
}

// recordingPublisher запоминает опубликованные события
type recordingPublisher struct {
	mu      sync.Mutex
	events  []model.OrderListEvent
	ctxErrs []error
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev model.OrderListEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return p.err
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// fakeAdjuster: склад в памяти с журналом ключей, как stock_receipts.
// Как и StockRepository, проверяет позицию в list под его блокировкой
type fakeAdjuster struct {
	mu       sync.Mutex
	list     *memRepo
	calls    []model.StockReceipt
	onHand   map[string]int
	receipts map[string]int64
	err      error
}

func newFakeAdjuster(list *memRepo) *fakeAdjuster {
	return &fakeAdjuster{list: list, onHand: map[string]int{}, receipts: map[string]int64{}}
}

func (f *fakeAdjuster) Receive(_ context.Context, rc model.StockReceipt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rc)
	if f.err != nil {
		return false, f.err
	}
	f.list.mu.Lock()
	defer f.list.mu.Unlock()
	it, ok := f.list.items[rc.ItemID]
	if !ok {
		return false, apperr.NotFound("ReceiveStock", "order list item %d not found", rc.ItemID)
	}
	_, recorded := f.receipts[rc.Key]
	if !it.Ordered {
		if recorded {
			return false, nil
		}
		return false, apperr.Validation("ReceiveStock", "item %d has not been ordered", rc.ItemID)
	}
	if recorded {
		return false, nil
	}
	f.receipts[rc.Key] = rc.ItemID
	f.onHand[rc.SKUID] += rc.Quantity
	return true, nil
}

// PendingReceiptItems, как и SQL с JOIN, возвращает только позиции, которые ещё в списке
func (f *fakeAdjuster) PendingReceiptItems(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list.mu.Lock()
	defer f.list.mu.Unlock()
	ids := make([]int64, 0, len(f.receipts))
	for _, id := range f.receipts {
		if _, ok := f.list.items[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// interleavingAdjuster выполняет before перед оприходованием: так моделируется
// чужая операция, успевшая между чтением позиции и транзакцией склада
type interleavingAdjuster struct {
	*fakeAdjuster
	before func()
}

func (a *interleavingAdjuster) Receive(ctx context.Context, rc model.StockReceipt) (bool, error) {
	a.before()
	return a.fakeAdjuster.Receive(ctx, rc)
}

// mockSKUStore: каталог-заглушка на функциях
type mockSKUStore struct {
	findFn   func(ctx context.Context, ids []string) ([]model.SKU, error)
	listFn   func(ctx context.Context, limit int) ([]model.SKU, error)
	existsFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockSKUStore) FindByIDs(ctx context.Context, ids []string) ([]model.SKU, error) {
	return m.findFn(ctx, ids)
}
func (m *mockSKUStore) List(ctx context.Context, limit int) ([]model.SKU, error) {
	return m.listFn(ctx, limit)
}
func (m *mockSKUStore) Exists(ctx context.Context, id string) (bool, error) {
	return m.existsFn(ctx, id)
}

// mockCache симулирует Redis с настраиваемым поведением методов
type mockCache struct {
	set     func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get     func(ctx context.Context, key string) ([]byte, error)
	getMany func(ctx context.Context, keys []string) (map[string][]byte, error)
	inval   func(ctx context.Context, keys ...string) error
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.set == nil {
		return nil
	}
	return m.set(ctx, key, value, ttl)
}
func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	if m.get == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.get(ctx, key)
}
func (m *mockCache) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if m.getMany == nil {
		return map[string][]byte{}, nil
	}
	return m.getMany(ctx, keys)
}
func (m *mockCache) Invalidate(ctx context.Context, keys ...string) error {
	if m.inval == nil {
		return nil
	}
	return m.inval(ctx, keys...)
}

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }
