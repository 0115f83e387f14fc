package repositories

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/realestate-escrow/backend/internal/models"
)

// In-memory stores back STORAGE_BACKEND=memory (local development against a
// throwaway chain) and the service tests. They honour the same contracts as
// the Postgres repos: ErrNotFound, ErrDuplicate and version-checked updates.

type MemoryPropertyRepo struct {
	mu    sync.RWMutex
	props map[uint64]*models.Property
}

func NewMemoryPropertyRepo() *MemoryPropertyRepo {
	return &MemoryPropertyRepo{props: make(map[uint64]*models.Property)}
}

func (r *MemoryPropertyRepo) Upsert(ctx context.Context, p *models.Property) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.props[p.TokenID]; ok {
		p.Owner = existing.Owner
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.MetadataStale = false
	cp := *p
	r.props[p.TokenID] = &cp
	return nil
}

func (r *MemoryPropertyRepo) GetByTokenID(ctx context.Context, tokenID uint64) (*models.Property, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.props[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryPropertyRepo) List(ctx context.Context, limit, offset int) ([]models.Property, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page(r.sorted(func(*models.Property) bool { return true }), limit, offset), nil
}

func (r *MemoryPropertyRepo) ListStale(ctx context.Context, limit int) ([]models.Property, error) {
	return page(r.sorted(func(p *models.Property) bool { return p.MetadataStale }), limit, 0), nil
}

func (r *MemoryPropertyRepo) UpdateOwner(ctx context.Context, tokenID uint64, owner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setOwnerLocked(tokenID, owner)
	return nil
}

func (r *MemoryPropertyRepo) MarkStale(ctx context.Context, fromTokenID, toTokenID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.props {
		if id >= fromTokenID && id <= toTokenID {
			p.MetadataStale = true
			p.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r *MemoryPropertyRepo) setOwnerLocked(tokenID uint64, owner common.Address) {
	if p, ok := r.props[tokenID]; ok {
		p.Owner = owner
		p.UpdatedAt = time.Now()
	}
}

func (r *MemoryPropertyRepo) sorted(keep func(*models.Property) bool) []models.Property {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Property, 0, len(r.props))
	for _, p := range r.props {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

type MemoryListingRepo struct {
	mu       sync.RWMutex
	listings map[uint64]*models.Listing
	payments map[uint64][]models.Payment
	props    *MemoryPropertyRepo
}

// NewMemoryListingRepo links to props so that Finalize can move the property
// owner together with the listing. props may be nil.
func NewMemoryListingRepo(props *MemoryPropertyRepo) *MemoryListingRepo {
	return &MemoryListingRepo{
		listings: make(map[uint64]*models.Listing),
		payments: make(map[uint64][]models.Payment),
		props:    props,
	}
}

func (r *MemoryListingRepo) Create(ctx context.Context, l *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listings[l.TokenID]; ok {
		return ErrDuplicate
	}
	now := time.Now()
	l.Version = 1
	l.CreatedAt = now
	l.UpdatedAt = now
	r.listings[l.TokenID] = l.Clone()
	return nil
}

func (r *MemoryListingRepo) GetByTokenID(ctx context.Context, tokenID uint64) (*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listings[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (r *MemoryListingRepo) List(ctx context.Context, f ListingFilter) ([]models.Listing, error) {
	r.mu.RLock()
	out := make([]models.Listing, 0, len(r.listings))
	for _, l := range r.listings {
		if f.Status != nil && l.Status != *f.Status {
			continue
		}
		if f.Buyer != nil && l.Buyer != *f.Buyer {
			continue
		}
		if f.IsListed != nil && l.IsListed != *f.IsListed {
			continue
		}
		out = append(out, *l.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return page(out, limit, f.Offset), nil
}

func (r *MemoryListingRepo) Update(ctx context.Context, l *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(l)
}

func (r *MemoryListingRepo) Finalize(ctx context.Context, l *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateLocked(l); err != nil {
		return err
	}
	if r.props != nil {
		r.props.mu.Lock()
		r.props.setOwnerLocked(l.TokenID, l.Owner())
		r.props.mu.Unlock()
	}
	return nil
}

func (r *MemoryListingRepo) ApplyPayment(ctx context.Context, l *models.Listing, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.updateLocked(l); err != nil {
		return err
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	r.payments[p.TokenID] = append(r.payments[p.TokenID], *p)
	return nil
}

func (r *MemoryListingRepo) ListPayments(ctx context.Context, tokenID uint64) ([]models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Payment, len(r.payments[tokenID]))
	copy(out, r.payments[tokenID])
	return out, nil
}

func (r *MemoryListingRepo) updateLocked(l *models.Listing) error {
	stored, ok := r.listings[l.TokenID]
	if !ok || stored.Version != l.Version {
		return ErrConflict
	}
	l.Version++
	l.UpdatedAt = time.Now()
	r.listings[l.TokenID] = l.Clone()
	return nil
}

type MemoryAuditRepo struct {
	mu   sync.RWMutex
	logs []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	r.logs = append(r.logs, entry)
	return nil
}

// GetByEntity returns newest first, like the Postgres repo.
func (r *MemoryAuditRepo) GetByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].EntityType == entityType && r.logs[i].EntityID == entityID {
			out = append(out, r.logs[i])
		}
	}
	return page(out, limit, offset), nil
}

type MemoryChainEventRepo struct {
	mu     sync.Mutex
	events []models.ChainEvent
	seen   map[string]struct{}
}

func NewMemoryChainEventRepo() *MemoryChainEventRepo {
	return &MemoryChainEventRepo{seen: make(map[string]struct{})}
}

func (r *MemoryChainEventRepo) Insert(ctx context.Context, e *models.ChainEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := e.TxHash.Hex() + ":" + strconv.FormatUint(uint64(e.LogIndex), 10)
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = struct{}{}
	e.IndexedAt = time.Now()
	r.events = append(r.events, *e)
	return true, nil
}

func (r *MemoryChainEventRepo) ListByToken(ctx context.Context, tokenID uint64, limit int) ([]models.ChainEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ChainEvent
	for _, e := range r.events {
		match := e.TokenID != nil && *e.TokenID == tokenID
		if e.FromTokenID != nil && e.ToTokenID != nil && tokenID >= *e.FromTokenID && tokenID <= *e.ToTokenID {
			match = true
		}
		if match {
			out = append(out, e)
		}
	}
	return page(out, limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
