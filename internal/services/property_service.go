package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/realestate-escrow/backend/internal/events"
	"github.com/realestate-escrow/backend/internal/metadata"
	"github.com/realestate-escrow/backend/internal/metrics"
	"github.com/realestate-escrow/backend/internal/models"
	"github.com/realestate-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type PropertyStore interface {
	Upsert(ctx context.Context, p *models.Property) error
	GetByTokenID(ctx context.Context, tokenID uint64) (*models.Property, error)
	List(ctx context.Context, limit, offset int) ([]models.Property, error)
	ListStale(ctx context.Context, limit int) ([]models.Property, error)
	UpdateOwner(ctx context.Context, tokenID uint64, owner common.Address) error
	MarkStale(ctx context.Context, fromTokenID, toTokenID uint64) error
}

type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (*metadata.Document, error)
}

type PropertyService struct {
	properties PropertyStore
	fetcher    MetadataFetcher
	publisher  events.Publisher
	metrics    *metrics.Metrics
	seller     common.Address
	log        *zap.Logger
}

func NewPropertyService(properties PropertyStore, fetcher MetadataFetcher, publisher events.Publisher, m *metrics.Metrics, roles models.Roles, log *zap.Logger) *PropertyService {
	return &PropertyService{
		properties: properties,
		fetcher:    fetcher,
		publisher:  publisher,
		metrics:    m,
		seller:     roles.Seller,
		log:        log,
	}
}

// RegisterProperty records a minted token and its metadata. The seller is the
// initial owner; re-registering refreshes the metadata and keeps the owner.
func (s *PropertyService) RegisterProperty(ctx context.Context, caller common.Address, tokenID uint64, tokenURI string) (*models.Property, error) {
	if s.seller == (common.Address{}) || caller != s.seller {
		return nil, fmt.Errorf("%w: only the seller can register properties", ErrUnauthorized)
	}
	if tokenID > models.MaxTokenID {
		return nil, fmt.Errorf("%w: token id %d out of range", ErrInvalidTerms, tokenID)
	}
	tokenURI = strings.TrimSpace(tokenURI)
	if tokenURI == "" {
		return nil, fmt.Errorf("%w: token uri is required", ErrInvalidTerms)
	}

	p, err := s.fetch(ctx, tokenID, tokenURI)
	if err != nil {
		return nil, err
	}
	p.Owner = caller
	if err := s.properties.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("store property %d: %w", tokenID, err)
	}

	s.published(ctx, p, "registered")
	return p, nil
}

func (s *PropertyService) RefreshMetadata(ctx context.Context, tokenID uint64) (*models.Property, error) {
	current, err := s.GetProperty(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	p, err := s.fetch(ctx, tokenID, current.TokenURI)
	if err != nil {
		return nil, err
	}
	p.Owner = current.Owner
	if err := s.properties.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("store property %d: %w", tokenID, err)
	}

	s.published(ctx, p, "refreshed")
	return p, nil
}

// RefreshStale re-fetches up to limit properties flagged by metadata update
// events. Failures are logged and left stale for the next round.
func (s *PropertyService) RefreshStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.properties.ListStale(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale properties: %w", err)
	}

	refreshed := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.RefreshMetadata(ctx, p.TokenID); err != nil {
			s.log.Warn("metadata refresh failed", zap.Uint64("token_id", p.TokenID), zap.Error(err))
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *PropertyService) GetProperty(ctx context.Context, tokenID uint64) (*models.Property, error) {
	p, err := s.properties.GetByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
		}
		return nil, err
	}
	return p, nil
}

func (s *PropertyService) ListProperties(ctx context.Context, limit, offset int) ([]models.Property, error) {
	return s.properties.List(ctx, limit, offset)
}

func (s *PropertyService) fetch(ctx context.Context, tokenID uint64, tokenURI string) (*models.Property, error) {
	doc, err := s.fetcher.Fetch(ctx, tokenURI)
	if err != nil {
		s.metrics.MetadataFetch(metrics.OutcomeError)
		return nil, fmt.Errorf("fetch metadata for token %d: %w", tokenID, err)
	}
	s.metrics.MetadataFetch(metrics.OutcomeOK)
	return doc.Property(tokenID, tokenURI), nil
}

func (s *PropertyService) published(ctx context.Context, p *models.Property, reason string) {
	_ = s.publisher.Publish(ctx, events.ChannelProperty, events.Event{
		Type: events.EventPropertyUpdated,
		Payload: map[string]any{
			"token_id": tokenKey(p.TokenID),
			"owner":    p.Owner.Hex(),
			"reason":   reason,
		},
	})
	s.log.Info("property "+reason, zap.Uint64("token_id", p.TokenID), zap.String("name", p.Name))
}
