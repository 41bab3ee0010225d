package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/pricing"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

// Service exposes the public storefront catalogue.
type Service interface {
	ListItems(ctx context.Context, event, secretKey string) ([]ItemDTO, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
}

type service struct {
	repo Repository
}

// ItemDTO is the catalogue view of an item, including how many units a
// single order may still buy.
type ItemDTO struct {
	ID                 uuid.UUID    `json:"id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	Price              string       `json:"price"`
	DiscountAmount     int          `json:"discount_amount"`
	DiscountPercentage int          `json:"discount_percentage"`
	IsTicket           bool         `json:"is_ticket"`
	Purchasable        int          `json:"purchasable"`
	Variants           []VariantDTO `json:"variants,omitempty"`
}

// VariantDTO is the catalogue view of an item variant.
type VariantDTO struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// NewService builds the storefront service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListItems(ctx context.Context, event, secretKey string) ([]ItemDTO, error) {
	if event == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}

	items, err := s.repo.ListByEvent(ctx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list store items")
	}

	dtos := make([]ItemDTO, 0, len(items))
	for _, item := range items {
		if !item.Available {
			continue
		}
		if item.IsSecret && (secretKey == "" || secretKey != item.SecretKey) {
			continue
		}
		sold, err := s.repo.CountUnitsSold(ctx, item.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count units sold")
		}
		dtos = append(dtos, toItemDTO(item, sold))
	}
	return dtos, nil
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}
	item, err := s.repo.FindItemByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store item")
	}
	return item, nil
}

func toItemDTO(item models.StoreItem, sold int) ItemDTO {
	remaining := item.Max - sold
	if remaining < 0 {
		remaining = 0
	}
	purchasable := remaining
	if item.PerOrderMax > 0 && purchasable > item.PerOrderMax {
		purchasable = item.PerOrderMax
	}

	variants := make([]VariantDTO, 0, len(item.Variants))
	for _, v := range item.Variants {
		variants = append(variants, VariantDTO{ID: v.ID, Name: v.Name})
	}

	return ItemDTO{
		ID:                 item.ID,
		Name:               item.Name,
		Description:        item.Description,
		Price:              pricing.DiscountedUnitPrice(item, 1).StringFixed(2),
		DiscountAmount:     item.DiscountAmount,
		DiscountPercentage: item.DiscountPercentage,
		IsTicket:           item.IsTicket,
		Purchasable:        purchasable,
		Variants:           variants,
	}
}
