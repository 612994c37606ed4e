package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemInactive ItemStatus = "inactive"
	ItemDraft    ItemStatus = "draft"
)

func (s ItemStatus) Valid() bool {
	return s == ItemActive || s == ItemInactive || s == ItemDraft
}

type Product struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	VendorID          uuid.UUID        `json:"vendor_id" db:"vendor_id"`
	StoreID           *uuid.UUID       `json:"store_id,omitempty" db:"store_id"`
	Name              string           `json:"name" db:"name"`
	Slug              string           `json:"slug" db:"slug"`
	Barcode           *string          `json:"barcode,omitempty" db:"barcode"`
	Description       string           `json:"description" db:"description"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	SalePrice         *decimal.Decimal `json:"sale_price,omitempty" db:"sale_price"`
	StockQuantity     int              `json:"stock_quantity" db:"stock_quantity"`
	LowStockThreshold int              `json:"low_stock_threshold" db:"low_stock_threshold"`
	ExpiryDate        *time.Time       `json:"expiry_date,omitempty" db:"expiry_date"`
	Status            ItemStatus       `json:"status" db:"status"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// EffectivePrice is the sale price when it undercuts the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice != nil && p.SalePrice.LessThan(p.Price) {
		return *p.SalePrice
	}
	return p.Price
}

type Cuisine struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	ChefID       uuid.UUID       `json:"chef_id" db:"chef_id"`
	Name         string          `json:"name" db:"name"`
	Slug         string          `json:"slug" db:"slug"`
	Description  string          `json:"description" db:"description"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Serves       int             `json:"serves" db:"serves"`
	DietaryFlags []string        `json:"dietary_flags" db:"dietary_flags"`
	Status       ItemStatus      `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ItemKind distinguishes the two sellable families.
type ItemKind string

const (
	ItemProduct ItemKind = "product"
	ItemCuisine ItemKind = "cuisine"
)

// ItemRef points at exactly one product or cuisine.
type ItemRef struct {
	Kind ItemKind  `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func ProductRef(id uuid.UUID) ItemRef { return ItemRef{Kind: ItemProduct, ID: id} }
func CuisineRef(id uuid.UUID) ItemRef { return ItemRef{Kind: ItemCuisine, ID: id} }

// Columns splits the ref into the product_id / cuisine_id column pair.
func (r ItemRef) Columns() (productID, cuisineID *uuid.UUID) {
	id := r.ID
	if r.Kind == ItemProduct {
		return &id, nil
	}
	return nil, &id
}

// RefFromColumns is the inverse of Columns.
func RefFromColumns(productID, cuisineID uuid.NullUUID) ItemRef {
	if productID.Valid {
		return ProductRef(productID.UUID)
	}
	return CuisineRef(cuisineID.UUID)
}

// Fulfiller is the vendor or chef preparing an order.
type Fulfiller struct {
	Kind ActorKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Columns splits the fulfiller into the vendor_id / chef_id column pair.
func (f Fulfiller) Columns() (vendorID, chefID *uuid.UUID) {
	id := f.ID
	if f.Kind == KindVendor {
		return &id, nil
	}
	return nil, &id
}

func FulfillerFromColumns(vendorID, chefID uuid.NullUUID) Fulfiller {
	if vendorID.Valid {
		return Fulfiller{Kind: KindVendor, ID: vendorID.UUID}
	}
	return Fulfiller{Kind: KindChef, ID: chefID.UUID}
}

// CatalogItem is the checkout view of a product or cuisine.
type CatalogItem struct {
	Ref       ItemRef
	Name      string
	Fulfiller Fulfiller
	UnitPrice decimal.Decimal
	Status    ItemStatus
	Stock     *int // nil for cuisines
}

// FulfillerProfile carries what pricing and dispatch need about a fulfiller.
type FulfillerProfile struct {
	Fulfiller        Fulfiller
	Name             string
	Region           string
	Location         *Point
	DeliveryBaseFee  decimal.Decimal
	DeliveryPerKmFee decimal.Decimal
	IsActive         bool
}
