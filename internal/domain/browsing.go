package domain

import (
	"time"

	"github.com/google/uuid"

	"shopcall-backend/pkg/constants"
	"shopcall-backend/pkg/errors"
)

// CartAction is what happened to a product in a participant's cart
type CartAction string

const (
	CartAdded   CartAction = "added"
	CartRemoved CartAction = "removed"
)

// Valid reports whether the action is a known cart action
func (a CartAction) Valid() bool {
	return a == CartAdded || a == CartRemoved
}

// PriceRange filters products by price
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RatingRange filters products by average rating
type RatingRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// BrowseFilters are the shared catalog filters of the canonical view
type BrowseFilters struct {
	Category    string       `json:"category,omitempty"`
	Subcategory string       `json:"subcategory,omitempty"`
	Brand       string       `json:"brand,omitempty"`
	PriceRange  *PriceRange  `json:"price_range,omitempty"`
	RatingRange *RatingRange `json:"rating_range,omitempty"`
	InStock     *bool        `json:"in_stock,omitempty"`
}

// BrowseView is one entry in the canonical browsing audit log
type BrowseView struct {
	ProductID string    `json:"product_id"`
	ViewedAt  time.Time `json:"viewed_at"`
	ViewedBy  uuid.UUID `json:"viewed_by"`
}

// CartUpdate is one entry in the cart audit log
type CartUpdate struct {
	UserID    uuid.UUID  `json:"user_id"`
	ProductID string     `json:"product_id"`
	Action    CartAction `json:"action"`
	Timestamp time.Time  `json:"timestamp"`
}

// BrowsingState is the canonical view shared by every participant.
// Only the current controller's updates mutate it; everyone else's
// syncs touch their own Participant pointer and the presence map.
type BrowsingState struct {
	CurrentProductID string                  `json:"current_product_id,omitempty"`
	ScrollPosition   float64                 `json:"scroll_position"`
	SearchQuery      string                  `json:"search_query,omitempty"`
	Filters          BrowseFilters           `json:"filters"`
	SortBy           string                  `json:"sort_by,omitempty"`
	SortOrder        string                  `json:"sort_order,omitempty"`
	Page             int                     `json:"page"`
	TotalPages       int                     `json:"total_pages"`
	TotalProducts    int                     `json:"total_products"`
	ActiveBrowsers   map[uuid.UUID]time.Time `json:"active_browsers"`
	BrowsingHistory  []BrowseView            `json:"browsing_history,omitempty"`
	CartUpdateLog    []CartUpdate            `json:"cart_update_log,omitempty"`
}

func (b *BrowsingState) touchBrowser(userID uuid.UUID, now time.Time) {
	if b.ActiveBrowsers == nil {
		b.ActiveBrowsers = make(map[uuid.UUID]time.Time)
	}
	b.ActiveBrowsers[userID] = now
}

// BrowsePayload is an inbound browse:sync from a client
type BrowsePayload struct {
	ProductID      string        `json:"product_id"`
	ScrollPosition float64       `json:"scroll_position"`
	SearchQuery    string        `json:"search_query,omitempty"`
	Filters        BrowseFilters `json:"filters"`
	SortBy         string        `json:"sort_by,omitempty"`
	SortOrder      string        `json:"sort_order,omitempty"`
	Page           int           `json:"page"`
	TotalPages     int           `json:"total_pages"`
	TotalProducts  int           `json:"total_products"`
}

// ApplyBrowse records a participant's browsing action. The caller's own
// view pointer and presence heartbeat are always updated; the canonical
// state is overwritten only when the caller holds master control.
// Returns whether the canonical state changed.
func (s *CallSession) ApplyBrowse(userID uuid.UUID, payload BrowsePayload, now time.Time) (bool, error) {
	if s.Status == SessionEnded {
		return false, errors.SessionEndedError()
	}
	p := s.Participant(userID)
	if p == nil || !p.IsActive() {
		return false, errors.ParticipantNotFoundError()
	}

	if payload.ProductID != "" && payload.ProductID != p.CurrentProductID {
		p.BrowsingHistory = append(p.BrowsingHistory, ProductView{
			ProductID: payload.ProductID,
			ViewedAt:  now,
		})
		if len(p.BrowsingHistory) > constants.MaxBrowsingHistory {
			p.BrowsingHistory = p.BrowsingHistory[len(p.BrowsingHistory)-constants.MaxBrowsingHistory:]
		}
	}
	p.CurrentProductID = payload.ProductID
	p.ScrollPosition = payload.ScrollPosition
	s.Browsing.touchBrowser(userID, now)

	if !s.IsController(userID) {
		return false, nil
	}

	if payload.ProductID != "" && payload.ProductID != s.Browsing.CurrentProductID {
		s.Browsing.BrowsingHistory = append(s.Browsing.BrowsingHistory, BrowseView{
			ProductID: payload.ProductID,
			ViewedAt:  now,
			ViewedBy:  userID,
		})
		if len(s.Browsing.BrowsingHistory) > constants.MaxBrowsingHistory {
			s.Browsing.BrowsingHistory = s.Browsing.BrowsingHistory[len(s.Browsing.BrowsingHistory)-constants.MaxBrowsingHistory:]
		}
	}
	s.Browsing.CurrentProductID = payload.ProductID
	s.Browsing.ScrollPosition = payload.ScrollPosition
	s.Browsing.SearchQuery = payload.SearchQuery
	s.Browsing.Filters = payload.Filters
	s.Browsing.SortBy = payload.SortBy
	s.Browsing.SortOrder = payload.SortOrder
	s.Browsing.Page = payload.Page
	s.Browsing.TotalPages = payload.TotalPages
	s.Browsing.TotalProducts = payload.TotalProducts
	return true, nil
}

// AddCartUpdate appends to the cart audit log. Cart actions are
// personal and never gated by control.
func (s *CallSession) AddCartUpdate(userID uuid.UUID, productID string, action CartAction, now time.Time) (*CartUpdate, error) {
	if s.Status == SessionEnded {
		return nil, errors.SessionEndedError()
	}
	p := s.Participant(userID)
	if p == nil || !p.IsActive() {
		return nil, errors.ParticipantNotFoundError()
	}
	if !action.Valid() {
		return nil, errors.InvalidInputError("unknown cart action: " + string(action))
	}
	update := CartUpdate{
		UserID:    userID,
		ProductID: productID,
		Action:    action,
		Timestamp: now,
	}
	s.Browsing.CartUpdateLog = append(s.Browsing.CartUpdateLog, update)
	if len(s.Browsing.CartUpdateLog) > constants.MaxBrowsingHistory {
		s.Browsing.CartUpdateLog = s.Browsing.CartUpdateLog[len(s.Browsing.CartUpdateLog)-constants.MaxBrowsingHistory:]
	}
	return &update, nil
}
