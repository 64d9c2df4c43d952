package domain

import (
	"errors"
	"time"
)

// Ошибки нарушения инвариантов корзины.
var (
	ErrCartItemsOutletMismatch = errors.New("cart item belongs to another outlet")
	ErrCartTotalMismatch       = errors.New("cart total does not match items sum")
	ErrCartDuplicateFoodItem   = errors.New("cart contains duplicate lines for one food item")
	ErrCartItemTotalMismatch   = errors.New("cart item total does not match price * qty")
)

// CartItem — строка корзины. На одно блюдо в корзине приходится не больше одной строки.
type CartItem struct {
	ID         string
	FoodItemID string
	// OutletID дублирует заведение блюда для проверки инвариантов.
	OutletID            string
	FoodName            string
	UnitPriceMinor      int64
	Qty                 int32
	SelectedIngredients []string
	TotalMinor          int64
	CreatedAt           time.Time
}

// Cart — изменяемая корзина клиента, привязанная к одному заведению.
type Cart struct {
	ID         string
	CustomerID string
	// OutletID пуст, пока в корзину ничего не добавляли.
	OutletID   string
	Items      []CartItem
	TotalMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCart создаёт пустую корзину клиента.
func NewCart(id, customerID string, now time.Time) Cart {
	return Cart{
		ID:         id,
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddItem добавляет блюдо в корзину.
// Если корзина привязана к другому заведению, она очищается и переключается на заведение блюда;
// в этом случае возвращается switched=true. Повторное добавление того же блюда увеличивает количество.
func (c *Cart) AddItem(food FoodItem, qty int32, ingredients []string, itemID string, now time.Time) (switched bool, err error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}

	switch {
	case c.OutletID == "" || len(c.Items) == 0:
		c.OutletID = food.OutletID
	case c.OutletID != food.OutletID:
		c.Items = nil
		c.OutletID = food.OutletID
		switched = true
	}

	merged := false
	for i := range c.Items {
		if c.Items[i].FoodItemID != food.ID {
			continue
		}
		item := &c.Items[i]
		item.Qty += qty
		item.UnitPriceMinor = food.PriceMinor
		item.TotalMinor = food.PriceMinor * int64(item.Qty)
		merged = true
		break
	}

	if !merged {
		c.Items = append(c.Items, CartItem{
			ID:                  itemID,
			FoodItemID:          food.ID,
			OutletID:            food.OutletID,
			FoodName:            food.Name,
			UnitPriceMinor:      food.PriceMinor,
			Qty:                 qty,
			SelectedIngredients: copyStrings(ingredients),
			TotalMinor:          food.PriceMinor * int64(qty),
			CreatedAt:           now,
		})
	}

	c.Recalculate()
	c.UpdatedAt = now
	return switched, nil
}

// RemoveItem удаляет строку по идентификатору. Возвращает false, если строки нет.
func (c *Cart) RemoveItem(itemID string, now time.Time) bool {
	for i := range c.Items {
		if c.Items[i].ID != itemID {
			continue
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		c.Recalculate()
		c.UpdatedAt = now
		return true
	}
	return false
}

// Clear удаляет все строки и обнуляет сумму. Заведение сохраняется.
func (c *Cart) Clear(now time.Time) {
	c.Items = nil
	c.TotalMinor = 0
	c.UpdatedAt = now
}

// IsEmpty сообщает, есть ли в корзине хотя бы одна строка.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Recalculate пересчитывает закешированную сумму корзины.
func (c *Cart) Recalculate() {
	var total int64
	for _, item := range c.Items {
		total += item.TotalMinor
	}
	c.TotalMinor = total
}

// ValidateInvariants проверяет инварианты корзины и возвращает список замечаний.
func (c *Cart) ValidateInvariants() []error {
	var errs []error

	if c.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(c.Items) > 0 && c.OutletID == "" {
		errs = append(errs, ErrCartOutletMissing)
	}

	seen := make(map[string]struct{}, len(c.Items))
	var calc int64
	for _, item := range c.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if item.OutletID != "" && item.OutletID != c.OutletID {
			errs = append(errs, ErrCartItemsOutletMismatch)
		}
		if item.TotalMinor != item.UnitPriceMinor*int64(item.Qty) {
			errs = append(errs, ErrCartItemTotalMismatch)
		}
		if _, dup := seen[item.FoodItemID]; dup {
			errs = append(errs, ErrCartDuplicateFoodItem)
		}
		seen[item.FoodItemID] = struct{}{}
		calc += item.TotalMinor
	}
	if calc != c.TotalMinor {
		errs = append(errs, ErrCartTotalMismatch)
	}

	return errs
}

// Clone возвращает независимую копию корзины, включая списки ингредиентов.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			item.SelectedIngredients = copyStrings(item.SelectedIngredients)
			out.Items[i] = item
		}
	}
	return out
}

// copyStrings всегда возвращает новый не-nil срез.
func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
