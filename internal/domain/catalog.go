package domain

// Outlet — заведение, которому принадлежат блюда и заказы.
type Outlet struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// FoodItem — позиция меню заведения.
type FoodItem struct {
	ID         string `yaml:"id"`
	OutletID   string `yaml:"outlet_id"`
	Name       string `yaml:"name"`
	PriceMinor int64  `yaml:"price_minor"`
	Available  bool   `yaml:"available"`
}

// Catalog предоставляет справочные данные меню. Управление меню живёт вне сервиса.
type Catalog interface {
	// FoodItem возвращает блюдо или ErrFoodItemNotFound.
	FoodItem(id string) (FoodItem, error)
	// Outlet возвращает заведение или ErrOutletNotFound.
	Outlet(id string) (Outlet, error)
}
