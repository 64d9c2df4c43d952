package memory

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// CatalogFixture — формат YAML-файла с заведениями и меню.
type CatalogFixture struct {
	Outlets   []domain.Outlet   `yaml:"outlets"`
	FoodItems []domain.FoodItem `yaml:"food_items"`
}

// Catalog — справочник меню в памяти.
type Catalog struct {
	mu      sync.RWMutex
	outlets map[string]domain.Outlet
	foods   map[string]domain.FoodItem
}

// NewCatalog создаёт каталог из готовых записей.
func NewCatalog(outlets []domain.Outlet, foods []domain.FoodItem) *Catalog {
	c := &Catalog{
		outlets: make(map[string]domain.Outlet, len(outlets)),
		foods:   make(map[string]domain.FoodItem, len(foods)),
	}
	for _, o := range outlets {
		c.outlets[o.ID] = o
	}
	for _, f := range foods {
		c.foods[f.ID] = f
	}
	return c
}

// ParseCatalog разбирает YAML-фикстуру и проверяет ссылки блюд на заведения.
func ParseCatalog(data []byte) (*Catalog, error) {
	var fixture CatalogFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("decode catalog yaml: %w", err)
	}

	known := make(map[string]struct{}, len(fixture.Outlets))
	for _, o := range fixture.Outlets {
		if o.ID == "" {
			return nil, fmt.Errorf("catalog outlet without id")
		}
		known[o.ID] = struct{}{}
	}
	for _, f := range fixture.FoodItems {
		if f.ID == "" {
			return nil, fmt.Errorf("catalog food item without id")
		}
		if _, ok := known[f.OutletID]; !ok {
			return nil, fmt.Errorf("food item %s references unknown outlet %q", f.ID, f.OutletID)
		}
		if f.PriceMinor < 0 {
			return nil, fmt.Errorf("food item %s has negative price", f.ID)
		}
	}

	return NewCatalog(fixture.Outlets, fixture.FoodItems), nil
}

// LoadCatalogFile читает YAML-фикстуру с диска.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// FoodItem возвращает блюдо по идентификатору.
func (c *Catalog) FoodItem(id string) (domain.FoodItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	food, ok := c.foods[id]
	if !ok {
		return domain.FoodItem{}, domain.ErrFoodItemNotFound
	}
	return food, nil
}

// Outlet возвращает заведение по идентификатору.
func (c *Catalog) Outlet(id string) (domain.Outlet, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outlet, ok := c.outlets[id]
	if !ok {
		return domain.Outlet{}, domain.ErrOutletNotFound
	}
	return outlet, nil
}

// PutFoodItem добавляет или заменяет блюдо.
func (c *Catalog) PutFoodItem(food domain.FoodItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foods[food.ID] = food
}

// Snapshot возвращает все заведения и блюда, отсортированные по идентификатору.
func (c *Catalog) Snapshot() ([]domain.Outlet, []domain.FoodItem) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outlets := make([]domain.Outlet, 0, len(c.outlets))
	for _, o := range c.outlets {
		outlets = append(outlets, o)
	}
	foods := make([]domain.FoodItem, 0, len(c.foods))
	for _, f := range c.foods {
		foods = append(foods, f)
	}
	sort.Slice(outlets, func(i, j int) bool { return outlets[i].ID < outlets[j].ID })
	sort.Slice(foods, func(i, j int) bool { return foods[i].ID < foods[j].ID })
	return outlets, foods
}

var _ domain.Catalog = (*Catalog)(nil)
