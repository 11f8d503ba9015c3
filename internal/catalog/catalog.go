// Package catalog содержит стартовый ассортимент магазина.
package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Product описывает позицию стартового каталога до присвоения идентификатора.
type Product struct {
	Name        string
	Price       string
	Description string
	Category    string
}

// DefaultProducts: демонстрационный ассортимент, которым заполняется пустой магазин.
var DefaultProducts = []Product{
	{"Smartphone", "599.99", "Latest model with advanced features", "Electronics"},
	{"Laptop", "999.99", "High-performance laptop for work and gaming", "Electronics"},
	{"Wireless Earbuds", "129.99", "True wireless earbuds with noise cancellation", "Electronics"},
	{"Running Shoes", "89.99", "Comfortable shoes for jogging and running", "Sports"},
	{"Yoga Mat", "29.99", "Non-slip yoga mat for home workouts", "Sports"},
	{"Protein Powder", "39.99", "Whey protein for muscle recovery", "Health"},
	{"Multivitamins", "19.99", "Daily multivitamin supplement", "Health"},
	{"Novel", "14.99", "Bestselling fiction novel", "Books"},
	{"Cookbook", "24.99", "Collection of gourmet recipes", "Books"},
	{"Coffee Maker", "79.99", "Programmable coffee maker with thermal carafe", "Home"},
	{"Blender", "49.99", "High-speed blender for smoothies and more", "Home"},
	{"Backpack", "59.99", "Durable backpack for daily use or travel", "Fashion"},
}

// ItemAdder: часть Store, нужная для заполнения каталога.
type ItemAdder interface {
	AddItem(item *domain.Item) error
}

// Item превращает описание в позицию каталога со свежим идентификатором.
func (p Product) Item() (*domain.Item, error) {
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price of %q: %w", p.Name, err)
	}
	return domain.NewItem(p.Name, price, p.Description, p.Category), nil
}

// Seed добавляет products в магазин и возвращает созданные позиции в том же порядке.
func Seed(store ItemAdder, products []Product) ([]*domain.Item, error) {
	items := make([]*domain.Item, 0, len(products))
	for _, product := range products {
		item, err := product.Item()
		if err != nil {
			return nil, err
		}
		if err := store.AddItem(item); err != nil {
			return nil, fmt.Errorf("seed %q: %w", product.Name, err)
		}
		items = append(items, item)
	}
	return items, nil
}
