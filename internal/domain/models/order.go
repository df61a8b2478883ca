package models

import "time"

// OrderStatus определяет статус заказа. Переходы только вперед:
// Draft -> InProgress -> Done. Done — терминальный, после него заказ неизменяем.
type OrderStatus int16

const (
	StatusDraft      OrderStatus = 1
	StatusInProgress OrderStatus = 2
	StatusDone       OrderStatus = 3
)

// Order представляет заказ (корзину) покупателя
type Order struct {
	ID          int64       `json:"id"`
	CustomerID  int64       `json:"customer_id"`
	Description string      `json:"description"`
	Status      OrderStatus `json:"status"`
	Price       int64       `json:"price"` // сумма всех строк заказа
	CreatedAt   time.Time   `json:"created_at"`
}
