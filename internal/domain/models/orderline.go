package models

// OrderLine представляет строку заказа: снимок цены товара на момент добавления.
// BasePrice/Discount/DiscountType фиксируются при добавлении и дальше не зависят
// от изменений самого товара. Инвариант: TotalPrice == Quantity * цена за единицу
// со скидкой, пересчитывается при каждом изменении Quantity.
type OrderLine struct {
	ID           int64        `json:"id"`
	OrderID      int64        `json:"order_id"`
	ProductID    int64        `json:"product_id"`
	BasePrice    int64        `json:"base_price"`
	Discount     int64        `json:"discount"`
	DiscountType DiscountType `json:"discount_type"`
	Quantity     int          `json:"quantity"`
	TotalPrice   int64        `json:"total_price"`
}
