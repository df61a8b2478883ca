package pricing

import "github.com/dandanito/marketplace/internal/domain/models"

// MaxQuantity — верхняя граница количества в строке заказа (smallint в БД)
const MaxQuantity = 32767

// UnitPrice вычисляет цену за единицу со скидкой в минорных денежных единицах.
// Только целочисленная арифметика. Результат намеренно не проверяется на
// неотрицательность: отрицательная цена — ошибка целостности данных,
// которую должен заметить вызывающий, а не молча обрезать движок.
func UnitPrice(basePrice int64, discountType models.DiscountType, discount int64) int64 {
	switch discountType {
	case models.DiscountPercentage:
		return basePrice - basePrice*discount/100
	case models.DiscountAmount:
		return basePrice - discount
	default:
		return basePrice
	}
}

// LineTotal вычисляет стоимость строки заказа
func LineTotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// OrderTotal суммирует стоимости строк. Аккумулятор — int64, никаких float
func OrderTotal(lineTotals []int64) int64 {
	var total int64
	for _, t := range lineTotals {
		total += t
	}
	return total
}
