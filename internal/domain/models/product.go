package models

// DiscountType определяет тип скидки на товар
type DiscountType int16

const (
	DiscountNone       DiscountType = 1
	DiscountPercentage DiscountType = 2 // скидка в процентах, 0-100
	DiscountAmount     DiscountType = 3 // фиксированная скидка в минорных единицах
)

// Product представляет товар, выставленный лабораторией на продажу.
// Цена и скидка хранятся в минорных денежных единицах (копейки/центы),
// никакой плавающей точки в денежной арифметике.
type Product struct {
	ID           int64
	SourceID     int64 // владелец товара (лаборатория)
	Title        string
	Description  string
	Price        int64
	Discount     int64 // сумма или процент, в зависимости от DiscountType
	DiscountType DiscountType
	Vote         float64
	VoteCount    int
	FileUUIDs    []string // вложения (изображения), хранятся как jsonb
}
