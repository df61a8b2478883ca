package models

// Role определяет роль пользователя в системе
type Role int16

const (
	RoleCustomer Role = 1 // покупатель
	RoleLab      Role = 2 // лаборатория/магазин, может продавать товары
	RoleAdmin    Role = 3
)

// CanSell сообщает, может ли роль выставлять товары на продажу
func (r Role) CanSell() bool {
	return r == RoleLab || r == RoleAdmin
}

// User представляет пользователя
type User struct {
	ID           int64
	FirstName    string
	LastName     string
	PhoneNumber  string
	EmailAddress string
	Address      string
	NationalCode string
	PassHash     []byte
	Role         Role
	Vote         float64 // средняя оценка
	VoteCount    int
}
