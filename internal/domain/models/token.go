package models

import "time"

// Token представляет сессионный токен. Secret — уникальная случайная строка,
// роль фиксируется на момент входа.
type Token struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Role      Role      `json:"role"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	ExpireAt  time.Time `json:"expire_at"`
}
