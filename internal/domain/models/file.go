package models

import "time"

// File представляет запись о загруженном файле. Файл создается временным (IsTemp),
// при привязке к товару становится постоянным. Само хранение байтов — вне ядра.
type File struct {
	ID        int64
	UUID      string
	IsTemp    bool
	Size      int
	Name      string
	Extension string
	MimeType  string
	CreatedAt time.Time
}
