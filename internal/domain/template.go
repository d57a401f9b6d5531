package domain

import "time"

// Template is a stored message template. Subject is only used for email.
type Template struct {
	ID        string
	Name      string
	Channel   Channel
	Subject   string
	Body      string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
