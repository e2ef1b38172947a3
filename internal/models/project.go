package models

import "time"

// Project is the shared workspace that scopes tasks, file locks, and
// session channels. It is the aggregate root: every coordination
// operation is authorized and partitioned by project.
type Project struct {
	ID        string
	Owner     string
	Name      string
	RootPath  string
	CreatedAt time.Time
}
