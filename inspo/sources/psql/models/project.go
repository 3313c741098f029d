// inspo/sources/psql/models/project.go
package models

import "time"

// Project, Idea and IdeaProject mirror the tables owned by the idea/project service.
// The chat layer only reads them.
type Project struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	FolderPath  string    `json:"folder_path" gorm:"type:text"`
	Status      string    `json:"status" gorm:"type:varchar(32);default:'planning'"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Project) TableName() string {
	return "projects"
}

type Idea struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"type:text;not null"`
	Summary     string    `json:"summary" gorm:"type:text;not null"`
	Description string    `json:"description" gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Idea) TableName() string {
	return "ideas"
}

type IdeaProject struct {
	IdeaID    int64 `gorm:"primaryKey"`
	ProjectID int64 `gorm:"primaryKey"`
}

func (IdeaProject) TableName() string {
	return "idea_projects"
}
