// inspo/sources/psql/dao/dao.project.go
package dao

import (
	"context"
	"errors"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/errs"
	"inspo/inspo/utils/types"

	"gorm.io/gorm"
)

// ProjectDAO reads projects and their linked ideas. Nothing here writes.
type ProjectDAO struct {
	DB *gorm.DB
}

func NewProjectDAO(db *gorm.DB) *ProjectDAO {
	return &ProjectDAO{DB: db}
}

func (dao *ProjectDAO) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var project models.Project
	err := dao.DB.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("project %d", id)
	}
	if err != nil {
		return nil, errs.Storage("get project", err)
	}
	return &project, nil
}

func (dao *ProjectDAO) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := dao.DB.WithContext(ctx).Order("updated_at desc").Find(&projects).Error; err != nil {
		return nil, errs.Storage("list projects", err)
	}
	return projects, nil
}

func (dao *ProjectDAO) ListIdeas(ctx context.Context, projectID int64) ([]models.Idea, error) {
	var ideas []models.Idea
	err := dao.DB.WithContext(ctx).
		Joins("JOIN idea_projects ON idea_projects.idea_id = ideas.id").
		Where("idea_projects.project_id = ?", projectID).
		Order("ideas.id ASC").
		Find(&ideas).Error
	if err != nil {
		return nil, errs.Storage("list ideas", err)
	}
	return ideas, nil
}

// GetProjectContext snapshots what the assistant is told about a project.
func (dao *ProjectDAO) GetProjectContext(ctx context.Context, id int64) (types.ProjectContext, error) {
	project, err := dao.GetProject(ctx, id)
	if err != nil {
		return types.ProjectContext{}, err
	}
	ideas, err := dao.ListIdeas(ctx, id)
	if err != nil {
		return types.ProjectContext{}, err
	}

	pc := types.ProjectContext{
		ProjectID:   project.ID,
		Name:        project.Name,
		Description: project.Description,
		FolderPath:  project.FolderPath,
		Ideas:       make([]types.IdeaSummary, 0, len(ideas)),
	}
	for _, idea := range ideas {
		pc.Ideas = append(pc.Ideas, types.IdeaSummary{
			Title:       idea.Title,
			Summary:     idea.Summary,
			Description: idea.Description,
		})
	}
	return pc, nil
}
