package controllers

import (
	"context"

	"inspo/inspo/sources/psql/models"
	"inspo/inspo/utils/types"
)

// ProjectController exposes the read-only project data the chat UI needs.
type ProjectController struct {
	projects ProjectReader
}

func NewProjectController(projects ProjectReader) *ProjectController {
	return &ProjectController{projects: projects}
}

func (c *ProjectController) ListProjects(ctx context.Context) ([]models.Project, error) {
	return c.projects.ListProjects(ctx)
}

// GetProject returns a project with the ideas linked to it.
func (c *ProjectController) GetProject(ctx context.Context, id int64) (types.ProjectContext, error) {
	return c.projects.GetProjectContext(ctx, id)
}
