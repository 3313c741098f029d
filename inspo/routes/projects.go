package routes

import (
	"net/http"

	"inspo/inspo/controllers"

	"github.com/go-chi/chi/v5"
)

func ProjectRoutes(ctrl *controllers.ProjectController) chi.Router {
	r := chi.NewRouter()
	r.Get("/", handleJSON(func(r *http.Request) (any, int, error) {
		projects, err := ctrl.ListProjects(r.Context())
		if err != nil {
			return nil, 0, err
		}
		return projects, http.StatusOK, nil
	}))
	r.Get("/{project_id}", handleJSON(func(r *http.Request) (any, int, error) {
		id, err := projectIDParam(r)
		if err != nil {
			return nil, 0, err
		}
		project, err := ctrl.GetProject(r.Context(), id)
		if err != nil {
			return nil, 0, err
		}
		return project, http.StatusOK, nil
	}))
	return r
}
