package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ametnes/nesis-sub000/internal/handlers"
)

// NewRouter sets up the API routes.
func NewRouter(health http.HandlerFunc, datasources *handlers.DatasourceHandler, tasks *handlers.TaskHandler, grants *handlers.GrantHandler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", health).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/datasources", datasources.Create).Methods(http.MethodPost)
	api.HandleFunc("/datasources", datasources.List).Methods(http.MethodGet)
	api.HandleFunc("/datasources/{id}", datasources.Get).Methods(http.MethodGet)
	api.HandleFunc("/datasources/{id}", datasources.Update).Methods(http.MethodPut)
	api.HandleFunc("/datasources/{id}", datasources.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/tasks", tasks.Create).Methods(http.MethodPost)
	api.HandleFunc("/tasks", tasks.List).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", tasks.Get).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", tasks.Update).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{id}", tasks.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/grants", grants.Create).Methods(http.MethodPost)
	api.HandleFunc("/grants/{id}", grants.Delete).Methods(http.MethodDelete)

	return router
}
