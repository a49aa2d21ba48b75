package repository

import (
	"database/sql"

	"github.com/lib/pq"

	"github.com/ametnes/nesis-sub000/internal/models"
)

type GrantRepository interface {
	ListForSubjects(subjects []string, action models.Action) ([]models.RoleGrant, error)
	Create(grant models.RoleGrant) (models.RoleGrant, error)
	Delete(id string) error
}

type grantRepository struct {
	db *sql.DB
}

func NewGrantRepository(db *sql.DB) GrantRepository {
	return &grantRepository{db: db}
}

func (r *grantRepository) ListForSubjects(subjects []string, action models.Action) ([]models.RoleGrant, error) {
	query := `
		SELECT id, subject, action, resource
		FROM nesis.role_grants
		WHERE subject = ANY($1) AND action = $2
	`
	rows, err := r.db.Query(query, pq.Array(subjects), action)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []models.RoleGrant
	for rows.Next() {
		var g models.RoleGrant
		if err := rows.Scan(&g.ID, &g.Subject, &g.Action, &g.Resource); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *grantRepository) Create(grant models.RoleGrant) (models.RoleGrant, error) {
	query := `
		INSERT INTO nesis.role_grants (subject, action, resource)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject, action, resource) DO UPDATE SET subject = EXCLUDED.subject
		RETURNING id
	`
	err := r.db.QueryRow(query, grant.Subject, grant.Action, grant.Resource).Scan(&grant.ID)
	return grant, err
}

func (r *grantRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM nesis.role_grants WHERE id = $1`, id)
	return err
}
