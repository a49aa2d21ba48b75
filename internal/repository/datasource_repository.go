package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

type DatasourceRepository interface {
	Create(ds models.Datasource, sealedConn []byte) (models.Datasource, error)
	Get(id string) (models.Datasource, []byte, error)
	GetByName(name string) (models.Datasource, []byte, error)
	List() ([]models.Datasource, error)
	ListEnabledNames() ([]string, error)
	Update(ds models.Datasource, sealedConn []byte) (models.Datasource, error)
	UpdateStatus(id string, status models.DatasourceStatus) error
	Delete(id string) error
}

type datasourceRepository struct {
	db *sql.DB
}

func NewDatasourceRepository(db *sql.DB) DatasourceRepository {
	return &datasourceRepository{db: db}
}

func (r *datasourceRepository) Create(ds models.Datasource, sealedConn []byte) (models.Datasource, error) {
	query := `
		INSERT INTO nesis.datasources (name, type, connection, enabled, status, schedule)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(query,
		ds.Name,
		ds.Type,
		sealedConn,
		ds.Enabled,
		ds.Status,
		ds.Schedule,
	).Scan(&ds.ID, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ds, apperr.Conflict("datasource name %q already exists", ds.Name)
		}
		return ds, err
	}
	return ds, nil
}

func (r *datasourceRepository) Get(id string) (models.Datasource, []byte, error) {
	query := `
		SELECT id, name, type, connection, enabled, status, COALESCE(schedule, ''), created_at, updated_at
		FROM nesis.datasources
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *datasourceRepository) GetByName(name string) (models.Datasource, []byte, error) {
	query := `
		SELECT id, name, type, connection, enabled, status, COALESCE(schedule, ''), created_at, updated_at
		FROM nesis.datasources
		WHERE name = $1
	`
	return r.scanOne(r.db.QueryRow(query, name))
}

func (r *datasourceRepository) scanOne(row *sql.Row) (models.Datasource, []byte, error) {
	var ds models.Datasource
	var sealed []byte
	err := row.Scan(
		&ds.ID,
		&ds.Name,
		&ds.Type,
		&sealed,
		&ds.Enabled,
		&ds.Status,
		&ds.Schedule,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ds, nil, apperr.ErrNotFound
		}
		return ds, nil, err
	}
	return ds, sealed, nil
}

func (r *datasourceRepository) List() ([]models.Datasource, error) {
	query := `
		SELECT id, name, type, enabled, status, COALESCE(schedule, ''), created_at, updated_at
		FROM nesis.datasources
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasources []models.Datasource
	for rows.Next() {
		var ds models.Datasource
		if err := rows.Scan(
			&ds.ID,
			&ds.Name,
			&ds.Type,
			&ds.Enabled,
			&ds.Status,
			&ds.Schedule,
			&ds.CreatedAt,
			&ds.UpdatedAt,
		); err != nil {
			return nil, err
		}
		datasources = append(datasources, ds)
	}
	return datasources, rows.Err()
}

func (r *datasourceRepository) ListEnabledNames() ([]string, error) {
	rows, err := r.db.Query(`SELECT name FROM nesis.datasources WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *datasourceRepository) Update(ds models.Datasource, sealedConn []byte) (models.Datasource, error) {
	query := `
		UPDATE nesis.datasources
		SET type = $2, connection = $3, enabled = $4, schedule = NULLIF($5, ''), updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(query, ds.ID, ds.Type, sealedConn, ds.Enabled, ds.Schedule).Scan(&ds.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ds, apperr.ErrNotFound
		}
		return ds, err
	}
	return ds, nil
}

func (r *datasourceRepository) UpdateStatus(id string, status models.DatasourceStatus) error {
	res, err := r.db.Exec(`
		UPDATE nesis.datasources
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *datasourceRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM nesis.datasources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
