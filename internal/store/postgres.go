package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const materialColumns = `m.id, m.name, m.category, m.function_tags,
	m.min_ratio, m.max_ratio, m.cost_per_kg, m.created_at, m.updated_at,
	c.role, c.min_ratio, c.max_ratio, c.priority, c.enabled`

const materialFrom = ` FROM materials m LEFT JOIN material_role_constraints c ON c.material_id = m.id`

// materialOrder puts high-priority roles first; see Material.Priority.
const materialOrder = ` ORDER BY CASE WHEN c.enabled THEN COALESCE(c.priority, 0) ELSE 0 END DESC, m.name ASC`

const modelColumns = `id, material_id, metric, expression, params, variables,
	version, is_active, notes, created_at, updated_at`

func scanMaterial(row pgx.Row) (*Material, error) {
	m := &Material{}
	var category, role sql.NullString
	var cMin, cMax *float64
	var priority sql.NullInt64
	var enabled sql.NullBool
	if err := row.Scan(
		&m.ID, &m.Name, &category, &m.FunctionTags,
		&m.MinRatio, &m.MaxRatio, &m.CostPerKg, &m.CreatedAt, &m.UpdatedAt,
		&role, &cMin, &cMax, &priority, &enabled,
	); err != nil {
		return nil, err
	}
	if category.Valid {
		m.Category = category.String
	}
	if role.Valid {
		m.Constraint = &RoleConstraint{
			Role:     role.String,
			MinRatio: cMin,
			MaxRatio: cMax,
			Priority: int(priority.Int64),
			Enabled:  enabled.Bool,
		}
	}
	return m, nil
}

func (s *PostgresStore) GetMaterial(ctx context.Context, id uuid.UUID) (*Material, error) {
	m, err := scanMaterial(s.pool.QueryRow(ctx, `SELECT `+materialColumns+materialFrom+` WHERE m.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get material %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMaterials(ctx context.Context, filter MaterialFilter) ([]*Material, error) {
	query := `SELECT ` + materialColumns + materialFrom + ` WHERE 1=1`
	args := []interface{}{}
	n := 0

	if len(filter.IDs) > 0 {
		n++
		query += fmt.Sprintf(" AND m.id = ANY($%d::uuid[])", n)
		args = append(args, uuidStrings(filter.IDs))
	}
	if len(filter.Exclude) > 0 {
		n++
		query += fmt.Sprintf(" AND NOT (m.id = ANY($%d::uuid[]))", n)
		args = append(args, uuidStrings(filter.Exclude))
	}

	query += materialOrder
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []*Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanModel(row pgx.Row) (*MetricModel, error) {
	m := &MetricModel{}
	var paramsJSON []byte
	var notes sql.NullString
	if err := row.Scan(
		&m.ID, &m.MaterialID, &m.Metric, &m.Expression, &paramsJSON, &m.Variables,
		&m.Version, &m.Active, &notes, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if notes.Valid {
		m.Notes = notes.String
	}
	if paramsJSON != nil {
		if err := json.Unmarshal(paramsJSON, &m.Params); err != nil {
			return nil, fmt.Errorf("decode params of model %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func (s *PostgresStore) GetActiveModel(ctx context.Context, materialID uuid.UUID, metric string) (*MetricModel, error) {
	m, err := scanModel(s.pool.QueryRow(ctx, `
		SELECT `+modelColumns+`
		FROM metric_models
		WHERE material_id = $1 AND metric = $2 AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, materialID, metric))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active model %s/%s: %w", materialID, metric, err)
	}
	return m, nil
}

// UpsertDefaultModel relies on the partial unique index over active rows:
// a concurrent writer that got there first turns this insert into a no-op.
func (s *PostgresStore) UpsertDefaultModel(ctx context.Context, m *MetricModel) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	paramsJSON, err := json.Marshal(m.Params)
	if err != nil {
		return false, fmt.Errorf("encode params: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO metric_models (id, material_id, metric, expression, params, variables, version, is_active, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
		ON CONFLICT (material_id, metric) WHERE is_active DO NOTHING`,
		m.ID, m.MaterialID, m.Metric, m.Expression, paramsJSON, m.Variables, m.Version, m.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("upsert default model %s/%s: %w", m.MaterialID, m.Metric, err)
	}
	m.Active = true
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListModels(ctx context.Context, filter ModelFilter) ([]*MetricModel, error) {
	query := `SELECT ` + modelColumns + ` FROM metric_models WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.MaterialID != nil {
		n++
		query += fmt.Sprintf(" AND material_id = $%d", n)
		args = append(args, *filter.MaterialID)
	}
	if filter.Metric != "" {
		n++
		query += fmt.Sprintf(" AND metric = $%d", n)
		args = append(args, filter.Metric)
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY material_id, metric, created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*MetricModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetModel(ctx context.Context, id uuid.UUID) (*MetricModel, error) {
	m, err := scanModel(s.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM metric_models WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return m, nil
}

// CreateModel always stores the new row inactive; activation goes through
// SetActiveModel.
func (s *PostgresStore) CreateModel(ctx context.Context, m *MetricModel) error {
	paramsJSON, err := json.Marshal(m.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Active = false
	return s.pool.QueryRow(ctx, `
		INSERT INTO metric_models (id, material_id, metric, expression, params, variables, version, is_active, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		RETURNING created_at, updated_at`,
		m.ID, m.MaterialID, m.Metric, m.Expression, paramsJSON, m.Variables, m.Version, m.Notes,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (s *PostgresStore) UpdateModel(ctx context.Context, m *MetricModel) error {
	paramsJSON, err := json.Marshal(m.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	return s.pool.QueryRow(ctx, `
		UPDATE metric_models SET
			expression = $2, params = $3, variables = $4, version = $5, notes = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Expression, paramsJSON, m.Variables, m.Version, m.Notes,
	).Scan(&m.UpdatedAt)
}

func (s *PostgresStore) SetActiveModel(ctx context.Context, id uuid.UUID) (*MetricModel, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var materialID uuid.UUID
	var metric string
	err = tx.QueryRow(ctx, `SELECT material_id, metric FROM metric_models WHERE id = $1 FOR UPDATE`, id).
		Scan(&materialID, &metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock model %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE metric_models SET is_active = false, updated_at = now()
		WHERE material_id = $1 AND metric = $2 AND is_active AND id <> $3`,
		materialID, metric, id); err != nil {
		return nil, fmt.Errorf("deactivate siblings: %w", err)
	}
	m, err := scanModel(tx.QueryRow(ctx, `
		UPDATE metric_models SET is_active = true, updated_at = now()
		WHERE id = $1
		RETURNING `+modelColumns, id))
	if err != nil {
		return nil, fmt.Errorf("activate model %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

const sampleColumns = `id, name, x_deodor, y_absorb, z_crush, status, tags, updated_at`

func scanSample(row pgx.Row) (*Sample, error) {
	s := &Sample{}
	if err := row.Scan(&s.ID, &s.Name, &s.X, &s.Y, &s.Z, &s.Status, &s.Tags, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	sample, err := scanSample(s.pool.QueryRow(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sample %s: %w", id, err)
	}
	return sample, nil
}

func (s *PostgresStore) ListSamples(ctx context.Context) ([]*Sample, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetActiveBOM(ctx context.Context, sampleID uuid.UUID) ([]BOMItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.material_id, m.name, i.ratio
		FROM boms b
		JOIN bom_items i ON i.bom_id = b.id
		JOIN materials m ON m.id = i.material_id
		WHERE b.sample_id = $1 AND b.is_active
		ORDER BY i.ratio DESC, m.name ASC`, sampleID)
	if err != nil {
		return nil, fmt.Errorf("get active bom for %s: %w", sampleID, err)
	}
	defer rows.Close()
	return scanBOMItems(rows)
}

func scanBOMItems(rows pgx.Rows) ([]BOMItem, error) {
	var items []BOMItem
	for rows.Next() {
		var it BOMItem
		if err := rows.Scan(&it.MaterialID, &it.MaterialName, &it.Ratio); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetBOM(ctx context.Context, id uuid.UUID) (*BOM, error) {
	b := &BOM{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, sample_id, version, is_active, created_at FROM boms WHERE id = $1`, id,
	).Scan(&b.ID, &b.SampleID, &b.Version, &b.Active, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bom %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT i.material_id, m.name, i.ratio
		FROM bom_items i JOIN materials m ON m.id = i.material_id
		WHERE i.bom_id = $1
		ORDER BY i.ratio DESC, m.name ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get bom items %s: %w", id, err)
	}
	defer rows.Close()
	if b.Items, err = scanBOMItems(rows); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *PostgresStore) SetActiveBOM(ctx context.Context, bomID uuid.UUID) (*BOM, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sampleID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT sample_id FROM boms WHERE id = $1 FOR UPDATE`, bomID).Scan(&sampleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock bom %s: %w", bomID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE boms SET is_active = false WHERE sample_id = $1 AND is_active AND id <> $2`, sampleID, bomID); err != nil {
		return nil, fmt.Errorf("deactivate boms: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE boms SET is_active = true WHERE id = $1`, bomID); err != nil {
		return nil, fmt.Errorf("activate bom %s: %w", bomID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetBOM(ctx, bomID)
}

func (s *PostgresStore) UpdateSampleXYZ(ctx context.Context, sampleID uuid.UUID, x, y, z float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE samples SET x_deodor = $2, y_absorb = $3, z_crush = $4, updated_at = now()
		WHERE id = $1`, sampleID, x, y, z)
	if err != nil {
		return fmt.Errorf("update sample xyz %s: %w", sampleID, err)
	}
	return nil
}

// CreateMaterial and the sample/BOM writers below back the seed script and
// integration tests; they are not part of Store.
func (s *PostgresStore) CreateMaterial(ctx context.Context, m *Material) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.FunctionTags == nil {
		m.FunctionTags = []string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO materials (id, name, category, function_tags, min_ratio, max_ratio, cost_per_kg)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.Category, m.FunctionTags, m.MinRatio, m.MaxRatio, m.CostPerKg,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create material %s: %w", m.Name, err)
	}
	if c := m.Constraint; c != nil {
		if _, err := s.pool.Exec(ctx, `
			INSERT INTO material_role_constraints (material_id, role, min_ratio, max_ratio, priority, enabled)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, c.Role, c.MinRatio, c.MaxRatio, c.Priority, c.Enabled); err != nil {
			return fmt.Errorf("create role constraint for %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSample(ctx context.Context, sample *Sample, bom *BOM) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}
	if sample.Tags == nil {
		sample.Tags = []string{}
	}
	if sample.Status == "" {
		sample.Status = "draft"
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO samples (id, name, status, tags) VALUES ($1, $2, $3, $4)
		RETURNING updated_at`, sample.ID, sample.Name, sample.Status, sample.Tags,
	).Scan(&sample.UpdatedAt); err != nil {
		return fmt.Errorf("create sample %s: %w", sample.Name, err)
	}

	if bom != nil {
		if bom.ID == uuid.Nil {
			bom.ID = uuid.New()
		}
		bom.SampleID = sample.ID
		if err := tx.QueryRow(ctx, `
			INSERT INTO boms (id, sample_id, version, is_active) VALUES ($1, $2, $3, $4)
			RETURNING created_at`, bom.ID, bom.SampleID, bom.Version, bom.Active,
		).Scan(&bom.CreatedAt); err != nil {
			return fmt.Errorf("create bom: %w", err)
		}
		for _, it := range bom.Items {
			if _, err := tx.Exec(ctx, `INSERT INTO bom_items (bom_id, material_id, ratio) VALUES ($1, $2, $3)`,
				bom.ID, it.MaterialID, it.Ratio); err != nil {
				return fmt.Errorf("create bom item: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
