package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// MySQLStore is the database/sql backend for MySQL deployments. Active-row
// uniqueness comes from a generated active_key column, see migrations/.
type MySQLStore struct {
	db *sql.DB
}

var _ Store = &MySQLStore{}

// NewMySQLStore opens dsn (user:password@tcp(host:port)/dbname). parseTime is
// forced on so timestamps scan into time.Time.
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w. Check connection format: user:password@tcp(host:port)/dbname", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("connect to mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMySQLMaterial(row rowScanner) (*Material, error) {
	m := &Material{}
	var category, role sql.NullString
	var minRatio, maxRatio, cost, cMin, cMax sql.NullFloat64
	var priority sql.NullInt64
	var enabled sql.NullBool
	var tagsJSON []byte
	if err := row.Scan(
		&m.ID, &m.Name, &category, &tagsJSON,
		&minRatio, &maxRatio, &cost, &m.CreatedAt, &m.UpdatedAt,
		&role, &cMin, &cMax, &priority, &enabled,
	); err != nil {
		return nil, err
	}
	m.Category = category.String
	m.MinRatio = nullFloat(minRatio)
	m.MaxRatio = nullFloat(maxRatio)
	m.CostPerKg = nullFloat(cost)
	if err := decodeJSON(tagsJSON, &m.FunctionTags); err != nil {
		return nil, fmt.Errorf("decode tags of material %s: %w", m.ID, err)
	}
	if role.Valid {
		m.Constraint = &RoleConstraint{
			Role:     role.String,
			MinRatio: nullFloat(cMin),
			MaxRatio: nullFloat(cMax),
			Priority: int(priority.Int64),
			Enabled:  enabled.Bool,
		}
	}
	return m, nil
}

func (s *MySQLStore) GetMaterial(ctx context.Context, id uuid.UUID) (*Material, error) {
	m, err := scanMySQLMaterial(s.db.QueryRowContext(ctx, `SELECT `+materialColumns+materialFrom+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get material %s: %w", id, err)
	}
	return m, nil
}

func (s *MySQLStore) ListMaterials(ctx context.Context, filter MaterialFilter) ([]*Material, error) {
	query := `SELECT ` + materialColumns + materialFrom + ` WHERE 1=1`
	var args []any
	if len(filter.IDs) > 0 {
		query += " AND m.id IN (" + placeholders(len(filter.IDs)) + ")"
		for _, id := range filter.IDs {
			args = append(args, id.String())
		}
	}
	if len(filter.Exclude) > 0 {
		query += " AND m.id NOT IN (" + placeholders(len(filter.Exclude)) + ")"
		for _, id := range filter.Exclude {
			args = append(args, id.String())
		}
	}
	query += materialOrder
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer rows.Close()

	var out []*Material
	for rows.Next() {
		m, err := scanMySQLMaterial(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMySQLModel(row rowScanner) (*MetricModel, error) {
	m := &MetricModel{}
	var paramsJSON, varsJSON []byte
	var notes sql.NullString
	if err := row.Scan(
		&m.ID, &m.MaterialID, &m.Metric, &m.Expression, &paramsJSON, &varsJSON,
		&m.Version, &m.Active, &notes, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Notes = notes.String
	if err := decodeJSON(paramsJSON, &m.Params); err != nil {
		return nil, fmt.Errorf("decode params of model %s: %w", m.ID, err)
	}
	if err := decodeJSON(varsJSON, &m.Variables); err != nil {
		return nil, fmt.Errorf("decode variables of model %s: %w", m.ID, err)
	}
	return m, nil
}

func (s *MySQLStore) GetActiveModel(ctx context.Context, materialID uuid.UUID, metric string) (*MetricModel, error) {
	m, err := scanMySQLModel(s.db.QueryRowContext(ctx, `
		SELECT `+modelColumns+`
		FROM metric_models
		WHERE material_id = ? AND metric = ? AND is_active
		ORDER BY updated_at DESC
		LIMIT 1`, materialID, metric))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active model %s/%s: %w", materialID, metric, err)
	}
	return m, nil
}

func (s *MySQLStore) UpsertDefaultModel(ctx context.Context, m *MetricModel) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	paramsJSON, varsJSON, err := encodeModelJSON(m)
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metric_models (id, material_id, metric, expression, params, variables, version, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE, ?)`,
		m.ID, m.MaterialID, m.Metric, m.Expression, paramsJSON, varsJSON, m.Version, m.Notes,
	)
	if isDuplicateEntry(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert default model %s/%s: %w", m.MaterialID, m.Metric, err)
	}
	m.Active = true
	return true, nil
}

func (s *MySQLStore) ListModels(ctx context.Context, filter ModelFilter) ([]*MetricModel, error) {
	query := `SELECT ` + modelColumns + ` FROM metric_models WHERE 1=1`
	var args []any
	if filter.MaterialID != nil {
		query += " AND material_id = ?"
		args = append(args, *filter.MaterialID)
	}
	if filter.Metric != "" {
		query += " AND metric = ?"
		args = append(args, filter.Metric)
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY material_id, metric, created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*MetricModel
	for rows.Next() {
		m, err := scanMySQLModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *MySQLStore) GetModel(ctx context.Context, id uuid.UUID) (*MetricModel, error) {
	return s.getModel(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *MySQLStore) getModel(ctx context.Context, q queryer, id uuid.UUID) (*MetricModel, error) {
	m, err := scanMySQLModel(q.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM metric_models WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get model %s: %w", id, err)
	}
	return m, nil
}

func (s *MySQLStore) CreateModel(ctx context.Context, m *MetricModel) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	paramsJSON, varsJSON, err := encodeModelJSON(m)
	if err != nil {
		return err
	}
	m.Active = false
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO metric_models (id, material_id, metric, expression, params, variables, version, is_active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, FALSE, ?)`,
		m.ID, m.MaterialID, m.Metric, m.Expression, paramsJSON, varsJSON, m.Version, m.Notes,
	); err != nil {
		return fmt.Errorf("create model: %w", err)
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	return nil
}

func (s *MySQLStore) UpdateModel(ctx context.Context, m *MetricModel) error {
	paramsJSON, varsJSON, err := encodeModelJSON(m)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE metric_models SET
			expression = ?, params = ?, variables = ?, version = ?, notes = ?,
			updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ?`,
		m.Expression, paramsJSON, varsJSON, m.Version, m.Notes, m.ID,
	); err != nil {
		return fmt.Errorf("update model %s: %w", m.ID, err)
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MySQLStore) SetActiveModel(ctx context.Context, id uuid.UUID) (*MetricModel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var materialID uuid.UUID
	var metric string
	err = tx.QueryRowContext(ctx, `SELECT material_id, metric FROM metric_models WHERE id = ? FOR UPDATE`, id).
		Scan(&materialID, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock model %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE metric_models SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP(6)
		WHERE material_id = ? AND metric = ? AND is_active AND id <> ?`,
		materialID, metric, id); err != nil {
		return nil, fmt.Errorf("deactivate siblings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE metric_models SET is_active = TRUE, updated_at = CURRENT_TIMESTAMP(6) WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("activate model %s: %w", id, err)
	}
	m, err := s.getModel(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (s *MySQLStore) GetSample(ctx context.Context, id uuid.UUID) (*Sample, error) {
	sample, err := scanMySQLSample(s.db.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sample %s: %w", id, err)
	}
	return sample, nil
}

func scanMySQLSample(row rowScanner) (*Sample, error) {
	s := &Sample{}
	var tagsJSON []byte
	if err := row.Scan(&s.ID, &s.Name, &s.X, &s.Y, &s.Z, &s.Status, &tagsJSON, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(tagsJSON, &s.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of sample %s: %w", s.ID, err)
	}
	return s, nil
}

func (s *MySQLStore) ListSamples(ctx context.Context) ([]*Sample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []*Sample
	for rows.Next() {
		sample, err := scanMySQLSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *MySQLStore) GetActiveBOM(ctx context.Context, sampleID uuid.UUID) ([]BOMItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.material_id, m.name, i.ratio
		FROM boms b
		JOIN bom_items i ON i.bom_id = b.id
		JOIN materials m ON m.id = i.material_id
		WHERE b.sample_id = ? AND b.is_active
		ORDER BY i.ratio DESC, m.name ASC`, sampleID)
	if err != nil {
		return nil, fmt.Errorf("get active bom for %s: %w", sampleID, err)
	}
	defer rows.Close()
	return scanMySQLBOMItems(rows)
}

func scanMySQLBOMItems(rows *sql.Rows) ([]BOMItem, error) {
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

func (s *MySQLStore) GetBOM(ctx context.Context, id uuid.UUID) (*BOM, error) {
	b := &BOM{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sample_id, version, is_active, created_at FROM boms WHERE id = ?`, id,
	).Scan(&b.ID, &b.SampleID, &b.Version, &b.Active, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bom %s: %w", id, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.material_id, m.name, i.ratio
		FROM bom_items i JOIN materials m ON m.id = i.material_id
		WHERE i.bom_id = ?
		ORDER BY i.ratio DESC, m.name ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get bom items %s: %w", id, err)
	}
	defer rows.Close()
	if b.Items, err = scanMySQLBOMItems(rows); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *MySQLStore) SetActiveBOM(ctx context.Context, bomID uuid.UUID) (*BOM, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sampleID uuid.UUID
	err = tx.QueryRowContext(ctx, `SELECT sample_id FROM boms WHERE id = ? FOR UPDATE`, bomID).Scan(&sampleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock bom %s: %w", bomID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE boms SET is_active = FALSE WHERE sample_id = ? AND id <> ?`, sampleID, bomID); err != nil {
		return nil, fmt.Errorf("deactivate boms: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE boms SET is_active = TRUE WHERE id = ?`, bomID); err != nil {
		return nil, fmt.Errorf("activate bom %s: %w", bomID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetBOM(ctx, bomID)
}

func (s *MySQLStore) UpdateSampleXYZ(ctx context.Context, sampleID uuid.UUID, x, y, z float64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE samples SET x_deodor = ?, y_absorb = ?, z_crush = ?, updated_at = CURRENT_TIMESTAMP(6)
		WHERE id = ?`, x, y, z, sampleID); err != nil {
		return fmt.Errorf("update sample xyz %s: %w", sampleID, err)
	}
	return nil
}

func encodeModelJSON(m *MetricModel) (params, vars []byte, err error) {
	if params, err = json.Marshal(m.Params); err != nil {
		return nil, nil, fmt.Errorf("encode params: %w", err)
	}
	if vars, err = json.Marshal(m.Variables); err != nil {
		return nil, nil, fmt.Errorf("encode variables: %w", err)
	}
	return params, vars, nil
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
