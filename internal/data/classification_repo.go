package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbinventory/internal/core"

	"github.com/goccy/go-json"
)

// ClassificationRepo stores classifications and their rules.
type ClassificationRepo struct {
	db *sql.DB
}

func NewClassificationRepo(db *sql.DB) *ClassificationRepo {
	return &ClassificationRepo{db: db}
}

const classificationColumns = `id, name, description, risk_level, color, priority, is_active, is_system, created_at, updated_at`

func scanClassification(s interface{ Scan(...any) error }) (*core.Classification, error) {
	var c core.Classification
	var desc, color sql.NullString
	var active, system int
	err := s.Scan(&c.ID, &c.Name, &desc, &c.RiskLevel, &color, &c.Priority, &active, &system, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Description = desc.String
	c.Color = color.String
	c.IsActive = active == 1
	c.IsSystem = system == 1
	return &c, nil
}

func (r *ClassificationRepo) Create(ctx context.Context, c *core.Classification) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO classifications (name, description, risk_level, color, priority, is_active, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Description, c.RiskLevel, c.Color, c.Priority, boolInt(c.IsActive), boolInt(c.IsSystem), now, now)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

func (r *ClassificationRepo) GetByID(ctx context.Context, id int64) (*core.Classification, error) {
	c, err := scanClassification(r.db.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ClassificationRepo) GetByName(ctx context.Context, name string) (*core.Classification, error) {
	c, err := scanClassification(r.db.QueryRowContext(ctx, `SELECT `+classificationColumns+` FROM classifications WHERE name = ?`, name))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// GetAll returns classifications ordered by priority, highest first.
func (r *ClassificationRepo) GetAll(ctx context.Context) ([]core.Classification, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+classificationColumns+` FROM classifications ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Classification
	for rows.Next() {
		c, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ClassificationRepo) Update(ctx context.Context, c *core.Classification) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE classifications SET name=?, description=?, risk_level=?, color=?, priority=?, is_active=?, updated_at=?
		WHERE id=?`,
		c.Name, c.Description, c.RiskLevel, c.Color, c.Priority, boolInt(c.IsActive), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *ClassificationRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classifications WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *ClassificationRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM classifications`).Scan(&n)
	return n, err
}

const ruleColumns = `id, classification_id, name, vendor, expression, is_active, created_at, updated_at`

func scanRule(s interface{ Scan(...any) error }) (*core.ClassificationRule, error) {
	var rule core.ClassificationRule
	var expr string
	var active int
	if err := s.Scan(&rule.ID, &rule.ClassificationID, &rule.Name, &rule.Vendor, &expr, &active, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(expr), &rule.Expression); err != nil {
		return nil, fmt.Errorf("rule %d expression: %w", rule.ID, err)
	}
	rule.IsActive = active == 1
	return &rule, nil
}

func (r *ClassificationRepo) CreateRule(ctx context.Context, rule *core.ClassificationRule) error {
	expr, err := json.Marshal(rule.Expression)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO classification_rules (classification_id, name, vendor, expression, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ClassificationID, rule.Name, rule.Vendor, string(expr), boolInt(rule.IsActive), now, now)
	if err != nil {
		return err
	}
	rule.ID, _ = res.LastInsertId()
	rule.CreatedAt, rule.UpdatedAt = now, now
	return nil
}

func (r *ClassificationRepo) GetRule(ctx context.Context, id int64) (*core.ClassificationRule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM classification_rules WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return rule, nil
}

// ListRules returns rules for one vendor, or all rules when vendor is empty.
func (r *ClassificationRepo) ListRules(ctx context.Context, vendor core.Vendor) ([]core.ClassificationRule, error) {
	q := `SELECT ` + ruleColumns + ` FROM classification_rules`
	var args []any
	if vendor != "" {
		q += ` WHERE vendor = ?`
		args = append(args, vendor)
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ClassificationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func (r *ClassificationRepo) UpdateRule(ctx context.Context, rule *core.ClassificationRule) error {
	expr, err := json.Marshal(rule.Expression)
	if err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE classification_rules SET classification_id=?, name=?, vendor=?, expression=?, is_active=?, updated_at=?
		WHERE id=?`,
		rule.ClassificationID, rule.Name, rule.Vendor, string(expr), boolInt(rule.IsActive), rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *ClassificationRepo) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classification_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	return nil
}
