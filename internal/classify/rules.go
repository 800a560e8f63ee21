package classify

import (
	"context"
	"errors"
	"sort"

	"dbinventory/internal/core"

	"github.com/go-playground/validator/v10"
)

// RuleStore manages classifications and their per-vendor rules.
type RuleStore struct {
	repo     core.ClassificationRepository
	validate *validator.Validate
}

func NewRuleStore(repo core.ClassificationRepository) *RuleStore {
	return &RuleStore{repo: repo, validate: validator.New()}
}

func (s *RuleStore) ListClassifications(ctx context.Context) ([]core.Classification, error) {
	return s.repo.GetAll(ctx)
}

func (s *RuleStore) GetClassification(ctx context.Context, id int64) (*core.Classification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RuleStore) CreateClassification(ctx context.Context, c *core.Classification) error {
	if err := s.validate.Struct(c); err != nil {
		return core.E(core.CodeValidation, "classification.create", err)
	}
	if _, err := s.repo.GetByName(ctx, c.Name); err == nil {
		return core.Errorf(core.CodeValidation, "classification.create", "classification %q already exists", c.Name)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	c.IsSystem = false
	return s.repo.Create(ctx, c)
}

// UpdateClassification edits a classification. Built-in ones are editable
// but keep their system flag.
func (s *RuleStore) UpdateClassification(ctx context.Context, c *core.Classification) error {
	cur, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if err := s.validate.Struct(c); err != nil {
		return core.E(core.CodeValidation, "classification.update", err)
	}
	c.IsSystem = cur.IsSystem
	return s.repo.Update(ctx, c)
}

func (s *RuleStore) DeleteClassification(ctx context.Context, id int64) error {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if cur.IsSystem {
		return core.Errorf(core.CodeValidation, "classification.delete", "built-in classification %q cannot be deleted; deactivate it instead", cur.Name)
	}
	return s.repo.Delete(ctx, id)
}

// ListRules returns the rules of one vendor, or all rules when vendor is empty.
func (s *RuleStore) ListRules(ctx context.Context, vendor core.Vendor) ([]core.ClassificationRule, error) {
	return s.repo.ListRules(ctx, vendor)
}

func (s *RuleStore) GetRule(ctx context.Context, id int64) (*core.ClassificationRule, error) {
	return s.repo.GetRule(ctx, id)
}

func (s *RuleStore) CreateRule(ctx context.Context, r *core.ClassificationRule) error {
	if err := s.checkRule(ctx, "rule.create", r); err != nil {
		return err
	}
	return s.repo.CreateRule(ctx, r)
}

func (s *RuleStore) UpdateRule(ctx context.Context, r *core.ClassificationRule) error {
	if _, err := s.repo.GetRule(ctx, r.ID); err != nil {
		return err
	}
	if err := s.checkRule(ctx, "rule.update", r); err != nil {
		return err
	}
	return s.repo.UpdateRule(ctx, r)
}

func (s *RuleStore) DeleteRule(ctx context.Context, id int64) error {
	return s.repo.DeleteRule(ctx, id)
}

func (s *RuleStore) checkRule(ctx context.Context, op string, r *core.ClassificationRule) error {
	if err := s.validate.Struct(r); err != nil {
		return core.E(core.CodeValidation, op, err)
	}
	if err := r.Expression.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetByID(ctx, r.ClassificationID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Errorf(core.CodeValidation, op, "classification %d does not exist", r.ClassificationID)
		}
		return err
	}
	return nil
}

// BoundRule is an active rule with the classification it assigns.
type BoundRule struct {
	core.ClassificationRule
	Classification core.Classification
}

// RuleSet is the rules in force for one batch, grouped by vendor and
// ordered by classification priority (highest first), then rule id.
type RuleSet struct {
	byVendor map[core.Vendor][]BoundRule
	total    int
}

func (rs RuleSet) For(v core.Vendor) []BoundRule { return rs.byVendor[v] }

func (rs RuleSet) Len() int { return rs.total }

// Load reads the active rules of active classifications.
func (s *RuleStore) Load(ctx context.Context) (RuleSet, error) {
	classes, err := s.repo.GetAll(ctx)
	if err != nil {
		return RuleSet{}, err
	}
	byID := make(map[int64]core.Classification, len(classes))
	for _, c := range classes {
		if c.IsActive {
			byID[c.ID] = c
		}
	}
	rules, err := s.repo.ListRules(ctx, "")
	if err != nil {
		return RuleSet{}, err
	}
	rs := RuleSet{byVendor: make(map[core.Vendor][]BoundRule)}
	for _, r := range rules {
		c, ok := byID[r.ClassificationID]
		if !r.IsActive || !ok {
			continue
		}
		rs.byVendor[r.Vendor] = append(rs.byVendor[r.Vendor], BoundRule{ClassificationRule: r, Classification: c})
		rs.total++
	}
	for _, list := range rs.byVendor {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Classification.Priority != list[j].Classification.Priority {
				return list[i].Classification.Priority > list[j].Classification.Priority
			}
			return list[i].ID < list[j].ID
		})
	}
	return rs, nil
}
