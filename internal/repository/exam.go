package repository

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// ExamRepository reads the exam catalog: exams, rubrics and examiner assignments.
type ExamRepository interface {
	GetExam(ctx context.Context, id uuid.UUID) (*entity.Exam, error)
	ListRubric(ctx context.Context, examID uuid.UUID) ([]entity.RubricItem, error)
	IsAssigned(ctx context.Context, examID, examinerID uuid.UUID) (bool, error)
	// UpsertDefinition replaces an exam's rubric and examiner list. Rubric items
	// already referenced by grades are kept.
	UpsertDefinition(ctx context.Context, def entity.ExamDefinition) error
}

type examRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

// NewExamRepository creates a new exam repository
func NewExamRepository(drv *entsql.Driver, logger *slog.Logger) ExamRepository {
	return &examRepository{drv: drv, logger: logger}
}

func (r *examRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *examRepository) GetExam(ctx context.Context, id uuid.UUID) (*entity.Exam, error) {
	b := r.builder()
	query, args := b.Select("id", "title", "active").
		From(b.Table(ExamsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()

	var found *entity.Exam
	err := queryRows(ctx, r.drv, query, args, func(rows *entsql.Rows) error {
		var e entity.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Active); err != nil {
			return err
		}
		found = &e
		return nil
	})
	if err != nil {
		r.logger.Error("failed to get exam", "exam_id", id, "error", err)
		return nil, dbError("get exam", err)
	}
	if found == nil {
		return nil, common.NotFound("exam " + id.String())
	}
	return found, nil
}

func (r *examRepository) ListRubric(ctx context.Context, examID uuid.UUID) ([]entity.RubricItem, error) {
	b := r.builder()
	query, args := b.Select("id", "exam_id", "criteria", "max_points", "display_order").
		From(b.Table(RubricItemsTable.Name)).
		Where(entsql.EQ("exam_id", examID)).
		OrderBy("display_order").
		Query()

	var out []entity.RubricItem
	err := queryRows(ctx, r.drv, query, args, func(rows *entsql.Rows) error {
		var it entity.RubricItem
		if err := rows.Scan(&it.ID, &it.ExamID, &it.Criteria, &it.MaxPoints, &it.DisplayOrder); err != nil {
			return err
		}
		out = append(out, it)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list rubric", "exam_id", examID, "error", err)
		return nil, dbError("list rubric", err)
	}
	return out, nil
}

func (r *examRepository) IsAssigned(ctx context.Context, examID, examinerID uuid.UUID) (bool, error) {
	b := r.builder()
	query, args := b.Select("examiner_id").
		From(b.Table(ExamExaminersTable.Name)).
		Where(entsql.And(entsql.EQ("exam_id", examID), entsql.EQ("examiner_id", examinerID))).
		Query()

	var assigned bool
	err := queryRows(ctx, r.drv, query, args, func(*entsql.Rows) error {
		assigned = true
		return nil
	})
	if err != nil {
		r.logger.Error("failed to check assignment", "exam_id", examID, "examiner_id", examinerID, "error", err)
		return false, dbError("check assignment", err)
	}
	return assigned, nil
}

func (r *examRepository) UpsertDefinition(ctx context.Context, def entity.ExamDefinition) error {
	b := r.builder()
	examID := def.Exam.ID

	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return dbError("begin exam upsert", err)
	}

	existing := map[uuid.UUID]bool{}
	query, args := b.Select("id").From(b.Table(ExamsTable.Name)).Where(entsql.EQ("id", examID)).Query()
	var examExists bool
	if err := queryRows(ctx, tx, query, args, func(*entsql.Rows) error {
		examExists = true
		return nil
	}); err != nil {
		return rollback(tx, dbError("lookup exam", err))
	}
	query, args = b.Select("id").From(b.Table(RubricItemsTable.Name)).Where(entsql.EQ("exam_id", examID)).Query()
	if err := queryRows(ctx, tx, query, args, func(rows *entsql.Rows) error {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		existing[id] = true
		return nil
	}); err != nil {
		return rollback(tx, dbError("lookup rubric", err))
	}

	if examExists {
		query, args = b.Update(ExamsTable.Name).
			Set("title", def.Exam.Title).
			Set("active", def.Exam.Active).
			Where(entsql.EQ("id", examID)).Query()
	} else {
		query, args = b.Insert(ExamsTable.Name).
			Columns("id", "title", "active").
			Values(examID, def.Exam.Title, def.Exam.Active).Query()
	}
	if _, err := execute(ctx, tx, query, args); err != nil {
		r.logger.Error("failed to write exam", "exam_id", examID, "error", err)
		return rollback(tx, dbError("write exam", err))
	}

	for _, it := range def.Rubric {
		if existing[it.ID] {
			query, args = b.Update(RubricItemsTable.Name).
				Set("criteria", it.Criteria).
				Set("max_points", it.MaxPoints).
				Set("display_order", it.DisplayOrder).
				Where(entsql.EQ("id", it.ID)).Query()
		} else {
			query, args = b.Insert(RubricItemsTable.Name).
				Columns("id", "exam_id", "criteria", "max_points", "display_order").
				Values(it.ID, examID, it.Criteria, it.MaxPoints, it.DisplayOrder).Query()
		}
		if _, err := execute(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to write rubric item", "rubric_item_id", it.ID, "error", err)
			return rollback(tx, dbError("write rubric item", err))
		}
	}

	var stale []any
	wanted := make(map[uuid.UUID]bool, len(def.Rubric))
	for _, it := range def.Rubric {
		wanted[it.ID] = true
	}
	for id := range existing {
		if !wanted[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		graded := b.Select("rubric_item_id").From(b.Table(GradesTable.Name))
		query, args = b.Delete(RubricItemsTable.Name).
			Where(entsql.And(entsql.In("id", stale...), entsql.NotIn("id", graded))).Query()
		if _, err := execute(ctx, tx, query, args); err != nil {
			return rollback(tx, dbError("prune rubric", err))
		}
	}

	query, args = b.Delete(ExamExaminersTable.Name).Where(entsql.EQ("exam_id", examID)).Query()
	if _, err := execute(ctx, tx, query, args); err != nil {
		return rollback(tx, dbError("clear examiners", err))
	}
	if len(def.Examiners) > 0 {
		ins := b.Insert(ExamExaminersTable.Name).Columns("exam_id", "examiner_id")
		for _, examiner := range def.Examiners {
			ins.Values(examID, examiner)
		}
		query, args = ins.Query()
		if _, err := execute(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to write examiners", "exam_id", examID, "error", err)
			return rollback(tx, dbError("write examiners", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("commit exam upsert", err)
	}
	r.logger.Info("exam definition stored", "exam_id", examID, "rubric_items", len(def.Rubric), "examiners", len(def.Examiners))
	return nil
}
