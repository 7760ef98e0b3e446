// Package exam loads exam definitions (exam, rubric and examiner assignments)
// from JSON files and seeds them into the catalog.
package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// Upserter stores a definition.
type Upserter interface {
	UpsertDefinition(ctx context.Context, def entity.ExamDefinition) error
}

type definitionFile struct {
	Exam struct {
		ID     uuid.UUID `json:"id"`
		Title  string    `json:"title"`
		Active *bool     `json:"active"`
	} `json:"exam"`
	Rubric []struct {
		ID           *uuid.UUID `json:"id"`
		Criteria     string     `json:"criteria"`
		MaxPoints    float64    `json:"max_points"`
		DisplayOrder *int       `json:"display_order"`
	} `json:"rubric"`
	Examiners []uuid.UUID `json:"examiners"`
}

// ValidateJSON validates data against the exam definition schema.
func ValidateJSON(data []byte) error {
	b, err := json.Marshal(DefinitionSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("exam.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("exam.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return common.NewAppError(common.CodeInvalidArgument, "exam definition is not valid JSON: "+err.Error(), common.ErrValidation)
	}
	if err := schema.Validate(v); err != nil {
		return common.NewAppError(common.CodeInvalidArgument, "exam definition does not match schema: "+err.Error(), common.ErrValidation)
	}
	return nil
}

// Parse validates and decodes an exam definition. Exams default to active,
// rubric items without an id get one derived from the exam id and criteria, and
// rubric items without a display order keep their position in the file.
func Parse(data []byte) (*entity.ExamDefinition, error) {
	if err := ValidateJSON(data); err != nil {
		return nil, err
	}
	var f definitionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, common.NewAppError(common.CodeInvalidArgument, "decode exam definition: "+err.Error(), common.ErrValidation)
	}

	def := &entity.ExamDefinition{
		Exam:      entity.Exam{ID: f.Exam.ID, Title: strings.TrimSpace(f.Exam.Title), Active: true},
		Examiners: f.Examiners,
	}
	if f.Exam.Active != nil {
		def.Exam.Active = *f.Exam.Active
	}

	seen := map[uuid.UUID]bool{}
	for i, r := range f.Rubric {
		item := entity.RubricItem{
			ExamID:       def.Exam.ID,
			Criteria:     strings.TrimSpace(r.Criteria),
			MaxPoints:    r.MaxPoints,
			DisplayOrder: i + 1,
		}
		if r.ID != nil {
			item.ID = *r.ID
		} else {
			item.ID = uuid.NewSHA1(def.Exam.ID, []byte(strings.ToLower(item.Criteria)))
		}
		if r.DisplayOrder != nil {
			item.DisplayOrder = *r.DisplayOrder
		}
		if seen[item.ID] {
			return nil, common.NewAppError(common.CodeInvalidArgument,
				fmt.Sprintf("rubric item %q is defined twice", item.Criteria), common.ErrValidation)
		}
		seen[item.ID] = true
		def.Rubric = append(def.Rubric, item)
	}
	return def, nil
}

// LoadFile reads and parses an exam definition file.
func LoadFile(path string) (*entity.ExamDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exam definition: %w", err)
	}
	return Parse(data)
}

// Seed loads path and upserts it.
func Seed(ctx context.Context, repo Upserter, path string, logger *slog.Logger) (*entity.ExamDefinition, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def, err := LoadFile(path)
	if err != nil {
		logger.Error("failed to load exam definition", "path", path, "error", err)
		return nil, err
	}
	if err := repo.UpsertDefinition(ctx, *def); err != nil {
		return nil, err
	}
	logger.Info("exam definition seeded",
		"exam_id", def.Exam.ID,
		"rubric_items", len(def.Rubric),
		"examiners", len(def.Examiners),
		"max_points", entity.MaxPoints(def.Rubric),
	)
	return def, nil
}
