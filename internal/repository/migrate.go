package repository

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"entgo.io/ent"
	sqlann "entgo.io/ent/dialect/entsql"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	entschemaapi "entgo.io/ent/schema"
	"entgo.io/ent/schema/field"

	entschema "github.com/NAGH654/exam-submissions/db/ent/schema"
)

// Tables holds all the tables in the schema, derived from the entity schemas.
var Tables = mustTables(
	entschema.Exam{},
	entschema.RubricItem{},
	entschema.ExamExaminer{},
	entschema.Submission{},
	entschema.Violation{},
	entschema.SubmissionImage{},
	entschema.Grade{},
)

var (
	ExamsTable            = Tables[0]
	RubricItemsTable      = Tables[1]
	ExamExaminersTable    = Tables[2]
	SubmissionsTable      = Tables[3]
	ViolationsTable       = Tables[4]
	SubmissionImagesTable = Tables[5]
	GradesTable           = Tables[6]
)

func mustTables(schemas ...ent.Interface) []*schema.Table {
	tables, err := buildTables(schemas...)
	if err != nil {
		panic(err)
	}
	return tables
}

// buildTables turns entity schemas into migration tables: fields become columns,
// indexes keep ent's naming and inverse edges with a field become foreign keys.
func buildTables(schemas ...ent.Interface) ([]*schema.Table, error) {
	tables := make([]*schema.Table, 0, len(schemas))
	byType := make(map[string]*schema.Table, len(schemas))
	for _, sc := range schemas {
		t, err := buildTable(sc)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		byType[typeName(sc)] = t
	}

	for i, sc := range schemas {
		t := tables[i]
		for _, e := range sc.Edges() {
			d := e.Descriptor()
			if !d.Inverse || d.Field == "" {
				continue
			}
			ref, ok := byType[d.Type]
			if !ok {
				return nil, fmt.Errorf("table %s: edge %s references unknown type %s", t.Name, d.Name, d.Type)
			}
			col, ok := t.Column(d.Field)
			if !ok {
				return nil, fmt.Errorf("table %s: edge %s field %s is not declared", t.Name, d.Name, d.Field)
			}
			onDelete := schema.NoAction
			if a := sqlAnnotation(d.Annotations); a != nil && a.OnDelete != "" {
				onDelete = schema.ReferenceOption(a.OnDelete)
			}
			t.AddForeignKey(&schema.ForeignKey{
				Symbol:     fmt.Sprintf("%s_%s_%s", t.Name, ref.Name, d.RefName),
				Columns:    []*schema.Column{col},
				RefTable:   ref,
				RefColumns: ref.PrimaryKey,
				OnDelete:   onDelete,
			})
		}
	}
	return tables, nil
}

func buildTable(sc ent.Interface) (*schema.Table, error) {
	name := typeName(sc)
	a := sqlAnnotation(sc.Annotations())
	if a == nil || a.Table == "" {
		return nil, fmt.Errorf("schema %s has no table annotation", name)
	}
	t := schema.NewTable(a.Table)
	for _, f := range sc.Fields() {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, d.Err)
		}
		col := &schema.Column{
			Name:       d.Name,
			Type:       d.Info.Type,
			SchemaType: d.SchemaType,
			Size:       int64(d.Size),
			Unique:     d.Unique,
			Nullable:   d.Optional,
		}
		if d.StorageKey != "" {
			col.Name = d.StorageKey
		}
		// generator defaults such as uuid.New are applied by the repositories
		if d.Default != nil && reflect.TypeOf(d.Default).Kind() != reflect.Func {
			col.Default = d.Default
		}
		t.AddColumn(col)
	}

	pk := []string{"id"}
	if ids := compositeID(sc.Annotations()); len(ids) > 0 {
		pk = ids
	}
	for _, c := range pk {
		col, ok := t.Column(c)
		if !ok {
			return nil, fmt.Errorf("table %s: primary key column %s is not declared", t.Name, c)
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}

	for _, idx := range sc.Indexes() {
		d := idx.Descriptor()
		for _, c := range d.Fields {
			if !t.HasColumn(c) {
				return nil, fmt.Errorf("table %s: index column %s is not declared", t.Name, c)
			}
		}
		iname := d.StorageKey
		if iname == "" {
			iname = strings.ToLower(name) + "_" + strings.Join(d.Fields, "_")
		}
		t.AddIndex(iname, d.Unique, d.Fields)
	}
	return t, nil
}

func typeName(sc ent.Interface) string {
	return reflect.Indirect(reflect.ValueOf(sc)).Type().Name()
}

func sqlAnnotation(annotations []entschemaapi.Annotation) *sqlann.Annotation {
	for _, a := range annotations {
		switch v := a.(type) {
		case sqlann.Annotation:
			return &v
		case *sqlann.Annotation:
			return v
		}
	}
	return nil
}

func compositeID(annotations []entschemaapi.Annotation) []string {
	for _, a := range annotations {
		switch v := a.(type) {
		case field.Annotation:
			return v.ID
		case *field.Annotation:
			return v.ID
		}
	}
	return nil
}

// Migrate creates or upgrades the schema. It is additive: columns and tables
// are never dropped.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	logger.Info("running schema migration", "dialect", drv.Dialect(), "tables", len(Tables))
	m, err := schema.NewMigrate(drv, schema.WithForeignKeys(true))
	if err != nil {
		logger.Error("failed to create migrator", "error", err)
		return err
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return err
	}
	return nil
}
