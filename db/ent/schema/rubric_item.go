package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"
)

type RubricItem struct{ ent.Schema }

func (RubricItem) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "rubric_items"},
	}
}

func (RubricItem) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("exam_id", uuid.UUID{}),
		field.String("criteria").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Float("max_points").Min(0),
		field.Int("display_order").Default(0),
	}
}

func (RubricItem) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("exam", Exam.Type).
			Ref("rubric").
			Field("exam_id").
			Required().
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.To("grades", Grade.Type),
	}
}

func (RubricItem) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("exam_id", "display_order"),
	}
}
