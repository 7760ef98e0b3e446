package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"

	"github.com/google/uuid"
)

type Grade struct{ ent.Schema }

func (Grade) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "grades"},
	}
}

func (Grade) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		// explicit FKs so we can define a composite unique index
		field.UUID("submission_id", uuid.UUID{}),
		field.UUID("rubric_item_id", uuid.UUID{}),
		field.UUID("examiner_id", uuid.UUID{}),
		field.Float("points").Min(0),
		field.String("comments").Optional().Nillable().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("graded_at").Default(time.Now),
		field.Bool("is_final").Default(false),
	}
}

func (Grade) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("submission", Submission.Type).
			Ref("grades").
			Field("submission_id").
			Required().
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
		edge.From("rubric_item", RubricItem.Type).
			Ref("grades").
			Field("rubric_item_id").
			Required().
			Unique(),
	}
}

func (Grade) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("submission_id", "examiner_id", "rubric_item_id").Unique(),
	}
}
