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

type Violation struct{ ent.Schema }

func (Violation) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "violations"},
	}
}

func (Violation) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("submission_id", uuid.UUID{}),
		field.String("type").NotEmpty(),
		field.String("severity").NotEmpty(),
		field.String("description").
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Time("detected_at").Default(time.Now),
	}
}

func (Violation) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("submission", Submission.Type).
			Ref("violations").
			Field("submission_id").
			Required().
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}

func (Violation) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("submission_id"),
	}
}

type SubmissionImage struct{ ent.Schema }

func (SubmissionImage) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "submission_images"},
	}
}

func (SubmissionImage) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("submission_id", uuid.UUID{}),
		field.String("name").NotEmpty(),
		field.String("storage_path").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("size").NonNegative(),
		field.Time("extracted_at").Default(time.Now),
	}
}

func (SubmissionImage) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("submission", Submission.Type).
			Ref("images").
			Field("submission_id").
			Required().
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}
