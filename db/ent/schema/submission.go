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

type Submission struct{ ent.Schema }

func (Submission) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "submissions"},
	}
}

func (Submission) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.UUID("exam_id", uuid.UUID{}),
		// nil when the file name does not follow the naming convention
		field.String("student_id").Optional().Nillable(),
		field.String("student_name").Optional().Nillable(),
		field.String("file_name").NotEmpty(),
		field.String("storage_path").NotEmpty().
			SchemaType(map[string]string{dialect.Postgres: "text"}),
		field.Int64("file_size").NonNegative(),
		field.String("content_hash").Optional().Nillable(),
		field.String("document_type").NotEmpty(),
		field.Time("submitted_at").Default(time.Now),
		field.String("status").NotEmpty(),
		// bumped on every grading write; guards concurrent recomputation
		field.Int64("version").Default(0),
	}
}

func (Submission) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("exam", Exam.Type).
			Ref("submissions").
			Field("exam_id").
			Required().
			Unique(),
		edge.To("violations", Violation.Type),
		edge.To("images", SubmissionImage.Type),
		edge.To("grades", Grade.Type),
	}
}

func (Submission) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("exam_id", "content_hash"),
		index.Fields("exam_id", "status"),
	}
}
