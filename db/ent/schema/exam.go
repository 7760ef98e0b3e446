package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"

	"github.com/google/uuid"
)

type Exam struct{ ent.Schema }

func (Exam) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "exams"},
	}
}

func (Exam) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("id", uuid.UUID{}).Default(uuid.New).Immutable(),
		field.String("title").NotEmpty(),
		field.Bool("active").Default(true),
	}
}

func (Exam) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("rubric", RubricItem.Type),
		edge.To("examiners", ExamExaminer.Type),
		edge.To("submissions", Submission.Type),
	}
}

// ExamExaminer assigns an examiner to an exam. Examiners live outside this
// database, so only their id is kept.
type ExamExaminer struct{ ent.Schema }

func (ExamExaminer) Annotations() []schema.Annotation {
	return []schema.Annotation{
		entsql.Annotation{Table: "exam_examiners"},
		field.ID("exam_id", "examiner_id"),
	}
}

func (ExamExaminer) Fields() []ent.Field {
	return []ent.Field{
		field.UUID("exam_id", uuid.UUID{}),
		field.UUID("examiner_id", uuid.UUID{}),
	}
}

func (ExamExaminer) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("exam", Exam.Type).
			Ref("examiners").
			Field("exam_id").
			Required().
			Unique().
			Annotations(entsql.OnDelete(entsql.Cascade)),
	}
}
