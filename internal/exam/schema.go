package exam

const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// DefinitionSchema returns the JSON-Schema of an exam definition file.
func DefinitionSchema() map[string]any {
	exam := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"id":     uuidProp(),
			"title":  map[string]any{"type": "string", "minLength": 1},
			"active": map[string]any{"type": "boolean"},
		},
		"required": []string{"id", "title"},
	}
	rubricItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"id":            uuidProp(), // optional; derived from the criteria when absent
			"criteria":      map[string]any{"type": "string", "minLength": 1},
			"max_points":    map[string]any{"type": "number", "minimum": 0},
			"display_order": map[string]any{"type": "integer", "minimum": 0},
		},
		"required": []string{"criteria", "max_points"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"exam":      exam,
			"rubric":    map[string]any{"type": "array", "minItems": 1, "items": rubricItem},
			"examiners": map[string]any{"type": "array", "items": uuidProp(), "uniqueItems": true},
		},
		"required": []string{"exam", "rubric"},
	}
}

func uuidProp() map[string]any {
	return map[string]any{"type": "string", "pattern": uuidPattern}
}
