package config

// workflowSchema validates the shape of a workflow document before it
// is decoded. Semantic validation (dependency graph, condition syntax)
// happens afterwards in Load.
const workflowSchema = `{
	"type": "object",
	"required": ["name", "triggers", "jobs"],
	"properties": {
		"name": {"type": "string", "minLength": 3},
		"triggers": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"kind": {
						"type": "string",
						"enum": ["push", "pull_request", "tag", "release", "dispatch"]
					},
					"ref_pattern": {"type": "string"},
					"manual_dispatch": {"type": "boolean"},
					"schedule": {"type": "string"}
				}
			}
		},
		"jobs": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "steps"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"needs": {"type": "array", "items": {"type": "string"}},
					"condition": {"type": "string"},
					"environment": {"type": "string"},
					"steps": {
						"type": "array",
						"minItems": 1,
						"items": {
							"type": "object",
							"required": ["name", "action"],
							"properties": {
								"name": {"type": "string", "minLength": 1},
								"condition": {"type": "string"},
								"action": {"type": "string", "minLength": 1},
								"with": {"type": "object"},
								"artifact_inputs": {"type": "array", "items": {"type": "string"}},
								"artifact_outputs": {"type": "array", "items": {"type": "string"}},
								"continue_on_error": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

// environmentsSchema validates the environments document.
const environmentsSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"secrets": {"type": "object", "additionalProperties": {"type": "string"}},
			"approval": {"type": "string", "enum": ["none", "manual"]}
		}
	}
}`
