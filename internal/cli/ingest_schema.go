package cli

// CandidateSchema is the JSON Schema for candidate fact files accepted by
// recall ingest. A file holds either one candidate or an array of them.
const CandidateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "origin": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["direct", "restricted_group", "open_group", "anywhere"]
        },
        "user_id": { "type": "string" },
        "group_id": { "type": "string" }
      }
    },
    "candidate": {
      "type": "object",
      "required": ["owner_id", "topic_text"],
      "properties": {
        "owner_id": { "type": "string", "minLength": 1 },
        "topic_text": { "type": "string", "minLength": 1 },
        "raw_evidence": { "type": "string" },
        "kind": {
          "type": "string",
          "enum": ["episodic", "semantic", "procedural", "community_observation", "inferred_preference"]
        },
        "origin": { "$ref": "#/definitions/origin" },
        "privacy_level": {
          "type": "string",
          "enum": ["private", "restricted", "public", "global"]
        },
        "origin_scope": {
          "type": "object",
          "properties": {
            "group_id": { "type": "string" }
          }
        },
        "confidence_hint": { "type": "number", "minimum": 0, "maximum": 1 }
      },
      "anyOf": [
        { "required": ["origin"] },
        { "required": ["privacy_level"] }
      ]
    }
  },
  "oneOf": [
    { "$ref": "#/definitions/candidate" },
    {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/definitions/candidate" }
    }
  ]
}`
