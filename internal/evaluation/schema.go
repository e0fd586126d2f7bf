package evaluation

import "encoding/json"

// JSON schemas sent with schema-capable providers and embedded into the
// prompt for providers that only support instructed JSON output.

// transcriptSchema constrains transcription and normalization output.
var transcriptSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "language": {"type": "string"},
    "segments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer"},
          "speaker": {"type": "string"},
          "start": {"type": "number"},
          "end": {"type": "number"},
          "text": {"type": "string"}
        },
        "required": ["id", "text"],
        "additionalProperties": false
      }
    }
  },
  "required": ["segments"],
  "additionalProperties": false
}`)

// critiqueSchema constrains the critique step's output.
var critiqueSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "segments": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "segmentId": {"type": "integer"},
          "originalText": {"type": "string"},
          "generatedText": {"type": "string"},
          "severity": {"type": "string", "enum": ["none", "minor", "moderate", "critical"]},
          "likelyCorrect": {"type": "string", "enum": ["original", "generated", "both", "neither", "unclear"]},
          "comment": {"type": "string"}
        },
        "required": ["segmentId", "severity", "likelyCorrect"],
        "additionalProperties": false
      }
    },
    "statistics": {
      "type": "object",
      "properties": {
        "totalSegments": {"type": "integer"},
        "criticalCount": {"type": "integer"},
        "moderateCount": {"type": "integer"},
        "minorCount": {"type": "integer"},
        "matchCount": {"type": "integer"},
        "originalCorrectCount": {"type": "integer"},
        "generatedCorrectCount": {"type": "integer"}
      },
      "required": ["totalSegments"],
      "additionalProperties": false
    }
  },
  "required": ["segments"],
  "additionalProperties": false
}`)
