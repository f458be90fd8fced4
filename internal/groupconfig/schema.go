package groupconfig

// documentSchema validates only the outermost shape of a group
// configuration document: a JSON object of JSON objects. Per-field
// semantics (+channel, +trigger, unknown keys, ...) are deliberately left
// permissive here and enforced by decodeField/decodeGroup instead, since
// §6 requires unknown keys and most validation failures to degrade to a
// warning rather than reject the whole document — a JSON Schema
// `additionalProperties: false` would turn every such case into a hard
// schema-validation failure instead.
const documentSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object"
  }
}`
