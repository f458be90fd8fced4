package config

// documentSchema validates the gateway process configuration's outer
// shape only. Per-key defaulting and the unknown-top-level-key warning
// policy (§6) are intentionally left to Load, the same split
// internal/groupconfig uses for its own document.
const documentSchema = `{
	"type": "object",
	"properties": {
		"listen":           { "type": "string" },
		"sweepInterval":    { "type": "string" },
		"defaultQueueSize": { "type": "integer", "minimum": 1 },
		"groupConfigPath":  { "type": "string" },
		"logLevel":         { "type": "string" },
		"upstream": {
			"type": "object",
			"properties": {
				"provider":    { "type": "string" },
				"memorystore": { "type": "object" },
				"nats":        { "type": "object" }
			}
		}
	}
}`
