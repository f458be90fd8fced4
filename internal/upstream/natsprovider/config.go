package natsprovider

import (
	"bytes"
	"encoding/json"
)

// Config holds the connection parameters for a remote PVA network reached
// over NATS (§1 domain-stack note: NATS stands in for an actual PVA wire
// transport between gateway instances or to a remote record database).
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`

	// SubjectPrefix namespaces every subject this provider publishes or
	// subscribes to, so multiple gateways can share one NATS deployment.
	SubjectPrefix string `json:"subject-prefix"`
}

// ConfigSchema validates a natsprovider.Config decoded from the gateway's
// own configuration document (§6).
const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for the remote PVA-over-NATS upstream provider.",
    "properties": {
        "address": {
            "description": "Address of the NATS server (e.g., 'nats://localhost:4222').",
            "type": "string"
        },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "creds-file-path": { "type": "string" },
        "subject-prefix": {
            "description": "Subject namespace prefix for this provider's channels.",
            "type": "string"
        }
    },
    "required": ["address", "subject-prefix"]
}`

// DecodeConfig parses rawConfig into a Config. It does not validate
// against ConfigSchema, and neither internal/config nor cmd/pva2go runs
// that check; unknown keys are still rejected by the decoder.
func DecodeConfig(rawConfig []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
