package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaJSON is the wire contract every inbound message must meet
// before it reaches a handler. Payloads stay opaque beyond being objects;
// per-event shapes are the engine's concern.
const envelopeSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"$id": "https://collab-board.dev/schemas/envelope.json",
	"title": "Board event envelope",
	"type": "object",
	"required": ["event"],
	"properties": {
		"event": {
			"type": "string",
			"minLength": 1
		},
		"senderId": {
			"type": "string"
		},
		"payload": {
			"type": "object"
		}
	},
	"additionalProperties": false
}`

var envelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("transport: envelope schema is not valid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", doc); err != nil {
		panic(fmt.Sprintf("transport: add envelope schema resource: %v", err))
	}
	return compiler.MustCompile("envelope.json")
}

// DecodeEnvelope validates raw against the envelope schema and unmarshals
// it. Transports drop anything that fails here rather than deliver a
// malformed message.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := envelopeSchema.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("validate envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// EncodeEnvelope marshals env after checking it carries an event name.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if strings.TrimSpace(env.Event) == "" {
		return nil, fmt.Errorf("%w: envelope event is required", ErrInvalidInput)
	}
	return json.Marshal(env)
}
