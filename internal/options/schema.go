package options

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// ValidateConfigFile validates a raw YAML/JSON config document against a
// JSON Schema before it is merged into a scope (§4.C: "unrecognised option →
// fatal with scope + name; type mismatch → fatal with source location").
// schemaJSON is the scope's schema document; doc is the decoded config as a
// generic map (produced by the caller from YAML via gopkg.in/yaml.v3, then
// round-tripped through JSON since jsonschema validates against JSON-shaped
// values).
func ValidateConfigFile(schemaJSON []byte, doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("scope.json", bytes.NewReader(schemaJSON)); err != nil {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("options: bad schema: %w", err))
	}
	schema, err := compiler.Compile("scope.json")
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, fmt.Errorf("options: compiling schema: %w", err))
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return strataerrors.New(strataerrors.KindEngine, err)
	}

	if err := schema.Validate(generic); err != nil {
		return strataerrors.New(strataerrors.KindUser, fmt.Errorf("options: config file failed schema validation: %w", err))
	}
	return nil
}
