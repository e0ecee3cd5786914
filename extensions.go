package x402gate

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ExtensionSpec is what a resource server registers for a declared
// extension: a key, an optional JSON schema the extension's declaration
// must validate against, and an optional enrichment hook run before the
// declaration is sent to a client.
type ExtensionSpec struct {
	Key       string
	Schema    string // JSON schema document; empty means "no validation"
	Extension ResourceServerExtension
}

// ExtensionRegistry holds the server's declared extensions, keyed by Key,
// and validates enriched declarations against each extension's schema
// before they go out on the wire.
type ExtensionRegistry struct {
	specs map[string]ExtensionSpec
}

func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{specs: make(map[string]ExtensionSpec)}
}

// Register adds an extension spec, replacing any previous registration
// under the same key.
func (r *ExtensionRegistry) Register(spec ExtensionSpec) {
	r.specs[spec.Key] = spec
}

// Enrich runs the registered extension's EnrichDeclaration (if any) and
// then validates the result against the extension's schema (if any). A
// key with no registered extension passes the declaration through
// unchanged, matching the server's "unknown declared extension" case.
func (r *ExtensionRegistry) Enrich(key string, declaration, transportContext interface{}) (interface{}, error) {
	spec, ok := r.specs[key]
	if !ok {
		return declaration, nil
	}

	enriched := declaration
	if spec.Extension != nil {
		enriched = spec.Extension.EnrichDeclaration(declaration, transportContext)
	}
	if spec.Schema != "" {
		if err := validateAgainstSchema(spec.Schema, enriched); err != nil {
			return nil, NewPaymentError(ErrCodeExtensionInvalid,
				fmt.Sprintf("extension %q declaration failed schema validation: %v", key, err), nil)
		}
	}
	return enriched, nil
}

// Validate runs the registered extension's payload-side check (if any) for
// key against a decoded payment payload's extensions entry. A key with no
// registered extension, or a registered extension with nothing declared
// for it in the payload, passes unconditionally — only an extension that
// is both registered and present on the payload can fail the gate.
func (r *ExtensionRegistry) Validate(ctx context.Context, key string, payloadExtension interface{}) error {
	spec, ok := r.specs[key]
	if !ok || spec.Extension == nil {
		return nil
	}
	if err := spec.Extension.Validate(ctx, payloadExtension); err != nil {
		return NewPaymentError(ErrCodeExtensionInvalid,
			fmt.Sprintf("extension %q failed validation: %v", key, err), nil)
	}
	return nil
}

func validateAgainstSchema(schema string, document interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("%s", result.Errors())
	}
	return nil
}
