// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/samber/oops"
)

// SchemaIDBase prefixes the $id of every request schema.
const SchemaIDBase = "https://taskmill.dev/schemas/auth/"

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email           string `json:"email" jsonschema:"format=email,maxLength=254,example=alice@example.com"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// LoginRequest is the body of POST /auth/login/json.
type LoginRequest struct {
	Email    string `json:"email" jsonschema:"format=email,maxLength=254,example=alice@example.com"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" jsonschema:"minLength=1"`
}

// PasswordResetRequest is the body of POST /auth/password-reset/request.
type PasswordResetRequest struct {
	Email string `json:"email" jsonschema:"format=email,maxLength=254,example=alice@example.com"`
}

// PasswordResetConfirmRequest is the body of POST /auth/password-reset/confirm.
// Email is validated for shape and passed through, but the engine checks the
// new password against the account's stored email.
type PasswordResetConfirmRequest struct {
	Token           string `json:"token" jsonschema:"minLength=1"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
	Email           string `json:"email" jsonschema:"format=email,maxLength=254"`
}

// requestTypes are the bodies with a schema, keyed by schema name.
var requestTypes = map[string]any{
	"register":               &RegisterRequest{},
	"login":                  &LoginRequest{},
	"refresh":                &RefreshRequest{},
	"password-reset-request": &PasswordResetRequest{},
	"password-reset-confirm": &PasswordResetConfirmRequest{},
}

// SchemaNames lists the request schemas in a stable order.
func SchemaNames() []string {
	names := make([]string, 0, len(requestTypes))
	for name := range requestTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateSchema returns the JSON schema for the named request body.
func GenerateSchema(name string) ([]byte, error) {
	v, ok := requestTypes[name]
	if !ok {
		return nil, oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("no request schema named %q", name)
	}
	r := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.ID = jsonschema.ID(SchemaIDBase + name + ".schema.json")
	schema.Title = reflect.TypeOf(v).Elem().Name()

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.Code("SCHEMA_MARSHAL_FAILED").With("name", name).Wrap(err)
	}
	return data, nil
}

// compiledSchemas compiles every request schema once.
var compiledSchemas = sync.OnceValues(func() (map[string]*jschema.Schema, error) {
	c := jschema.NewCompiler()
	c.AssertFormat()
	out := make(map[string]*jschema.Schema, len(requestTypes))
	for _, name := range SchemaNames() {
		raw, err := GenerateSchema(name)
		if err != nil {
			return nil, err
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		url := SchemaIDBase + name + ".schema.json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, oops.Code("SCHEMA_COMPILE_FAILED").With("name", name).Wrap(err)
		}
		out[name] = sch
	}
	return out, nil
})

// RequestError is a body that failed to decode or to match its schema.
type RequestError struct {
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// validateBody checks the JSON document raw against the named schema and
// decodes it into dst.
func validateBody(name string, raw []byte, dst any) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	sch, ok := schemas[name]
	if !ok {
		return oops.Code("SCHEMA_UNKNOWN").With("name", name).Errorf("no request schema named %q", name)
	}

	doc, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &RequestError{Message: "body must be a JSON object"}
	}
	if err := sch.Validate(doc); err != nil {
		var ve *jschema.ValidationError
		if errors.As(err, &ve) {
			return describe(ve)
		}
		return &RequestError{Message: err.Error()}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &RequestError{Message: "body does not match the request type"}
	}
	return nil
}

// describe reduces a schema failure to its first leaf.
func describe(ve *jschema.ValidationError) *RequestError {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, ".")
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			field = joinField(field, k.Missing[0])
		}
		return &RequestError{Field: field, Message: "field is required"}
	case *kind.Format:
		return &RequestError{Field: field, Message: "must be a valid " + k.Want}
	case *kind.MinLength:
		return &RequestError{Field: field, Message: "must not be empty"}
	case *kind.Type:
		if field == "" {
			return &RequestError{Message: "body must be a JSON object"}
		}
		return &RequestError{Field: field, Message: "must be of type " + strings.Join(k.Want, " or ")}
	default:
		return &RequestError{Field: field, Message: "is invalid"}
	}
}

func joinField(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "." + child
}
