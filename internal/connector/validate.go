package connector

import (
	"context"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ametnes/nesis-sub000/internal/apperr"
	"github.com/ametnes/nesis-sub000/internal/models"
)

// Per-type required keys for a datasource's connection map.
var connectionSchemas = map[models.DatasourceType]string{
	models.DatasourceMinio: `{
		"type": "object",
		"properties": {
			"endpoint":   {"type": "string", "minLength": 1},
			"access_key": {"type": "string"},
			"secret_key": {"type": "string"},
			"dataobjects": {"type": "string"}
		},
		"required": ["endpoint"]
	}`,
	models.DatasourceS3: `{
		"type": "object",
		"properties": {
			"endpoint":   {"type": "string", "minLength": 1},
			"region":     {"type": "string"},
			"access_key": {"type": "string"},
			"secret_key": {"type": "string"},
			"dataobjects": {"type": "string"}
		},
		"required": ["endpoint"]
	}`,
	models.DatasourceShare: `{
		"type": "object",
		"properties": {
			"endpoint": {"type": "string", "minLength": 1},
			"username": {"type": "string", "minLength": 1},
			"password": {"type": "string", "minLength": 1},
			"domain":   {"type": "string"},
			"port":     {"type": "string"}
		},
		"required": ["endpoint", "username", "password"]
	}`,
	models.DatasourceSharepoint: `{
		"type": "object",
		"properties": {
			"site_url":      {"type": "string", "minLength": 1},
			"client_id":     {"type": "string", "minLength": 1},
			"client_secret": {"type": "string", "minLength": 1},
			"dataobjects":   {"type": "string"}
		},
		"required": ["site_url", "client_id", "client_secret"]
	}`,
	models.DatasourceRDBMS: `{
		"type": "object",
		"properties": {
			"engine":   {"type": "string", "enum": ["postgres", "mysql"]},
			"endpoint": {"type": "string", "minLength": 1}
		},
		"required": ["engine", "endpoint"]
	}`,
}

// Validate asserts the per-type required keys and runs a cheap live
// connectivity probe. It returns the sanitized parameter map; failures are
// ValidationErrors, never generic ones.
func Validate(ctx context.Context, dsType models.DatasourceType, params map[string]string) (map[string]string, error) {
	schemaText, ok := connectionSchemas[dsType]
	if !ok {
		return nil, apperr.Validation("unknown datasource type %q", dsType)
	}

	sanitized := make(map[string]string, len(params))
	for k, v := range params {
		sanitized[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	if err := validateSchema(schemaText, sanitized); err != nil {
		return nil, err
	}
	if err := probe(ctx, dsType, sanitized); err != nil {
		return nil, apperr.ValidationWrap(err, "connectivity check for %s failed", dsType)
	}
	return sanitized, nil
}

func validateSchema(schemaText string, params map[string]string) error {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaText))
	if err != nil {
		return err
	}
	if err := compiler.AddResource("connection.json", doc); err != nil {
		return err
	}
	schema, err := compiler.Compile("connection.json")
	if err != nil {
		return err
	}

	instance := make(map[string]interface{}, len(params))
	for k, v := range params {
		instance[k] = v
	}
	if err := schema.Validate(instance); err != nil {
		return apperr.ValidationWrap(err, "connection parameters invalid")
	}
	return nil
}

func probe(ctx context.Context, dsType models.DatasourceType, params map[string]string) error {
	switch dsType {
	case models.DatasourceMinio, models.DatasourceS3:
		return probeMinio(ctx, params)
	case models.DatasourceShare:
		return probeShare(ctx, params)
	case models.DatasourceSharepoint:
		return probeSharepoint(ctx, params)
	case models.DatasourceRDBMS:
		return probeRDBMS(ctx, params)
	}
	return nil
}
