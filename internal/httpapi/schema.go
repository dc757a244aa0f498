package httpapi

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
)

//go:embed schema/query-request.json
var queryRequestSchemaJSON string

var (
	querySchemaOnce sync.Once
	querySchema     *jsonschema.Schema
	querySchemaErr  error
)

func compiledQuerySchema() (*jsonschema.Schema, error) {
	querySchemaOnce.Do(func() {
		querySchema, querySchemaErr = jsonschema.CompileString("query-request.json", queryRequestSchemaJSON)
	})
	return querySchema, querySchemaErr
}

// queryRequest is the body of the query endpoints
type queryRequest struct {
	Question     string                 `json:"question"`
	State        string                 `json:"state"`
	Context      map[string]interface{} `json:"context"`
	Provider     string                 `json:"provider"`
	Model        string                 `json:"model"`
	SystemPrompt string                 `json:"system_prompt"`
}

// decodeQueryRequest validates body against the query schema and decodes it.
// Failures are validation DomainErrors carrying the offending field and the
// schema messages.
func decodeQueryRequest(body []byte) (*queryRequest, error) {
	schema, err := compiledQuerySchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile query schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, customErrors.NewValidationErrorf("body", "request body is not valid JSON: %v", err)
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			field, details := schemaDetails(ve)
			return nil, customErrors.NewValidationError(field, "request failed validation").
				WithData(dataKeyDetails, details)
		}
		return nil, customErrors.NewValidationError("body", err.Error())
	}

	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, customErrors.NewValidationErrorf("body", "request body could not be decoded: %v", err)
	}
	req.State = strings.ToUpper(strings.TrimSpace(req.State))
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	return &req, nil
}

// schemaDetails flattens a validation error into leaf messages and names the
// first offending field.
func schemaDetails(ve *jsonschema.ValidationError) (string, []string) {
	var details []string
	field := ""
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if missing, ok := strings.CutPrefix(e.Message, "missing properties: "); ok && field == "" {
				field = strings.Trim(strings.Split(missing, ",")[0], "' ")
			}
			if field == "" {
				field = loc
			}
			if loc == "" {
				details = append(details, e.Message)
			} else {
				details = append(details, loc+": "+e.Message)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if field == "" {
		field = "body"
	}
	return field, details
}
