/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/octue/octue-sdk-go/pkg/exceptions"
)

// Strand names of a twine.
const (
	StrandConfigurationValues = "configuration_values_schema"
	StrandInputValues         = "input_values_schema"
	StrandOutputValues        = "output_values_schema"
	StrandMonitorMessage      = "monitor_message_schema"
)

// Twine declares the interface of a service as a set of JSON Schemas, one per
// strand of data exchanged with the service: its configuration values, the
// input values of a question, the output values of an answer, and the monitor
// messages streamed while a question is being answered. All strands are
// optional; data of an undeclared strand is accepted as-is.
type Twine struct {
	configurationValues *gojsonschema.Schema
	inputValues         *gojsonschema.Schema
	outputValues        *gojsonschema.Schema
	monitorMessage      *gojsonschema.Schema
}

type twineDocument struct {
	ConfigurationValuesSchema json.RawMessage `json:"configuration_values_schema"`
	InputValuesSchema         json.RawMessage `json:"input_values_schema"`
	OutputValuesSchema        json.RawMessage `json:"output_values_schema"`
	MonitorMessageSchema      json.RawMessage `json:"monitor_message_schema"`
}

// ParseTwine returns the twine declared by the given JSON document. The
// schemas of all declared strands are compiled; keys other than the strand
// names are ignored.
func ParseTwine(source []byte) (*Twine, error) {
	var doc twineDocument

	if err := json.Unmarshal(source, &doc); err != nil {
		return nil, exceptions.New("InvalidTwine", "The twine is not valid JSON: %s.", err)
	}

	t := &Twine{}

	var err error

	if t.configurationValues, err = compileStrand(StrandConfigurationValues, doc.ConfigurationValuesSchema); err != nil {
		return nil, err
	}

	if t.inputValues, err = compileStrand(StrandInputValues, doc.InputValuesSchema); err != nil {
		return nil, err
	}

	if t.outputValues, err = compileStrand(StrandOutputValues, doc.OutputValuesSchema); err != nil {
		return nil, err
	}

	if t.monitorMessage, err = compileStrand(StrandMonitorMessage, doc.MonitorMessageSchema); err != nil {
		return nil, err
	}

	return t, nil
}

func compileStrand(name string, schema json.RawMessage) (*gojsonschema.Schema, error) {
	if len(schema) == 0 || string(schema) == "null" {
		return nil, nil
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, exceptions.New("InvalidTwine", "The %s strand of the twine is not a valid JSON Schema: %s.", name, err)
	}

	return s, nil
}

// Strands returns the names of the strands the twine declares.
func (t *Twine) Strands() []string {
	var strands []string

	for _, s := range []struct {
		name   string
		schema *gojsonschema.Schema
	}{
		{StrandConfigurationValues, t.configurationValues},
		{StrandInputValues, t.inputValues},
		{StrandOutputValues, t.outputValues},
		{StrandMonitorMessage, t.monitorMessage},
	} {
		if s.schema != nil {
			strands = append(strands, s.name)
		}
	}

	return strands
}

// MonitorMessageSchema returns the compiled schema of the twine's monitor
// message strand, or nil if the twine does not declare one. An asker can hold
// a child's twine and pass this schema to WithMonitorSchema to check the
// monitor messages the child sends back.
func (t *Twine) MonitorMessageSchema() *gojsonschema.Schema {
	return t.monitorMessage
}

// ValidateConfigurationValues checks the given configuration values against
// the twine's configuration values strand.
func (t *Twine) ValidateConfigurationValues(values interface{}) error {
	failures, err := validateAgainst(t.configurationValues, values)
	if err != nil {
		return fmt.Errorf("validate configuration values: %w", err)
	}

	if failures != "" {
		return exceptions.NewInvalidValuesContents("The configuration values do not conform to the twine: %s.", failures)
	}

	return nil
}

// ValidateInputValues checks the given input values against the twine's input
// values strand.
func (t *Twine) ValidateInputValues(values interface{}) error {
	failures, err := validateAgainst(t.inputValues, values)
	if err != nil {
		return fmt.Errorf("validate input values: %w", err)
	}

	if failures != "" {
		return exceptions.NewInvalidValuesContents("The input values do not conform to the twine: %s.", failures)
	}

	return nil
}

// ValidateOutputValues checks the given output values against the twine's
// output values strand.
func (t *Twine) ValidateOutputValues(values interface{}) error {
	failures, err := validateAgainst(t.outputValues, values)
	if err != nil {
		return fmt.Errorf("validate output values: %w", err)
	}

	if failures != "" {
		return exceptions.NewInvalidValuesContents("The output values do not conform to the twine: %s.", failures)
	}

	return nil
}

// ValidateMonitorMessage checks the given monitor datum against the twine's
// monitor message strand.
func (t *Twine) ValidateMonitorMessage(data interface{}) error {
	failures, err := validateAgainst(t.monitorMessage, data)
	if err != nil {
		return fmt.Errorf("validate monitor message: %w", err)
	}

	if failures != "" {
		return exceptions.NewInvalidMonitorMessage("The monitor message does not conform to the twine: %s.", failures)
	}

	return nil
}

// validateAgainst returns a description of the ways the document fails the
// schema, or the empty string if the document conforms. A nil schema accepts
// everything.
func validateAgainst(schema *gojsonschema.Schema, document interface{}) (string, error) {
	if schema == nil {
		return "", nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return "", err
	}

	if result.Valid() {
		return "", nil
	}

	descriptions := make([]string, len(result.Errors()))

	for i, e := range result.Errors() {
		descriptions[i] = e.String()
	}

	return strings.Join(descriptions, "; "), nil
}
