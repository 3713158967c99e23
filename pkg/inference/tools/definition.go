package tools

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ErrArgumentParse marks a tool call whose argument payload could not be
// decoded into the tool's input, or did not satisfy its schema.
var ErrArgumentParse = errors.New("tool argument parse error")

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// ToolDefinition represents a tool that can be called by the model.
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    ToolFunc           `json:"-"`
}

// ToolFunc wraps the Go function behind a tool. Supported signatures:
//
//	func(Input) (Output, error)
//	func(context.Context, Input) (Output, error)
//	func(context.Context) (Output, error)
//
// The error return is optional.
type ToolFunc struct {
	Fn         interface{}
	fnValue    reflect.Value
	takesCtx   bool
	inputType  reflect.Type
	outputType reflect.Type
}

// NewToolFromFunc creates a ToolDefinition from a Go function, reflecting the
// parameter schema from its input struct.
func NewToolFromFunc(name, description string, fn interface{}) (*ToolDefinition, error) {
	funcType := reflect.TypeOf(fn)
	if funcType == nil || funcType.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}

	if funcType.NumOut() == 0 || funcType.NumOut() > 2 {
		return nil, errors.New("function must return (result) or (result, error)")
	}
	if funcType.NumOut() == 2 {
		errorType := reflect.TypeOf((*error)(nil)).Elem()
		if !funcType.Out(1).Implements(errorType) {
			return nil, errors.New("second return value must be an error")
		}
	}

	tf := ToolFunc{
		Fn:         fn,
		fnValue:    reflect.ValueOf(fn),
		outputType: funcType.Out(0),
	}
	switch funcType.NumIn() {
	case 0:
	case 1:
		if funcType.In(0) == contextType {
			tf.takesCtx = true
		} else {
			tf.inputType = funcType.In(0)
		}
	case 2:
		if funcType.In(0) != contextType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		tf.takesCtx = true
		tf.inputType = funcType.In(1)
	default:
		return nil, errors.New("function must take (Input) or (context.Context, Input)")
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  generateSchema(tf.inputType),
		Function:    tf,
	}, nil
}

func generateSchema(inputType reflect.Type) *jsonschema.Schema {
	if inputType == nil {
		return &jsonschema.Schema{Type: "object"}
	}

	reflector := jsonschema.Reflector{
		// Expand definitions inline instead of using $refs
		DoNotReference: true,
	}
	schema := reflector.Reflect(reflect.New(inputType).Elem().Interface())
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema
}

// Execute decodes args into the tool's input and calls the function. Decode
// failures are wrapped with ErrArgumentParse.
func (tf *ToolFunc) Execute(ctx context.Context, args []byte) (interface{}, error) {
	if !tf.fnValue.IsValid() {
		return nil, errors.New("tool function not properly initialized")
	}

	in := make([]reflect.Value, 0, 2)
	if tf.takesCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	if tf.inputType != nil {
		input := reflect.New(tf.inputType)
		if len(args) == 0 {
			args = []byte("{}")
		}
		if err := json.Unmarshal(args, input.Interface()); err != nil {
			return nil, errors.Wrapf(ErrArgumentParse, "decode arguments: %v", err)
		}
		in = append(in, input.Elem())
	}

	return extractResults(tf.fnValue.Call(in))
}

func extractResults(results []reflect.Value) (interface{}, error) {
	var out interface{}
	if len(results) > 0 && results[0].IsValid() && results[0].CanInterface() {
		out = results[0].Interface()
	}
	if len(results) == 2 && !results[1].IsNil() {
		return out, results[1].Interface().(error)
	}
	return out, nil
}

var (
	validatorsMu sync.Mutex
	validators   = map[*jsonschema.Schema]*gojsonschema.Schema{}
)

// ValidateArguments checks args against the tool's parameter schema. The
// compiled schema is cached per definition.
func (td *ToolDefinition) ValidateArguments(args []byte) error {
	if td.Parameters == nil {
		return nil
	}
	schema, err := td.compiledSchema()
	if err != nil {
		return err
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return errors.Wrapf(ErrArgumentParse, "%s: %v", td.Name, err)
	}
	if !res.Valid() {
		msg := ""
		for i, e := range res.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return errors.Wrapf(ErrArgumentParse, "%s: %s", td.Name, msg)
	}
	return nil
}

func (td *ToolDefinition) compiledSchema() (*gojsonschema.Schema, error) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	if s, ok := validators[td.Parameters]; ok {
		return s, nil
	}

	// gojsonschema only knows drafts up to 7; drop the 2020-12 marker and id
	// the reflector stamps on the root.
	params := *td.Parameters
	params.Version = ""
	params.ID = ""
	b, err := json.Marshal(&params)
	if err != nil {
		return nil, errors.Wrapf(err, "encode schema for %s", td.Name)
	}
	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft7
	s, err := sl.Compile(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema for %s", td.Name)
	}
	validators[td.Parameters] = s
	return s, nil
}
