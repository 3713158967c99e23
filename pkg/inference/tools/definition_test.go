package tools

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContextKey string

type testInput struct {
	Value int `json:"value"`
}

func TestToolFuncExecute_SupportsContextAndInputSignature(t *testing.T) {
	key := testContextKey("tool-test-key")
	def, err := NewToolFromFunc("ctx_input_tool", "test", func(ctx context.Context, in testInput) (int, error) {
		v, _ := ctx.Value(key).(string)
		if v != "ok" {
			return 0, errors.New("context not passed")
		}
		return in.Value + 1, nil
	})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key, "ok")
	out, err := def.Function.Execute(ctx, []byte(`{"value":41}`))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestToolFuncExecute_InputOnlyAndEmptyArguments(t *testing.T) {
	def, err := NewToolFromFunc("input_only", "test", func(in testInput) int {
		return in.Value * 2
	})
	require.NoError(t, err)

	out, err := def.Function.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)

	out, err = def.Function.Execute(context.Background(), []byte(`{"value":4}`))
	require.NoError(t, err)
	assert.Equal(t, 8, out)
}

func TestToolFuncExecute_DecodeErrorIsArgumentParse(t *testing.T) {
	def, err := NewToolFromFunc("input_only", "test", func(in testInput) (int, error) {
		return in.Value, nil
	})
	require.NoError(t, err)

	_, err = def.Function.Execute(context.Background(), []byte(`{"value":"nope"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgumentParse))
}

func TestNewToolFromFunc_RejectsBadSignatures(t *testing.T) {
	_, err := NewToolFromFunc("x", "", 42)
	assert.Error(t, err)

	_, err = NewToolFromFunc("x", "", func(a, b testInput) int { return 0 })
	assert.Error(t, err)

	_, err = NewToolFromFunc("x", "", func(in testInput) (int, string) { return 0, "" })
	assert.Error(t, err)

	_, err = NewToolFromFunc("x", "", func(in testInput) {})
	assert.Error(t, err)
}

type weatherInput struct {
	Location string `json:"location" jsonschema:"description=City name"`
	Unit     string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
}

func TestValidateArguments(t *testing.T) {
	def, err := NewToolFromFunc("weather", "test", func(in weatherInput) (string, error) {
		return in.Location, nil
	})
	require.NoError(t, err)
	require.NotNil(t, def.Parameters)
	assert.Equal(t, "object", def.Parameters.Type)

	assert.NoError(t, def.ValidateArguments([]byte(`{"location":"Paris"}`)))
	assert.NoError(t, def.ValidateArguments([]byte(`{"location":"Paris","unit":"celsius"}`)))

	err = def.ValidateArguments([]byte(`{"unit":"celsius"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgumentParse))

	err = def.ValidateArguments([]byte(`{"location":"Paris","unit":"kelvin"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArgumentParse))
}
