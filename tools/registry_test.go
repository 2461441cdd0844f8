package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"planforge/vm"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "echo", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
		return args["in"], nil
	}}))
	spec, ok := r.Get("echo")
	require.True(t, ok)
	require.Equal(t, "echo", spec.Name)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	spec := Spec{Name: "dup", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) { return vm.Null, nil }}
	require.NoError(t, r.Register(spec))
	require.Error(t, r.Register(spec))
}

func TestInvokerToolNotFound(t *testing.T) {
	r := NewRegistry()
	ns := NewStaticNamespaces(map[string][]string{"default": {"echo"}})
	inv := NewInvoker(r, ns)
	_, err := inv.Invoke(context.Background(), "default", "missing", nil)
	require.NotNil(t, err)
	require.Equal(t, vm.KindToolNotFound, err.Kind)
}

func TestInvokerToolNotAllowed(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "echo", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
		return vm.Null, nil
	}}))
	ns := NewStaticNamespaces(map[string][]string{"default": {}})
	inv := NewInvoker(r, ns)
	_, err := inv.Invoke(context.Background(), "default", "echo", nil)
	require.NotNil(t, err)
	require.Equal(t, vm.KindToolNotAllowed, err.Kind)
}

func TestInvokerCallsHandler(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "echo", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
		return args["in"], nil
	}}))
	ns := NewStaticNamespaces(map[string][]string{"default": {"echo"}})
	inv := NewInvoker(r, ns)
	result, err := inv.Invoke(context.Background(), "default", "echo", map[string]vm.Value{"in": vm.String("hi")})
	require.Nil(t, err)
	require.Equal(t, vm.String("hi"), result)
}

func TestInvokerParamSchemaRejectsMissingRequired(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name:        "search",
		ParamSchema: []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
		Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
			return vm.Null, nil
		},
	}))
	ns := NewStaticNamespaces(map[string][]string{"default": {"search"}})
	inv := NewInvoker(r, ns)
	_, err := inv.Invoke(context.Background(), "default", "search", map[string]vm.Value{})
	require.NotNil(t, err)
	require.Equal(t, vm.KindToolFailed, err.Kind)
}

func TestInvokerParamSchemaAllowsValid(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{
		Name:        "search",
		ParamSchema: []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`),
		Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
			return args["query"], nil
		},
	}))
	ns := NewStaticNamespaces(map[string][]string{"default": {"search"}})
	inv := NewInvoker(r, ns)
	result, err := inv.Invoke(context.Background(), "default", "search", map[string]vm.Value{"query": vm.String("x")})
	require.Nil(t, err)
	require.Equal(t, vm.String("x"), result)
}

func TestInvokerHandlerTimeoutBecomesKindTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "slow", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
		<-ctx.Done()
		return vm.Value{}, ctx.Err()
	}}))
	ns := NewStaticNamespaces(map[string][]string{"default": {"slow"}})
	inv := NewInvoker(r, ns)

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := inv.Invoke(ctx, "default", "slow", nil)
	require.NotNil(t, err)
	require.Equal(t, vm.KindTimeout, err.Kind)
}

func TestInvokerHandlerErrorBecomesToolFailed(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "broken", Handler: func(ctx context.Context, args map[string]vm.Value) (vm.Value, error) {
		return vm.Value{}, errors.New("boom")
	}}))
	ns := NewStaticNamespaces(map[string][]string{"default": {"broken"}})
	inv := NewInvoker(r, ns)
	_, err := inv.Invoke(context.Background(), "default", "broken", nil)
	require.NotNil(t, err)
	require.Equal(t, vm.KindToolFailed, err.Kind)
}
