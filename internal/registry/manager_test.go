package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/internal/registry/teststub"
	"github.com/toydogcat/model-server/pkg/types"
)

func echoFactory(name string, version types.ModelVersion) types.ModelInstance {
	schema := types.TensorSchema{
		"x": {DType: types.DTypeFP32, ShapeMode: types.ModeFixed},
	}
	return teststub.New(name, version, schema, schema, types.ModeFixed)
}

func TestLoadVersionsElectsGreatestAvailableDefault(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("greeter", echoFactory)

	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1, 2, 3}, types.ModelConfig{}))

	model, err := mm.GetModel("greeter")
	require.NoError(t, err)
	assert.Equal(t, types.ModelVersion(3), model.DefaultVersion())
}

func TestLoadVersionsUnknownModelFails(t *testing.T) {
	mm := registry.NewModelManager()
	err := mm.LoadVersions(context.Background(), "nope", []types.ModelVersion{1}, types.ModelConfig{})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.MODEL_NAME_MISSING))
}

func TestAddVersionsPartialFailureKeepsSuccessfulOnes(t *testing.T) {
	mm := registry.NewModelManager()
	schema := types.TensorSchema{"x": {DType: types.DTypeFP32, ShapeMode: types.ModeFixed}}
	failOnV2 := func(name string, version types.ModelVersion) types.ModelInstance {
		if version == 2 {
			return teststub.NewFailingLoad(name, version, schema, schema, types.ModeFixed, types.New(types.MODEL_MISSING, "artifact missing"))
		}
		return teststub.New(name, version, schema, schema, types.ModeFixed)
	}
	mm.RegisterModel("flaky", failOnV2)

	err := mm.LoadVersions(context.Background(), "flaky", []types.ModelVersion{1, 2, 3}, types.ModelConfig{})
	require.Error(t, err)

	model, _ := mm.GetModel("flaky")
	assert.ElementsMatch(t, []types.ModelVersion{1, 3}, model.Versions())
	assert.Equal(t, types.ModelVersion(3), model.DefaultVersion())
}

func TestGetModelInstanceUsesDefaultWhenVersionZero(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("greeter", echoFactory)
	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1, 2}, types.ModelConfig{}))

	inst, guard, err := mm.GetModelInstance("greeter", 0)
	require.NoError(t, err)
	defer guard.Release()
	assert.Equal(t, types.ModelVersion(2), inst.Version())
}

func TestGetModelInstanceUnloadedVersionFails(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("greeter", echoFactory)
	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1}, types.ModelConfig{}))

	_, _, err := mm.GetModelInstance("greeter", 99)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.MODEL_VERSION_MISSING))
}

func TestRetireVersionsDrainsBeforeReturning(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("greeter", echoFactory)
	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1}, types.ModelConfig{}))

	_, guard, err := mm.GetModelInstance("greeter", 1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = mm.RetireVersions(context.Background(), "greeter", []types.ModelVersion{1})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RetireVersions returned before the outstanding guard released")
	default:
	}
	guard.Release()
	<-done

	_, _, err = mm.GetModelInstance("greeter", 1)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.MODEL_VERSION_NOT_LOADED))
}

func TestRetireVersionsReelectsDefault(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("greeter", echoFactory)
	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1, 2}, types.ModelConfig{}))
	require.NoError(t, mm.RetireVersions(context.Background(), "greeter", []types.ModelVersion{2}))

	model, _ := mm.GetModel("greeter")
	assert.Equal(t, types.ModelVersion(1), model.DefaultVersion())
}

func TestShutdownRetiresEveryModel(t *testing.T) {
	mm := registry.NewModelManager()
	mm.RegisterModel("a", echoFactory)
	mm.RegisterModel("b", echoFactory)
	require.NoError(t, mm.LoadVersions(context.Background(), "a", []types.ModelVersion{1}, types.ModelConfig{}))
	require.NoError(t, mm.LoadVersions(context.Background(), "b", []types.ModelVersion{1}, types.ModelConfig{}))

	require.NoError(t, mm.Shutdown(context.Background()))

	for _, name := range []string{"a", "b"} {
		_, _, err := mm.GetModelInstance(name, 0)
		require.Error(t, err)
	}
}

func TestEventPublisherReceivesLifecycleEvents(t *testing.T) {
	pub := registry.NewMemoryPublisher()
	mm := registry.NewModelManager(registry.WithEventPublisher(pub))
	mm.RegisterModel("greeter", echoFactory)

	require.NoError(t, mm.LoadVersions(context.Background(), "greeter", []types.ModelVersion{1}, types.ModelConfig{}))
	require.NoError(t, mm.RetireVersions(context.Background(), "greeter", []types.ModelVersion{1}))

	events := pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "load_versions", events[0].Name)
	assert.Equal(t, "retire_versions", events[1].Name)
	assert.Equal(t, "greeter", events[0].ModelName)
}
