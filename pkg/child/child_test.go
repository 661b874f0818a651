/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package child

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/octue/octue-sdk-go/pkg/backend"
	"github.com/octue/octue-sdk-go/pkg/config"
	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/pubsub/mempubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/service"
)

const windSpeedServiceID = "my-org/wind-speed:2.1.0"

func TestChild_Ask(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	stop := startServing(t, ps, windSpeedServiceID)
	defer stop()

	c, err := New(context.Background(), windSpeedServiceID, &backend.InMemory{},
		WithTransport(ps), WithName("parent"))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, c.Close())
	}()

	require.Equal(t, windSpeedServiceID, c.ID())
	require.NotNil(t, c.Service())

	t.Run("Receives an answer", func(t *testing.T) {
		var monitors []interface{}

		answer, err := c.Ask(context.Background(), map[string]interface{}{"height": 10.0},
			WithTimeout(10*time.Second),
			WithMonitorHandler(func(data interface{}) {
				monitors = append(monitors, data)
			}),
		)
		require.NoError(t, err)

		require.Equal(t, map[string]interface{}{"wind_speed": 11.3}, answer.OutputValues)
		require.Equal(t, []interface{}{map[string]interface{}{"progress": 1.0}}, monitors)
	})

	t.Run("Remote failure is reconstructed", func(t *testing.T) {
		_, err := c.Ask(context.Background(), map[string]interface{}{"behaviour": "fail"},
			WithTimeout(10*time.Second), WithoutLogForwarding())
		require.Error(t, err)

		var ex *exceptions.InvalidValuesContents

		require.ErrorAs(t, err, &ex)
	})
}

func TestFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
backend:
  name: InMemoryBackend
children:
  wind-speed:
    id: ` + windSpeedServiceID + `
    backend:
      name: InMemoryBackend
  elevation:
    id: my-org/elevation:1.0.0
  broken:
    id: my-org/broken:1.0.0
    backend:
      name: CarrierPigeonBackend
`))
	require.NoError(t, err)

	ps := mempubsub.New(mempubsub.DefaultConfig())
	defer func() {
		require.NoError(t, ps.Close())
	}()

	stop := startServing(t, ps, windSpeedServiceID)
	defer stop()

	t.Run("Declared child with its own backend", func(t *testing.T) {
		c, err := FromConfig(context.Background(), cfg, "wind-speed", WithTransport(ps))
		require.NoError(t, err)

		defer func() {
			require.NoError(t, c.Close())
		}()

		answer, err := c.Ask(context.Background(), map[string]interface{}{"height": 10.0},
			WithTimeout(10*time.Second))
		require.NoError(t, err)
		require.Equal(t, map[string]interface{}{"wind_speed": 11.3}, answer.OutputValues)
	})

	t.Run("Child without a backend block uses the service backend", func(t *testing.T) {
		c, err := FromConfig(context.Background(), cfg, "elevation", WithTransport(ps))
		require.NoError(t, err)
		require.Equal(t, "my-org/elevation:1.0.0", c.ID())
		require.NoError(t, c.Close())
	})

	t.Run("Unknown key", func(t *testing.T) {
		_, err := FromConfig(context.Background(), cfg, "rainfall")
		require.Error(t, err)
		require.Contains(t, err.Error(), `no child with key "rainfall"`)
	})

	t.Run("Unknown backend", func(t *testing.T) {
		_, err := FromConfig(context.Background(), cfg, "broken")
		require.Error(t, err)

		var ex *exceptions.BackendNotFound

		require.ErrorAs(t, err, &ex)
	})
}

func TestNew_OwnedTransport(t *testing.T) {
	c, err := New(context.Background(), windSpeedServiceID, &backend.InMemory{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

// startServing runs a service with the given ID on the transport, answering
// questions about the wind until the returned stop function is called.
func startServing(t *testing.T, ps spi.PubSub, serviceID string) func() {
	t.Helper()

	run := func(_ context.Context, req *service.Request) (*service.Response, error) {
		values, _ := req.InputValues.(map[string]interface{})

		if values["behaviour"] == "fail" {
			return nil, exceptions.NewInvalidValuesContents("The input values do not conform to the schema.")
		}

		if err := req.SendMonitor(map[string]interface{}{"progress": 1.0}); err != nil {
			return nil, err
		}

		return &service.Response{OutputValues: map[string]interface{}{"wind_speed": 11.3}}, nil
	}

	svc, err := service.New(ps, service.WithID(serviceID), service.WithRunFunc(run))
	require.NoError(t, err)

	require.NoError(t, ps.CreateTopic(context.Background(), svc.ID(), true))
	require.NoError(t, ps.CreateSubscription(context.Background(), svc.ID(), svc.ID(), true))

	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)

	go func() {
		served <- svc.Serve(ctx)
	}()

	return func() {
		cancel()

		select {
		case err := <-served:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for server to stop")
		}
	}
}
