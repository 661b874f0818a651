/*
Copyright Octue Ltd. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/octue/octue-sdk-go/pkg/envelope"
	octueerrors "github.com/octue/octue-sdk-go/pkg/errors"
	"github.com/octue/octue-sdk-go/pkg/exceptions"
	"github.com/octue/octue-sdk-go/pkg/pubsub/mempubsub"
	"github.com/octue/octue-sdk-go/pkg/pubsub/spi"
	"github.com/octue/octue-sdk-go/pkg/resources"
)

func TestService_AskAndWait(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	childRun := func(_ context.Context, req *Request) (*Response, error) {
		values, ok := req.InputValues.(map[string]interface{})
		if !ok {
			values = map[string]interface{}{}
		}

		switch values["behaviour"] {
		case "fail":
			return nil, exceptions.NewInvalidValuesContents("The input values do not conform to the schema.")
		case "fail-custom":
			return nil, exceptions.New("WindSpeedError", "The wind speed is out of range.")
		case "panic":
			panic("unexpected turbulence")
		}

		req.Logger.Info("Analysing wind data.")

		if err := req.SendMonitor(map[string]interface{}{"progress": 0.5}); err != nil {
			return nil, err
		}

		return &Response{OutputValues: map[string]interface{}{"max_power": 3.2}}, nil
	}

	child, err := New(ps, WithID("my-org/wind-analysis:1.0.0"), WithName("wind-analysis"),
		WithRunFunc(childRun), WithAnswerTimeout(2*time.Second))
	require.NoError(t, err)

	stopServing := startServing(t, ps, child)
	defer stopServing()

	t.Run("Receives an answer", func(t *testing.T) {
		m := &mockMetrics{}

		parent, err := New(ps, WithName("parent"), WithMetrics(m))
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0",
			map[string]interface{}{"wind_speed": 11.3})
		require.NoError(t, err)
		require.NotEmpty(t, reply.QuestionUUID)
		require.Equal(t, child.ID(), reply.ChildID)
		require.Equal(t, child.ID()+".answers."+reply.QuestionUUID, reply.Subscription)

		var monitors []interface{}

		answer, err := parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second),
			WithRetryInterval(100*time.Millisecond),
			WithMonitorHandler(func(data interface{}) {
				monitors = append(monitors, data)
			}))
		require.NoError(t, err)
		require.Equal(t, map[string]interface{}{"max_power": 3.2}, answer.OutputValues)
		require.Nil(t, answer.OutputManifest)

		require.Equal(t, []interface{}{map[string]interface{}{"progress": 0.5}}, monitors)

		require.EqualValues(t, 1, m.asked.Load())
		require.EqualValues(t, 1, m.deliveryAcks.Load())
		require.EqualValues(t, 1, m.roundTrips.Load())
		require.EqualValues(t, 1, m.monitors.Load())
		require.NotZero(t, m.logsReceived.Load())

		exists, err := ps.TopicExists(context.Background(), reply.Subscription)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("Remote exception is reconstructed", func(t *testing.T) {
		m := &mockMetrics{}

		parent, err := New(ps, WithMetrics(m))
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0",
			map[string]interface{}{"behaviour": "fail"})
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
		require.Error(t, err)

		var e *exceptions.InvalidValuesContents

		require.True(t, stderrors.As(err, &e))
		require.EqualError(t, err,
			"Error in <Service('wind-analysis')>: The input values do not conform to the schema.")
		require.NotEmpty(t, e.Traceback())

		require.EqualValues(t, 1, m.remoteExceptions.Load())
	})

	t.Run("Unknown remote exception type is preserved", func(t *testing.T) {
		parent, err := New(ps)
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0",
			map[string]interface{}{"behaviour": "fail-custom"})
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
		require.Error(t, err)

		var e *exceptions.Exception

		require.True(t, stderrors.As(err, &e))
		require.Equal(t, "WindSpeedError", e.Name())
		require.EqualError(t, err, "Error in <Service('wind-analysis')>: The wind speed is out of range.")
	})

	t.Run("Panic in the run function", func(t *testing.T) {
		parent, err := New(ps)
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0",
			map[string]interface{}{"behaviour": "panic"})
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
		require.Error(t, err)

		var e *exceptions.Exception

		require.True(t, stderrors.As(err, &e))
		require.Equal(t, exceptions.TypeException, e.Name())
		require.Contains(t, err.Error(), "unexpected turbulence")
	})

	t.Run("Without log forwarding", func(t *testing.T) {
		m := &mockMetrics{}

		parent, err := New(ps, WithMetrics(m))
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0",
			map[string]interface{}{"wind_speed": 11.3}, WithoutLogForwarding())
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
		require.NoError(t, err)

		require.Zero(t, m.logsReceived.Load())
	})
}

func TestService_Ask_Validation(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	parent, err := New(ps, WithName("parent"))
	require.NoError(t, err)

	t.Run("Empty service ID", func(t *testing.T) {
		_, err := parent.Ask(context.Background(), "", nil)
		require.Error(t, err)

		var e *exceptions.InvalidInput

		require.True(t, stderrors.As(err, &e))
	})

	t.Run("Unknown service", func(t *testing.T) {
		_, err := parent.Ask(context.Background(), "my-org/ghost:1.0.0", nil)
		require.Error(t, err)

		var e *exceptions.ServiceNotFound

		require.True(t, stderrors.As(err, &e))
		require.Contains(t, err.Error(), "octue.services.my-org/ghost:1.0.0")
	})

	t.Run("Manifest with local files", func(t *testing.T) {
		m := resources.NewManifest(map[string]*resources.Dataset{
			"timeseries": resources.NewDataset("timeseries", "local/data",
				resources.NewDatafile("local/data/timeseries.csv", []byte("t,power\n0,1.5\n"))),
		})

		_, err := parent.Ask(context.Background(), "my-org/wind-analysis:1.0.0", nil, WithInputManifest(m))
		require.Error(t, err)

		var e *exceptions.FileLocationError

		require.True(t, stderrors.As(err, &e))
	})
}

func TestService_AskWithManifest(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	child, err := New(ps, WithID("my-org/echo-manifest:1.0.0"), WithName("echo-manifest"),
		WithRunFunc(func(_ context.Context, req *Request) (*Response, error) {
			return &Response{OutputValues: req.InputValues, OutputManifest: req.InputManifest}, nil
		}),
		WithAnswerTimeout(2*time.Second))
	require.NoError(t, err)

	stopServing := startServing(t, ps, child)
	defer stopServing()

	manifest := resources.NewManifest(map[string]*resources.Dataset{
		"timeseries": resources.NewDataset("timeseries", "gs://wind-data/timeseries",
			resources.NewDatafile("gs://wind-data/timeseries/data.csv", []byte("t,power\n0,1.5\n"))),
	})

	parent, err := New(ps, WithName("parent"))
	require.NoError(t, err)

	reply, err := parent.Ask(context.Background(), "my-org/echo-manifest:1.0.0", nil, WithInputManifest(manifest))
	require.NoError(t, err)

	answer, err := parent.WaitForAnswer(context.Background(), reply,
		WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
	require.NoError(t, err)

	require.NotNil(t, answer.OutputManifest)
	require.Equal(t, manifest.ID, answer.OutputManifest.ID)

	d, err := answer.OutputManifest.Dataset("timeseries")
	require.NoError(t, err)
	require.Equal(t, "gs://wind-data/timeseries", d.Path)
	require.Len(t, d.Files, 1)
	require.Equal(t, "gs://wind-data/timeseries/data.csv", d.Files[0].Path)
}

func TestService_ReAsk(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	child, err := New(ps, WithID("my-org/flaky:1.0.0"), WithName("flaky"),
		WithRunFunc(echoRun), WithAnswerTimeout(2*time.Second))
	require.NoError(t, err)

	// Only the topic exists, so the first question is published into the void.
	require.NoError(t, ps.CreateTopic(context.Background(), child.ID(), false))

	m := &mockMetrics{}

	parent, err := New(ps, WithMetrics(m))
	require.NoError(t, err)

	reply, err := parent.Ask(context.Background(), "my-org/flaky:1.0.0", map[string]interface{}{"n": 1.0})
	require.NoError(t, err)

	// The server subscription appears only now: the question must be asked
	// again before the service can receive it.
	require.NoError(t, ps.CreateSubscription(context.Background(), child.ID(), child.ID(), false))

	serveCtx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)

	go func() {
		served <- child.Serve(serveCtx)
	}()

	defer func() {
		cancel()

		select {
		case err := <-served:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for server to stop")
		}
	}()

	answer, err := parent.WaitForAnswer(context.Background(), reply,
		WithWaitTimeout(10*time.Second),
		WithDeliveryAckTimeout(300*time.Millisecond),
		WithRetryInterval(50*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"n": 1.0}, answer.OutputValues)

	require.EqualValues(t, 1, m.reAsked.Load())
	require.EqualValues(t, 1, m.deliveryAcks.Load())
}

func TestService_WaitForAnswer_Timeouts(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	t.Run("Delivery never acknowledged", func(t *testing.T) {
		// The child's topic exists but no service is listening on it.
		require.NoError(t, ps.CreateTopic(context.Background(), "octue.services.my-org/silent:1.0.0", false))

		m := &mockMetrics{}

		parent, err := New(ps, WithMetrics(m))
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/silent:1.0.0", nil)
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(10*time.Second),
			WithDeliveryAckTimeout(150*time.Millisecond),
			WithRetryInterval(50*time.Millisecond))
		require.Error(t, err)
		require.True(t, octueerrors.IsTimeout(err))
		require.Contains(t, err.Error(), "not acknowledged")

		require.EqualValues(t, 1, m.reAsked.Load())
		require.EqualValues(t, 1, m.timedOut.Load())

		exists, err := ps.TopicExists(context.Background(), reply.Subscription)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("No answer before the wait timeout", func(t *testing.T) {
		// A subscription holds the question but nothing answers it.
		require.NoError(t, ps.CreateTopic(context.Background(), "octue.services.my-org/slow:1.0.0", false))
		require.NoError(t, ps.CreateSubscription(context.Background(), "octue.services.my-org/slow:1.0.0",
			"octue.services.my-org/slow:1.0.0", false))

		m := &mockMetrics{}

		parent, err := New(ps, WithMetrics(m))
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/slow:1.0.0", nil)
		require.NoError(t, err)

		_, err = parent.WaitForAnswer(context.Background(), reply,
			WithWaitTimeout(400*time.Millisecond),
			WithDeliveryAckTimeout(10*time.Second),
			WithRetryInterval(50*time.Millisecond))
		require.Error(t, err)
		require.True(t, octueerrors.IsTimeout(err))
		require.Contains(t, err.Error(), "no answer")

		require.EqualValues(t, 1, m.timedOut.Load())

		exists, err := ps.TopicExists(context.Background(), reply.Subscription)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		parent, err := New(ps)
		require.NoError(t, err)

		reply, err := parent.Ask(context.Background(), "my-org/slow:1.0.0", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = parent.WaitForAnswer(ctx, reply, WithWaitTimeout(10*time.Second))
		require.Error(t, err)
		require.True(t, stderrors.Is(err, context.Canceled))
	})

	t.Run("Push subscription cannot be pulled", func(t *testing.T) {
		parent, err := New(ps)
		require.NoError(t, err)

		name := replyChannelName("octue.services.my-org/pushy:1.0.0", "d7f6e5c4-0001-4a2b-8c3d-9e0f1a2b3c4d")

		require.NoError(t, ps.CreateTopic(context.Background(), name, false))
		require.NoError(t, ps.CreateSubscription(context.Background(), name, name, false,
			spi.WithPushEndpoint("https://parent.example.com/answers")))

		reply := &ReplyChannel{
			QuestionUUID: "d7f6e5c4-0001-4a2b-8c3d-9e0f1a2b3c4d",
			ChildID:      "octue.services.my-org/pushy:1.0.0",
			Subscription: name,
			question:     &envelope.Question{},
			askedAt:      time.Now(),
		}

		_, err = parent.WaitForAnswer(context.Background(), reply)
		require.Error(t, err)

		var e *exceptions.PushSubscriptionCannotBePulled

		require.True(t, stderrors.As(err, &e))
	})
}

func TestService_QuestionTree(t *testing.T) {
	ps := mempubsub.New(mempubsub.DefaultConfig())

	defer func() {
		require.NoError(t, ps.Close())
	}()

	leaf, err := New(ps, WithID("my-org/leaf:1.0.0"), WithName("leaf"),
		WithRunFunc(func(_ context.Context, _ *Request) (*Response, error) {
			return &Response{OutputValues: map[string]interface{}{"wind_speed": 11.3}}, nil
		}),
		WithAnswerTimeout(2*time.Second))
	require.NoError(t, err)

	var mid *Service

	midRun := func(ctx context.Context, req *Request) (*Response, error) {
		reply, err := mid.Ask(ctx, "my-org/leaf:1.0.0", req.InputValues)
		if err != nil {
			return nil, err
		}

		leafAnswer, err := mid.WaitForAnswer(ctx, reply,
			WithWaitTimeout(10*time.Second), WithRetryInterval(100*time.Millisecond))
		if err != nil {
			return nil, err
		}

		return &Response{OutputValues: map[string]interface{}{
			"source": "mid",
			"leaf":   leafAnswer.OutputValues,
		}}, nil
	}

	mid, err = New(ps, WithID("my-org/mid:1.0.0"), WithName("mid"),
		WithRunFunc(midRun), WithAnswerTimeout(2*time.Second))
	require.NoError(t, err)

	stopLeaf := startServing(t, ps, leaf)
	defer stopLeaf()

	stopMid := startServing(t, ps, mid)
	defer stopMid()

	parent, err := New(ps, WithName("parent"))
	require.NoError(t, err)

	reply, err := parent.Ask(context.Background(), "my-org/mid:1.0.0", map[string]interface{}{"n": 1.0})
	require.NoError(t, err)

	answer, err := parent.WaitForAnswer(context.Background(), reply,
		WithWaitTimeout(15*time.Second), WithRetryInterval(100*time.Millisecond))
	require.NoError(t, err)

	require.Equal(t, map[string]interface{}{
		"source": "mid",
		"leaf":   map[string]interface{}{"wind_speed": 11.3},
	}, answer.OutputValues)
}

// startServing creates the service's server channel up front, so that
// questions asked before the server loop has subscribed are queued rather
// than lost, and then starts the server loop. The returned function stops the
// loop and waits for it to exit.
func startServing(t *testing.T, ps spi.PubSub, s *Service) func() {
	t.Helper()

	require.NoError(t, ps.CreateTopic(context.Background(), s.ID(), true))
	require.NoError(t, ps.CreateSubscription(context.Background(), s.ID(), s.ID(), true))

	ctx, cancel := context.WithCancel(context.Background())

	served := make(chan error, 1)

	go func() {
		served <- s.Serve(ctx)
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
