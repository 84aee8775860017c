package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice"
	httpadapter "github.com/sluicelabs/sluice/pkg/adapters/http"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
	"github.com/sluicelabs/sluice/pkg/observability"
)

func seedWorkflow(t *testing.T, store *memory.Store) {
	t.Helper()
	g, err := graph.New(
		graph.Task("greet", []string{"name"}, []string{"greeting"},
			func(ctx context.Context, in domain.Inputs) (any, error) {
				return "hi " + in.String("name"), nil
			}),
	)
	require.NoError(t, err)

	eng := sluice.New(sluice.WithStore(store))
	_, err = eng.Run(context.Background(), g, "wf-http", map[string]any{"name": "ada"})
	require.NoError(t, err)
}

func TestServer_InspectsWorkflow(t *testing.T) {
	store := memory.NewStore()
	seedWorkflow(t, store)

	metrics := observability.NewMetrics("")
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(metrics))

	srv := httptest.NewServer(httpadapter.NewHandler(store, httpadapter.WithMetrics(registry)))
	defer srv.Close()

	resp, err := nethttp.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, err = nethttp.Get(srv.URL + "/workflows/wf-http/steps")
	require.NoError(t, err)
	var records []*domain.StepRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	resp.Body.Close()
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, "greet", last.Node)

	resp, err = nethttp.Get(srv.URL + "/workflows/wf-http/status")
	require.NoError(t, err)
	var status domain.WorkflowStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, domain.RunCompleted, status.State)

	resp, err = nethttp.Get(srv.URL + "/workflows/wf-http/state")
	require.NoError(t, err)
	var values domain.Values
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&values))
	resp.Body.Close()
	assert.Equal(t, "hi ada", values["greeting"].Value)
	assert.Equal(t, 1, values["greeting"].Version)

	resp, err = nethttp.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestServer_UnknownWorkflowIs404(t *testing.T) {
	srv := httptest.NewServer(httpadapter.NewHandler(memory.NewStore()))
	defer srv.Close()

	resp, err := nethttp.Get(srv.URL + "/workflows/nope/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestServer_StreamsEvents(t *testing.T) {
	stream := observability.NewStream(16)
	defer stream.Close()

	srv := httptest.NewServer(httpadapter.NewHandler(memory.NewStore(), httpadapter.WithStream(stream)))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := nethttp.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ping", strings.TrimSpace(line))

	stream.Publish(observability.Event{
		Type:    domain.EventRunStart,
		Payload: &domain.RunEvent{EventBase: domain.EventBase{Type: domain.EventRunStart, WorkflowID: "wf-sse"}},
	})

	var eventLine string
	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: run_start") {
			eventLine = line
			break
		}
	}
	assert.NotEmpty(t, eventLine)
	data, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, data, `"workflow_id":"wf-sse"`)
}
