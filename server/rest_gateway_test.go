package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/fedcoord/fedledger/logging"
	"github.com/fedcoord/fedledger/rpc"
	"github.com/fedcoord/fedledger/rpc/api"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestRESTAndMetrics(t *testing.T) {
	req := require.New(t)
	cfg := testConfig(t)
	port := freePort(t)
	cfg.MetricsPort = &port

	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, _ := spawnLedger(ctx, t, *cfg)
	t.Cleanup(func() { assert.NoError(t, srv.Close()) })

	var eg errgroup.Group
	eg.Go(func() error {
		return srv.Start(ctx)
	})
	t.Cleanup(func() { assert.NoError(t, eg.Wait()) })
	t.Cleanup(cancel)

	base := "http://" + srv.RestAddr().String()
	register, err := http.NewRequest(http.MethodPost, base+"/v1/participants", strings.NewReader(`{"stake": 1000000}`))
	req.NoError(err)
	register.Header.Set(rpc.IdentityHeader, "2Dtw")
	resp, err := http.DefaultClient.Do(register)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/v1/info")
	req.NoError(err)
	var info api.InfoResponse
	req.NoError(json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	req.Equal(uint64(1), info.Participants)
	req.Equal(operator.String(), info.Operator)

	resp, err = http.Get(fmt.Sprintf("http://localhost:%d/metrics", port))
	req.NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Contains(string(data), "fedledger_registry_participants 1")
}
