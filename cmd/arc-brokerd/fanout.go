package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/basekick-labs/arc-query/internal/circuitbreaker"
	"github.com/basekick-labs/arc-query/internal/config"
	"github.com/basekick-labs/arc-query/internal/query"
	"github.com/basekick-labs/arc-query/internal/wire"
)

// brokerQueryRequest is the wire shape POSTed to /v1/broker/query. It
// mirrors query.ServerQueryRequest and is forwarded to every configured
// server unmodified; each server's TableDataManager.Acquire is best-effort,
// so a server that doesn't hold a given segment simply contributes nothing
// for it rather than erroring (matching §4.1's acquire contract).
type brokerQueryRequest struct {
	TableNameWithType string              `json:"tableNameWithType"`
	SegmentIds        []string            `json:"segmentIds"`
	Query             *query.QueryContext `json:"query"`
}

// fanoutClient dispatches a broker query to every configured server over
// HTTP, one circuit breaker per server address so a single wedged server
// cannot stall the rest of the fan-out (A11).
type fanoutClient struct {
	serverAddrs []string
	timeout     time.Duration
	httpClient  *http.Client
	logger      zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

func newFanoutClient(cfg *config.Config, logger zerolog.Logger) *fanoutClient {
	return &fanoutClient{
		serverAddrs: cfg.Broker.ServerAddrs,
		timeout:     time.Duration(cfg.Broker.RequestTimeoutMs) * time.Millisecond,
		httpClient:  &http.Client{},
		logger:      logger,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
	}
}

func (f *fanoutClient) breakerFor(addr string) *circuitbreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.breakers[addr]
	if !ok {
		cb = circuitbreaker.New(&circuitbreaker.Config{
			Name:        addr,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}, f.logger)
		f.breakers[addr] = cb
	}
	return cb
}

// Fanout sends req to every configured server and returns a map of server
// address to the DataTable it returned. A server that errors, times out, or
// trips its circuit breaker is simply absent from the result map — the
// reducer treats a partial server set the same way the server's own segment
// pruning treats a partial segment set: merge what came back.
func (f *fanoutClient) Fanout(ctx context.Context, req *brokerQueryRequest) (map[string]*query.DataTable, []string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	results := make(map[string]*query.DataTable, len(f.serverAddrs))
	var failed []string
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range f.serverAddrs {
		addr := addr
		g.Go(func() error {
			table, err := f.queryOne(gctx, addr, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				f.logger.Warn().Err(err).Str("server", addr).Msg("server query failed")
				failed = append(failed, addr)
				return nil
			}
			results[addr] = table
			return nil
		})
	}
	_ = g.Wait()
	return results, failed
}

func (f *fanoutClient) queryOne(ctx context.Context, addr string, req *brokerQueryRequest) (*query.DataTable, error) {
	cb := f.breakerFor(addr)
	var table *query.DataTable
	err := cb.Execute(func() error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/v1/query", addr), bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/x-msgpack+gzip")

		resp, err := f.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server %s returned status %d", addr, resp.StatusCode)
		}

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		table, err = wire.DecodeDataTable(respBody)
		return err
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}
