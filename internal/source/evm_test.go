package source

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEVMMissingConfig(t *testing.T) {
	src := NewEVM(EVMOptions{ID: "eth"}, noopLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
}

func TestEVMFetchOverJSONRPC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		if req.Method != "eth_gasPrice" {
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x4a817c800",
		})
	}))
	defer srv.Close()

	src := NewEVM(EVMOptions{ID: "eth", RPCURL: srv.URL, Timeout: time.Second}, noopLogger())
	sample, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sample.Value.Cmp(big.NewInt(20_000_000_000)) != 0 {
		t.Fatalf("期望 20 gwei, 实际 %s", sample.Value)
	}
	if sample.SourceID != "eth" {
		t.Fatalf("source id 不正确: %s", sample.SourceID)
	}
}

type fakePricer struct {
	price *big.Int
	err   error
}

func (f fakePricer) SuggestGasPrice(context.Context) (*big.Int, error) { return f.price, f.err }

func TestEVMPropagatesErrors(t *testing.T) {
	src := NewEVM(EVMOptions{ID: "bsc", RPCURL: "http://unused"}, noopLogger())
	src.dial = func(context.Context, string) (gasPricer, error) {
		return fakePricer{err: errors.New("boom")}, nil
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("rpc 错误应透传")
	}

	src = NewEVM(EVMOptions{ID: "bsc", RPCURL: "http://unused"}, noopLogger())
	src.dial = func(context.Context, string) (gasPricer, error) {
		return fakePricer{}, nil
	}
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("空 gas price 应报错")
	}
}

func TestStaticSource(t *testing.T) {
	s := &Static{SourceID: "x", Value: big.NewInt(5)}
	sample, err := s.Fetch(context.Background())
	if err != nil || sample.Value.Int64() != 5 {
		t.Fatalf("static fetch = %v, %v", sample, err)
	}
	sample.Value.SetInt64(6)
	again, _ := s.Fetch(context.Background())
	if again.Value.Int64() != 5 {
		t.Fatal("static source must hand out copies")
	}

	s.Err = errors.New("down")
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected configured error")
	}
}
