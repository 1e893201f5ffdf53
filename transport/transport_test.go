package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func rpcHandler(t *testing.T, fn func(req jsonRPCRequest) (int, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req jsonRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		status, resp := fn(req)
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}
}

func TestHTTPCallResult(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req jsonRPCRequest) (int, string) {
		if req.Method != "eth_blockNumber" || req.JSONRPC != "2.0" {
			t.Errorf("unexpected request %+v", req)
		}
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`
	}))
	defer srv.Close()

	res, err := NewHTTP(srv.URL).Call(context.Background(), "eth_blockNumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"0x10"` {
		t.Fatalf("result = %s", res)
	}
}

func TestHTTPCallRPCError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req jsonRPCRequest) (int, string) {
		return http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32062,"message":"Block range is too large"}}`
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Call(context.Background(), "eth_getLogs", map[string]string{})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %T %v", err, err)
	}
	if rpcErr.Code != -32062 || !strings.Contains(rpcErr.Message, "too large") {
		t.Fatalf("unexpected rpc error %+v", rpcErr)
	}
}

func TestHTTPCallStatusError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req jsonRPCRequest) (int, string) {
		return http.StatusTooManyRequests, strings.Repeat("x", 300)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Call(context.Background(), "eth_getLogs")
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *HTTPStatusError, got %T %v", err, err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || len(statusErr.Body) != 256 {
		t.Fatalf("unexpected status error code=%d len=%d", statusErr.StatusCode, len(statusErr.Body))
	}
}

func TestWebSocketCall(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req jsonRPCRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			var resp string
			switch req.Method {
			case "eth_blockNumber":
				resp = `{"jsonrpc":"2.0","id":` + itoa(req.ID) + `,"result":"0x2a"}`
			default:
				resp = `{"jsonrpc":"2.0","id":` + itoa(req.ID) + `,"error":{"code":-32090,"message":"Too many requests"}}`
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket("ws" + strings.TrimPrefix(srv.URL, "http"))
	defer ws.Close()

	res, err := ws.Call(context.Background(), "eth_blockNumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"0x2a"` {
		t.Fatalf("result = %s", res)
	}

	_, err = ws.Call(context.Background(), "eth_getLogs")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32090 {
		t.Fatalf("expected rate-limit rpc error, got %v", err)
	}
}

func itoa(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
