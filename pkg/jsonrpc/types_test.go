package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode int
		wantID   string
	}{
		{"numeric id", `{"jsonrpc":"2.0","method":"eth_accounts","id":4}`, 0, "4"},
		{"string id", `{"jsonrpc":"2.0","method":"eth_accounts","id":"abc"}`, 0, `"abc"`},
		{"null id", `{"jsonrpc":"2.0","method":"eth_accounts","id":null}`, 0, "null"},
		{"notification", `{"jsonrpc":"2.0","method":"eth_accounts"}`, 0, ""},
		{"invalid json", `{"jsonrpc":`, ParseError, ""},
		{"batch", `[{"jsonrpc":"2.0","method":"a","id":1}]`, InvalidRequest, ""},
		{"wrong version", `{"jsonrpc":"1.0","method":"a","id":1}`, InvalidRequest, "1"},
		{"missing method", `{"jsonrpc":"2.0","id":2}`, InvalidRequest, "2"},
		{"extra field", `{"jsonrpc":"2.0","method":"a","id":3,"x":1}`, InvalidRequest, "3"},
		{"bool id", `{"jsonrpc":"2.0","method":"a","id":true}`, InvalidRequest, ""},
		{"fractional id", `{"jsonrpc":"2.0","method":"a","id":1.5}`, InvalidRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rpcErr := ParseRequest([]byte(tt.input))
			if tt.wantCode != 0 {
				if rpcErr == nil {
					t.Fatalf("expected error code %d, got request %v", tt.wantCode, req)
				}
				if rpcErr.Code != tt.wantCode {
					t.Errorf("code = %d, want %d", rpcErr.Code, tt.wantCode)
				}
				if tt.wantID != "" && string(rpcErr.ID) != tt.wantID {
					t.Errorf("error id = %s, want %s", rpcErr.ID, tt.wantID)
				}
				return
			}
			if rpcErr != nil {
				t.Fatalf("unexpected error: %v", rpcErr)
			}
			if string(req.ID) != tt.wantID {
				t.Errorf("id = %q, want %q", req.ID, tt.wantID)
			}
			if req.ID.IsNotification() != (tt.wantID == "") {
				t.Errorf("IsNotification = %v", req.ID.IsNotification())
			}
		})
	}
}

func TestRequest_MarshalRoundTrip(t *testing.T) {
	req, err := NewRequest(NumberID(7), "eth_sendRawTransaction", []string{"0x01"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","method":"eth_sendRawTransaction","params":["0x01"],"id":7}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}

	notif, _ := NewRequest(nil, "eth_subscribe", nil)
	b, _ = json.Marshal(notif)
	if string(b) != `{"jsonrpc":"2.0","method":"eth_subscribe"}` {
		t.Fatalf("notification marshalled as %s", b)
	}
}

func TestErrorResponse(t *testing.T) {
	e := NewError(SigningError, "bad key").WithID(StringID("x"))
	var resp Response
	if err := json.Unmarshal(e.Response(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != SigningError {
		t.Fatalf("unexpected error object %+v", resp.Error)
	}
	if string(resp.ID) != `"x"` {
		t.Fatalf("id = %s", resp.ID)
	}

	if NewNoResponse("dump").Response() != nil {
		t.Fatalf("no-response sentinel must render nothing")
	}
}

func TestParseResponse(t *testing.T) {
	resp, rpcErr := ParseResponse([]byte(`{"jsonrpc":"2.0","result":"0x2a","id":1}`))
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	if string(resp.Result) != `"0x2a"` {
		t.Fatalf("result = %s", resp.Result)
	}

	_, rpcErr = ParseResponse([]byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"nonce too low"},"id":9}`))
	if rpcErr == nil || rpcErr.Code != ServerError || string(rpcErr.ID) != "9" {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
}
