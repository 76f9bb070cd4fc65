package jsonrpc

import (
	"testing"

	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestValid(t *testing.T) {
	req, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"put","params":{"key":"a","value":1}}`))
	require.Nil(t, rpcErr)
	assert.Equal(t, "put", req.Method)
	assert.True(t, req.ID.IsSet())
}

func TestParseRequestNoID(t *testing.T) {
	req, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"_message","params":{"type":"RequestVoteCall"}}`))
	require.Nil(t, rpcErr)
	assert.False(t, req.ID.IsSet())
}

func TestParseRequestErrors(t *testing.T) {
	cases := []struct {
		name string
		line string
		code Code
	}{
		{"not json", `{not json`, ParseError},
		{"structurally invalid json trailing comma", `{"jsonrpc":"2.0",}`, ParseError},
		{"missing jsonrpc", `{"method":"put","params":{}}`, InvalidRequest},
		{"wrong jsonrpc version", `{"jsonrpc":"1.0","method":"put"}`, InvalidRequest},
		{"non-string method", `{"jsonrpc":"2.0","method":5}`, InvalidRequest},
		{"missing method", `{"jsonrpc":"2.0"}`, InvalidRequest},
		{"params not object or array", `{"jsonrpc":"2.0","method":"put","params":"x"}`, InvalidRequest},
		{"id not int or string", `{"jsonrpc":"2.0","method":"put","id":true}`, InvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rpcErr := ParseRequest([]byte(tc.line))
			require.NotNil(t, rpcErr)
			assert.Equal(t, tc.code, rpcErr.ErrCode)
		})
	}
}

func TestParseRequestParamsArrayAllowed(t *testing.T) {
	_, rpcErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"put","params":[1,2]}`))
	assert.Nil(t, rpcErr)
}

func TestFmtSuccessAndErrorShapes(t *testing.T) {
	result := jsonvalue.MustFrom(map[string]any{"old": nil})
	v, err := FmtSuccess(IntID(1), result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"old":null}}`, v.String())

	ev, err := FmtError(IntID(2), NewError(MethodNotFound))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`, ev.String())

	withData, err := FmtError(StrID("x"), NewError(InvalidParams).WithData(jsonvalue.MustFrom("bad key")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32602,"message":"Invalid params","data":"bad key"}}`, withData.String())
}

// Reply lines keep the documented member order exactly: jsonrpc, then
// id, then result/error.
func TestFmtSuccessPreservesMemberOrder(t *testing.T) {
	v, err := FmtSuccess(IntID(1), jsonvalue.MustFrom(map[string]any{"old": nil}))
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0","id":1,"result":{"old":null}}`, v.String())
}

func TestErrorSatisfiesErrorInterface(t *testing.T) {
	var err error = NewError(ParseError)
	assert.Contains(t, err.Error(), "Parse error")
}
