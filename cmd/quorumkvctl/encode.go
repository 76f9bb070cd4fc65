package main

import (
	"github.com/quorumkv/quorumkv/pkg/jsonrpc"
	"github.com/quorumkv/quorumkv/pkg/jsonvalue"
)

func encodeRequest(id, method string, params map[string]any) ([]byte, error) {
	paramsVal, err := jsonvalue.From(params)
	if err != nil {
		return nil, err
	}
	reqVal, err := jsonrpc.FmtRequest(jsonrpc.StrID(id), method, paramsVal)
	if err != nil {
		return nil, err
	}
	return reqVal.Bytes(), nil
}
