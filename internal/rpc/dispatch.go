package rpc

import "encoding/json"

func (s *Server) dispatch(method string, rawParams json.RawMessage) (any, *rpcError) {
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := s.dispatchCustody(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchMarket(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchPool(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchWallet(method, rawParams); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}
