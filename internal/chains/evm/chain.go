// Package evm provides bytecode sources and comparison helpers for
// Ethereum and compatible chains.
package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCError is returned when a JSON-RPC node cannot provide the deployed code
type RPCError struct {
	URL     string
	Method  string
	Address string
	Err     error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %s %s: %v", e.URL, e.Method, e.Address, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// RPCSource reads deployed bytecode from a JSON-RPC node
type RPCSource struct {
	url        string
	httpClient *http.Client
}

// RPCOption configures an RPCSource
type RPCOption func(*RPCSource)

// WithRPCHTTPClient sets the HTTP client used for http(s) node URLs
func WithRPCHTTPClient(c *http.Client) RPCOption {
	return func(s *RPCSource) {
		s.httpClient = c
	}
}

// NewRPCSource creates a source backed by the node at url
func NewRPCSource(url string, opts ...RPCOption) *RPCSource {
	s := &RPCSource{url: url}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the source identifier
func (s *RPCSource) Name() string {
	return "rpc"
}

// GetDeployedBytecode fetches the runtime code at address via eth_getCode
// at the latest block.
func (s *RPCSource) GetDeployedBytecode(ctx context.Context, address string) (string, error) {
	const method = "eth_getCode"

	client, err := s.dial(ctx, method, address)
	if err != nil {
		return "", err
	}
	defer client.Close()

	code, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return "", &RPCError{URL: s.url, Method: method, Address: address, Err: err}
	}

	return hex.EncodeToString(code), nil
}

// GetStorageAt reads the storage word at slot via eth_getStorageAt at the
// latest block.
func (s *RPCSource) GetStorageAt(ctx context.Context, address, slot string) (string, error) {
	const method = "eth_getStorageAt"

	client, err := s.dial(ctx, method, address)
	if err != nil {
		return "", err
	}
	defer client.Close()

	word, err := client.StorageAt(ctx, common.HexToAddress(address), common.HexToHash(slot), nil)
	if err != nil {
		return "", &RPCError{URL: s.url, Method: method, Address: address, Err: err}
	}

	return hex.EncodeToString(word), nil
}

func (s *RPCSource) dial(ctx context.Context, method, address string) (*ethclient.Client, error) {
	if !common.IsHexAddress(address) {
		return nil, &RPCError{URL: s.url, Method: method, Address: address, Err: fmt.Errorf("invalid address")}
	}

	var dialOpts []rpc.ClientOption
	if s.httpClient != nil {
		dialOpts = append(dialOpts, rpc.WithHTTPClient(s.httpClient))
	}
	rpcClient, err := rpc.DialOptions(ctx, s.url, dialOpts...)
	if err != nil {
		return nil, &RPCError{URL: s.url, Method: method, Address: address, Err: err}
	}
	return ethclient.NewClient(rpcClient), nil
}
