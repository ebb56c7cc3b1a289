// Package chains provides the shared types used to fetch and compare
// deployed contract bytecode.
package chains

import (
	"context"
)

// Match types reported by a comparison
const (
	MatchFull    = "full"    // bytecode identical, metadata included
	MatchPartial = "partial" // identical once the metadata trailer is stripped
	MatchNone    = "none"
)

// BytecodeSource returns the runtime bytecode stored at an address.
// Implementations return lowercase hex without the 0x prefix.
type BytecodeSource interface {
	// Name identifies the source in logs and reports ("explorer", "rpc")
	Name() string
	GetDeployedBytecode(ctx context.Context, address string) (string, error)
}

// StorageSource reads contract storage. Sources that implement it can
// resolve proxies to their implementation.
type StorageSource interface {
	// GetStorageAt returns the 32-byte word at slot as hex without the 0x prefix
	GetStorageAt(ctx context.Context, address, slot string) (string, error)
}

// VerifyResult contains comparison results
type VerifyResult struct {
	Match         bool      // Whether the bytecode matches
	MatchType     string    // "full", "partial", "none"
	Message       string    // Human-readable explanation
	OnChainLength int       // hex characters compared on the on-chain side
	LocalLength   int       // hex characters compared on the local side
	Mismatch      *Mismatch // first differing window, nil on match
}

// Mismatch describes the first differing window between two bytecodes
type Mismatch struct {
	Offset  int    `json:"offset" yaml:"offset"`
	OnChain string `json:"onChain" yaml:"onChain"`
	Local   string `json:"local" yaml:"local"`
}

// EVMArtifact contains the parts of a compiled contract the verifier needs
type EVMArtifact struct {
	Name             string
	SourcePath       string
	DeployedBytecode string
	SolcVersion      string
}
