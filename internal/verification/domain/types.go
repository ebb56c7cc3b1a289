// Package domain contains the business logic for bytecode verification.
package domain

import (
	"time"

	"github.com/kustodia/verify-bytecode/internal/chains"
)

// VerifyRequest is the request to verify a deployed contract.
type VerifyRequest struct {
	Address        string
	BuildInfoPath  string
	ContractName   string
	IgnoreMetadata bool

	// ResolveProxy treats Address as an EIP-1967 proxy and verifies the
	// implementation it points to.
	ResolveProxy bool
}

// VerifyResult is the result of a verification.
type VerifyResult struct {
	RunID          string           `json:"runId" yaml:"runId"`
	Contract       string           `json:"contract" yaml:"contract"`
	Address        string           `json:"address" yaml:"address"`
	ProxyAddress   string           `json:"proxyAddress,omitempty" yaml:"proxyAddress,omitempty"`
	Source         string           `json:"source" yaml:"source"`
	BuildInfoPath  string           `json:"buildInfoPath" yaml:"buildInfoPath"`
	SourcePath     string           `json:"sourcePath" yaml:"sourcePath"`
	SolcVersion    string           `json:"solcVersion,omitempty" yaml:"solcVersion,omitempty"`
	IgnoreMetadata bool             `json:"ignoreMetadata" yaml:"ignoreMetadata"`
	Match          bool             `json:"match" yaml:"match"`
	MatchType      string           `json:"matchType" yaml:"matchType"` // "full", "partial", "none"
	Message        string           `json:"message" yaml:"message"`
	OnChainLength  int              `json:"onChainLength" yaml:"onChainLength"`
	LocalLength    int              `json:"localLength" yaml:"localLength"`
	Mismatch       *chains.Mismatch `json:"mismatch,omitempty" yaml:"mismatch,omitempty"`
	Warnings       []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	StartedAt      time.Time        `json:"startedAt" yaml:"startedAt"`
	Duration       time.Duration    `json:"-" yaml:"-"`
}

// Stage identifies a step of a verification run for progress reporting.
type Stage int

// Verification stages, in execution order.
const (
	StageResolve Stage = iota
	StageFetch
	StageExtract
	StageNormalize
	StageCompare
)

func (s Stage) String() string {
	switch s {
	case StageResolve:
		return "resolve"
	case StageFetch:
		return "fetch"
	case StageExtract:
		return "extract"
	case StageNormalize:
		return "normalize"
	case StageCompare:
		return "compare"
	default:
		return "unknown"
	}
}

// ProgressFunc receives a message when a stage starts or produces a notable result.
type ProgressFunc func(stage Stage, message string)
