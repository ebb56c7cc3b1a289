package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kustodia/verify-bytecode/internal/chains"
	"github.com/kustodia/verify-bytecode/internal/chains/evm"
	"github.com/kustodia/verify-bytecode/internal/chains/evm/buildinfo"
	"github.com/kustodia/verify-bytecode/internal/validation"
)

// Common errors returned by the verification service.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidContractName = errors.New("invalid contract name")
	ErrProxyUnsupported    = errors.New("bytecode source cannot read storage")
)

// BuildInfoLoader loads a compiler build-info artifact.
type BuildInfoLoader func(path string) (*buildinfo.BuildInfo, error)

type service struct {
	source        chains.BytecodeSource
	loadBuildInfo BuildInfoLoader
	progress      ProgressFunc
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the verification service.
type Option func(*service)

// WithBuildInfoLoader replaces the build-info loader (buildinfo.Load by default).
func WithBuildInfoLoader(load BuildInfoLoader) Option {
	return func(s *service) {
		s.loadBuildInfo = load
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *service) {
		s.progress = fn
	}
}

// NewService creates a new verification service reading on-chain code from source.
func NewService(source chains.BytecodeSource, logger *slog.Logger, opts ...Option) *service {
	s := &service{
		source:        source,
		loadBuildInfo: buildinfo.Load,
		progress:      func(Stage, string) {},
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify fetches the deployed bytecode, extracts the local build's deployed
// bytecode and compares them. Any fetch or artifact error aborts the run.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if err := validation.ValidateContractName(req.ContractName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContractName, err)
	}

	started := s.now()
	result := &VerifyResult{
		RunID:          uuid.New().String(),
		Contract:       req.ContractName,
		Address:        req.Address,
		Source:         s.source.Name(),
		BuildInfoPath:  req.BuildInfoPath,
		IgnoreMetadata: req.IgnoreMetadata,
		StartedAt:      started.UTC(),
	}
	logger := s.logger.With("run_id", result.RunID, "contract", req.ContractName, "address", req.Address)

	if req.ResolveProxy {
		reader, ok := s.source.(chains.StorageSource)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProxyUnsupported, s.source.Name())
		}
		s.progress(StageResolve, fmt.Sprintf("Resolving implementation behind proxy %s", req.Address))
		impl, err := evm.ResolveImplementation(ctx, reader, req.Address)
		if err != nil {
			return nil, fmt.Errorf("resolving proxy: %w", err)
		}
		result.ProxyAddress = req.Address
		result.Address = impl
		logger = logger.With("implementation", impl)
		logger.Debug("resolved proxy implementation")
	}

	// Remote fetch
	s.progress(StageFetch, fmt.Sprintf("Fetching on-chain bytecode for %s from %s", result.Address, s.source.Name()))
	onChainRaw, err := s.source.GetDeployedBytecode(ctx, result.Address)
	if err != nil {
		return nil, fmt.Errorf("fetching on-chain bytecode: %w", err)
	}
	logger.Debug("fetched on-chain bytecode", "source", s.source.Name(), "length", len(onChainRaw))

	// Local extraction
	s.progress(StageExtract, fmt.Sprintf("Loading %s from %s", req.ContractName, req.BuildInfoPath))
	bi, err := s.loadBuildInfo(req.BuildInfoPath)
	if err != nil {
		return nil, fmt.Errorf("loading local bytecode: %w", err)
	}
	lookup, err := bi.FindContract(req.ContractName)
	if err != nil {
		return nil, fmt.Errorf("loading local bytecode: %w", err)
	}
	result.SourcePath = lookup.SourcePath
	result.SolcVersion = lookup.SolcVersion
	logger.Debug("found contract in build-info", "source_path", lookup.SourcePath, "solc", lookup.SolcVersion, "sources", len(bi.SourcePaths()))

	if len(lookup.Duplicates) > 0 {
		s.warn(logger, result, fmt.Sprintf("contract %s is also declared in %s; using %s",
			req.ContractName, strings.Join(lookup.Duplicates, ", "), lookup.SourcePath))
	}

	// Normalization
	onChain := evm.NormalizeHex(onChainRaw)
	local := evm.NormalizeHex(lookup.DeployedBytecode)

	if onChain == "" {
		s.warn(logger, result, fmt.Sprintf("no code deployed at %s", result.Address))
	}
	if local == "" {
		s.warn(logger, result, fmt.Sprintf("contract %s has no deployed bytecode (abstract contract or interface)", req.ContractName))
	}
	if lookup.Unlinked || evm.HasLibraryPlaceholders(local) {
		s.warn(logger, result, "local bytecode contains unlinked library placeholders")
	}

	if req.IgnoreMetadata {
		s.progress(StageNormalize, fmt.Sprintf("Stripping %d-byte metadata trailer", evm.MetadataHexLength/2))
		if lookup.SolcVersion != "" {
			covered, err := validation.FixedTrailerCoversMetadata(lookup.SolcVersion)
			if err != nil {
				logger.Debug("cannot check solc version", "solc", lookup.SolcVersion, "error", err)
			} else if !covered {
				s.warn(logger, result, fmt.Sprintf("solc %s appends more than %d bytes of metadata; the stripped trailer may not cover all of it",
					lookup.SolcVersion, evm.MetadataHexLength/2))
			}
		}
		onChain = evm.StripMetadata(onChain)
		local = evm.StripMetadata(local)
	}

	// Comparison
	s.progress(StageCompare, "Comparing bytecode")
	cmp := evm.CompareBytecode(onChain, local, req.IgnoreMetadata)

	result.Match = cmp.Match
	result.MatchType = cmp.MatchType
	result.Message = cmp.Message
	result.OnChainLength = cmp.OnChainLength
	result.LocalLength = cmp.LocalLength
	result.Mismatch = cmp.Mismatch
	result.Duration = s.now().Sub(started)

	logger.Info("verification finished",
		"match", result.Match,
		"match_type", result.MatchType,
		"onchain_length", result.OnChainLength,
		"local_length", result.LocalLength,
		"duration", result.Duration,
	)

	return result, nil
}

func (s *service) warn(logger *slog.Logger, result *VerifyResult, msg string) {
	result.Warnings = append(result.Warnings, msg)
	// Warnings are part of the report; the log only records them
	logger.Info("verification warning", "warning", msg)
}
