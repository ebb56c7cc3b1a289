package cli

import (
	"context"
	"errors"

	"github.com/kustodia/verify-bytecode/internal/chains/evm"
	"github.com/kustodia/verify-bytecode/internal/chains/evm/buildinfo"
	"github.com/kustodia/verify-bytecode/internal/config"
	"github.com/kustodia/verify-bytecode/internal/explorer"
	"github.com/kustodia/verify-bytecode/internal/verification/domain"
)

// ErrMismatch is returned with --fail-on-mismatch when the bytecode differs
var ErrMismatch = errors.New("deployed bytecode does not match local build")

// Exit codes
const (
	ExitOK       = 0
	ExitError    = 1
	ExitMismatch = 2
)

// ExitCode maps an error returned by Execute to a process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrMismatch):
		return ExitMismatch
	default:
		return ExitError
	}
}

// Hint returns a short remediation hint for known failures, or "" when
// there is nothing useful to add to the error message.
func Hint(err error) string {
	var (
		fetchErr    *explorer.FetchError
		rpcErr      *evm.RPCError
		parseErr    *buildinfo.ArtifactParseError
		notFoundErr *buildinfo.ContractNotFoundError
	)

	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		return "set ARBISCAN_API_KEY in the environment or .env, pass --api-key, or use --rpc"
	case errors.Is(err, domain.ErrInvalidAddress):
		return "the address must be 0x followed by 40 hex characters"
	case errors.Is(err, domain.ErrInvalidContractName):
		return "the contract name must be a Solidity identifier"
	case errors.Is(err, evm.ErrNotProxy):
		return "the address is not an EIP-1967 proxy; drop --resolve-proxy or pass the implementation address"
	case errors.Is(err, domain.ErrProxyUnsupported):
		return "this bytecode source cannot read storage; use the explorer or --rpc"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.As(err, &fetchErr):
		if errors.Is(err, explorer.ErrNoResult) {
			return "the explorer returned no result; check the API key and the address"
		}
		return "the explorer request failed; the raw response is included above"
	case errors.As(err, &rpcErr):
		return "check that --rpc points at a node for the chain the contract is deployed on"
	case errors.As(err, &notFoundErr):
		return "check CONTRACT_NAME, or rebuild so the build-info includes the contract"
	case errors.As(err, &parseErr):
		return "check BUILD_INFO_PATH points at a compiler build-info JSON file"
	}
	return ""
}
