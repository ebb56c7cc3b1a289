// Package validation provides input validation for verify-bytecode.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// Solidity identifiers: letters, digits, underscore and dollar, not starting with a digit
var contractNameRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Optional 0x prefix followed by hex digits of any length
var bytecodeHexRegex = regexp.MustCompile(`^(0[xX])?[0-9a-fA-F]*$`)

// swarmMetadataUntil is the first solc release whose metadata trailer is
// longer than the 43-byte bzzr0 layout.
const swarmMetadataUntil = "v0.5.9"

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateContractName validates a Solidity contract name
func ValidateContractName(name string) error {
	if name == "" {
		return errors.New("contract name cannot be empty")
	}
	if !contractNameRegex.MatchString(name) {
		return errors.New("invalid contract name: must be a Solidity identifier")
	}
	return nil
}

// ValidateBytecodeHex checks that code consists of hex digits after an
// optional 0x prefix. Length parity is not checked. "0x" alone is valid (an
// address without code).
func ValidateBytecodeHex(code string) error {
	if code == "" {
		return errors.New("empty hex string")
	}
	if !bytecodeHexRegex.MatchString(code) {
		return errors.New("invalid hex string: contains non-hex characters")
	}
	return nil
}

// NormalizeVersion strips the leading 'v' and any build metadata
// ("0.8.20+commit.a1b79de6" -> "0.8.20")
func NormalizeVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	return v
}

// ValidateSolcVersion validates a solc version string
func ValidateSolcVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("version cannot be empty")
	}
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid solc version: must be in format X.Y.Z")
	}
	if strings.Count(strings.SplitN(normalized, "-", 2)[0], ".") < 2 {
		return errors.New("invalid solc version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+NormalizeVersion(v1), "v"+NormalizeVersion(v2))
}

// FixedTrailerCoversMetadata reports whether a 43-byte trailer is the whole
// metadata section emitted by the given solc version. Releases before 0.5.9
// append exactly 43 bytes; later ones append more.
func FixedTrailerCoversMetadata(solcVersion string) (bool, error) {
	if err := ValidateSolcVersion(solcVersion); err != nil {
		return false, err
	}
	return CompareVersions(solcVersion, swarmMetadataUntil) < 0, nil
}
