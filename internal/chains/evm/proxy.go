package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kustodia/verify-bytecode/internal/chains"
	"github.com/kustodia/verify-bytecode/internal/validation"
)

// ImplementationSlot is the EIP-1967 slot holding a proxy's implementation
// address: keccak256("eip1967.proxy.implementation") - 1.
const ImplementationSlot = "0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc"

// ErrNotProxy is returned when the implementation slot holds no address
var ErrNotProxy = errors.New("EIP-1967 implementation slot is empty")

// ResolveImplementation returns the checksummed implementation address
// behind the EIP-1967 proxy at proxy.
func ResolveImplementation(ctx context.Context, src chains.StorageSource, proxy string) (string, error) {
	word, err := src.GetStorageAt(ctx, proxy, ImplementationSlot)
	if err != nil {
		return "", fmt.Errorf("reading implementation slot of %s: %w", proxy, err)
	}
	impl, err := ImplementationFromSlot(word)
	if err != nil {
		return "", fmt.Errorf("proxy %s: %w", proxy, err)
	}
	return impl, nil
}

// ImplementationFromSlot decodes the address stored in the low 20 bytes of
// a storage word. Short words are left-padded, as nodes may trim them.
func ImplementationFromSlot(word string) (string, error) {
	if err := validation.ValidateBytecodeHex(word); err != nil {
		return "", fmt.Errorf("invalid storage word %q: %w", word, err)
	}
	digits := NormalizeHex(word)
	if len(digits) > 2*common.HashLength {
		return "", fmt.Errorf("invalid storage word %q: longer than 32 bytes", word)
	}

	hash := common.HexToHash(digits)
	for _, b := range hash[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return "", fmt.Errorf("storage word %s does not hold an address", hash.Hex())
		}
	}

	addr := common.BytesToAddress(hash[common.HashLength-common.AddressLength:])
	if addr == (common.Address{}) {
		return "", ErrNotProxy
	}
	return addr.Hex(), nil
}
