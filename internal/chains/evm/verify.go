package evm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kustodia/verify-bytecode/internal/chains"
)

const (
	// MetadataHexLength is the fixed trailer removed by StripMetadata:
	// 43 bytes, the size of the swarm metadata hash appended by solc.
	MetadataHexLength = 86

	// WindowHexLength is the size of the windows used to locate the first
	// difference (20 bytes).
	WindowHexLength = 40
)

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

// NormalizeHex lowercases bytecode and removes a leading 0x prefix
func NormalizeHex(code string) string {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "0x") || strings.HasPrefix(code, "0X") {
		code = code[2:]
	}
	return strings.ToLower(code)
}

// StripMetadata drops the last MetadataHexLength characters of a hex string.
// Strings that are not longer than the trailer are returned unchanged.
// The trailer is not parsed: any 43 trailing bytes are removed.
func StripMetadata(code string) string {
	if len(code) > MetadataHexLength {
		return code[:len(code)-MetadataHexLength]
	}
	return code
}

// CompareBytecode compares normalized on-chain and local bytecode.
// stripped reports whether both inputs already had their metadata removed,
// which turns an equal result into a partial match.
func CompareBytecode(onChain, local string, stripped bool) *chains.VerifyResult {
	result := &chains.VerifyResult{
		OnChainLength: len(onChain),
		LocalLength:   len(local),
	}

	if onChain == local {
		result.Match = true
		if stripped {
			result.MatchType = chains.MatchPartial
			result.Message = "Executable code matches, metadata trailer ignored"
		} else {
			result.MatchType = chains.MatchFull
			result.Message = "Bytecode matches exactly including metadata"
		}
		return result
	}

	result.MatchType = chains.MatchNone
	result.Mismatch = FirstMismatch(onChain, local)
	if result.Mismatch != nil {
		result.Message = fmt.Sprintf("Bytecode does not match (first difference in window at offset %d)", result.Mismatch.Offset)
	} else {
		result.Message = "Bytecode does not match"
	}
	return result
}

// FirstMismatch scans both strings in lock-step WindowHexLength windows and
// returns the first window whose contents differ, or nil when none does.
// Windows are clipped to each string's length, so a string that is a prefix
// of the other is reported at the window where it ends.
func FirstMismatch(onChain, local string) *chains.Mismatch {
	end := max(len(onChain), len(local))
	for offset := 0; offset < end; offset += WindowHexLength {
		a := window(onChain, offset)
		b := window(local, offset)
		if a != b {
			return &chains.Mismatch{
				Offset:  offset,
				OnChain: a,
				Local:   b,
			}
		}
	}
	return nil
}

func window(s string, offset int) string {
	if offset >= len(s) {
		return ""
	}
	return s[offset:min(offset+WindowHexLength, len(s))]
}

// HasLibraryPlaceholders checks if bytecode contains unlinked library placeholders
func HasLibraryPlaceholders(code string) bool {
	return libraryPlaceholder.MatchString(code)
}
