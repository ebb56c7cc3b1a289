// Package buildinfo reads Solidity build-info artifacts (Hardhat and Foundry
// hh-sol-build-info-1 format) and extracts deployed bytecode from them.
package buildinfo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kustodia/verify-bytecode/internal/chains"
)

// ArtifactParseError is returned when a build-info file cannot be read or decoded
type ArtifactParseError struct {
	Path string
	Err  error
}

func (e *ArtifactParseError) Error() string {
	return fmt.Sprintf("build-info %s: %v", e.Path, e.Err)
}

func (e *ArtifactParseError) Unwrap() error {
	return e.Err
}

// ContractNotFoundError is returned when no source file declares the contract
type ContractNotFoundError struct {
	Contract  string
	Path      string
	Available []string
}

func (e *ContractNotFoundError) Error() string {
	msg := fmt.Sprintf("contract %s not found in build-info %s", e.Contract, e.Path)
	if len(e.Available) > 0 {
		msg += " (available: " + strings.Join(e.Available, ", ") + ")"
	}
	return msg
}

// BuildInfo represents a build-info file (hh-sol-build-info-1 format)
type BuildInfo struct {
	ID          string          `json:"id"`
	Format      string          `json:"_format"`
	SolcVersion string          `json:"solcVersion"` // Short: "0.8.28"
	Output      json.RawMessage `json:"output"`      // Compilation output

	// Contracts holds output.contracts when the file is raw solc
	// standard JSON output rather than a build-info wrapper.
	Contracts json.RawMessage `json:"contracts"`

	path    string
	sources []sourceContracts
}

// sourceContracts keeps one output.contracts entry in document order
type sourceContracts struct {
	path      string
	contracts map[string]ContractOutput
}

// ContractOutput is the per-contract compiler output we care about
type ContractOutput struct {
	EVM EVMOutput `json:"evm"`
}

// EVMOutput holds the evm section of a contract's compiler output
type EVMOutput struct {
	DeployedBytecode BytecodeObject `json:"deployedBytecode"`
}

// BytecodeObject represents bytecode in compiler output
type BytecodeObject struct {
	Object         string                       `json:"object"`
	LinkReferences map[string]map[string][]Link `json:"linkReferences,omitempty"`
}

// Link represents a library link reference
type Link struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Lookup is the result of locating a contract in a build-info file
type Lookup struct {
	chains.EVMArtifact

	// Duplicates lists other source paths declaring the same contract name.
	// The first declaration in document order wins.
	Duplicates []string

	// Unlinked is true when the deployed bytecode has library link references
	Unlinked bool
}

// Load reads and parses a build-info file
func Load(path string) (*BuildInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ArtifactParseError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse decodes build-info JSON. path is only used in errors.
func Parse(path string, data []byte) (*BuildInfo, error) {
	var bi BuildInfo
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, &ArtifactParseError{Path: path, Err: fmt.Errorf("parsing JSON: %w", err)}
	}
	bi.path = path

	contracts := bi.Contracts
	if len(bi.Output) > 0 && !isNull(bi.Output) {
		var output struct {
			Contracts json.RawMessage `json:"contracts"`
		}
		if err := json.Unmarshal(bi.Output, &output); err != nil {
			return nil, &ArtifactParseError{Path: path, Err: fmt.Errorf("parsing output: %w", err)}
		}
		contracts = output.Contracts
	}

	if len(contracts) == 0 || isNull(contracts) {
		return nil, &ArtifactParseError{Path: path, Err: fmt.Errorf("no output.contracts section")}
	}

	sources, err := decodeOrdered(contracts)
	if err != nil {
		return nil, &ArtifactParseError{Path: path, Err: fmt.Errorf("parsing output.contracts: %w", err)}
	}
	bi.sources = sources

	return &bi, nil
}

// SourcePaths returns the compiled source files in document order
func (b *BuildInfo) SourcePaths() []string {
	paths := make([]string, 0, len(b.sources))
	for _, s := range b.sources {
		paths = append(paths, s.path)
	}
	return paths
}

// FindContract locates a contract by name. When several source files
// declare the name, the first one in document order is returned and the
// others are listed in Lookup.Duplicates.
func (b *BuildInfo) FindContract(name string) (*Lookup, error) {
	var found *Lookup

	for _, src := range b.sources {
		contract, ok := src.contracts[name]
		if !ok {
			continue
		}
		if found != nil {
			found.Duplicates = append(found.Duplicates, src.path)
			continue
		}
		found = &Lookup{
			EVMArtifact: chains.EVMArtifact{
				Name:             name,
				SourcePath:       src.path,
				DeployedBytecode: contract.EVM.DeployedBytecode.Object,
				SolcVersion:      b.SolcVersion,
			},
			Unlinked: len(contract.EVM.DeployedBytecode.LinkReferences) > 0,
		}
	}

	if found == nil {
		return nil, &ContractNotFoundError{
			Contract:  name,
			Path:      b.path,
			Available: b.contractNames(),
		}
	}
	return found, nil
}

// DeployedBytecode returns the deployed bytecode object of the first
// contract with the given name.
func (b *BuildInfo) DeployedBytecode(name string) (string, error) {
	lookup, err := b.FindContract(name)
	if err != nil {
		return "", err
	}
	return lookup.DeployedBytecode, nil
}

// contractNames returns the sorted, de-duplicated contract names
func (b *BuildInfo) contractNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, src := range b.sources {
		for name := range src.contracts {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// decodeOrdered decodes the output.contracts object keeping source files in
// the order they appear in the document.
func decodeOrdered(raw json.RawMessage) ([]sourceContracts, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	var sources []sourceContracts
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		path, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected source path, got %v", tok)
		}

		var contracts map[string]ContractOutput
		if err := dec.Decode(&contracts); err != nil {
			return nil, fmt.Errorf("source %s: %w", path, err)
		}
		sources = append(sources, sourceContracts{path: path, contracts: contracts})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return sources, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
