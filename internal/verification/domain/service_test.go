package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kustodia/verify-bytecode/internal/chains"
	"github.com/kustodia/verify-bytecode/internal/chains/evm"
	"github.com/kustodia/verify-bytecode/internal/chains/evm/buildinfo"
	"github.com/kustodia/verify-bytecode/internal/explorer"
)

const testAddress = "0x1234567890123456789012345678901234567890"

// mockSource implements chains.BytecodeSource for testing
type mockSource struct {
	code  string
	err   error
	calls int
}

func (m *mockSource) Name() string { return "mock" }

func (m *mockSource) GetDeployedBytecode(ctx context.Context, address string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.code, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildInfoJSON returns a build-info document declaring each contract in
// its own source file, in the given order.
func buildInfoJSON(solc string, contracts ...[3]string) string {
	var files []string
	for _, c := range contracts {
		files = append(files, `"`+c[0]+`": {"`+c[1]+`": {"evm": {"deployedBytecode": {"object": "`+c[2]+`"}}}}`)
	}
	return `{"solcVersion": "` + solc + `", "output": {"contracts": {` + strings.Join(files, ",") + `}}}`
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build-info.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestVerify_InvalidAddress(t *testing.T) {
	src := &mockSource{}
	svc := NewService(src, testLogger())

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:      "invalid-address",
		ContractName: "Foo",
	})

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrInvalidAddress))
	assert.Zero(t, src.calls)
}

func TestVerify_InvalidContractName(t *testing.T) {
	src := &mockSource{}
	svc := NewService(src, testLogger())

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:      testAddress,
		ContractName: "Not-A-Name",
	})

	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrInvalidContractName))
	assert.Zero(t, src.calls)
}

func TestVerify_FullMatch(t *testing.T) {
	code := "608060405234801561001057600080fd5b50"
	path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"contracts/A.sol", "Foo", code}))

	var stages []Stage
	svc := NewService(&mockSource{code: "0x" + strings.ToUpper(code)}, testLogger(),
		WithProgress(func(stage Stage, msg string) { stages = append(stages, stage) }))

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: path,
		ContractName:  "Foo",
	})

	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, chains.MatchFull, result.MatchType)
	assert.Equal(t, "contracts/A.sol", result.SourcePath)
	assert.Equal(t, "mock", result.Source)
	assert.Equal(t, len(code), result.OnChainLength)
	assert.Nil(t, result.Mismatch)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, []Stage{StageFetch, StageExtract, StageCompare}, stages)
}

func TestVerify_MismatchReportsLengths(t *testing.T) {
	tail := strings.Repeat("e", 86)
	path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"A.sol", "Foo", "11223344"}))

	svc := NewService(&mockSource{code: "1122334" + tail}, testLogger())

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: path,
		ContractName:  "Foo",
	})

	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.Equal(t, chains.MatchNone, result.MatchType)
	assert.Equal(t, 93, result.OnChainLength)
	assert.Equal(t, 8, result.LocalLength)
	require.NotNil(t, result.Mismatch)
	assert.Equal(t, 0, result.Mismatch.Offset)
	assert.Equal(t, "11223344", result.Mismatch.Local)
}

func TestVerify_IgnoreMetadata(t *testing.T) {
	body := strings.Repeat("60", 100)
	localTrailer := strings.Repeat("a", 86)
	onChainTrailer := strings.Repeat("b", 86)
	path := writeFile(t, buildInfoJSON("0.5.8", [3]string{"A.sol", "Foo", body + localTrailer}))

	var stages []Stage
	svc := NewService(&mockSource{code: body + onChainTrailer}, testLogger(),
		WithProgress(func(stage Stage, msg string) { stages = append(stages, stage) }))

	req := VerifyRequest{
		Address:        testAddress,
		BuildInfoPath:  path,
		ContractName:   "Foo",
		IgnoreMetadata: true,
	}

	result, err := svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, chains.MatchPartial, result.MatchType)
	assert.Equal(t, len(body), result.OnChainLength)
	assert.Empty(t, result.Warnings)
	assert.Contains(t, stages, StageNormalize)

	// Same inputs without stripping do not match
	req.IgnoreMetadata = false
	result, err = svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Match)
	require.NotNil(t, result.Mismatch)
	assert.Equal(t, 200, result.Mismatch.Offset)
}

func TestVerify_IgnoreMetadataWarnsForNewerSolc(t *testing.T) {
	code := strings.Repeat("60", 100)
	path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"A.sol", "Foo", code}))

	svc := NewService(&mockSource{code: code}, testLogger())
	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:        testAddress,
		BuildInfoPath:  path,
		ContractName:   "Foo",
		IgnoreMetadata: true,
	})

	require.NoError(t, err)
	assert.True(t, result.Match)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "solc 0.8.20")
}

func TestVerify_DuplicateContractWarns(t *testing.T) {
	path := writeFile(t, buildInfoJSON("0.8.20",
		[3]string{"b/Escrow.sol", "Escrow", "aa"},
		[3]string{"a/Escrow.sol", "Escrow", "bb"},
	))

	svc := NewService(&mockSource{code: "aa"}, testLogger())
	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: path,
		ContractName:  "Escrow",
	})

	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, "b/Escrow.sol", result.SourcePath)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "a/Escrow.sol")
}

func TestVerify_EmptyOnChainCodeWarns(t *testing.T) {
	path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"A.sol", "Foo", "6080"}))

	svc := NewService(&mockSource{code: ""}, testLogger())
	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: path,
		ContractName:  "Foo",
	})

	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.Equal(t, 0, result.OnChainLength)
	assert.Contains(t, strings.Join(result.Warnings, "\n"), "no code deployed")
}

func TestVerify_FetchError(t *testing.T) {
	fetchErr := &explorer.FetchError{Address: testAddress, Payload: `{"status":"0"}`, Err: explorer.ErrNoResult}
	loaded := false
	svc := NewService(&mockSource{err: fetchErr}, testLogger(),
		WithBuildInfoLoader(func(path string) (*buildinfo.BuildInfo, error) {
			loaded = true
			return nil, errors.New("unreachable")
		}))

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: "unused.json",
		ContractName:  "Foo",
	})

	assert.Nil(t, result)
	var target *explorer.FetchError
	require.True(t, errors.As(err, &target))
	assert.Contains(t, err.Error(), `{"status":"0"}`)
	assert.False(t, loaded, "build-info must not be read after a failed fetch")
}

func TestVerify_ArtifactErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		svc := NewService(&mockSource{code: "6080"}, testLogger())
		_, err := svc.Verify(context.Background(), VerifyRequest{
			Address:       testAddress,
			BuildInfoPath: filepath.Join(t.TempDir(), "missing.json"),
			ContractName:  "Foo",
		})

		var parseErr *buildinfo.ArtifactParseError
		require.True(t, errors.As(err, &parseErr))
	})

	t.Run("contract not found", func(t *testing.T) {
		path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"A.sol", "Foo", "6080"}))
		svc := NewService(&mockSource{code: "6080"}, testLogger())
		_, err := svc.Verify(context.Background(), VerifyRequest{
			Address:       testAddress,
			BuildInfoPath: path,
			ContractName:  "Bar",
		})

		var notFound *buildinfo.ContractNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "Bar", notFound.Contract)
	})
}

// proxySource serves code per address and EIP-1967 slot contents per proxy
type proxySource struct {
	mockSource
	codes   map[string]string
	slots   map[string]string
	fetched []string
}

func (p *proxySource) GetDeployedBytecode(ctx context.Context, address string) (string, error) {
	p.fetched = append(p.fetched, address)
	return p.codes[address], nil
}

func (p *proxySource) GetStorageAt(ctx context.Context, address, slot string) (string, error) {
	return p.slots[address], nil
}

func TestVerify_ResolveProxy(t *testing.T) {
	const impl = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	code := "608060405234801561001057600080fd5b50"
	path := writeFile(t, buildInfoJSON("0.8.20", [3]string{"contracts/Escrow.sol", "Escrow", code}))

	src := &proxySource{
		codes: map[string]string{
			testAddress: "363d3d373d3d3d363d73", // proxy forwarding code
			impl:        code,
		},
		slots: map[string]string{
			testAddress: strings.Repeat("0", 24) + strings.ToLower(impl[2:]),
		},
	}

	var stages []Stage
	svc := NewService(src, testLogger(),
		WithProgress(func(stage Stage, msg string) { stages = append(stages, stage) }))

	result, err := svc.Verify(context.Background(), VerifyRequest{
		Address:       testAddress,
		BuildInfoPath: path,
		ContractName:  "Escrow",
		ResolveProxy:  true,
	})

	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, impl, result.Address)
	assert.Equal(t, testAddress, result.ProxyAddress)
	assert.Equal(t, []string{impl}, src.fetched)
	assert.Equal(t, []Stage{StageResolve, StageFetch, StageExtract, StageCompare}, stages)
}

func TestVerify_ResolveProxyNotAProxy(t *testing.T) {
	src := &proxySource{slots: map[string]string{testAddress: strings.Repeat("0", 64)}}
	svc := NewService(src, testLogger())

	_, err := svc.Verify(context.Background(), VerifyRequest{
		Address:      testAddress,
		ContractName: "Escrow",
		ResolveProxy: true,
	})

	assert.True(t, errors.Is(err, evm.ErrNotProxy), "got %v", err)
	assert.Empty(t, src.fetched)
}

func TestVerify_ResolveProxyUnsupportedSource(t *testing.T) {
	src := &mockSource{}
	svc := NewService(src, testLogger())

	_, err := svc.Verify(context.Background(), VerifyRequest{
		Address:      testAddress,
		ContractName: "Escrow",
		ResolveProxy: true,
	})

	assert.True(t, errors.Is(err, ErrProxyUnsupported))
	assert.Zero(t, src.calls)
}
