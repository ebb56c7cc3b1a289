package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/kustodia/verify-bytecode/internal/chains"
	"github.com/kustodia/verify-bytecode/internal/verification/domain"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
	formatYAML format = "yaml"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

func parseFormat(s string) (format, error) {
	switch f := format(strings.ToLower(strings.TrimSpace(s))); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	case "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

func writeReport(w io.Writer, f format, result *domain.VerifyResult) error {
	switch f {
	case formatJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	default:
		return writeTextReport(w, result)
	}
}

func writeTextReport(w io.Writer, result *domain.VerifyResult) error {
	var b strings.Builder

	if result.Match {
		kind := "Full match"
		if result.MatchType == chains.MatchPartial {
			kind = "Partial match (metadata ignored)"
		}
		fmt.Fprintf(&b, "%s - %s\n", okColor("✅ VERIFIED"), kind)
		fmt.Fprintf(&b, "   Length: %d hex chars\n", result.OnChainLength)
	} else {
		fmt.Fprintf(&b, "%s\n", failColor("❌ NOT VERIFIED"))
		fmt.Fprintf(&b, "   On-chain length: %d\n", result.OnChainLength)
		fmt.Fprintf(&b, "   Local length:    %d\n", result.LocalLength)
		if m := result.Mismatch; m != nil {
			fmt.Fprintf(&b, "\n   First difference at offset %d:\n", m.Offset)
			fmt.Fprintf(&b, "   On-chain: %s\n", m.OnChain)
			fmt.Fprintf(&b, "   Local:    %s\n", m.Local)
		}
	}

	if result.ProxyAddress != "" {
		fmt.Fprintf(&b, "   Proxy:           %s -> %s\n", result.ProxyAddress, result.Address)
	}

	if len(result.Warnings) > 0 {
		b.WriteString("\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(&b, "%s %s\n", warnColor("⚠️  warning:"), warning)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", dimColor(fmt.Sprintf("run %s, %s", result.RunID, result.Duration.Round(time.Millisecond))))

	_, err := io.WriteString(w, b.String())
	return err
}
