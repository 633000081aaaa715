package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"example.com/paramgate/internal/common"
	"example.com/paramgate/internal/params"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type command func(ctx context.Context, w io.Writer, args []string) error

var commands = map[string]command{
	"validate": validateCmd,
	"show":     showCmd,
	"set":      setCmd,
	"reset":    resetCmd,
	"export":   exportCmd,
	"report":   reportCmd,
	"batch":    batchCmd,
	"undo":     undoCmd,
	"schema":   schemaCmd,

	"manifest":         manifestCmd,
	"verify-signature": verifySignatureCmd,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(1)
	}
	closer, err := setupLogging(os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup logging:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, os.Stdout, os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		pterm.Error.Println(err)
		closer.Close()
		os.Exit(1)
	}
}

// setupLogging routes the package logger through the rotating file named in
// the configuration, when there is one. Command flags are parsed again by
// the command itself.
func setupLogging(args []string) (io.Closer, error) {
	fs := flag.NewFlagSet("logging", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", "", "")
	_ = fs.Parse(filterConfigFlag(args))
	path, explicit := defaultConfigName, false
	if *cfgPath != "" {
		path, explicit = *cfgPath, true
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return nil, err
	}
	return common.SetupLogging(cfg.Logs)
}

// filterConfigFlag keeps only --config from args so the logging flag set
// does not trip over the command's own flags.
func filterConfigFlag(args []string) []string {
	for i, a := range args {
		switch a {
		case "-config", "--config":
			if i+1 < len(args) {
				return []string{a, args[i+1]}
			}
		}
		if strings.HasPrefix(a, "-config=") || strings.HasPrefix(a, "--config=") {
			return []string{a}
		}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

func usage() {
	fmt.Printf(`paramctl %s (built %s) <command> [options]

Common options: --config <paramctl.yaml> --schema <schema.yaml|.xml> [--rules <rules.yaml>]
                [--mode auto|binary|text|embedded] [--start-marker X --end-marker Y] [--cache-dir D]

Commands:
  validate  --in <file> --out <diagnostics.jsonl> --acceptance <acceptance.json> [--metrics] [--progress]
  show      --in <file> [--group A/B] [--search q] [--category c] [--status s] [--sorted] [--diags]
  set       --in <file> --param NAME=VALUE [--param ...] --out <file> [--format f] [--audit <audit.jsonl>]
  reset     --in <file> --param NAME[,NAME] --out <file> [--audit <audit.jsonl>]
  export    --in <file> --out <file> [--format text|csv|qgc|binary|embedded] [--search q] [--category c] [--sorted]
  report    --in <file> [--json <report.json>] [--pdf <report.pdf>]
  batch     --in <dir> --out-dir <dir> [--concurrency N]
  undo      --in <file> --audit <audit.jsonl> --out <file>
  schema    [--group A/B]
  manifest  --inputs a,b --out <manifest.json> [--sign --key <key.pem> [--key-id K] [--cert <cert.pem>] [--jws-out F]]
  verify-signature --manifest <manifest.json> [--jws F] --key <key.pem>|--cert <cert.pem>

Categories: %s
`, version, buildDate, categoryKeys())
}

func categoryKeys() string {
	var keys []string
	for _, c := range params.Categories() {
		keys = append(keys, c.String())
	}
	return strings.Join(keys, ", ")
}
