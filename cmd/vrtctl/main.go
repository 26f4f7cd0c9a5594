package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/report"
	"example.com/vrtgate/internal/rules"
	"example.com/vrtgate/internal/vrt"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "demo":
		demoCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	case "validate":
		validateCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	case "build":
		buildCmd(os.Args[2:])
	case "pcap":
		pcapCmd(os.Args[2:])
	case "spectrum":
		spectrumCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "rulepack":
		rulepackCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`vrtctl %s (built %s) <command> [options]

Commands:
  demo      <file>   print the stream ID of one signal data packet
  inspect   --in <file.vrt> [--format text|yaml] [--limit <n>]
  validate  --in <file.vrt> [--rules <rulepack.json> | --rulepack <id[@version]>] [--out <diagnostics.jsonl>] [--acceptance <acceptance.json>] [--metrics-textfile <file.prom>]
  report    --in <file.vrt> --acceptance <acceptance.json> --pdf <report.pdf>
  batch     --in <dir> --out-dir <dir> [--rules <rulepack.json>]
  build     --in <description.yaml> --out <file.vrt>
  pcap      --in <capture.pcap> --out <file.vrt> [--port <udp port>]
  spectrum  --in <file.vrt> [--window hann] [--stream <id>] [--rate <Hz>]
  manifest  --out <manifest.json> <file>...
  rulepack  <install|list|remove|set-default> [...]

Every command accepts --config <vrtctl.yaml>.
`, version, buildDate)
}

type validateOptions struct {
	In                string
	DiagOut           string
	AcceptanceOut     string
	MetricsTextfile   string
	Request           rules.RulePackRequest
	IncludeTimestamps bool
	Progress          bool
}

// runValidate scans the file, evaluates the rule pack and writes the
// diagnostics and acceptance outputs.
func runValidate(opts validateOptions) (rules.AcceptanceReport, *common.Metrics, error) {
	var rep rules.AcceptanceReport
	rp, source, err := rules.ResolveRulePack(opts.Request)
	if err != nil {
		return rep, nil, fmt.Errorf("resolve rulepack: %w", err)
	}
	if source.FromRepository {
		common.Logf("using rule pack %s (profile %s)", source.Ref, rp.Profile)
	}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	engine.SetConfigValue("diag.include_timestamps", opts.IncludeTimestamps)

	metrics := common.NewMetrics()
	var prom *common.PromCollectors
	if opts.MetricsTextfile != "" {
		prom = common.NewPromCollectors()
		metrics.AttachPrometheus(prom)
	}
	ctx := &rules.Context{InputFile: opts.In, Metrics: metrics}
	metrics.Start()
	var stopProgress func()
	if opts.Progress {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}
	_, err = engine.Eval(ctx)
	if stopProgress != nil {
		stopProgress()
	}
	metrics.Stop()
	if err != nil {
		return rep, metrics, fmt.Errorf("eval: %w", err)
	}
	if opts.DiagOut != "" {
		if err := engine.WriteDiagnosticsNDJSON(opts.DiagOut); err != nil {
			return rep, metrics, fmt.Errorf("write diags: %w", err)
		}
	}
	rep = engine.MakeAcceptance()
	if opts.AcceptanceOut != "" {
		if err := report.SaveAcceptanceJSON(rep, opts.AcceptanceOut); err != nil {
			return rep, metrics, fmt.Errorf("write report: %w", err)
		}
	}
	if prom != nil {
		if err := prom.WriteTextfile(opts.MetricsTextfile); err != nil {
			return rep, metrics, fmt.Errorf("write metrics: %w", err)
		}
	}
	return rep, metrics, nil
}

func openRepository(cfg config) (*rules.Repository, error) {
	if cfg.Rules.Repository != "" {
		return rules.OpenRepository(cfg.Rules.Repository)
	}
	return rules.DefaultRepository()
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "input .vrt")
	rulesPath := fs.String("rules", "", "rulepack.json")
	rulePack := fs.String("rulepack", "", "installed rule pack id[@version]")
	profile := fs.String("profile", "", "profile used to pick the default rule pack")
	outDiag := fs.String("out", "diagnostics.jsonl", "diagnostics output")
	outAcc := fs.String("acceptance", "acceptance_report.json", "acceptance json")
	includeTimestamps := fs.Bool("diag-include-timestamps", true, "include timestamp metadata in diagnostics output")
	textfile := fs.String("metrics-textfile", "", "write Prometheus metrics in textfile format")
	metricsFlag := fs.Bool("metrics", false, "print scan throughput metrics")
	progressFlag := fs.Bool("progress", false, "display scan progress updates")
	fs.Parse(args)
	cfg := mustSetup(*configPath)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if *rulesPath != "" && *rulePack != "" {
		fmt.Println("--rules and --rulepack cannot be used together")
		os.Exit(1)
	}
	req := rules.RulePackRequest{Path: *rulesPath, Ref: *rulePack, Profile: *profile}
	if req.Path == "" && req.Ref == "" {
		req.Path, req.Ref = cfg.Rules.Path, cfg.Rules.RulePack
	}
	if req.Profile == "" {
		req.Profile = cfg.Rules.Profile
	}
	if req.Path == "" {
		repo, err := openRepository(cfg)
		if err != nil {
			fmt.Println("open repository:", err)
			os.Exit(1)
		}
		req.Repo = repo
	}
	opts := validateOptions{
		In:                *in,
		DiagOut:           *outDiag,
		AcceptanceOut:     *outAcc,
		MetricsTextfile:   *textfile,
		Request:           req,
		IncludeTimestamps: *includeTimestamps,
		Progress:          *progressFlag,
	}
	if opts.MetricsTextfile == "" {
		opts.MetricsTextfile = cfg.MetricsTextfile
	}
	if cfg.IncludeTimestamps != nil && !flagSet(fs, "diag-include-timestamps") {
		opts.IncludeTimestamps = *cfg.IncludeTimestamps
	}

	rep, metrics, err := runValidate(opts)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("PASS=%v, errors=%d, warnings=%d, diagnostics=%d\n", rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, rep.Summary.Total)
	if *metricsFlag {
		snap := metrics.Snapshot()
		mbPerSec := snap.ThroughputBytesPerSecond() / 1_000_000
		fmt.Printf("Metrics: duration=%s packets=%d decode_errors=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Packets,
			snap.DecodeErrors,
			common.FormatBytes(snap.Bytes),
			mbPerSec,
		)
	}
}

func flagSet(flags *flag.FlagSet, name string) bool {
	found := false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "scanned .vrt file")
	accPath := fs.String("acceptance", "", "acceptance_report.json")
	pdfPath := fs.String("pdf", "acceptance_report.pdf", "output acceptance report PDF")
	fs.Parse(args)
	mustSetup(*configPath)

	if *in == "" || *accPath == "" {
		fmt.Println("required: --in and --acceptance")
		os.Exit(1)
	}
	if err := writeReport(*in, *accPath, *pdfPath); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("Wrote PDF:", *pdfPath)
}

func writeReport(in, accPath, pdfPath string) error {
	rep, err := report.LoadAcceptanceJSON(accPath)
	if err != nil {
		return fmt.Errorf("load acceptance: %w", err)
	}
	metrics := common.NewMetrics()
	metrics.Start()
	r, err := vrt.NewReader(in)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	r.SetMetrics(metrics)
	for {
		if _, _, err := r.Next(); err != nil {
			// The acceptance report already carries any decode failure.
			break
		}
	}
	idx := r.Index()
	r.Close()
	metrics.Stop()
	summary, err := report.SummarizeFile(in, idx, metrics.Snapshot())
	if err != nil {
		return fmt.Errorf("summarize capture: %w", err)
	}
	if err := report.SaveAcceptancePDF(summary, rep, pdfPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func batchCmd(args []string) {
	flags := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := flags.String("config", "", "YAML configuration file")
	inDir := flags.String("in", ".", "input directory")
	rulesPath := flags.String("rules", "", "rulepack.json")
	outDir := flags.String("out-dir", "out", "results directory")
	flags.Parse(args)
	cfg := mustSetup(*configPath)

	req := rules.RulePackRequest{Path: *rulesPath, Profile: cfg.Rules.Profile}
	if req.Path == "" {
		req.Path = cfg.Rules.Path
	}
	var inputs []string
	err := filepath.WalkDir(*inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".vrt") {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		fmt.Println("walk inputs:", err)
		os.Exit(1)
	}
	failed := 0
	for _, in := range inputs {
		name := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		dir := filepath.Join(*outDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Println("create output dir:", err)
			os.Exit(1)
		}
		rep, _, err := runValidate(validateOptions{
			In:                in,
			DiagOut:           filepath.Join(dir, "diagnostics.jsonl"),
			AcceptanceOut:     filepath.Join(dir, "acceptance.json"),
			Request:           req,
			IncludeTimestamps: true,
		})
		if err != nil {
			fmt.Printf("%s: %v\n", in, err)
			failed++
			continue
		}
		fmt.Printf("%s: PASS=%v errors=%d warnings=%d\n", in, rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings)
	}
	fmt.Printf("Validated %d files, %d failed\n", len(inputs), failed)
}

func rulepackCmd(args []string) {
	if len(args) == 0 {
		rulepackUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "install":
		rulepackInstallCmd(args[1:])
	case "list":
		rulepackListCmd(args[1:])
	case "remove":
		rulepackRemoveCmd(args[1:])
	case "set-default":
		rulepackSetDefaultCmd(args[1:])
	default:
		fmt.Println("unknown rulepack subcommand")
		rulepackUsage()
		os.Exit(1)
	}
}

func rulepackUsage() {
	fmt.Println("rulepack commands:")
	fmt.Println("  install --file <rulepack.json | package.rpkg.zip>")
	fmt.Println("  list")
	fmt.Println("  remove --ref <id@version>")
	fmt.Println("  set-default --profile <profile> --ref <id@version>")
}

func mustRepository(configPath string) *rules.Repository {
	cfg := mustSetup(configPath)
	repo, err := openRepository(cfg)
	if err != nil {
		fmt.Println("open repository:", err)
		os.Exit(1)
	}
	return repo
}

func mustRef(s string) rules.RulePackRef {
	ref, err := rules.ParseRulePackRef(s)
	if err != nil || ref.Version == "" {
		fmt.Println("required: --ref <id@version>")
		os.Exit(1)
	}
	return ref
}

func rulepackInstallCmd(args []string) {
	fs := flag.NewFlagSet("rulepack install", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	file := fs.String("file", "", "rule pack JSON or .zip package")
	fs.Parse(args)
	if *file == "" {
		fmt.Println("required: --file")
		os.Exit(1)
	}
	installed, err := mustRepository(*configPath).Install(*file)
	if err != nil {
		fmt.Println("install rule pack:", err)
		os.Exit(1)
	}
	fmt.Printf("Installed %s@%s (profile %s)\n", installed.RulePack.RulePackId, installed.RulePack.Version, installed.RulePack.Profile)
}

func rulepackListCmd(args []string) {
	fs := flag.NewFlagSet("rulepack list", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.Parse(args)
	repo := mustRepository(*configPath)
	entries, err := repo.ListInstalled()
	if err != nil {
		fmt.Println("list rule packs:", err)
		os.Exit(1)
	}
	defaults, err := repo.Defaults()
	if err != nil {
		fmt.Println("load defaults:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No rule packs installed")
		return
	}
	byKey := make(map[string][]string)
	for profile, ref := range defaults {
		byKey[ref.String()] = append(byKey[ref.String()], profile)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tPROFILE\tRULES\tDEFAULT FOR")
	for _, entry := range entries {
		key := entry.RulePack.RulePackId + "@" + entry.RulePack.Version
		profiles := byKey[key]
		sort.Strings(profiles)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			entry.RulePack.RulePackId,
			entry.RulePack.Version,
			entry.RulePack.Profile,
			len(entry.RulePack.Rules),
			strings.Join(profiles, ","),
		)
	}
	w.Flush()
}

func rulepackRemoveCmd(args []string) {
	fs := flag.NewFlagSet("rulepack remove", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	refFlag := fs.String("ref", "", "rule pack id@version")
	fs.Parse(args)
	ref := mustRef(*refFlag)
	if err := mustRepository(*configPath).Remove(ref); err != nil {
		fmt.Println("remove rule pack:", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %s\n", ref)
}

func rulepackSetDefaultCmd(args []string) {
	fs := flag.NewFlagSet("rulepack set-default", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	profile := fs.String("profile", "vita49.2", "profile")
	refFlag := fs.String("ref", "", "rule pack id@version")
	fs.Parse(args)
	ref := mustRef(*refFlag)
	repo := mustRepository(*configPath)
	if _, err := repo.Load(ref); err != nil {
		fmt.Println("load rule pack:", err)
		os.Exit(1)
	}
	if err := repo.SetDefaultForProfile(*profile, ref); err != nil {
		fmt.Println("set default:", err)
		os.Exit(1)
	}
	fmt.Printf("Default for %s: %s\n", *profile, ref)
}
