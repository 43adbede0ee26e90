// Command pet manages corpora and models for process model extraction.
//
// Import a PET corpus and train every configured model on it:
//
//	go run ./cmd/pet import -format pet ./data/pet.jsonl
//	go run ./cmd/pet train -model average
//
// Annotate a requirements document:
//
//	go run ./cmd/pet annotate -option GoodAI -file ./docs/process.pdf
//
// Sweep the training corpus size for the mention step:
//
//	go run ./cmd/pet eval -train ./data/fold1/train.json \
//	  -test ./data/fold1/test.json -stage mentions -step 4 -max 36
//
// Show the stored corpora, model states and the last runs:
//
//	go run ./cmd/pet status -n 5
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/brunobiangulo/petnlp"
	"github.com/brunobiangulo/petnlp/document"
	"github.com/brunobiangulo/petnlp/eval"
	"github.com/brunobiangulo/petnlp/parser"
	"github.com/brunobiangulo/petnlp/results"
	"github.com/brunobiangulo/petnlp/schema"
	"github.com/brunobiangulo/petnlp/store"
)

const usage = `usage: pet <command> [flags]

commands:
  import    store annotated documents in the training corpus
  train     train a model on the stored corpus or a file
  eval      sweep the training corpus size and report F1 per step
  annotate  annotate text or a txt/pdf file
  convert   convert documents between the pet and revised formats
  status    show stored corpora, models and recent runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "import":
		err = runImport(ctx, args)
	case "train":
		err = runTrain(ctx, args)
	case "eval":
		err = runEval(ctx, args)
	case "annotate":
		err = runAnnotate(ctx, args)
	case "convert":
		err = runConvert(args)
	case "status":
		err = runStatus(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("pet: failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by the engine commands.
type commonFlags struct {
	config  *string
	verbose *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", "", "Path to config file (YAML or JSON)"),
		verbose: fs.Bool("v", false, "Verbose (debug) logging"),
	}
}

// setupLogging installs a text handler on stderr.
func (c commonFlags) setupLogging() {
	level := slog.LevelInfo
	if *c.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func (c commonFlags) loadConfig() (petnlp.Config, error) {
	if *c.config == "" {
		return petnlp.DefaultConfig(), nil
	}
	return petnlp.LoadConfig(*c.config)
}

func (c commonFlags) openEngine() (petnlp.Engine, petnlp.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	engine, err := petnlp.New(cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("creating engine: %w", err)
	}
	return engine, cfg, nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	common := addCommonFlags(fs)
	format := fs.String("format", string(schema.FormatPET), "Input format: pet or revised")
	corpus := fs.String("corpus", "", "Corpus name (default: from config)")
	replace := fs.Bool("replace", false, "Delete the corpus before importing")
	fs.Parse(args)
	common.setupLogging()

	if fs.NArg() == 0 {
		return errors.New("import: no input files")
	}
	f, err := schema.ParseFormat(*format)
	if err != nil {
		return err
	}

	engine, cfg, err := common.openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()
	if *corpus == "" {
		*corpus = cfg.Corpus
	}
	if *replace {
		n, err := engine.Store().DeleteCorpus(ctx, *corpus)
		if err != nil {
			return fmt.Errorf("clearing corpus %s: %w", *corpus, err)
		}
		slog.Info("import: corpus cleared", "corpus", *corpus, "deleted", n)
	}

	for _, path := range fs.Args() {
		docs, err := schema.ReadFile(path, f)
		if err != nil {
			return err
		}
		docs, err = petnlp.PrepareDocuments(docs)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		added, err := engine.Store().AddDocuments(ctx, *corpus, docs)
		if err != nil {
			return fmt.Errorf("storing %s: %w", path, err)
		}
		slog.Info("import: file stored", "path", path, "documents", len(docs), "added", added, "corpus", *corpus)
	}

	total, err := engine.Store().CountDocuments(ctx, *corpus)
	if err != nil {
		return err
	}
	fmt.Printf("corpus %s: %d documents\n", *corpus, total)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	common := addCommonFlags(fs)
	model := fs.String("model", "", "Model to train (default: all configured models)")
	file := fs.String("file", "", "Train on this file instead of the stored corpus")
	format := fs.String("format", string(schema.FormatPET), "Format of -file: pet or revised")
	fs.Parse(args)
	common.setupLogging()

	engine, cfg, err := common.openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	var docs []*document.Document
	if *file != "" {
		f, err := schema.ParseFormat(*format)
		if err != nil {
			return err
		}
		if docs, err = schema.ReadFile(*file, f); err != nil {
			return err
		}
	} else if docs, err = engine.ListDocuments(ctx, 0); err != nil {
		return err
	}

	names := cfg.ModelNames()
	if *model != "" {
		names = []string{petnlp.ModelForOption(*model)}
	}
	for _, name := range names {
		subset := docs
		if mc, ok := cfg.Models[name]; ok && mc.TrainDocs > 0 && mc.TrainDocs < len(docs) {
			subset = docs[:mc.TrainDocs]
		}
		start := time.Now()
		if err := engine.Train(ctx, name, subset); err != nil {
			return fmt.Errorf("training %s: %w", name, err)
		}
		fmt.Printf("trained %s on %d documents in %s\n", name, len(subset), time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	common := addCommonFlags(fs)
	trainPath := fs.String("train", "", "Training documents")
	testPath := fs.String("test", "", "Test documents")
	format := fs.String("format", string(schema.FormatPET), "Input format: pet or revised")
	stage := fs.String("stage", stageFull, "Pipeline to sweep: mentions, relations or full")
	step := fs.Int("step", 4, "Training size increment")
	maxDocs := fs.Int("max", 36, "Largest training size (0 = all training documents)")
	outDir := fs.String("out", "", "Run directory (default: evals/runs/<timestamp>)")
	runsPath := fs.String("runs", "f1_scores.json", "JSON file collecting the F1 series of every run")
	runID := fs.String("id", "", "Run id in the -runs file (default: the stage and timestamp)")
	fs.Parse(args)

	if *trainPath == "" || *testPath == "" {
		return errors.New("eval: -train and -test are required")
	}
	f, err := schema.ParseFormat(*format)
	if err != nil {
		return err
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}

	runDir := *outDir
	if runDir == "" {
		runDir = createRunDir()
	} else if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	logFile := setupLogTee(runDir, *common.verbose)
	defer logFile.Close()

	train, err := schema.ReadFile(*trainPath, f)
	if err != nil {
		return err
	}
	test, err := schema.ReadFile(*testPath, f)
	if err != nil {
		return err
	}
	sizes, err := sweepSizes(*step, *maxDocs, len(train))
	if err != nil {
		return err
	}
	if *runID == "" {
		*runID = *stage + "_" + filepath.Base(runDir)
	}

	writeJSON(filepath.Join(runDir, "metadata.json"), map[string]any{
		"run_id":     *runID,
		"stage":      *stage,
		"train":      *trainPath,
		"test":       *testPath,
		"train_docs": len(train),
		"test_docs":  len(test),
		"sizes":      sizes,
		"config":     cfg,
		"git_commit": gitCommit(),
		"go_version": runtime.Version(),
		"started_at": time.Now().Format(time.RFC3339),
	})
	slog.Info("eval: starting sweep", "stage", *stage, "sizes", sizes, "test_docs", len(test), "run_dir", runDir)

	totalStart := time.Now()
	points, err := runSweep(ctx, cfg, *stage, train, test, sizes)
	if err != nil {
		return err
	}

	if err := writeFile(filepath.Join(runDir, "sweep.json"), func(w io.Writer) error { return eval.WriteSweepJSON(w, points) }); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(runDir, "sweep.xlsx"), func(w io.Writer) error { return eval.WriteSweepXLSX(w, points) }); err != nil {
		return err
	}
	run := runSeries(points)
	if err := results.AppendRun(*runsPath, *runID, run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	for _, p := range points {
		if p.TrainDocs == sizes[len(sizes)-1] {
			fmt.Printf("== %s, %d training documents ==\n%s\n", p.Step, p.TrainDocs, eval.FormatReport(p.Report))
		}
	}
	for i, n := range run.NumDocs {
		fmt.Printf("%4d docs  F1 %6.2f\n", n, run.F1Scores[i])
	}
	slog.Info("eval: complete", "run_id", *runID, "elapsed", time.Since(totalStart).Round(time.Second), "run_dir", runDir)
	return nil
}

func runAnnotate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	common := addCommonFlags(fs)
	model := fs.String("model", "", "Model name (default: from config)")
	option := fs.String("option", "", "Annotation option: NoAI, BadAI, AverageAI or GoodAI")
	file := fs.String("file", "", "Text or PDF file to annotate")
	text := fs.String("text", "", "Text to annotate")
	format := fs.String("format", string(schema.FormatRevised), "Output format: pet or revised")
	fs.Parse(args)
	common.setupLogging()

	f, err := schema.ParseFormat(*format)
	if err != nil {
		return err
	}

	input, name := *text, ""
	if *file != "" {
		parsed, err := parser.NewRegistry().ParseFile(ctx, *file)
		if err != nil {
			return err
		}
		input, name = parsed.Text(), filepath.Base(*file)
		slog.Debug("annotate: file parsed", "path", *file, "method", parsed.Method, "paragraphs", len(parsed.Paragraphs))
	}
	if strings.TrimSpace(input) == "" {
		return errors.New("annotate: -text or -file is required")
	}

	engine, _, err := common.openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := []petnlp.AnnotateOption{petnlp.WithDocumentName(name)}
	switch {
	case *model != "":
		opts = append(opts, petnlp.WithModel(*model))
	case *option != "":
		opts = append(opts, petnlp.WithModel(petnlp.ModelForOption(*option)))
	}
	doc, err := engine.Annotate(ctx, input, opts...)
	if err != nil {
		return err
	}
	return schema.Write(os.Stdout, f, []*document.Document{doc})
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	n := fs.Int("n", 10, "Number of recent runs to show")
	fs.Parse(args)
	common.setupLogging()

	engine, _, err := common.openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	st, err := engine.Status(ctx)
	if err != nil {
		return err
	}
	runs, err := engine.Runs(ctx, *n)
	if err != nil {
		return fmt.Errorf("reading run log: %w", err)
	}
	printStatus(os.Stdout, st, runs)
	return nil
}

// printStatus writes st and runs as plain text.
func printStatus(w io.Writer, st *petnlp.Status, runs []store.RunLog) {
	fmt.Fprintf(w, "schema version %d, default corpus %s\n", st.SchemaVersion, st.Corpus)
	fmt.Fprintf(w, "%d documents, %d model states, %d runs\n", st.Counts.Documents, st.Counts.Models, st.Counts.Runs)

	fmt.Fprintln(w, "\ncorpora:")
	for _, c := range st.Corpora {
		fmt.Fprintf(w, "  %-20s %d documents\n", c.Name, c.Documents)
	}
	fmt.Fprintln(w, "\nmodels:")
	for _, m := range st.StoredModels {
		fmt.Fprintf(w, "  %-28s %3d docs  %s\n", m.Name, m.NumDocs, m.UpdatedAt)
	}
	fmt.Fprintln(w, "\nrecent runs:")
	for _, r := range runs {
		model := r.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "  %s  %-8s %-10s %3d docs  f1=%.3f  %dms\n", r.CreatedAt, r.Kind, model, r.NumDocs, r.F1, r.DurationMS)
	}
}

func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	from := fs.String("from", string(schema.FormatPET), "Input format: pet or revised")
	to := fs.String("to", string(schema.FormatRevised), "Output format: pet or revised")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return errors.New("convert: want <input> <output>")
	}
	in, err := schema.ParseFormat(*from)
	if err != nil {
		return err
	}
	out, err := schema.ParseFormat(*to)
	if err != nil {
		return err
	}
	n, err := convertFile(fs.Arg(0), fs.Arg(1), in, out)
	if err != nil {
		return err
	}
	fmt.Printf("converted %d documents\n", n)
	return nil
}

// convertFile rewrites the documents at src in format to. Mentions outside
// any entity get a singleton entity, which the revised format requires.
func convertFile(src, dst string, from, to schema.Format) (int, error) {
	docs, err := schema.ReadFile(src, from)
	if err != nil {
		return 0, err
	}
	if docs, err = petnlp.PrepareDocuments(docs); err != nil {
		return 0, err
	}
	if err := schema.WriteFile(dst, to, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// createRunDir creates a timestamped directory under evals/runs/.
func createRunDir() string {
	ts := time.Now().Format("2006-01-02_15-04-05")
	dir := filepath.Join("evals", "runs", ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("creating run directory: %v", err)
	}
	return dir
}

// setupLogTee configures slog to write to both stderr and eval.log in the run dir.
func setupLogTee(runDir string, verbose bool) *os.File {
	f, err := os.Create(filepath.Join(runDir, "eval.log"))
	if err != nil {
		log.Fatalf("creating log file: %v", err)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	w := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return f
}

// gitCommit returns the current git HEAD short hash, or "unknown".
func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// writeJSON marshals v to indented JSON and writes it to path.
func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}

// writeFile creates path and fills it with write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
