package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/manningwu07/namer/extract"
	"github.com/manningwu07/namer/params"
	"github.com/manningwu07/namer/registry"
	"github.com/manningwu07/namer/runs"
	"github.com/manningwu07/namer/server"
	slogmulti "github.com/samber/slog-multi"
)

var (
	configPath    string
	dataDir       string
	vocabPath     string
	tokenizerPath string
	runDir        string
	envFile       string
	inputDir      string
	outputDir     string
	bodyLength    int
	nameLength    int
	numFiles      int

	trainFlag    bool
	evaluateFlag bool
	serveFlag    bool
	cliFlag      bool
	extractFlag  bool
	runsFlag     bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Hyperparameter YAML/JSON file")
	flag.StringVar(&dataDir, "data", "data", "Directory holding {train,valid,test}_{body,name} shards")
	flag.StringVar(&vocabPath, "vocab", "", "vocab.json to use (default <data>/vocab.json)")
	flag.StringVar(&tokenizerPath, "tokenizer", "", "tokenizer.json to build the vocabulary from")
	flag.StringVar(&runDir, "run", "", "Run directory to evaluate or serve")
	flag.StringVar(&envFile, "env", "", "Optional .env file")
	flag.StringVar(&inputDir, "input", "", "Input directory of .java files (-extract)")
	flag.StringVar(&outputDir, "output", "", "Output directory for feature files (-extract)")
	flag.IntVar(&bodyLength, "body-len", 0, "Pad/truncate bodies to this many tokens (0 keeps them)")
	flag.IntVar(&nameLength, "name-len", 0, "Pad/truncate names to this many tokens (0 keeps them)")
	flag.IntVar(&numFiles, "num", 0, "Convert at most this many files (-extract, 0 = all)")

	flag.BoolVar(&trainFlag, "train", false, "Train a model from -config, then evaluate it on the test split")
	flag.BoolVar(&evaluateFlag, "evaluate", false, "Evaluate the run in -run on the test split")
	flag.BoolVar(&serveFlag, "serve", false, "Serve predictions from the run in -run")
	flag.BoolVar(&cliFlag, "cli", false, "Run PredictCLI against a prediction server")
	flag.BoolVar(&extractFlag, "extract", false, "Convert .java files to feature files")
	flag.BoolVar(&runsFlag, "runs", false, "List registered runs")
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := params.LoadEnv(envFile)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(env.SlogLevel(), nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case extractFlag:
		job := &extract.Job{InputDir: inputDir, OutputDir: outputDir, Limit: numFiles, Workers: env.EvalWorkers}
		summary, err := job.Run(ctx)
		if err != nil {
			return err
		}
		for _, f := range summary.Failures {
			slog.Warn("failed to extract", "path", f.Path, "error", f.Err)
		}
		return nil

	case trainFlag:
		hp, err := params.Load(configPath)
		if err != nil {
			return err
		}
		vocab, err := loadVocabulary(dataDir, vocabPath, tokenizerPath)
		if err != nil {
			return err
		}
		p := newPipeline(env)
		_, err = p.train(ctx, hp, shardPreprocessors(vocab))
		return err

	case evaluateFlag:
		dir, err := runs.Open(runDir)
		if err != nil {
			return err
		}
		return newPipeline(env).evaluateDirectory(ctx, dir, dataDir)

	case serveFlag:
		dir, err := runs.Open(runDir)
		if err != nil {
			return err
		}
		m, err := dir.LoadModel()
		if err != nil {
			return err
		}
		s := server.New(m, nil)
		addr := fmt.Sprintf(":%d", env.ServerPort)
		slog.Info("starting server", "addr", addr, "run", dir.Path)
		srv := &http.Server{Addr: addr, Handler: s.Routes()}
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case cliFlag:
		fmt.Printf("Starting CLI… (make sure the prediction server is running at %s)\n", env.ServerURL)
		return PredictCLI(env.ServerURL, os.Stdin, os.Stdout)

	case runsFlag:
		reg, err := registry.Open(registryPath(env))
		if err != nil {
			return err
		}
		all, err := reg.List("")
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tMODEL\tRUN\tSTATUS\tBEST EPOCH\tVAL ACC\tTEST F1\tDIRECTORY")
		for _, r := range all {
			f1 := "-"
			if r.TestF1 != nil {
				f1 = fmt.Sprintf("%.4f", *r.TestF1)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.4f\t%s\t%s\n",
				r.ID, r.ModelType, r.RunName, r.Status, r.BestEpoch, r.BestValAccuracy, f1, r.Directory)
		}
		return tw.Flush()
	}

	fmt.Println("No flag passed. Use -train, -evaluate, -serve, -cli, -extract or -runs.")
	return nil
}

// newLogger writes text to stderr and, when runLog is set, JSON lines to the
// run's log file.
func newLogger(level slog.Level, runLog io.Writer) *slog.Logger {
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	if runLog == nil {
		return slog.New(textHandler)
	}
	jsonHandler := slog.NewJSONHandler(runLog, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(jsonHandler, textHandler))
}

func registryPath(env *params.Env) string {
	if env.RegistryPath != "" {
		return env.RegistryPath
	}
	return filepath.Join(env.ModelsDir, "runs.db")
}
