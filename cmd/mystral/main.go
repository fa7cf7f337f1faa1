// Command mystral is the runtime host's CLI entry point (spec.md §6): a
// single binary dispatching to "run" and "compile" subcommands, mirroring
// the teacher's own goop2 main.go (flag.Parse() followed by a switch on
// the first positional argument, the same signal.Notify+context-cancel
// shutdown, and a plain fmt.Println-based usage banner).
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mystral-run/mystral/internal/audioengine"
	"github.com/mystral-run/mystral/internal/bundle"
	"github.com/mystral-run/mystral/internal/config"
	"github.com/mystral-run/mystral/internal/debugchannel"
	"github.com/mystral-run/mystral/internal/engine"
	"github.com/mystral-run/mystral/internal/engine/luabackend"
	"github.com/mystral-run/mystral/internal/eventloop"
	"github.com/mystral-run/mystral/internal/gpucontext"
	"github.com/mystral-run/mystral/internal/host"
	"github.com/mystral-run/mystral/internal/hostlog"
	"github.com/mystral-run/mystral/internal/iodispatch"
	"github.com/mystral-run/mystral/internal/modsys"
	"github.com/mystral-run/mystral/internal/provenance"
	"github.com/mystral-run/mystral/internal/util"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z",
// matching the teacher's main.appVersion convention.
var appVersion = "dev"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 1
	}

	switch args[0] {
	case "--version":
		fmt.Printf("Mystral CLI v%s\n", appVersion)
		return 0
	case "--help", "-h":
		printUsage(os.Stdout)
		return 0
	case "run":
		return runCmd(args[1:])
	case "compile":
		return compileCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Mystral CLI — headless-capable WebGPU/DOM script runtime")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  mystral run <script> [flags]")
	fmt.Fprintln(w, "  mystral compile <entry> [flags]")
	fmt.Fprintln(w, "  mystral --version")
	fmt.Fprintln(w, "  mystral --help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "run flags:")
	fmt.Fprintln(w, "  --width N          drawable width (default 800)")
	fmt.Fprintln(w, "  --height N         drawable height (default 600)")
	fmt.Fprintln(w, "  --title S          window title (default \"Mystral\")")
	fmt.Fprintln(w, "  --headless         run without a visible window")
	fmt.Fprintln(w, "  --no-sdl           run with no window and no render target at all")
	fmt.Fprintln(w, "  --screenshot FILE  write a PNG screenshot when the --frames limit is reached")
	fmt.Fprintln(w, "  --frames N         quit after N frames have presented")
	fmt.Fprintln(w, "  --quiet            suppress the host's own diagnostic lines")
	fmt.Fprintln(w, "  --watch            reload the entry script on file change")
	fmt.Fprintln(w, "  --debug-port P     accept debug-channel connections on 127.0.0.1:P")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "compile flags:")
	fmt.Fprintln(w, "  --include DIR      embed an additional directory (repeatable)")
	fmt.Fprintln(w, "  --output FILE      path of the produced self-contained binary")
	fmt.Fprintln(w, "  --root DIR         project root bundle paths are recorded relative to")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  MYSTRAL_HEADLESS=1   equivalent to --headless")
	fmt.Fprintln(w, "  MYSTRAL_DEBUG=1      enables verbose logs")
}

// stringList backs the repeatable --include flag (flag.Value).
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runCmd(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	width := flags.Int("width", 800, "drawable width")
	height := flags.Int("height", 600, "drawable height")
	title := flags.String("title", "Mystral", "window title")
	headless := flags.Bool("headless", false, "run without a visible window")
	noSDL := flags.Bool("no-sdl", false, "no window and no render target at all")
	screenshot := flags.String("screenshot", "", "write a PNG screenshot when the --frames limit is reached")
	frames := flags.Int("frames", 0, "quit after N frames have presented")
	quiet := flags.Bool("quiet", false, "suppress the host's own diagnostic lines")
	watch := flags.Bool("watch", false, "reload the entry script on file change")
	debugPort := flags.Int("debug-port", 0, "accept debug-channel connections on this port")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	explicit := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if os.Getenv("MYSTRAL_HEADLESS") == "1" {
		*headless = true
	}
	verbose := os.Getenv("MYSTRAL_DEBUG") == "1"

	scriptArgs := flags.Args()
	scriptPath := ""
	if len(scriptArgs) > 0 {
		scriptPath = scriptArgs[0]
	}

	execPath, _ := os.Executable()
	var bdir *bundle.Directory
	if execPath != "" {
		if d, err := bundle.Open(execPath); err == nil {
			bdir = d
			defer d.Close()
		}
	}

	if scriptPath == "" && bdir == nil {
		fmt.Fprintln(os.Stderr, "Error: No script file specified")
		fmt.Fprintln(os.Stderr, "Usage: mystral run <script> [flags]")
		return 1
	}

	rootDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var absScript string
	if scriptPath != "" {
		abs, err := filepath.Abs(scriptPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if _, err := os.Stat(abs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: script not found: %s\n", abs)
			return 1
		}
		absScript = abs
		rootDir = filepath.Dir(abs)
	}

	cfg := config.Default()
	cfgPath := filepath.Join(rootDir, "mystral.json")
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	if explicit["width"] {
		cfg.Window.Width = *width
	}
	if explicit["height"] {
		cfg.Window.Height = *height
	}
	if explicit["title"] {
		cfg.Window.Title = *title
	}
	if explicit["headless"] {
		cfg.Window.Headless = *headless
	}
	if explicit["no-sdl"] {
		cfg.Window.NoSDL = *noSDL
	}
	if explicit["debug-port"] {
		cfg.Debug.Port = *debugPort
		cfg.Debug.Enabled = *debugPort > 0
	}
	if verbose {
		cfg.Debug.Verbose = true
	}

	logBuf := hostlog.New(500)

	var assetSrc iodispatch.AssetSource
	var modBundle modsys.BundleSource
	if bdir != nil {
		assetSrc = bdir
		modBundle = bdir
	}

	backend := luabackend.New(luabackend.Options{
		RegistryMaxSize: luabackend.RegistryMaxSizeForMB(cfg.Engine.MaxMemoryMB),
	})
	defer backend.Close()

	resolver := modsys.New(rootDir, modBundle, nil)
	loader := modsys.NewLoader(resolver, backend, modBundle)

	loop := eventloop.New()
	httpClient := iodispatch.NewHTTPClient(backend, assetSrc)
	fileReader := iodispatch.NewFileReader(backend, assetSrc)
	watcher, err := iodispatch.NewWatcher(backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	loop.Register(httpClient)
	loop.Register(fileReader)
	loop.Register(watcher)
	if err := loop.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer loop.Close()

	gpu := gpucontext.NewOffscreen()
	renderEnabled := !cfg.Window.NoSDL
	if renderEnabled {
		if err := gpu.ConfigureHeadless(cfg.Window.Width, cfg.Window.Height); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	defer gpu.Close()
	if renderEnabled && !cfg.Window.Headless {
		fmt.Fprintln(os.Stderr, "mystral: no platform surface backend is linked in this build; running against an offscreen render target")
	}

	var audioCtx *audioengine.Context
	if a, err := audioengine.NewContext(cfg.Audio.SampleRate); err != nil {
		fmt.Fprintf(os.Stderr, "mystral: audio device unavailable, continuing without audio: %v\n", err)
	} else {
		audioCtx = a
		_ = audioCtx.Resume()
		defer audioCtx.Close()
	}

	opts := host.Options{
		Backend:        backend,
		Loader:         loader,
		Loop:           loop,
		HTTP:           httpClient,
		Files:          fileReader,
		Watcher:        watcher,
		GPU:            gpu,
		Audio:          audioCtx,
		Log:            logBuf,
		ScriptPath:     absScript,
		Render:         renderEnabled,
		MaxFrames:      *frames,
		ScreenshotPath: *screenshot,
		WatchReload:    *watch,
		IdleFrameLimit: 3,
		Quiet:          *quiet,
		EvalTimeout:    time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	}

	h, err := host.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var store *provenance.Store
	var debugSrv *debugchannel.Server
	if cfg.Debug.Enabled {
		dbPath := filepath.Join(rootDir, ".mystral-provenance.db")
		if s, err := provenance.Open(dbPath); err == nil {
			store = s
			defer store.Close()
		}
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Debug.Port)
		var audit debugchannel.AuditFunc
		var history debugchannel.CompileHistoryFunc
		if store != nil {
			audit = store.RecordDebugCommand
			history = store.RecentCompiles
		}
		srv, err := debugchannel.Listen(addr, h, logBuf, audit, history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		debugSrv = srv
		loop.Register(srv)
		defer srv.Close()
		fmt.Fprintf(os.Stderr, "mystral: debug channel listening on %s\n", srv.Addr())
	}

	if *watch && absScript != "" {
		reloadCb := backend.NewFunction(func(this engine.Value, cargs []engine.Value) (engine.Value, error) {
			h.RequestReload(absScript)
			return backend.Undefined(), nil
		})
		if _, err := watcher.Watch(absScript, reloadCb); err != nil {
			fmt.Fprintf(os.Stderr, "mystral: --watch: %v\n", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	defer signal.Stop(sigCh)

	code, runErr := h.Run(ctx)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		if code == 0 {
			code = 1
		}
	}
	if debugSrv != nil {
		debugSrv.BroadcastExit(code)
	}
	return code
}

func compileCmd(args []string) int {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	var includes stringList
	flags.Var(&includes, "include", "embed an additional directory (repeatable)")
	output := flags.String("output", "", "path of the produced self-contained binary")
	outputShort := flags.String("o", "", "shorthand for --output")
	root := flags.String("root", "", "project root bundle paths are recorded relative to")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	entryArgs := flags.Args()
	if len(entryArgs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: compile requires an entry script")
		fmt.Fprintln(os.Stderr, "Usage: mystral compile <entry> [--include DIR]... [--output FILE] [--root DIR]")
		return 1
	}
	entry := entryArgs[0]

	absEntry, err := filepath.Abs(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := os.Stat(absEntry); err != nil {
		fmt.Fprintf(os.Stderr, "Error: entry not found: %s\n", absEntry)
		return 1
	}

	rootDir := *root
	if rootDir == "" {
		rootDir = filepath.Dir(absEntry)
	}
	rootDir, err = filepath.Abs(rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var sources []bundle.Source
	addFile := func(abs string) error {
		data, err := os.ReadFile(abs)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(rootDir, abs)
		if err != nil {
			return err
		}
		sources = append(sources, bundle.Source{Path: util.NormalizeBundlePath(rel), Data: data})
		return nil
	}

	if err := addFile(absEntry); err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading entry: %v\n", err)
		return 1
	}
	for _, inc := range includes {
		absInc, err := filepath.Abs(inc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		walkErr := filepath.WalkDir(absInc, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return addFile(path)
		})
		if walkErr != nil {
			fmt.Fprintf(os.Stderr, "Error: --include %s: %v\n", inc, walkErr)
			return 1
		}
	}

	entryRel, err := filepath.Rel(rootDir, absEntry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	entryRel = util.NormalizeBundlePath(entryRel)

	outPath := *output
	if outPath == "" {
		outPath = *outputShort
	}
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(absEntry), filepath.Ext(absEntry))
		outPath = base
	}

	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var totalBytes int64
	for _, s := range sources {
		totalBytes += int64(len(s.Data))
	}

	if err := bundle.Compile(execPath, outPath, sources, entryRel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if store, err := provenance.Open(filepath.Join(rootDir, ".mystral-provenance.db")); err == nil {
		_ = store.RecordCompile(provenance.CompileManifest{
			OutPath:    outPath,
			Entry:      entryRel,
			FileCount:  len(sources),
			TotalBytes: totalBytes,
			CompiledAt: time.Now(),
		})
		store.Close()
	}

	fmt.Printf("compiled %s -> %s (%d files, %d bytes)\n", entry, outPath, len(sources), totalBytes)
	return 0
}
