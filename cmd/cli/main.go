package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/scannsing/scannsing/internal/lyrics"
	"github.com/scannsing/scannsing/internal/storage"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/scannsing"
)

// Global flags
var (
	dbPath      string
	tempDir     string
	acrHost     string
	containerID string
	acrToken    string
)

var (
	highlight = color.New(color.FgYellow, color.Bold)
	dim       = color.New(color.FgHiBlack)
	success   = color.New(color.FgGreen)
	failure   = color.New(color.FgRed)
)

func init() {
	// .env must be loaded before the flag defaults read the environment.
	_ = godotenv.Load()

	flag.StringVar(&dbPath, "db", getEnvOrDefault("SCANNSING_DB_PATH", storage.DefaultDBFile), "Path to the SQLite database file")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("SCANNSING_TEMP_DIR", "/tmp"), "Directory for recordings and converted audio")
	flag.StringVar(&acrHost, "acr-host", getEnvOrDefault("ACR_HOST", ""), "Recognition provider host")
	flag.StringVar(&containerID, "acr-container", getEnvOrDefault("ACR_CONTAINER_ID", ""), "Recognition file-scanning container ID")
	flag.StringVar(&acrToken, "acr-token", getEnvOrDefault("ACR_TOKEN", ""), "Recognition provider bearer token")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createEngine creates an engine with the configured options plus extra.
func createEngine(extra ...scannsing.Option) (*scannsing.Engine, error) {
	opts := []scannsing.Option{
		scannsing.WithDBPath(dbPath),
		scannsing.WithTempDir(tempDir),
	}
	if containerID != "" {
		opts = append(opts, scannsing.WithProvider(acrHost, containerID, acrToken))
	}
	return scannsing.New(append(opts, extra...)...)
}

func mustEngine(extra ...scannsing.Option) *scannsing.Engine {
	e, err := createEngine(extra...)
	if err != nil {
		failure.Printf("Failed to open track store: %v\n", err)
		logger.Errorf("Engine initialization failed: %v", err)
		os.Exit(1)
	}
	return e
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printBanner()
		printUsage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]
	logger.GetLogger().Debugf("Executing command: %s", command)

	switch command {
	case "add":
		handleAdd(rest)
	case "list":
		handleList()
	case "show":
		handleShow(rest)
	case "export":
		handleExport(rest)
	case "delete":
		handleDelete(rest)
	case "seed":
		handleSeed()
	case "identify":
		handleIdentify(rest)
	case "sing":
		printBanner()
		handleSing(rest)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
  ____                  _   _ ____  _
 / ___|  ___ __ _ _ __ | \ | / ___|(_)_ __   __ _
 \___ \ / __/ _' | '_ \|  \| \___ \| | '_ \ / _' |
  ___) | (_| (_| | | | | |\  |___) | | | | | (_| |
 |____/ \___\__,_|_| |_|_| \_|____/|_|_| |_|\__, |
                                            |___/
           Listen, identify, sing along
`
	fmt.Println(banner)
}

func handleAdd(args []string) {
	// Pull the lyric file out from among the flags.
	var lyricPath string
	var flagArgs []string
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && lyricPath == "" {
			lyricPath = arg
			continue
		}
		flagArgs = append(flagArgs, args[i])
	}

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	name := addCmd.String("name", "", "Track name (defaults to the [ti:] tag)")
	addCmd.Parse(flagArgs)

	if lyricPath == "" {
		fmt.Println("Usage: scannsing add <lyrics_file> [--name <name>]")
		os.Exit(1)
	}

	raw, err := os.ReadFile(lyricPath)
	if err != nil {
		failure.Printf("Failed to read %s: %v\n", lyricPath, err)
		os.Exit(1)
	}

	e := mustEngine()
	defer e.Close()

	track, err := e.ImportLRC(*name, string(raw))
	if err != nil {
		failure.Printf("Failed to add track: %v\n", err)
		logger.Errorf("ImportLRC failed: %v", err)
		os.Exit(1)
	}

	success.Println("\nAdded track")
	fmt.Printf("   ID:    %s\n", track.ID)
	fmt.Printf("   Name:  %s\n", track.Name)
	fmt.Printf("   Lines: %d\n", len(track.Lines))
}

func handleList() {
	e := mustEngine()
	defer e.Close()

	tracks, err := e.ListTracks()
	if err != nil {
		failure.Printf("Failed to list tracks: %v\n", err)
		logger.Errorf("ListTracks failed: %v", err)
		os.Exit(1)
	}

	if len(tracks) == 0 {
		fmt.Println("\nNo tracks yet. Try: scannsing seed")
		return
	}

	fmt.Printf("\nFound %d track(s):\n\n", len(tracks))
	for i, t := range tracks {
		fmt.Printf("%d. %s\n", i+1, highlight.Sprint(t.Name))
		dim.Printf("   %s | %d lines | updated %s\n", t.ID, len(t.Lines), humanize.Time(t.UpdatedAt))
	}
}

func handleShow(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: scannsing show <track_id>")
		os.Exit(1)
	}

	e := mustEngine()
	defer e.Close()

	track, err := e.GetTrack(args[0])
	if err != nil {
		failure.Printf("Track not found: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s\n\n", highlight.Sprint(track.Name))
	fmt.Print(lyrics.Format(track.Lines))
}

func handleExport(args []string) {
	var id string
	var flagArgs []string
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && id == "" {
			id = arg
			continue
		}
		flagArgs = append(flagArgs, args[i])
	}

	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)
	out := exportCmd.String("out", "", "Write to this file instead of stdout")
	exportCmd.Parse(flagArgs)

	if id == "" {
		fmt.Println("Usage: scannsing export <track_id> [--out <file>]")
		os.Exit(1)
	}

	e := mustEngine()
	defer e.Close()

	text, err := e.ExportLRC(id)
	if err != nil {
		failure.Printf("Failed to export track: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		fmt.Print(text)
		return
	}
	if err := os.WriteFile(*out, []byte(text), 0o644); err != nil {
		failure.Printf("Failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	success.Printf("Wrote %s (%s)\n", *out, humanize.Bytes(uint64(len(text))))
}

func handleDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: scannsing delete <track_id>")
		os.Exit(1)
	}

	e := mustEngine()
	defer e.Close()

	track, err := e.GetTrack(args[0])
	if err != nil {
		failure.Printf("Track not found (ID: %s)\n", args[0])
		logger.Warnf("Track %s not found: %v", args[0], err)
		os.Exit(1)
	}

	if err := e.DeleteTrack(track.ID); err != nil {
		failure.Printf("Failed to delete track: %v\n", err)
		logger.Errorf("DeleteTrack failed: %v", err)
		os.Exit(1)
	}

	success.Println("\nDeleted track")
	fmt.Printf("   ID:   %s\n", track.ID)
	fmt.Printf("   Name: %s\n", track.Name)
}

func handleSeed() {
	e := mustEngine()
	defer e.Close()

	added, err := e.SeedSampleTracks()
	if err != nil {
		failure.Printf("Failed to seed sample tracks: %v\n", err)
		os.Exit(1)
	}
	if added == 0 {
		fmt.Println("Sample tracks already present")
		return
	}
	success.Printf("Added %d sample track(s)\n", added)
}

func printUsage() {
	fmt.Println("ScanNSing - identify the song that is playing and follow its lyrics")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>            SQLite database (env: SCANNSING_DB_PATH, default: scannsing.sqlite3)")
	fmt.Println("  --temp <dir>           Recording directory (env: SCANNSING_TEMP_DIR, default: /tmp)")
	fmt.Println("  --acr-host <host>      Provider host (env: ACR_HOST)")
	fmt.Println("  --acr-container <id>   Provider container (env: ACR_CONTAINER_ID)")
	fmt.Println("  --acr-token <token>    Provider token (env: ACR_TOKEN)")
	fmt.Println("\nUsage:")
	fmt.Println("  scannsing [global-options] add <lyrics_file> [--name <name>]")
	fmt.Println("  scannsing [global-options] list")
	fmt.Println("  scannsing [global-options] show <track_id>")
	fmt.Println("  scannsing [global-options] export <track_id> [--out <file>]")
	fmt.Println("  scannsing [global-options] delete <track_id>")
	fmt.Println("  scannsing [global-options] seed")
	fmt.Println("  scannsing [global-options] identify [--listen <audio_file> --at <seconds>]")
	fmt.Println("  scannsing [global-options] sing [--listen <audio_file> --at <seconds>] [--track <id>]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Add lyrics in LRC or \"[seconds] text\" form")
	fmt.Println("  scannsing add anthem.lrc --name \"The Yellow and Blue\"")
	fmt.Println()
	fmt.Println("  # Identify what the microphone hears (build with -tags portaudio)")
	fmt.Println("  scannsing identify")
	fmt.Println()
	fmt.Println("  # Pretend a file started playing 40s ago and sing along")
	fmt.Println("  scannsing sing --listen song.mp3 --at 40")
}
