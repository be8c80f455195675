package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/scannsing/scannsing/internal/lyrics"
	"github.com/scannsing/scannsing/internal/session"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/models"
	"github.com/scannsing/scannsing/pkg/scannsing"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// startEngine opens the input and an engine that records from it.
func startEngine(listen string, at float64) (*scannsing.Engine, *input) {
	var e *scannsing.Engine
	in, err := openInput(listen, at, func() {
		if e != nil {
			e.StopCapture()
		}
	})
	if err != nil {
		failure.Printf("Failed to open audio input: %v\n", err)
		os.Exit(1)
	}
	e, err = createEngine(scannsing.WithDevice(in.device), scannsing.WithPlayer(in.player))
	if err != nil {
		in.cleanup()
		failure.Printf("Failed to open track store: %v\n", err)
		os.Exit(1)
	}
	return e, in
}

func requireProvider() {
	if containerID == "" {
		failure.Println("No recognition provider configured: set ACR_CONTAINER_ID and ACR_TOKEN")
		os.Exit(1)
	}
}

func handleIdentify(args []string) {
	identifyCmd := flag.NewFlagSet("identify", flag.ExitOnError)
	listen := identifyCmd.String("listen", "", "Audio file to listen to instead of the microphone")
	at := identifyCmd.Float64("at", 0, "Seconds into --listen the playback is when the command starts")
	save := identifyCmd.String("save", "", "Keep the recorded sample at this path")
	identifyCmd.Parse(args)

	requireProvider()
	e, in := startEngine(*listen, *at)
	defer in.cleanup()
	defer e.Close()

	rec, err := identify(e, in.label)
	if err != nil {
		failure.Printf("\nIdentification failed: %v\n", err)
		logger.Errorf("Identify failed: %v", err)
		os.Exit(1)
	}
	printRecognition(rec)

	if *save != "" {
		sample := e.Sample()
		if err := os.WriteFile(*save, sample, 0o644); err != nil {
			failure.Printf("Failed to save sample: %v\n", err)
			os.Exit(1)
		}
		dim.Printf("Saved sample to %s (%s)\n", *save, humanize.Bytes(uint64(len(sample))))
	}
}

func handleSing(args []string) {
	singCmd := flag.NewFlagSet("sing", flag.ExitOnError)
	listen := singCmd.String("listen", "", "Audio file to listen to instead of the microphone")
	at := singCmd.Float64("at", 0, "Seconds into --listen the playback is when the command starts")
	trackID := singCmd.String("track", "", "Open this track instead of identifying the song")
	singCmd.Parse(args)

	var (
		e     *scannsing.Engine
		track *models.Track
		err   error
	)
	if *trackID != "" {
		e = mustEngine()
		defer e.Close()
		if track, err = e.OpenTrack(*trackID); err != nil {
			failure.Printf("Failed to open track: %v\n", err)
			os.Exit(1)
		}
		e.Seek(0)
	} else {
		requireProvider()
		var in *input
		e, in = startEngine(*listen, *at)
		defer in.cleanup()
		defer e.Close()

		rec, err := identify(e, in.label)
		if err != nil {
			failure.Printf("\nIdentification failed: %v\n", err)
			os.Exit(1)
		}
		printRecognition(rec)
		if !rec.Matched {
			os.Exit(1)
		}
		if track, err = e.Open(context.Background()); err != nil {
			failure.Printf("No lyrics stored for this song: %v\n", err)
			os.Exit(1)
		}
	}

	runShell(e, track)
}

// identify runs one identification, drawing a progress bar while recording.
// Ctrl-C abandons it.
func identify(e *scannsing.Engine, label string) (scannsing.Recognition, error) {
	fmt.Printf("Listening to %s\n", label)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		showRecording(e, session.InitialConfig().RecordDuration, done)
	}()

	rec, err := e.Identify(ctx)
	close(done)
	wg.Wait()
	return rec, err
}

func showRecording(e *scannsing.Engine, d time.Duration, done <-chan struct{}) {
	const step = 100 * time.Millisecond

	p := mpb.New(mpb.WithWidth(48))
	bar := p.AddBar(int64(d/step),
		mpb.PrependDecorators(
			decor.Name("Recording: "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	seen := false
loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			if e.Snapshot().Capture == "recording" {
				seen = true
				bar.Increment()
				continue
			}
			if seen {
				break loop
			}
		}
	}

	if seen {
		bar.SetTotal(-1, true)
	} else {
		bar.Abort(true)
	}
	p.Wait()
	if seen {
		dim.Println("Waiting for the recognition provider...")
	}
}

func printRecognition(rec scannsing.Recognition) {
	if !rec.Matched {
		failure.Printf("\nNo match (%s)\n", rec.Phase)
		if rec.Err != nil {
			dim.Printf("   %v\n", rec.Err)
		}
		return
	}

	success.Printf("\nIdentified: %s\n", rec.Match.Title)
	if rec.Match.Artist != "" {
		fmt.Printf("   Artist:   %s\n", rec.Match.Artist)
	}
	if rec.Match.Album != "" {
		fmt.Printf("   Album:    %s\n", rec.Match.Album)
	}
	fmt.Printf("   Kind:     %s\n", rec.Match.Kind)
	if rec.HasElapsed {
		fmt.Printf("   Position: %s\n", lyrics.ClockStamp(rec.Elapsed))
	}
}

func shellCompleter() readline.AutoCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("lines"),
		readline.PcItem("seek"),
		readline.PcItem("line"),
		readline.PcItem("auto",
			readline.PcItem("on"),
			readline.PcItem("off"),
		),
		readline.PcItem("status"),
		readline.PcItem("play"),
		readline.PcItem("stop"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

// runShell follows track until the user exits, printing each new line.
func runShell(e *scannsing.Engine, track *models.Track) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	config := &readline.Config{
		Prompt:       "sing> ",
		HistoryFile:  filepath.Join(homeDir, ".scannsing_history"),
		AutoComplete: shellCompleter(),
	}

	rl, err := readline.NewEx(config)
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		return
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "\n%s (%d lines). Type help for commands.\n\n", highlight.Sprint(track.Name), len(track.Lines))

	var mu sync.Mutex
	last := -2
	unsub := e.Subscribe(func(ev scannsing.Event) {
		switch ev.Type {
		case scannsing.EventLine:
			mu.Lock()
			changed := ev.Index != last
			last = ev.Index
			mu.Unlock()
			if changed && ev.Line != nil {
				fmt.Fprintf(out, "%s %s\n", dim.Sprint(lyrics.ClockStamp(ev.Line.Timestamp)), highlight.Sprint(ev.Line.Text))
			}
		case scannsing.EventResync:
			if ev.Resync == "committed" {
				dim.Fprintf(out, "auto-sync: back on track at %s\n", lyrics.ClockStamp(ev.PlaybackTime))
			} else if ev.Err != nil {
				dim.Fprintf(out, "auto-sync: %s (%v)\n", ev.Resync, ev.Err)
			}
		}
	})
	defer unsub()

	if line := e.CurrentLine(); line != nil {
		fmt.Fprintf(out, "%s %s\n", dim.Sprint(lyrics.ClockStamp(line.Timestamp)), highlight.Sprint(line.Text))
	}

	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nBye")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			break
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !handleShellCommand(e, out, input) {
			break
		}
	}
}

func handleShellCommand(e *scannsing.Engine, out io.Writer, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		return false
	case "help":
		fmt.Fprintln(out, "  lines           list the lyrics with their numbers")
		fmt.Fprintln(out, "  seek <m:ss|s>   jump to a playback position")
		fmt.Fprintln(out, "  line <n>        start from line n (turns auto-sync off)")
		fmt.Fprintln(out, "  auto on|off     re-identify every 20s to stay in sync")
		fmt.Fprintln(out, "  status          show position and sync state")
		fmt.Fprintln(out, "  play / stop     play back or stop the recorded sample")
		fmt.Fprintln(out, "  exit            leave")
	case "lines":
		current := e.Snapshot().Index
		for i, l := range e.Lines() {
			marker := "  "
			if i == current {
				marker = "> "
			}
			fmt.Fprintf(out, "%s%3d %s %s\n", marker, i+1, lyrics.ClockStamp(l.Timestamp), l.Text)
		}
	case "seek":
		if len(args) != 1 {
			fmt.Fprintln(out, "usage: seek <m:ss|seconds>")
			break
		}
		t, err := parsePosition(args[0])
		if err != nil {
			fmt.Fprintf(out, "bad position: %v\n", err)
			break
		}
		if err := e.Seek(t); err != nil {
			fmt.Fprintf(out, "seek failed: %v\n", err)
		}
	case "line":
		lines := e.Lines()
		n, err := strconv.Atoi(strings.Join(args, ""))
		if err != nil || n < 1 || n > len(lines) {
			fmt.Fprintf(out, "usage: line <1-%d>\n", len(lines))
			break
		}
		if err := e.SelectLine(lines[n-1].ID); err != nil {
			fmt.Fprintf(out, "select failed: %v\n", err)
		}
	case "auto":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			fmt.Fprintln(out, "usage: auto on|off")
			break
		}
		if err := e.SetAutoSync(args[0] == "on"); err != nil {
			fmt.Fprintf(out, "auto-sync: %v\n", err)
			break
		}
		fmt.Fprintf(out, "auto-sync %s\n", args[0])
	case "status":
		snap := e.Snapshot()
		if snap.Track != nil {
			fmt.Fprintf(out, "track:     %s\n", snap.Track.Name)
		}
		if snap.Anchored {
			fmt.Fprintf(out, "position:  %s\n", lyrics.ClockStamp(snap.PlaybackTime))
		} else {
			fmt.Fprintln(out, "position:  not started")
		}
		fmt.Fprintf(out, "line:      %d\n", snap.Index+1)
		fmt.Fprintf(out, "auto-sync: %v (anchor from %s)\n", snap.AutoSync, snap.Source)
		fmt.Fprintf(out, "recorder:  %s\n", snap.Capture)
	case "play":
		if err := e.PlaySample(); err != nil {
			fmt.Fprintf(out, "play: %v\n", err)
		}
	case "stop":
		e.StopCapture()
	default:
		fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
	}
	return true
}

// parsePosition reads "m:ss(.xx)" or plain seconds.
func parsePosition(s string) (float64, error) {
	mins, rest, found := strings.Cut(s, ":")
	if !found {
		return strconv.ParseFloat(s, 64)
	}
	m, err := strconv.Atoi(mins)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, err
	}
	return float64(m)*60 + secs, nil
}
