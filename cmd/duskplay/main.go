// Command duskplay is a minimal terminal front end for the meditationplayer
// engine: load a playlist of MP3 files from the command line, play them back
// with crossfades, and optionally layer a looping ambient bed underneath.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/duskcairn/meditationplayer"
	"github.com/duskcairn/meditationplayer/internal/hostaudio"
	"github.com/duskcairn/meditationplayer/internal/logging"
)

func main() {
	crossfade := pflag.Duration("crossfade", 10*time.Second, "crossfade duration between tracks")
	volume := pflag.Float64("volume", 1.0, "initial master volume, 0-1")
	repeat := pflag.String("repeat", "off", "repeat mode: off, single, playlist")
	sampleRate := pflag.Int("sample-rate", 44100, "output sample rate in Hz")
	overlayPath := pflag.String("overlay", "", "optional ambient bed file to loop underneath the playlist")
	overlayVolume := pflag.Float64("overlay-volume", 0.3, "overlay bed volume, 0-1")
	verbose := pflag.BoolP("verbose", "v", false, "pretty-print structured log output")
	pflag.Parse()

	if pflag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: duskplay [flags] track1.mp3 [track2.mp3 ...]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	log := logging.Discard()
	if *verbose {
		log = logging.NewPretty("duskplay")
	}

	adapter, err := hostaudio.NewPortaudioAdapter(log, *sampleRate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duskplay: opening audio device: %v\n", err)
		os.Exit(1)
	}

	cfg := meditationplayer.DefaultConfiguration()
	cfg.CrossfadeDuration = *crossfade
	cfg.Volume = *volume
	cfg.RepeatMode = parseRepeatMode(*repeat)

	player, err := meditationplayer.New(cfg, adapter, meditationplayer.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "duskplay: constructing player: %v\n", err)
		os.Exit(1)
	}
	defer player.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("duskplay: shutting down...")
		cancel()
	}()

	go logEvents(ctx, player)

	tracks := tracksFromArgs(pflag.Args())
	if err := player.LoadPlaylist(ctx, tracks); err != nil {
		fmt.Fprintf(os.Stderr, "duskplay: loading playlist: %v\n", err)
		os.Exit(1)
	}
	if err := player.StartPlaying(ctx, cfg.FadeInDefault()); err != nil {
		fmt.Fprintf(os.Stderr, "duskplay: starting playback: %v\n", err)
		os.Exit(1)
	}

	if *overlayPath != "" {
		overlayCfg := meditationplayer.OverlayConfiguration{
			LoopMode: meditationplayer.OverlayLoopInfinite,
			Volume:   *overlayVolume,
		}
		if err := player.StartOverlay(ctx, meditationplayer.Track{Source: *overlayPath, Title: "ambient bed"}, overlayCfg); err != nil {
			fmt.Fprintf(os.Stderr, "duskplay: starting overlay: %v\n", err)
		}
	}

	fmt.Printf("duskplay: playing %d track(s); Ctrl-C to stop\n", len(tracks))
	<-ctx.Done()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelStop()
	_ = player.StopAll(stopCtx)
}

func tracksFromArgs(paths []string) []meditationplayer.Track {
	tracks := make([]meditationplayer.Track, len(paths))
	for i, p := range paths {
		tracks[i] = meditationplayer.Track{Source: p, Title: titleFromPath(p)}
	}
	return tracks
}

func titleFromPath(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.TrimSuffix(base, ".mp3")
}

func parseRepeatMode(s string) meditationplayer.RepeatMode {
	switch strings.ToLower(s) {
	case "single", "single_track":
		return meditationplayer.RepeatSingleTrack
	case "playlist":
		return meditationplayer.RepeatPlaylist
	default:
		return meditationplayer.RepeatOff
	}
}

// logEvents prints state transitions and track changes to stdout so the
// terminal session shows what the player is doing without needing -verbose.
func logEvents(ctx context.Context, player *meditationplayer.Player) {
	states := player.StateStream()
	tracks := player.TrackStream()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			fmt.Printf("duskplay: state -> %v\n", s)
		case t, ok := <-tracks:
			if !ok {
				return
			}
			fmt.Printf("duskplay: now playing %q\n", t.Title)
		}
	}
}
