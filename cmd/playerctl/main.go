// Package main provides the command-line client of the player daemon.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/spotilite/internal/api/connect"
)

var (
	app    = kingpin.New("spotilite-playerctl", "Spotilite player control client")
	server = app.Flag("server", "Player address").Default("http://localhost:3001").Envar("SPOTILITE_PLAYER_URL").String()
	token  = app.Flag("token", "Control token").Envar("SPOTILITE_CONTROL_TOKEN").String()

	statusCmd = app.Command("status", "Show playback status and queue").Default()

	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Title, artist or album substring").String()

	enqueueCmd     = app.Command("enqueue", "Append a track to the queue")
	enqueueTrackID = enqueueCmd.Arg("track-id", "Catalog track ID").Required().String()
	enqueuePlay    = enqueueCmd.Flag("play", "Start playback if nothing is selected").Bool()

	playCmd     = app.Command("play", "Play a track now, or the queue entry at --index")
	playTrackID = playCmd.Arg("track-id", "Catalog track ID").String()
	playIndex   = playCmd.Flag("index", "Queue index to play").Default("-1").Int()

	pauseCmd    = app.Command("pause", "Pause playback")
	resumeCmd   = app.Command("resume", "Resume playback")
	nextCmd     = app.Command("next", "Skip to the next track")
	previousCmd = app.Command("previous", "Go back to the previous track")

	removeCmd   = app.Command("remove", "Remove a queue entry")
	removeIndex = removeCmd.Arg("index", "Queue index").Required().Int()

	moveCmd  = app.Command("move", "Move a queue entry")
	moveFrom = moveCmd.Arg("from", "Source index").Required().Int()
	moveTo   = moveCmd.Arg("to", "Destination index").Required().Int()

	shuffleCmd = app.Command("shuffle", "Enable or disable shuffle")
	shuffleOn  = shuffleCmd.Arg("state", "on or off").Required().Enum("on", "off")

	repeatCmd  = app.Command("repeat", "Set the repeat mode, or cycle it when omitted")
	repeatMode = repeatCmd.Arg("mode", "none, all or one").Enum("none", "all", "one")

	seekCmd      = app.Command("seek", "Move the playhead: 90, 1:30, or +10/-10 relative (use -- before negative offsets)")
	seekPosition = seekCmd.Arg("position", "Seconds or m:ss, prefixed with + or - to seek relative").Required().String()

	volumeCmd   = app.Command("volume", "Set the output volume")
	volumeLevel = volumeCmd.Arg("percent", "Volume from 0 to 100").Required().Int()

	watchCmd = app.Command("watch", "Print now playing updates")

	cacheCmd         = app.Command("cache", "Manage the offline cache")
	cacheListCmd     = cacheCmd.Command("list", "List cached tracks").Default()
	cacheRemoveCmd   = cacheCmd.Command("remove", "Remove a cached track")
	cacheRemoveID    = cacheRemoveCmd.Arg("track-id", "Track ID").Required().String()
	cacheClearCmd    = cacheCmd.Command("clear", "Remove every cached track")
	cachePrefetchCmd = cacheCmd.Command("prefetch", "Save tracks for offline playback (default: the whole queue)")
	cachePrefetchIDs = cachePrefetchCmd.Arg("track-ids", "Track IDs").Strings()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	client := apiconnect.NewDefaultClient(*server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, client, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, client *apiconnect.Client, command string) error {
	switch command {
	case statusCmd.FullCommand():
		return printStatus(client.Status(ctx))
	case searchCmd.FullCommand():
		resp, err := client.Search(ctx, *searchQuery)
		if err != nil {
			return err
		}
		if resp.Offline {
			fmt.Println("Catalog unreachable, showing offline cache:")
		}
		printTracks(resp.Tracks, -1)
		return nil
	case enqueueCmd.FullCommand():
		return printStatus(client.Enqueue(ctx, *enqueueTrackID, *enqueuePlay))
	case playCmd.FullCommand():
		if *playIndex >= 0 {
			return printStatus(client.PlayAt(ctx, *playIndex))
		}
		if *playTrackID == "" {
			return printStatus(client.Resume(ctx))
		}
		return printStatus(client.PlayNow(ctx, *playTrackID))
	case pauseCmd.FullCommand():
		return printStatus(client.Pause(ctx))
	case resumeCmd.FullCommand():
		return printStatus(client.Resume(ctx))
	case nextCmd.FullCommand():
		return printStatus(client.Next(ctx))
	case previousCmd.FullCommand():
		return printStatus(client.Previous(ctx))
	case removeCmd.FullCommand():
		resp, err := client.Remove(ctx, *removeIndex)
		if err != nil {
			return err
		}
		fmt.Printf("Removed: %s - %s\n", resp.Removed.Artist, resp.Removed.Title)
		return nil
	case moveCmd.FullCommand():
		return printStatus(client.Move(ctx, *moveFrom, *moveTo))
	case shuffleCmd.FullCommand():
		return printStatus(client.SetShuffle(ctx, *shuffleOn == "on"))
	case repeatCmd.FullCommand():
		resp, err := client.SetRepeat(ctx, *repeatMode)
		if err != nil {
			return err
		}
		fmt.Printf("Repeat: %s\n", resp.Mode)
		return nil
	case seekCmd.FullCommand():
		seconds, relative, err := parsePosition(*seekPosition)
		if err != nil {
			return err
		}
		return printStatus(client.Seek(ctx, seconds, relative))
	case volumeCmd.FullCommand():
		if *volumeLevel < 0 || *volumeLevel > 100 {
			return fmt.Errorf("volume must be between 0 and 100, got %d", *volumeLevel)
		}
		return printStatus(client.SetVolume(ctx, float64(*volumeLevel)/100))
	case watchCmd.FullCommand():
		return client.WatchNowPlaying(ctx, func(np *apiconnect.NowPlaying) error {
			if !np.HasTrack() {
				fmt.Printf("[%s] nothing selected\n", np.State)
				return nil
			}
			fmt.Printf("[%s] %d/%d %s - %s (%s)\n", np.State, np.Index+1, np.QueueLength, np.Artist, np.Title, np.Album)
			return nil
		})
	case cacheListCmd.FullCommand():
		return printCache(client.ListCache(ctx))
	case cacheRemoveCmd.FullCommand():
		return printCache(client.RemoveCached(ctx, *cacheRemoveID))
	case cacheClearCmd.FullCommand():
		return printCache(client.ClearCache(ctx))
	case cachePrefetchCmd.FullCommand():
		resp, err := client.Prefetch(ctx, *cachePrefetchIDs)
		if err != nil {
			return err
		}
		for _, r := range resp.Results {
			if r.Error != "" {
				fmt.Printf("  %-6s failed: %s\n", r.TrackID, r.Error)
				continue
			}
			fmt.Printf("  %-6s cached (%s)\n", r.TrackID, humanBytes(r.SizeBytes))
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printStatus(resp *apiconnect.StatusResponse, err error) error {
	if err != nil {
		return err
	}
	modes := []string{"repeat " + resp.Repeat}
	if resp.Shuffle {
		modes = append(modes, "shuffle")
	}
	fmt.Printf("State: %s (%s)\n", resp.State, strings.Join(modes, ", "))
	if resp.Current != nil {
		fmt.Printf("Now playing: %s - %s [%s / %s]\n", resp.Current.Artist, resp.Current.Title,
			clock(resp.PositionSeconds), clock(resp.DurationSeconds))
	}
	fmt.Printf("Volume: %d%%\n", int(resp.Volume*100+0.5))
	fmt.Printf("Cache: %s / %s\n", humanBytes(resp.CacheUsageBytes), humanBytes(resp.CacheLimitBytes))
	printTracks(resp.Queue, resp.CurrentIndex)
	return nil
}

func printTracks(tracks []apiconnect.Track, current int) {
	if len(tracks) == 0 {
		fmt.Println("  (empty)")
		return
	}
	for i, t := range tracks {
		marker := " "
		if i == current {
			marker = ">"
		}
		fmt.Printf("%s %3d  [%s] %s - %s\n", marker, i, t.ID, t.Artist, t.Title)
	}
}

func printCache(resp *apiconnect.ListCacheResponse, err error) error {
	if err != nil {
		return err
	}
	fmt.Printf("Offline cache: %d tracks, %s / %s\n", len(resp.Records), humanBytes(resp.CacheUsageBytes), humanBytes(resp.CacheLimitBytes))
	for _, r := range resp.Records {
		fmt.Printf("  [%s] %s - %s (%s)\n", r.ID, r.Artist, r.Title, humanBytes(r.SizeBytes))
	}
	return nil
}

// parsePosition reads "90", "1:30", "+10" or "-1:00". A sign makes the
// position relative.
func parsePosition(arg string) (seconds float64, relative bool, err error) {
	s := strings.TrimSpace(arg)
	sign := 1.0
	switch {
	case strings.HasPrefix(s, "+"):
		relative, s = true, s[1:]
	case strings.HasPrefix(s, "-"):
		relative, sign, s = true, -1, s[1:]
	}

	minutes := 0.0
	if m, rest, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return 0, false, fmt.Errorf("invalid position %q", arg)
		}
		minutes, s = float64(n), rest
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false, fmt.Errorf("invalid position %q", arg)
	}
	return sign * (minutes*60 + secs), relative, nil
}

func clock(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
