// Package main provides the Harmonia control CLI.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("harmonictl", "Harmonia playback control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	statusCmd = app.Command("status", "Show player state")

	playCmd        = app.Command("play", "Play a track or playlist")
	playTrackID    = playCmd.Flag("track", "Library track ID").String()
	playPlaylistID = playCmd.Flag("playlist", "Library playlist ID").String()
	playIndex      = playCmd.Flag("index", "Playlist start index").Default("0").Int()

	toggleCmd = app.Command("toggle", "Toggle play/pause")
	nextCmd   = app.Command("next", "Skip to the next track")
	prevCmd   = app.Command("prev", "Go back to the previous track")

	seekCmd      = app.Command("seek", "Seek within the current track")
	seekProgress = seekCmd.Arg("progress", "Position as a fraction (0..1)").Required().Float64()

	volumeCmd   = app.Command("volume", "Set the volume")
	volumeValue = volumeCmd.Arg("volume", "Volume as a fraction (0..1)").Required().Float64()

	muteCmd    = app.Command("mute", "Toggle mute")
	shuffleCmd = app.Command("shuffle", "Toggle shuffle")
	repeatCmd  = app.Command("repeat", "Cycle the repeat mode")

	queueCmd      = app.Command("queue", "Show the queue")
	queueAddCmd   = app.Command("enqueue", "Add a library track to the queue")
	queueAddTrack = queueAddCmd.Arg("track-id", "Library track ID").Required().String()

	tracksCmd   = app.Command("tracks", "List library tracks")
	tracksQuery = tracksCmd.Arg("query", "Search query (optional)").String()

	lyricsCmd     = app.Command("lyrics", "Show lyrics for a library track")
	lyricsTrackID = lyricsCmd.Arg("track-id", "Library track ID").Required().String()

	connectCmd    = app.Command("connect", "Connect the Spotify session")
	disconnectCmd = app.Command("disconnect", "Disconnect the Spotify session")

	subscribeCmd = app.Command("subscribe", "Subscribe to player events")
)

type trackResponse struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artists    []string `json:"artists"`
	Album      string   `json:"album"`
	DurationMs int64    `json:"duration_ms"`
	Origin     string   `json:"origin"`
}

type playerStateResponse struct {
	State     string         `json:"state"`
	Track     *trackResponse `json:"track"`
	Progress  float64        `json:"progress"`
	Volume    float64        `json:"volume"`
	Muted     bool           `json:"muted"`
	Shuffle   bool           `json:"shuffle"`
	Repeat    string         `json:"repeat"`
	Connected bool           `json:"connected"`
	DeviceID  string         `json:"device_id"`
}

type queueResponse struct {
	Items []struct {
		EntryID string        `json:"entry_id"`
		Track   trackResponse `json:"track"`
	} `json:"items"`
	Index int `json:"index"`
}

type lyricsResponse struct {
	Synced bool `json:"synced"`
	Lines  []struct {
		TimeMs int64  `json:"time_ms"`
		Text   string `json:"text"`
	} `json:"lines"`
	Plain string `json:"plain"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case statusCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodGet, "/api/player", nil, &state)
		printState(&state)
	case playCmd.FullCommand():
		body := map[string]any{}
		switch {
		case *playTrackID != "":
			body["track_id"] = *playTrackID
		case *playPlaylistID != "":
			body["playlist_id"] = *playPlaylistID
			body["index"] = *playIndex
		default:
			fmt.Println("Error: --track or --playlist is required")
			os.Exit(1)
		}
		var state playerStateResponse
		call(http.MethodPost, "/api/player/play", body, &state)
		printState(&state)
	case toggleCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/toggle", nil, &state)
		printState(&state)
	case nextCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/next", nil, &state)
		printState(&state)
	case prevCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/previous", nil, &state)
		printState(&state)
	case seekCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/seek", map[string]any{"progress": *seekProgress}, &state)
		printState(&state)
	case volumeCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/volume", map[string]any{"volume": *volumeValue}, &state)
		printState(&state)
	case muteCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/mute", nil, &state)
		printState(&state)
	case shuffleCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/player/shuffle", nil, &state)
		printState(&state)
	case repeatCmd.FullCommand():
		var resp struct {
			Repeat string `json:"repeat"`
		}
		call(http.MethodPost, "/api/player/repeat", nil, &resp)
		fmt.Printf("Repeat: %s\n", resp.Repeat)
	case queueCmd.FullCommand():
		var q queueResponse
		call(http.MethodGet, "/api/queue", nil, &q)
		printQueue(&q)
	case queueAddCmd.FullCommand():
		var q queueResponse
		call(http.MethodPost, "/api/queue", map[string]any{"track_id": *queueAddTrack}, &q)
		printQueue(&q)
	case tracksCmd.FullCommand():
		var tracks []trackResponse
		path := "/api/library/tracks"
		if *tracksQuery != "" {
			path += "?q=" + *tracksQuery
		}
		call(http.MethodGet, path, nil, &tracks)
		for _, t := range tracks {
			fmt.Printf("  %-12s %s - %s (%s)\n", t.ID, strings.Join(t.Artists, ", "), t.Title, formatDuration(t.DurationMs))
		}
	case lyricsCmd.FullCommand():
		var ly lyricsResponse
		call(http.MethodGet, "/api/lyrics?track_id="+*lyricsTrackID, nil, &ly)
		if ly.Synced {
			for _, l := range ly.Lines {
				fmt.Printf("[%s] %s\n", formatDuration(l.TimeMs), l.Text)
			}
		} else {
			fmt.Println(ly.Plain)
		}
	case connectCmd.FullCommand():
		var state playerStateResponse
		call(http.MethodPost, "/api/connect", nil, &state)
		printState(&state)
	case disconnectCmd.FullCommand():
		call(http.MethodPost, "/api/disconnect", nil, nil)
		fmt.Println("Disconnected.")
	case subscribeCmd.FullCommand():
		subscribe()
	}
}

// call performs a JSON request against the server, exiting with the error
// message on any failure.
func call(method, path string, body any, out any) {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, *server+path, reqBody)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			fmt.Printf("Error: %s\n", apiErr.Error)
		} else {
			fmt.Printf("Error: server returned %s\n", resp.Status)
		}
		os.Exit(1)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func printState(s *playerStateResponse) {
	fmt.Printf("State:    %s\n", s.State)
	if s.Track != nil {
		fmt.Printf("Track:    %s - %s [%s]\n", strings.Join(s.Track.Artists, ", "), s.Track.Title, s.Track.Origin)
		elapsed := time.Duration(s.Progress*float64(s.Track.DurationMs)) * time.Millisecond
		fmt.Printf("Position: %s / %s\n", formatDuration(elapsed.Milliseconds()), formatDuration(s.Track.DurationMs))
	}
	fmt.Printf("Volume:   %.0f%%", s.Volume*100)
	if s.Muted {
		fmt.Print(" (muted)")
	}
	fmt.Println()
	fmt.Printf("Shuffle:  %v    Repeat: %s\n", s.Shuffle, s.Repeat)
	if s.Connected {
		fmt.Printf("Spotify:  connected (device %s)\n", s.DeviceID)
	} else {
		fmt.Println("Spotify:  not connected")
	}
}

func printQueue(q *queueResponse) {
	if len(q.Items) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	for i, it := range q.Items {
		marker := "  "
		if i == q.Index {
			marker = "> "
		}
		fmt.Printf("%s%2d. %s - %s (%s)\n", marker, i+1,
			strings.Join(it.Track.Artists, ", "), it.Track.Title, formatDuration(it.Track.DurationMs))
	}
}

func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// subscribe streams server-sent events until interrupted.
func subscribe() {
	resp, err := http.Get(*server + "/api/events")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error: server returned %s\n", resp.Status)
		os.Exit(1)
	}

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev struct {
			SequenceNo uint64         `json:"sequence_no"`
			Type       string         `json:"type"`
			State      string         `json:"state"`
			Track      *trackResponse `json:"track"`
			Connected  bool           `json:"connected"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		fmt.Printf("\n[Sequence: %d] === %s ===\n", ev.SequenceNo, strings.ToUpper(strings.ReplaceAll(ev.Type, "_", " ")))
		switch ev.Type {
		case "track_changed", "state_changed":
			if ev.Track != nil {
				fmt.Printf("  Track: %s - %s\n", strings.Join(ev.Track.Artists, ", "), ev.Track.Title)
			}
			fmt.Printf("  State: %s\n", ev.State)
		case "connection_changed":
			fmt.Printf("  Connected: %v\n", ev.Connected)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}
