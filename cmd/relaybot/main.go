// Package main provides relaybot, a headless rider that joins a relay room,
// drives a synthetic sine path and prints what it sees of the other riders.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/client"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
)

func main() {
	url := flag.String("url", "ws://localhost:3000/ws", "relay WebSocket endpoint")
	roomID := flag.String("room", "main", "room to join")
	name := flag.String("name", "relaybot", "display name")
	tickRate := flag.Int("tick", 20, "snapshots per second")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	actionEvery := flag.Duration("action-every", 3*time.Second, "interval between synthetic boost actions; 0 disables")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	interval, err := tickInterval(*tickRate)
	if err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	adapter := client.New(client.Config{
		URL:      *url,
		Room:     *roomID,
		Name:     *name,
		TickRate: *tickRate,
	}, logger)

	adapter.OnPlayersUpdate(func(players map[string]room.Snapshot) {
		fmt.Println(formatPlayers(players))
	})
	adapter.OnAction(func(id string, action json.RawMessage) {
		fmt.Printf("%s %s %s\n", color.MagentaString("action"), color.CyanString(short(id)), string(action))
	})

	if err := adapter.Connect(ctx); err != nil {
		color.Red("multiplayer unavailable: %v", err)
		os.Exit(1)
	}
	color.Green("joined %s as %s", *roomID, *name)

	if err := ride(ctx, adapter, interval, *actionEvery); err != nil {
		logger.Warn("ride ended", zap.Error(err))
	}
	adapter.Leave()
	color.Yellow("left %s", *roomID)
}

// ride feeds a sine-path snapshot to the adapter until ctx ends or the
// connection drops.
func ride(ctx context.Context, adapter *client.Adapter, interval, actionEvery time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var boost <-chan time.Time
	if actionEvery > 0 {
		t := time.NewTicker(actionEvery)
		defer t.Stop()
		boost = t.C
	}

	start := time.Now()
	alive := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-boost:
			if err := adapter.Action("boost", map[string]float64{"power": 1}); err != nil {
				return err
			}
		case now := <-ticker.C:
			if !adapter.Connected() {
				return client.ErrNotConnected
			}
			adapter.UpdateLocal(pathAt(now.Sub(start), alive))
		}
	}
}

// tickInterval converts the -tick flag into a ticker period.
func tickInterval(rate int) (time.Duration, error) {
	if rate <= 0 || rate > client.MaxTickRate {
		return 0, fmt.Errorf("-tick must be between 1 and %d, got %d", client.MaxTickRate, rate)
	}
	return time.Second / time.Duration(rate), nil
}

// pathAt returns the bot's position t into its ride: a slow sine over
// rolling terrain with the bike angled along the slope.
func pathAt(t time.Duration, alive bool) room.Patch {
	s := t.Seconds()
	x := 120 * s
	y := 300 + 80*math.Sin(s)
	angle := math.Atan2(80*math.Cos(s), 120)
	return room.Patch{X: &x, Y: &y, Angle: &angle, Alive: &alive}
}

func formatPlayers(players map[string]room.Snapshot) string {
	if len(players) == 0 {
		return color.YellowString("no other riders")
	}
	ids := make([]string, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	b.WriteString(color.GreenString("%d rider(s):", len(players)))
	for _, id := range ids {
		p := players[id]
		fmt.Fprintf(&b, " %s[%s]", color.CyanString(p.Name), short(id))
		if p.X != nil && p.Y != nil {
			fmt.Fprintf(&b, "@(%.0f,%.0f)", *p.X, *p.Y)
		}
		if p.Alive != nil && !*p.Alive {
			b.WriteString(color.RedString(" crashed"))
		}
	}
	return b.String()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
