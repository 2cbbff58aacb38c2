package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"reelhub/pkg/models"
)

// Tail connects to a TCP event feed and calls fn for every history event,
// optionally filtered by username. Lines that are not history events (the
// welcome banner) are skipped. Tail returns when ctx is done or the
// connection drops.
func Tail(ctx context.Context, addr, username string, fn func(models.HistoryEvent)) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		var ev models.HistoryEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil || ev.ContentID == "" {
			continue
		}
		if username != "" && ev.Username != username {
			continue
		}
		fn(ev)
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return fmt.Errorf("feed %s closed", addr)
}

// Follow keeps tailing addr, reconnecting after every, until ctx is done.
func Follow(ctx context.Context, addr, username string, every time.Duration, log *logrus.Logger, fn func(models.HistoryEvent)) {
	for {
		if err := Tail(ctx, addr, username, fn); err != nil {
			log.WithError(err).Warn("event feed disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(every):
		}
	}
}
