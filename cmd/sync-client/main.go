package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	synchub "reelhub/internal/sync"
	"reelhub/pkg/logger"
	"reelhub/pkg/models"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7070", "TCP event feed address")
	user := flag.String("user", "", "only show events for this username")
	pretty := flag.Bool("pretty", true, "pretty print JSON events")
	flag.Parse()

	log := logger.Get()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("addr", *addr).Info("following history events")
	synchub.Follow(ctx, *addr, *user, time.Second, log, func(ev models.HistoryEvent) {
		var (
			b   []byte
			err error
		)
		if *pretty {
			b, err = json.MarshalIndent(ev, "", "  ")
		} else {
			b, err = json.Marshal(ev)
		}
		if err != nil {
			log.WithError(err).Warn("encode event")
			return
		}
		fmt.Println(string(b))
	})
}
