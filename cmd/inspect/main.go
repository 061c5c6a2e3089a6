// Command inspect opens a campuschat database offline and prints a room's
// metadata and message log. Run it against a stopped server's DB path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"campuschat/pkg/logger"
	"campuschat/pkg/models"
	"campuschat/pkg/store"
)

func main() {
	var dbPath, roomID string
	var limit int
	flag.StringVar(&dbPath, "db", "", "pebble DB path")
	flag.StringVar(&roomID, "room", "", "room id to dump")
	flag.IntVar(&limit, "limit", 0, "max messages to print (0 = all)")
	flag.Parse()
	if dbPath == "" || roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db <path> --room <id> [--limit n]")
		os.Exit(2)
	}

	logger.Init("error")
	if err := store.Open(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	meta, err := store.GetRoom(roomID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "room %s: %v\n", roomID, err)
		os.Exit(1)
	}
	fmt.Printf("room: %s\n", meta)

	printed := 0
	err = store.ListMessages(roomID, func(data []byte) bool {
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			fmt.Printf("  <corrupt entry: %v>\n", err)
			return true
		}
		mark := ""
		if m.Deleted {
			mark = " [deleted]"
		}
		fmt.Printf("  %6d %-24s %s%s\n", m.Seq, m.Sender, m.Content, mark)
		printed++
		return limit == 0 || printed < limit
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "walk failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d message(s)\n", printed)
}
