// Standalone fake market-data provider for local runs. Start it on a
// couple of ports and point config.json targets at them.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "listen port")
	flag.Parse()

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status": "ok"}`)
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)

		cache := "MISS"
		if rand.Intn(2) == 0 {
			cache = "HIT"
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", cache)
		fmt.Fprintf(w, `{"symbol": "ACME", "price": %.2f, "as_of": %q, "path": %q}`,
			90+rand.Float64()*20, time.Now().UTC().Format(time.RFC3339), r.URL.Path)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Dummy market-data provider starting on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}
