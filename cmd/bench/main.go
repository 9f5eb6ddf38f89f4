package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"
)

// Load generator: fires IAMAT reports at one node and reads back the
// AT confirmations.
func main() {
	addr := flag.String("addr", "127.0.0.1:20832", "node address")
	n := flag.Int("n", 5000, "reports")
	conc := flag.Int("c", 32, "concurrency")
	flag.Parse()

	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, *conc)

	for i := 0; i < *n; i++ {
		wg.Add(1)
		ch <- 1
		go func(i int) {
			defer wg.Done()
			defer func() { <-ch }()

			conn, err := net.DialTimeout("tcp", *addr, 3*time.Second)
			if err != nil {
				return
			}
			defer conn.Close()

			lat := rand.Float64()*180 - 90
			lon := rand.Float64()*360 - 180
			now := float64(time.Now().UnixNano()) / 1e9
			fmt.Fprintf(conn, "IAMAT bench-%d %+f%+f %f\n", i, lat, lon, now)
			_, _ = bufio.NewReader(conn).ReadString('\n')
		}(i)
	}
	wg.Wait()
	dur := time.Since(start)
	fmt.Printf("Completed %d reports in %s (%.2f ops/s)\n", *n, dur, float64(*n)/dur.Seconds())
}
