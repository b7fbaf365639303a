package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maeshinshin/lanlink"
	"github.com/maeshinshin/lanlink/example/util"
)

var (
	debug   = flag.Bool("debug", false, "Enable debug mode")
	name    = flag.String("name", "", "Only connect to servers with this name")
	timeout = flag.Duration("timeout", 10*time.Second, "How long to wait for a server")
)

func main() {
	flag.Parse()

	if *debug {
		lanlink.SetDebug()
	}

	c, err := lanlink.NewClient()
	if err != nil {
		panic(err)
	}
	defer c.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	fmt.Println("Looking for servers. Press Ctrl+C to give up.")
	if _, err := c.Lookup(ctx, util.Matcher(*name)); err != nil {
		fmt.Println("No server found:", err)
		return
	}

	candidates := util.Candidates(c.Servers(), *name)
	conn, info, err := lanlink.DialFirst(ctx, candidates)
	if err != nil {
		fmt.Println("Could not connect:", err)
		return
	}
	defer conn.Close()

	fmt.Printf("Connected to %s (password required: %t) from %s\n",
		info, info.PasswordRequired, conn.LocalAddr())
}
