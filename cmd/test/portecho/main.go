package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Host        string `long:"host" env:"HOST" default:"127.0.0.1" description:"Host to listen on"`
	Port        int    `long:"port" env:"PORT" description:"Port to listen on"`
	StartDelay  int    `long:"start-delay" description:"Milliseconds to wait before listening (debug feature)"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run (debug feature)"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Portecho, opts: %+v...\n", opts)

	if opts.Port == 0 {
		fmt.Println("Port is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	if opts.StartDelay > 0 {
		time.Sleep(time.Duration(opts.StartDelay) * time.Millisecond)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))
	if err != nil {
		fmt.Printf("Failed to listen: %v\n", err)
		os.Exit(2)
	}
	defer listener.Close()

	go serve(listener)

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Portecho is listening on %s\n", listener.Addr())

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Portecho received signal: %v\n", receivedSignal)
	case <-ctx.Done():
		fmt.Printf("Portecho timed out\n")
	}

	fmt.Printf("Portecho stopped\n")
}

// serve echoes each line back to the client
func serve(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				fmt.Fprintln(conn, scanner.Text())
			}
		}(conn)
	}
}
