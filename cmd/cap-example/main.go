// Command cap-example is the minimal program built on top of the cap
// package: a "server" subcommand that listens, accepts, and prints
// each reassembled message, and a "client" subcommand that connects,
// sends a fixed sample message, and closes. Built the way the
// reference repo's test/echoserver and test/echoclient programs are
// built — flag parsing, an optional YAML config file, log.Fatalln on
// setup failure.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/capnetproto/cap/cap"
	"github.com/capnetproto/cap/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cap-example server|client [flags]")
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	addr := fs.String("addr", ":9100", "address to listen on")
	configPath := fs.String("config", "", "optional YAML config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("config error:", err)
	}

	sock, err := cap.Bind(*addr, cfg.ToOptions())
	if err != nil {
		log.Fatalln("bind error:", err)
	}
	defer sock.Close()

	if err := sock.Listen(); err != nil {
		log.Fatalln("listen error:", err)
	}
	log.Printf("cap-example server listening on %s\n", sock.LocalAddr())

	for {
		conn, err := sock.Accept()
		if err != nil {
			log.Println("accept error:", err)
			os.Exit(1)
		}
		log.Printf("new connection from %s\n", conn.RemoteAddr())
		go handleConn(conn)
	}
}

func handleConn(conn *cap.Connection) {
	for {
		msg, err := conn.Recv()
		if err != nil {
			if errors.Is(err, cap.ErrConnectionClosed) {
				log.Printf("connection from %s closed\n", conn.RemoteAddr())
				return
			}
			log.Println("recv error:", err)
			return
		}
		log.Printf("got message from %s: %q\n", conn.RemoteAddr(), msg)
	}
}

func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9100", "server address to connect to")
	configPath := fs.String("config", "", "optional YAML config file")
	message := fs.String("message", "hello from cap-example", "message to send")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln("config error:", err)
	}

	sock, err := cap.Bind(":0", cfg.ToOptions())
	if err != nil {
		log.Fatalln("bind error:", err)
	}
	defer sock.Close()

	conn, err := sock.Connect(*addr)
	if err != nil {
		log.Fatalln("connect error:", err)
	}

	if err := conn.Send([]byte(*message)); err != nil {
		log.Println("send error:", err)
		os.Exit(1)
	}

	if err := conn.Close(); err != nil {
		log.Println("close error:", err)
		os.Exit(1)
	}
	log.Println("message sent, connection closed")
}
