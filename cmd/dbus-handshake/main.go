// Command dbus-handshake connects to a DBus bus, completes the SASL
// handshake, sends the mandatory Hello call, and prints the unique
// name the bus assigned to the connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/halfwit/dbus"
	"github.com/halfwit/dbus/transport"
	"github.com/kr/pretty"
)

var globalArgs struct {
	UseSessionBus bool          `flag:"session,Connect to the session bus instead of the system bus"`
	Timeout       time.Duration `flag:"timeout,default=5s,Timeout for sending the Hello call and receiving its reply (dialing and the handshake are not bounded)"`
	Verbose       bool          `flag:"v,Print the full Hello reply message"`
}

func main() {
	root := &command.C{
		Name:     "dbus-handshake",
		Usage:    "dbus-handshake",
		Help:     "Connect to a bus, authenticate, and print the assigned unique name.",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Run:      command.Adapt(runHandshake),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runHandshake(_ *command.Env) error {
	var (
		conn *dbus.Conn
		err  error
	)
	if globalArgs.UseSessionBus {
		conn, err = dbus.DialSessionBus()
	} else {
		conn, err = dbus.DialSystemBus()
	}
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	hello, err := dbus.HelloMessage()
	if err != nil {
		return fmt.Errorf("building Hello call: %w", err)
	}

	timeout := transport.Duration(globalArgs.Timeout)
	if err := conn.Send().Send(hello, timeout); err != nil {
		return fmt.Errorf("sending Hello call: %w", err)
	}

	reply, err := conn.Recv().Recv(timeout)
	if err != nil {
		return fmt.Errorf("receiving Hello reply: %w", err)
	}
	if reply.Type == dbus.MessageTypeError {
		return fmt.Errorf("Hello call failed: %s", reply.ErrorName)
	}

	var name string
	if err := dbus.Unmarshal(reply.Body, reply.Order, reply.Fds, &name); err != nil {
		return fmt.Errorf("decoding Hello reply: %w", err)
	}

	fmt.Printf("unique name: %s\n", name)
	if globalArgs.Verbose {
		fmt.Println(pretty.Sprint(reply))
	}
	return nil
}
