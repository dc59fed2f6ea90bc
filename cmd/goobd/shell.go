package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/shaunagostinho/goobd/internal/obd"
	"github.com/shaunagostinho/goobd/internal/pids"
)

const shellHelp = `commands:
  <text>         send raw text to the adapter (e.g. ATRV, 010C)
  <name>         query a parameter by name (same as get <name>)
  get <name>     query a parameter by name
  pids           list known parameter names
  mode [hex]     show or set the default mode
  raw on|off     echo every adapter line
  help           this text
  quit           exit`

// runShell reads commands from the terminal and prints the adapter's answers.
func runShell(ctx context.Context, dev *obd.Device) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeShell)

	histPath := filepath.Join(os.TempDir(), ".goobd_history")
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	var rawSub *obd.Subscription
	fmt.Println(shellHelp)
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("obd> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		fields := strings.Fields(input)
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println(shellHelp)
		case "pids":
			fmt.Println(strings.Join(pids.Names(), " "))
		case "mode":
			if len(fields) > 1 {
				var m byte
				if _, err := fmt.Sscanf(fields[1], "%x", &m); err != nil {
					fmt.Println("bad mode:", fields[1])
					continue
				}
				dev.SetMode(obd.Mode(m))
			}
			fmt.Println("mode", dev.Mode())
		case "raw":
			on := len(fields) > 1 && fields[1] == "on"
			if on && rawSub == nil {
				sub := dev.OnRawData(func(l string, at time.Time) {
					fmt.Printf("  < %s\n", l)
				})
				rawSub = &sub
			} else if !on && rawSub != nil {
				dev.Unsubscribe(*rawSub)
				rawSub = nil
			}
		case "get":
			if len(fields) < 2 {
				fmt.Println("usage: get <name>")
				continue
			}
			e, err := pids.Lookup(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			query(ctx, dev, e)
		default:
			if e, err := pids.Lookup(input); err == nil {
				query(ctx, dev, e)
				continue
			}
			v, err := dev.Exec(ctx, input)
			switch {
			case err != nil:
				fmt.Println("error:", err)
			case v == nil:
				fmt.Println("(no reply)")
			default:
				fmt.Println(v)
			}
		}
	}
}

func query(ctx context.Context, dev *obd.Device, e pids.Entry) {
	r, err := e.Query(ctx, dev)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%s = %s\n", r.Name(), r)
}

func completeShell(line string) []string {
	var out []string
	if rest, ok := strings.CutPrefix(line, "get "); ok {
		for _, n := range pids.Names() {
			if strings.HasPrefix(n, rest) {
				out = append(out, "get "+n)
			}
		}
		return out
	}
	for _, c := range []string{"get ", "pids", "mode ", "raw ", "help", "quit", "ATRV", "ATDPN", "ATI"} {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}
