package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"collabknit/internal/client"
	"collabknit/internal/codec"
	"collabknit/internal/config"
	"collabknit/internal/discovery"
	"collabknit/internal/protocol"
	"collabknit/internal/render"
	"collabknit/internal/replica"
)

func main() {
	if err := mainInner(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "", "server address host:port; empty browses mDNS")
	service := flag.String("service", config.DefaultService, "mDNS service to browse for")
	msgpackVar := flag.Bool("msgpack", false, "ask the server for msgpack framing")
	width := flag.Int("width", 32, "stitches per row")
	animate := flag.Duration("animate", 0, "delay between stitches when drawing")
	pngPath := flag.String("png", "", "write the textile to this PNG file on exit")
	echoText := flag.Bool("echo-text", false, "log incoming deltas decoded back to text")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := config.NewLogger(os.Stderr, *level, "text", "knitclient")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := *addrVar
	if addr == "" {
		lookupCtx, stop := context.WithTimeout(ctx, 15*time.Second)
		addr, err = discovery.Lookup(lookupCtx, logger, *service)
		stop()
		if err != nil {
			return err
		}
	}

	term := render.NewTerminal(os.Stdout, *width, *animate)
	var observer replica.Observer = term
	if *echoText {
		observer = replica.ObserverFunc(func(u replica.Update) {
			term.Observe(u)
			if u.Reset {
				return
			}
			bits := make(codec.Bits, len(u.Entries))
			for i, e := range u.Entries {
				bits[i] = e.Bit
			}
			if text, err := codec.Decode(bits); err == nil {
				logger.Info("knitted", "text", text, "offset", u.From)
			}
		})
	}
	r := replica.New(observer)

	opts := []client.Option{client.WithLogger(logger)}
	if *msgpackVar {
		opts = append(opts, client.WithCodec(protocol.Msgpack))
	}
	c := client.New(addr, r, opts...)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.Run(ctx); err != nil {
			logger.Error("client stopped", "err", err)
		}
		cancel()
	}()

	readyCtx, stopReady := context.WithTimeout(ctx, 15*time.Second)
	err = c.WaitReady(readyCtx)
	stopReady()
	if err != nil {
		cancel()
		wg.Wait()
		term.Close()
		return fmt.Errorf("waiting for first snapshot: %w", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				flushCtx, stopFlush := context.WithTimeout(ctx, 5*time.Second)
				if err := c.Flush(flushCtx); err != nil {
					logger.Warn("exiting before every echo arrived", "err", err)
				}
				stopFlush()
				break loop
			}
			if line == "" {
				continue
			}
			if err := c.Send(line); err != nil {
				var encErr *codec.EncodingError
				switch {
				case errors.As(err, &encErr):
					fmt.Fprintf(os.Stderr, "not sent: %v\n", encErr)
				default:
					logger.Warn("not sent", "err", err)
				}
			}
		case <-ctx.Done():
			break loop
		}
	}

	cancel()
	wg.Wait()
	term.Close()

	if *pngPath != "" {
		f, err := os.Create(*pngPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := render.WritePNG(f, r.Entries(), *width); err != nil {
			return fmt.Errorf("write %s: %w", *pngPath, err)
		}
		logger.Info("exported", "path", *pngPath, "stitches", r.Len())
	}
	return nil
}
