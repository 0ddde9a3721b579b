package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chazu/rgbvm/manifest"
	"github.com/chazu/rgbvm/pkg/wire"
	"github.com/chazu/rgbvm/server"
	"github.com/chazu/rgbvm/store"
)

// handleServeCommand processes `rgbvm serve`: drive a strip and expose it
// through the controller service until interrupted.
// Usage:
//
//	rgbvm serve                       # settings from rgbvm.toml
//	rgbvm serve -addr :8080 -carousel 10
//	rgbvm serve -no-store rainbow.rgbc
func handleServeCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", m.Server.Addr, "Listen address")
	fps := fs.Int("fps", m.LEDs.FrameRate, "Frames per second")
	carousel := fs.Int("carousel", m.Server.CarouselSeconds, "Cycle favorites every N seconds (0 disables)")
	noStore := fs.Bool("no-store", false, "Run without the effect library")
	fs.Parse(args)

	strip, err := newStrip(m)
	if err != nil {
		return err
	}
	if fs.NArg() > 0 || m.Program.Image != "" {
		img, err := programImage(fs.Args(), m)
		if err != nil {
			return err
		}
		if err := strip.Load(img); err != nil {
			return err
		}
	}

	opts := []server.ServerOption{server.WithFrameRate(*fps)}
	if !*noStore {
		st, err := store.Open(m.StorePath())
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, server.WithStore(st))
		if *carousel > 0 {
			opts = append(opts, server.WithCarousel(*carousel))
		}
	}

	srv := server.New(strip, opts...)
	defer srv.Stop()

	ctx, cancel := signalContext()
	defer cancel()
	return srv.ListenAndServe(ctx, *addr)
}

// handleCtlCommand processes `rgbvm ctl`, a client for a running server.
// Usage:
//
//	rgbvm ctl status
//	rgbvm ctl upload [-save name] effect.asm
//	rgbvm ctl play rainbow
//	rgbvm ctl set speed 3
//	rgbvm ctl carousel 10
//	rgbvm ctl line ff0000 0 10 5
//	rgbvm ctl frame
func handleCtlCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("ctl", flag.ExitOnError)
	addr := fs.String("addr", baseURL(m.Server.Addr), "Controller URL")
	useGRPC := fs.Bool("grpc", false, "Call through grpc-go over cleartext HTTP/2")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("usage: rgbvm ctl [flags] <status|upload|play|set|carousel|line|frame> ...")
	}

	var client server.Controls
	if *useGRPC {
		gc, err := server.DialGRPC(grpcTarget(*addr))
		if err != nil {
			return err
		}
		defer gc.Close()
		client = gc
	} else {
		client = server.NewClient(http.DefaultClient, *addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sub, rest := fs.Arg(0), fs.Args()[1:]
	switch sub {
	case "status":
		res, err := client.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(res)
	case "upload":
		return ctlUpload(ctx, client, rest)
	case "play":
		if len(rest) != 1 {
			return errors.New("usage: rgbvm ctl play <name>")
		}
		res, err := client.Play(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("playing %q (%s)\n", rest[0], res.ID)
	case "set":
		return ctlSet(ctx, client, rest)
	case "carousel":
		if len(rest) != 1 {
			return errors.New("usage: rgbvm ctl carousel <seconds>")
		}
		seconds, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("seconds: %w", err)
		}
		res, err := client.Carousel(ctx, seconds)
		if err != nil {
			return err
		}
		if res.Seconds == 0 {
			fmt.Println("carousel stopped")
		} else {
			fmt.Printf("carousel every %ds, playing %q\n", res.Seconds, res.Playing)
		}
	case "line":
		return ctlLine(ctx, client, rest)
	case "frame":
		res, err := client.Frame(ctx)
		if err != nil {
			return err
		}
		parts := make([]string, 0, len(res.Pixels)/3)
		for i := 0; i+2 < len(res.Pixels); i += 3 {
			parts = append(parts, fmt.Sprintf("#%02x%02x%02x", res.Pixels[i], res.Pixels[i+1], res.Pixels[i+2]))
		}
		fmt.Println(strings.Join(parts, " "))
	default:
		return fmt.Errorf("unknown ctl command %q", sub)
	}
	return nil
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// grpcTarget strips the scheme from a controller URL.
func grpcTarget(url string) string {
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")
	return strings.TrimRight(url, "/")
}

func printStatus(res *server.StatusResponse) {
	program := res.Program
	if !res.Loaded {
		program = "(none)"
	} else if program == "" {
		program = "(unnamed)"
	}
	fmt.Printf("program:      %s\n", program)
	if res.Playing != "" {
		fmt.Printf("playing:      %s\n", res.Playing)
	}
	fmt.Printf("leds:         %d\n", res.LEDs)
	fmt.Printf("frames:       %d\n", res.Frames)
	fmt.Printf("instructions: %d\n", res.Instructions)
	fmt.Printf("render calls: %d\n", res.RenderCalls)
	fmt.Printf("faults:       %d\n", res.Faults)
	if res.LastFault != "" {
		fmt.Printf("last fault:   %s\n", res.LastFault)
	}
	fmt.Printf("lines:        %d\n", res.Lines)
	if res.CarouselSeconds > 0 {
		fmt.Printf("carousel:     every %ds\n", res.CarouselSeconds)
	}
	fmt.Printf("uptime:       %s\n", time.Duration(res.UptimeMillis)*time.Millisecond)
}

func ctlUpload(ctx context.Context, client server.Controls, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	save := fs.String("save", "", "Also save the image in the effect library under this name")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: rgbvm ctl upload [-save name] <file>")
	}
	data, err := encodedImage(fs.Arg(0))
	if err != nil {
		return err
	}
	res, err := client.Upload(ctx, &server.UploadRequest{
		Name:  *save,
		Image: data,
		Save:  *save != "",
	})
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %d bytes, entry 0x%04X", res.Bytes, res.Entry)
	if res.ID != "" {
		fmt.Printf(", saved as %s", res.ID)
	}
	fmt.Println()
	return nil
}

// ctlSet pokes a variable by name, or by address sized with -size.
func ctlSet(ctx context.Context, client server.Controls, args []string) error {
	fs := flag.NewFlagSet("set", flag.ExitOnError)
	size := fs.Int("size", 4, "Variable size in bytes when setting by address")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("usage: rgbvm ctl set [-size n] <name|address> <value>")
	}
	value, err := strconv.ParseInt(fs.Arg(1), 0, 32)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	req := &server.SetVarRequest{Value: int32(value)}
	if loc, err := strconv.ParseUint(fs.Arg(0), 0, 16); err == nil {
		req.Location, req.Size = uint16(loc), uint8(*size)
	} else {
		req.Name = fs.Arg(0)
	}
	_, err = client.SetVar(ctx, req)
	return err
}

// ctlLine sends an EnableLine packet: color as rrggbb, LEDs [start, end)
// for the given seconds.
func ctlLine(ctx context.Context, client server.Controls, args []string) error {
	if len(args) != 4 {
		return errors.New("usage: rgbvm ctl line <rrggbb> <start> <end> <seconds>")
	}
	rgb, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 16, 24)
	if err != nil {
		return fmt.Errorf("color: %w", err)
	}
	var nums [3]uint16
	for i, s := range args[1:] {
		n, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+2, err)
		}
		nums[i] = uint16(n)
	}
	data, err := wire.Marshal(wire.EnableLine{
		R: uint8(rgb >> 16), G: uint8(rgb >> 8), B: uint8(rgb),
		Start: nums[0], End: nums[1], Duration: nums[2],
	})
	if err != nil {
		return err
	}
	_, err = client.Packet(ctx, data)
	return err
}
