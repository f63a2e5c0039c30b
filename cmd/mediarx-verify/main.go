package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livekit/mediarx"
	"github.com/livekit/mediarx/pkg/packet"
	"github.com/livekit/mediarx/pkg/riff"
	"github.com/livekit/mediarx/pkg/verify"
)

func main() {
	app := &cli.App{
		Name:    "mediarx-verify",
		Usage:   "generate, transmit and verify patterned payload streams",
		Version: mediarx.Version,
		Commands: []*cli.Command{
			loopbackCommand,
			packCommand,
			checkCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var loopbackCommand = &cli.Command{
	Name:  "loopback",
	Usage: "packetize generated payloads, scramble the fragments and verify reassembly",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "streams", Value: 1},
		&cli.IntFlag{Name: "payloads", Value: 100},
		&cli.IntFlag{Name: "payload-size", Value: 4096},
		&cli.IntFlag{Name: "mtu", Value: 1200},
		&cli.StringFlag{Name: "pattern", Value: "inc", Usage: "same, inc, shl or shr"},
		&cli.Uint64Flag{Name: "seed", Value: 0x1234},
		&cli.Uint64Flag{Name: "tolerance", Value: 0, Usage: "payload drops tolerated between consecutive payloads"},
		&cli.Float64Flag{Name: "drop", Value: 0, Usage: "probability of dropping a whole payload"},
		&cli.Int64Flag{Name: "rand-seed", Value: 1},
	},
	Action: runLoopback,
}

func runLoopback(c *cli.Context) error {
	pattern, err := verify.ParsePattern(c.String("pattern"))
	if err != nil {
		return err
	}

	streams := c.Int("streams")
	payloads := c.Int("payloads")
	payloadSize := c.Int("payload-size")
	drop := c.Float64("drop")
	rng := rand.New(rand.NewSource(c.Int64("rand-seed")))

	r, err := mediarx.NewReceiver(mediarx.ReceiverConfig{
		Streams:    streams,
		BufferSize: payloadSize,
		Pattern:    pattern,
		Seed:       c.Uint64("seed"),
		Tolerance:  c.Uint64("tolerance"),
	})
	if err != nil {
		return err
	}
	if err = r.Start(); err != nil {
		return err
	}

	buf := make([]byte, payloadSize)
	dropped := 0
	for counter := 0; counter < payloads; counter++ {
		for stream := 0; stream < streams; stream++ {
			if drop > 0 && rng.Float64() < drop {
				dropped++
				continue
			}
			if err = verify.Fill(buf, c.Uint64("seed"), pattern); err != nil {
				return err
			}
			tag := verify.MakeTag(uint8(stream), uint64(counter))
			binary.LittleEndian.PutUint64(buf[:8], tag)

			frags, err := packet.Packetize(buf, uint8(counter), tag, nil, c.Int("mtu"))
			if err != nil {
				return err
			}
			rng.Shuffle(len(frags), func(i, j int) {
				frags[i], frags[j] = frags[j], frags[i]
			})
			for _, f := range frags {
				// reparse from wire bytes so the payload no longer aliases buf
				parsed, err := packet.Parse(f.Marshal())
				if err != nil {
					return err
				}
				if err = r.OnFragment(stream, parsed); err != nil {
					return err
				}
			}
		}
	}

	if err = r.Close(); err != nil {
		return err
	}

	fmt.Printf("sent %d payloads per stream, dropped %d\n", payloads, dropped)
	failures := 0
	for _, res := range r.Results() {
		if res.Passed {
			fmt.Printf("stream %d: PASS (%d payloads, %d errors)\n", res.Stream, res.Payloads, res.Errors)
		} else {
			failures++
			fmt.Printf("stream %d: FAIL after %d payloads: %v\n", res.Stream, res.Payloads, res.Failure)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d streams failed verification", failures, streams)
	}
	return nil
}

var packCommand = &cli.Command{
	Name:  "pack",
	Usage: "write generated payloads into a chunked container file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Required: true},
		&cli.IntFlag{Name: "payloads", Value: 100},
		&cli.IntFlag{Name: "payload-size", Value: 4096},
		&cli.StringFlag{Name: "pattern", Value: "inc"},
		&cli.Uint64Flag{Name: "seed", Value: 0x1234},
		&cli.IntFlag{Name: "stream-id", Value: 0},
	},
	Action: runPack,
}

func runPack(c *cli.Context) error {
	pattern, err := verify.ParsePattern(c.String("pattern"))
	if err != nil {
		return err
	}

	f, err := os.Create(c.String("out"))
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := riff.NewWriter(f, riff.FormType)
	if err != nil {
		return err
	}

	buf := make([]byte, c.Int("payload-size"))
	for counter := 0; counter < c.Int("payloads"); counter++ {
		if err = verify.Fill(buf, c.Uint64("seed"), pattern); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(buf[:8], verify.MakeTag(uint8(c.Int("stream-id")), uint64(counter)))
		if err = w.WriteChunk(riff.ChunkAncillary, buf); err != nil {
			return err
		}
	}
	if err = w.Close(); err != nil {
		return err
	}
	fmt.Printf("wrote %d payloads to %s\n", c.Int("payloads"), c.String("out"))
	return nil
}

var checkCommand = &cli.Command{
	Name:  "check",
	Usage: "verify the payload chunks of a container file",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "in", Required: true},
		&cli.IntFlag{Name: "payload-size", Value: 4096, Usage: "largest acceptable payload"},
		&cli.StringFlag{Name: "pattern", Value: "inc"},
		&cli.Uint64Flag{Name: "seed", Value: 0x1234},
		&cli.Uint64Flag{Name: "tolerance", Value: 0},
		&cli.IntFlag{Name: "stream-id", Value: 0},
	},
	Action: runCheck,
}

func runCheck(c *cli.Context) error {
	pattern, err := verify.ParsePattern(c.String("pattern"))
	if err != nil {
		return err
	}

	f, err := os.Open(c.String("in"))
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := riff.NewReader(f)
	if err != nil {
		return err
	}
	if r.FormType() != riff.FormType {
		return fmt.Errorf("unexpected container form type %q", r.FormType())
	}

	checker, err := verify.NewChecker(
		uint8(c.Int("stream-id")), c.Int("payload-size"), pattern, c.Uint64("seed"),
		verify.WithTolerance(c.Uint64("tolerance")),
	)
	if err != nil {
		return err
	}

	for {
		ch, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if ch.ID != riff.ChunkAncillary {
			ch.Release()
			continue
		}
		var sgl packet.ScatterList
		sgl.Append(ch.Data)
		checker.Check(&sgl)
		ch.Release()
	}

	if !checker.Passed() {
		return fmt.Errorf("verification failed after %d payloads: %w",
			checker.PayloadCount(), checker.FirstFailure())
	}
	fmt.Printf("verified %d payloads, %d recoverable errors\n",
		checker.PayloadCount(), checker.ErrorCount())
	return nil
}
