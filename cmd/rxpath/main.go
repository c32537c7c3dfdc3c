package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/umacif/rxpath"
	"github.com/umacif/rxpath/config"
	"github.com/umacif/rxpath/hal"
	"github.com/umacif/rxpath/nbuf"
	"github.com/umacif/rxpath/pool"
	"github.com/umacif/rxpath/util"
	"golang.org/x/sync/errgroup"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")
	printUsage := flag.Bool("help", false, "Print command line usage")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	if *printUsage {
		flag.Usage()
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("-config flag must be set")
		flag.Usage()
		os.Exit(1)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	err := c.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %s", err)
		os.Exit(1)
	}

	pools, err := pool.NewMapFromConfig(c)
	if err != nil {
		fmt.Printf("failed to load rx.pools: %s", err)
		os.Exit(1)
	}

	sim := hal.NewSim(l, pools)
	alloc := nbuf.NewHeapAllocator(c.GetInt("rx.memory_limit", 0), metrics.DefaultRegistry)

	ctrl, err := rxpath.Main(c, *configTest, Build, l, sim, alloc)
	if err != nil {
		util.LogWithContextIfNeeded("Failed to start", err, l)
		os.Exit(1)
	}

	if *configTest {
		os.Exit(0)
	}

	if err := run(l, c, ctrl, sim, alloc); err != nil {
		util.LogWithContextIfNeeded("Replay failed", err, l)
		os.Exit(1)
	}

	os.Exit(0)
}

func run(l *logrus.Logger, c *config.C, ctrl *rxpath.Control, sim *hal.Sim, alloc nbuf.Allocator) error {
	rc := replayConfigFrom(c)

	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	openWriter := func(path string, lt layers.LinkType) (*pcapgo.Writer, error) {
		if path == "" {
			return nil, nil
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		files = append(files, f)

		w := pcapgo.NewWriter(f)
		return w, w.WriteFileHeader(65536, lt)
	}

	frames, err := openWriter(rc.framesOut, layers.LinkTypeEthernet)
	if err != nil {
		return util.NewContextualError("Failed to open replay.frames_out", logrus.Fields{"path": rc.framesOut}, err)
	}
	sniff, err := openWriter(rc.sniffOut, layers.LinkTypeIEEE802_11)
	if err != nil {
		return util.NewContextualError("Failed to open replay.sniff_out", logrus.Fields{"path": rc.sniffOut}, err)
	}

	sink := newCaptureSink(l, alloc, frames, sniff, metrics.DefaultRegistry)
	ctrl.AddInterface(rc.vif, sink)

	if err := ctrl.Start(); err != nil {
		// Whatever came up is usable.
		util.LogWithContextIfNeeded("Not every RX buffer came up", err, l)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.CatchHUP(ctx)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(sink.run)
	eg.Go(func() error {
		defer sink.close()
		if rc.pcap == "" {
			return nil
		}
		return replayFile(ectx, l, ctrl, sim, sink, rc)
	})
	if err := eg.Wait(); err != nil {
		return abort(l, ctrl, err)
	}

	ctrl.ShutdownBlock()
	return nil
}

// abort tears the RX path down after run failed with err. Teardown errors are
// logged, err is returned as is.
func abort(l *logrus.Logger, ctrl *rxpath.Control, err error) error {
	if serr := ctrl.Stop(); serr != nil {
		util.LogWithContextIfNeeded("Failed to tear down the RX path", serr, l)
	}
	return err
}

func replayFile(ctx context.Context, l *logrus.Logger, ctrl *rxpath.Control, sim *hal.Sim, sink *captureSink, rc replayConfig) error {
	f, err := os.Open(rc.pcap)
	if err != nil {
		return util.NewContextualError("Failed to open replay.pcap", logrus.Fields{"path": rc.pcap}, err)
	}
	defer f.Close()

	r := &replayer{l: l, ctrl: ctrl, sim: sim, batch: rc.batch, vif: rc.vif}
	st, err := r.run(ctx, f)
	if err != nil {
		return util.NewContextualError("Replay aborted", logrus.Fields{"path": rc.pcap, "read": st.read}, err)
	}

	l.WithField("path", rc.pcap).
		WithField("frames", humanize.Comma(st.read)).
		WithField("size", humanize.Bytes(uint64(st.bytes))).
		WithField("batches", humanize.Comma(st.batches)).
		WithField("skipped", st.skipped).
		WithField("dropped", st.dropped).
		WithField("networks", len(sink.networks())).
		Info("Replay finished")
	return nil
}
