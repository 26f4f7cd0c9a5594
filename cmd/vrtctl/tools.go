package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"example.com/vrtgate/internal/bridge"
	"example.com/vrtgate/internal/capture"
	"example.com/vrtgate/internal/describe"
	"example.com/vrtgate/internal/manifest"
	"example.com/vrtgate/internal/spectrum"
	"example.com/vrtgate/internal/vrt"
)

func demoCmd(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.Parse(args)
	mustSetup(*configPath)
	if fs.NArg() != 1 {
		fmt.Println("usage: vrtctl demo <packet.bin>")
		os.Exit(1)
	}
	buf, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Println("read packet:", err)
		os.Exit(1)
	}
	summary, err := bridge.ParseSignalData(buf)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Printf("stream ID 0x%08X, %d bytes of signal data\n", summary.StreamID, len(summary.SignalData))
}

// readPackets decodes up to limit packets of a .vrt file. A zero limit reads
// all of them. The packets before a decode failure are returned with it.
func readPackets(path string, limit int) ([]*vrt.Packet, []vrt.PacketIndex, error) {
	r, err := vrt.NewReader(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()
	var packets []*vrt.Packet
	var index []vrt.PacketIndex
	for limit <= 0 || len(packets) < limit {
		p, pi, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return packets, index, fmt.Errorf("offset %d: %w", r.Offset(), err)
		}
		packets = append(packets, p)
		index = append(index, pi)
	}
	return packets, index, nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "input .vrt")
	format := fs.String("format", "text", "output format: text or yaml")
	limit := fs.Int("limit", 0, "stop after this many packets (0 = all)")
	fs.Parse(args)
	mustSetup(*configPath)
	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	packets, index, scanErr := readPackets(*in, *limit)
	switch *format {
	case "yaml":
		if err := describe.Dump(os.Stdout, packets); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	case "text":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "#\tOFFSET\tTYPE\tSTREAM\tCOUNT\tWORDS\tTIMESTAMP")
		for i, pi := range index {
			stream := "-"
			if pi.HasStreamID {
				stream = fmt.Sprintf("0x%08X", pi.StreamID)
			}
			ts := "-"
			if pi.HasTimestamp {
				ts = fmt.Sprintf("%s %d / %s %d", pi.TSI, pi.Integer, pi.TSF, pi.Fractional)
			}
			fmt.Fprintf(w, "%d\t0x%X\t%s\t%s\t%d\t%d\t%s\n", i, pi.Offset, pi.Type, stream, pi.PacketCount, pi.Words, ts)
		}
		w.Flush()
	default:
		fmt.Println("unknown format:", *format)
		os.Exit(1)
	}
	if scanErr != nil {
		fmt.Println("decode stopped:", scanErr)
		os.Exit(1)
	}
}

func buildCmd(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "packet description (YAML or JSON)")
	out := fs.String("out", "", "output .vrt")
	fs.Parse(args)
	mustSetup(*configPath)
	if *in == "" || *out == "" {
		fmt.Println("required: --in and --out")
		os.Exit(1)
	}
	n, err := buildFile(*in, *out)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d packets to %s\n", n, *out)
}

func buildFile(in, out string) (int, error) {
	f, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	doc, err := describe.Load(f)
	if err != nil {
		return 0, err
	}
	packets, err := doc.Build()
	if err != nil {
		return 0, err
	}
	dst, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(dst)
	w := vrt.NewWriter(bw)
	for _, p := range packets {
		if err := w.WritePacket(p); err != nil {
			dst.Close()
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		dst.Close()
		return 0, err
	}
	return len(packets), dst.Close()
}

func pcapCmd(args []string) {
	fs := flag.NewFlagSet("pcap", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "input pcap or pcapng")
	out := fs.String("out", "", "output .vrt")
	port := fs.Uint("port", 0, "UDP port carrying VRT (0 = any)")
	fs.Parse(args)
	cfg := mustSetup(*configPath)
	if *in == "" || *out == "" {
		fmt.Println("required: --in and --out")
		os.Exit(1)
	}
	opts := capture.Options{Port: cfg.CapturePort}
	if flagSet(fs, "port") {
		if *port > 0xFFFF {
			fmt.Println("invalid --port:", *port)
			os.Exit(1)
		}
		opts.Port = uint16(*port)
	}
	st, err := capture.ExtractFile(*in, *out, opts)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("frames=%d datagrams=%d packets=%d rejected=%d bytes=%d sha256=%s\n", st.Frames, st.Datagrams, st.Packets, st.Rejected, st.Bytes, st.SHA256)
}

func spectrumCmd(args []string) {
	fs := flag.NewFlagSet("spectrum", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	in := fs.String("in", "", "input .vrt")
	window := fs.String("window", "", "window function: hann, hamming, blackman, flattop, rectangular")
	stream := fs.String("stream", "", "only analyze this stream ID (decimal or 0x hex)")
	rate := fs.Float64("rate", 0, "sample rate in Hz when no context packet gives one")
	fs.Parse(args)
	cfg := mustSetup(*configPath)
	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	if *window == "" {
		*window = cfg.SpectrumWindow
	}
	a, err := spectrum.NewAnalyzer(*window)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if *stream != "" {
		id, err := strconv.ParseUint(*stream, 0, 32)
		if err != nil {
			fmt.Println("invalid --stream:", err)
			os.Exit(1)
		}
		a.OnlyStream(uint32(id))
	}
	if *rate > 0 {
		a.SetSampleRate(*rate)
	}
	s, err := spectrum.AnalyzeFile(*in, a)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("frames=%d bins=%d\n", s.Frames, s.Bins)
	if s.SampleRateHz > 0 {
		fmt.Printf("peak bin %d at %.3f Hz, %.2f dB\n", s.PeakBin, s.PeakFrequencyHz, s.PeakPowerDB)
	} else {
		fmt.Printf("peak bin %d, %.2f dB\n", s.PeakBin, s.PeakPowerDB)
	}
	fmt.Printf("mean %.2f dB, stddev %.2f dB\n", s.MeanPowerDB, s.StdDevPowerDB)
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	out := fs.String("out", "manifest.json", "output manifest")
	fs.Parse(args)
	mustSetup(*configPath)
	if fs.NArg() == 0 {
		fmt.Println("usage: vrtctl manifest --out <manifest.json> <file>...")
		os.Exit(1)
	}
	m, err := manifest.Build(fs.Args())
	if err != nil {
		fmt.Println("build manifest:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("write manifest:", err)
		os.Exit(1)
	}
	for _, it := range m.Items {
		if it.ScanError != "" {
			fmt.Printf("%s: %s\n", it.Path, it.ScanError)
		}
	}
	fmt.Printf("Wrote manifest of %d files: %s\n", len(m.Items), *out)
}
