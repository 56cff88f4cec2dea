package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KnightDragonX/kdcode-go"
)

var cli struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	Encode EncodeCmd `cmd:"" help:"Render text as a KD-Code image."`
	Decode DecodeCmd `cmd:"" help:"Scan an image for a KD-Code."`
	Train  TrainCmd  `cmd:"" help:"Train a correction model on synthetic scan noise."`
}

// paramsFile is the YAML geometry preset accepted by encode --params.
type paramsFile struct {
	SegmentsPerRing int `yaml:"segments_per_ring"`
	AnchorRadius    int `yaml:"anchor_radius"`
	RingWidth       int `yaml:"ring_width"`
	ScaleFactor     int `yaml:"scale_factor"`
	MaxChars        int `yaml:"max_chars"`
}

type EncodeCmd struct {
	Text    string `arg:"" help:"Text to encode."`
	Out     string `short:"o" default:"code.png" help:"Output file path."`
	Format  string `enum:"png,qoi,jpeg" default:"png" help:"Output format (png, qoi or jpeg)."`
	Quality int    `default:"0" help:"JPEG quality 1..100; 0 uses the default."`
	Params  string `help:"YAML file with geometry presets."`

	Segments int `default:"0" help:"Override segments per ring."`
	Anchor   int `default:"0" help:"Override anchor radius."`
	Ring     int `default:"0" help:"Override ring width."`
	Scale    int `default:"0" help:"Override scale factor."`
}

func (c *EncodeCmd) Run(log *zap.Logger) error {
	p := kdcode.DefaultCodeParameters()
	if c.Params != "" {
		data, err := os.ReadFile(c.Params)
		if err != nil {
			return err
		}
		var pf paramsFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return fmt.Errorf("parse %s: %w", c.Params, err)
		}
		if pf.SegmentsPerRing != 0 {
			p.SegmentsPerRing = pf.SegmentsPerRing
		}
		if pf.AnchorRadius != 0 {
			p.AnchorRadius = pf.AnchorRadius
		}
		if pf.RingWidth != 0 {
			p.RingWidth = pf.RingWidth
		}
		if pf.ScaleFactor != 0 {
			p.ScaleFactor = pf.ScaleFactor
		}
		if pf.MaxChars != 0 {
			p.MaxChars = pf.MaxChars
		}
	}
	if c.Segments != 0 {
		p.SegmentsPerRing = c.Segments
	}
	if c.Anchor != 0 {
		p.AnchorRadius = c.Anchor
	}
	if c.Ring != 0 {
		p.RingWidth = c.Ring
	}
	if c.Scale != 0 {
		p.ScaleFactor = c.Scale
	}

	var format kdcode.OutputFormat
	switch c.Format {
	case "qoi":
		format = kdcode.FormatQOI
	case "jpeg":
		format = kdcode.FormatJPEG
	default:
		format = kdcode.FormatPNG
	}

	data, err := kdcode.EncodeBytes(c.Text, p, kdcode.EncodeOptions{Format: format, Quality: c.Quality})
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.Out, data, 0o644); err != nil {
		return err
	}
	log.Info("code written",
		zap.String("path", c.Out),
		zap.String("format", c.Format),
		zap.Int("bytes", len(data)))
	return nil
}

type DecodeCmd struct {
	Path string `arg:"" type:"existingfile" help:"Image file to scan."`

	Segments  int    `default:"16" help:"Segments per ring."`
	MinAnchor int    `default:"5" help:"Minimum anchor radius."`
	MaxAnchor int    `default:"100" help:"Maximum anchor radius."`
	Parallel  bool   `help:"Run detection strategies concurrently."`
	Model     string `help:"Correction model artifact path."`
}

func (c *DecodeCmd) Run(log *zap.Logger) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return err
	}

	opts := []kdcode.DecoderOption{kdcode.WithLogger(log)}
	if c.Model != "" {
		m, err := kdcode.LoadModel(c.Model)
		if err != nil {
			return err
		}
		opts = append(opts, kdcode.WithModel(m))
	}

	res, err := kdcode.NewDecoder(opts...).Decode(data, kdcode.ScanParameters{
		SegmentsPerRing:      c.Segments,
		MinAnchorRadius:      c.MinAnchor,
		MaxAnchorRadius:      c.MaxAnchor,
		EnableMultithreading: c.Parallel,
	})
	if err != nil {
		return err
	}
	if !res.Found {
		fmt.Println("no code found")
		return nil
	}
	fmt.Println(res.Text)
	return nil
}

type TrainCmd struct {
	Out     string `short:"o" default:"models/kdcode-corrector.kdm" help:"Artifact output path."`
	Seed    int64  `default:"1" help:"Training seed."`
	Samples int    `default:"20000" help:"Synthetic sample count."`
}

func (c *TrainCmd) Run(log *zap.Logger) error {
	m, err := kdcode.TrainModel(c.Seed, c.Samples)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.Out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := m.Save(c.Out); err != nil {
		return err
	}
	log.Info("model trained",
		zap.String("path", c.Out),
		zap.Int64("seed", c.Seed),
		zap.Int("samples", c.Samples))
	return nil
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("kdcode"),
		kong.Description("Encode and decode circular KD-Code images."),
		kong.UsageOnError())

	log := zap.NewNop()
	if cli.Verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			log = l
		}
	}
	defer log.Sync()

	ctx.FatalIfErrorf(ctx.Run(log))
}
