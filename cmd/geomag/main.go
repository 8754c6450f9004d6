// Command geomag evaluates the IGRF field model from the command line.
//
//	geomag [global flags] field|apex|pole|info|orbit [flags]
//
// Commands run against a local coefficient file unless -remote names a
// geomag-server to query instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coord"
	"github.com/signalsfoundry/geomag/internal/config"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/internal/rpc"
	"github.com/signalsfoundry/geomag/orbit"
	"github.com/signalsfoundry/geomag/synth"
)

// backend is implemented by rpc.Local and rpc.Client.
type backend interface {
	Synthesize(ctx context.Context, req synth.Request) (rpc.FieldResult, error)
	FindApex(ctx context.Context, req rpc.ApexRequest) (apex.Trace, error)
	LocateNorthPole(ctx context.Context, epoch float64) (float64, float64, error)
	Info(ctx context.Context) (rpc.ModelInfo, error)
}

var errUsage = errors.New("usage")

type app struct {
	stdout, stderr io.Writer
	log            logging.Logger
	json           bool

	coeffsPath string
	remote     string

	// set by open
	synth   *synth.Synthesizer
	backend backend
	closer  func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("geomag", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to a YAML config file")
	coeffsPath := global.String("coeffs", "", "coefficient file (overrides config and GEOMAG_COEFFS)")
	remote := global.String("remote", "", "address of a geomag-server to query instead of evaluating locally")
	asJSON := global.Bool("json", false, "print results as JSON")
	global.Usage = func() {
		fmt.Fprintln(stderr, "usage: geomag [flags] field|apex|pole|info|orbit [command flags]")
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "geomag: %v\n", err)
		return 1
	}
	logCfg := cfg.LoggerConfig()
	logCfg.Writer = stderr

	a := &app{
		stdout:     stdout,
		stderr:     stderr,
		log:        logging.New(logCfg),
		json:       *asJSON,
		coeffsPath: cfg.Coefficients.Path,
		remote:     *remote,
	}
	if *coeffsPath != "" {
		a.coeffsPath = *coeffsPath
	}

	commands := map[string]func(context.Context, []string) error{
		"field": a.field,
		"apex":  a.apex,
		"pole":  a.pole,
		"info":  a.info,
		"orbit": a.orbit,
	}
	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "geomag: unknown command %q\n", name)
		global.Usage()
		return 2
	}

	err = cmd(ctx, global.Args()[1:])
	if a.closer != nil {
		_ = a.closer()
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "geomag %s: %v\n", name, err)
		return 1
	}
}

// open prepares the backend. Local evaluation loads the coefficient file
// once; remote evaluation dials the server.
func (a *app) open(needLocal bool) error {
	if a.remote != "" && !needLocal {
		conn, err := rpc.Dial(a.remote)
		if err != nil {
			return fmt.Errorf("dial %s: %w", a.remote, err)
		}
		a.backend = rpc.NewClient(conn)
		a.closer = conn.Close
		return nil
	}
	store, err := coeffs.NewCache(a.coeffsPath, a.log).Store()
	if err != nil {
		return err
	}
	a.synth = synth.New(store, synth.WithLogger(a.log))
	a.backend = rpc.NewLocal(a.synth, apex.NewTracer(a.synth, apex.WithLogger(a.log)), a.log)
	return nil
}

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("geomag "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		// The flag set has already reported the problem.
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(a.stderr, "unexpected arguments: %v\n", fs.Args())
		return errUsage
	}
	return nil
}

func (a *app) emitJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func currentEpoch() float64 { return orbit.DecimalYear(time.Now()) }

// number encodes NaN and infinities as JSON null. Declination and
// inclination are undefined at the dip poles.
type number float64

func (n number) MarshalJSON() ([]byte, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

type fieldOutput struct {
	Mode            string  `json:"mode"`
	System          string  `json:"system"`
	Epoch           float64 `json:"epoch"`
	North           float64 `json:"north"`
	East            float64 `json:"east"`
	Vertical        float64 `json:"vertical"`
	Total           float64 `json:"total"`
	Declination     number  `json:"declination"`
	Inclination     number  `json:"inclination"`
	Horizontal      float64 `json:"horizontal"`
	ElementTotal    float64 `json:"element_total"`
	ReducedAccuracy bool    `json:"reduced_accuracy"`
}

func (a *app) field(ctx context.Context, args []string) error {
	fs := a.flagSet("field")
	epoch := fs.Float64("epoch", currentEpoch(), "decimal-year epoch")
	lat := fs.Float64("lat", 0, "latitude in degrees")
	lon := fs.Float64("lon", 0, "east longitude in degrees")
	alt := fs.Float64("alt", 0, "altitude above the spheroid in km, or geocentric radius with -system geocentric")
	system := fs.String("system", "geodetic", "geodetic or geocentric")
	mode := fs.String("mode", "field", "field or sv")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	m, err := coeffs.ParseMode(*mode)
	if err != nil {
		return err
	}
	sys, err := synth.ParseSystem(*system)
	if err != nil {
		return err
	}
	if *lat < -90 || *lat > 90 {
		return fmt.Errorf("latitude %v outside [-90, 90]", *lat)
	}
	if sys == synth.Geocentric && *alt <= coord.CoreRadius {
		return fmt.Errorf("geocentric radius %v km is not above the core (%v km)", *alt, coord.CoreRadius)
	}
	if err := a.open(false); err != nil {
		return err
	}

	req := synth.Request{Mode: m, Epoch: *epoch, System: sys, Altitude: *alt, Colatitude: 90 - *lat, Longitude: *lon}
	res, err := a.backend.Synthesize(ctx, req)
	if err != nil {
		return err
	}

	out := fieldOutput{
		Mode: m.String(), System: sys.String(), Epoch: *epoch,
		North: res.Vector.North, East: res.Vector.East, Vertical: res.Vector.Vertical, Total: res.Vector.Total,
		Declination: number(res.Elements.Declination), Inclination: number(res.Elements.Inclination),
		Horizontal: res.Elements.Horizontal, ElementTotal: res.Elements.Total,
		ReducedAccuracy: res.Vector.ReducedAccuracy,
	}
	if a.json {
		return a.emitJSON(out)
	}

	unit, angle := "nT", "deg"
	if m == coeffs.SecularVariation {
		unit, angle = "nT/yr", "deg/yr"
	}
	fmt.Fprintf(a.stdout, "%s at %.4f (%s)\n", m, *epoch, sys)
	fmt.Fprintf(a.stdout, "  X %12.2f %s\n  Y %12.2f %s\n  Z %12.2f %s\n  F %12.2f %s\n",
		out.North, unit, out.East, unit, out.Vertical, unit, out.Total, unit)
	fmt.Fprintf(a.stdout, "  D %12.4f %s\n  I %12.4f %s\n  H %12.2f %s\n",
		out.Declination, angle, out.Inclination, angle, out.Horizontal, unit)
	if out.ReducedAccuracy {
		fmt.Fprintln(a.stdout, "  warning: epoch past the secular-variation interval, reduced accuracy")
	}
	return nil
}

type apexOutput struct {
	Epoch         float64      `json:"epoch"`
	ApexLatitude  float64      `json:"apex_latitude"`
	ApexLongitude float64      `json:"apex_longitude"`
	ApexRadius    float64      `json:"apex_radius_km"`
	ApexIndex     int          `json:"apex_index"`
	Steps         int          `json:"steps"`
	Path          [][3]float64 `json:"path,omitempty"`
}

func (a *app) apex(ctx context.Context, args []string) error {
	fs := a.flagSet("apex")
	epoch := fs.Float64("epoch", currentEpoch(), "decimal-year epoch")
	lat := fs.Float64("lat", 0, "geodetic latitude in degrees")
	lon := fs.Float64("lon", 0, "east longitude in degrees")
	alt := fs.Float64("alt", 0, "altitude above the spheroid in km")
	path := fs.Bool("path", false, "include every traced point")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *lat < -90 || *lat > 90 {
		return fmt.Errorf("latitude %v outside [-90, 90]", *lat)
	}
	if err := a.open(false); err != nil {
		return err
	}

	tr, err := a.backend.FindApex(ctx, rpc.ApexRequest{Latitude: *lat, Longitude: *lon, Altitude: *alt, Epoch: *epoch, IncludePath: *path})
	if err != nil {
		return err
	}

	apexLat, apexLon, _ := coord.CartesianToSpherical(tr.Apex)
	out := apexOutput{
		Epoch:         *epoch,
		ApexLatitude:  apexLat * coord.RadToDeg,
		ApexLongitude: apexLon * coord.RadToDeg,
		ApexRadius:    tr.ApexRadius(),
		ApexIndex:     tr.ApexIndex,
		Steps:         tr.Steps,
	}
	for _, p := range tr.Path {
		out.Path = append(out.Path, [3]float64{p.X, p.Y, p.Z})
	}
	if a.json {
		return a.emitJSON(out)
	}

	fmt.Fprintf(a.stdout, "apex at %.4f lat, %.4f lon, radius %s km after %d steps\n",
		out.ApexLatitude, out.ApexLongitude, humanize.CommafWithDigits(out.ApexRadius, 1), out.Steps)
	for i, p := range out.Path {
		marker := ""
		if i == out.ApexIndex {
			marker = "  <- apex"
		}
		fmt.Fprintf(a.stdout, "  %3d %12.3f %12.3f %12.3f%s\n", i, p[0], p[1], p[2], marker)
	}
	return nil
}

type poleOutput struct {
	Epoch     float64 `json:"epoch"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (a *app) pole(ctx context.Context, args []string) error {
	fs := a.flagSet("pole")
	epoch := fs.Float64("epoch", currentEpoch(), "decimal-year epoch")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if err := a.open(false); err != nil {
		return err
	}
	lat, lon, err := a.backend.LocateNorthPole(ctx, *epoch)
	if err != nil {
		return err
	}
	out := poleOutput{Epoch: *epoch, Latitude: lat, Longitude: lon}
	if a.json {
		return a.emitJSON(out)
	}
	fmt.Fprintf(a.stdout, "dipole north pole at %.4f: %.4f lat, %.4f lon\n", *epoch, lat, lon)
	return nil
}

type infoOutput struct {
	Fingerprint  string  `json:"fingerprint"`
	FirstEpoch   float64 `json:"first_epoch"`
	LastEpoch    float64 `json:"last_epoch"`
	ValidUntil   float64 `json:"valid_until"`
	Limit        float64 `json:"limit"`
	Coefficients int     `json:"coefficients"`
}

func (a *app) info(ctx context.Context, args []string) error {
	fs := a.flagSet("info")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if err := a.open(false); err != nil {
		return err
	}
	info, err := a.backend.Info(ctx)
	if err != nil {
		return err
	}
	out := infoOutput{
		Fingerprint:  fmt.Sprintf("%016x", info.Fingerprint),
		FirstEpoch:   info.FirstEpoch,
		LastEpoch:    info.LastEpoch,
		ValidUntil:   info.ValidUntil,
		Limit:        info.Limit,
		Coefficients: info.Coefficients,
	}
	if a.json {
		return a.emitJSON(out)
	}
	fmt.Fprintf(a.stdout, "%s coefficients, epochs %g-%g, reduced accuracy after %g, limit %g, fingerprint %s\n",
		humanize.Comma(int64(out.Coefficients)), out.FirstEpoch, out.LastEpoch, out.ValidUntil, out.Limit, out.Fingerprint)
	return nil
}

type orbitSample struct {
	Time      time.Time `json:"time"`
	Epoch     float64   `json:"epoch"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Height    float64   `json:"height_km"` // above the 6371.2 km reference sphere
	North     float64   `json:"north"`
	East      float64   `json:"east"`
	Vertical  float64   `json:"vertical"`
	Total     float64   `json:"total"`
}

func (a *app) orbit(ctx context.Context, args []string) error {
	fs := a.flagSet("orbit")
	line1 := fs.String("tle1", "", "first line of the element set")
	line2 := fs.String("tle2", "", "second line of the element set")
	start := fs.String("start", "", "RFC 3339 start time (default now)")
	step := fs.Duration("step", time.Minute, "sample spacing")
	count := fs.Int("count", 10, "number of samples")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *line1 == "" || *line2 == "" {
		fmt.Fprintln(a.stderr, "orbit needs -tle1 and -tle2")
		return errUsage
	}
	t0 := time.Now().UTC()
	if *start != "" {
		parsed, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			return fmt.Errorf("parse -start: %w", err)
		}
		t0 = parsed
	}
	// Propagation runs here, so the field is always evaluated locally.
	if err := a.open(true); err != nil {
		return err
	}
	sampler, err := orbit.NewSampler(a.synth, *line1, *line2)
	if err != nil {
		return err
	}
	samples, err := sampler.Track(ctx, t0, *step, *count)
	if err != nil {
		return err
	}

	out := make([]orbitSample, 0, len(samples))
	for _, s := range samples {
		out = append(out, orbitSample{
			Time:      s.Time,
			Epoch:     s.Epoch,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Height:    s.Radius - coord.ReferenceRadius,
			North:     s.Field.North,
			East:      s.Field.East,
			Vertical:  s.Field.Vertical,
			Total:     s.Field.Total,
		})
	}
	if a.json {
		return a.emitJSON(out)
	}
	for _, s := range out {
		fmt.Fprintf(a.stdout, "%s %8.3f %9.3f %8.1f km  F %9.1f nT\n",
			s.Time.Format(time.RFC3339), s.Latitude, s.Longitude, s.Height, s.Total)
	}
	fmt.Fprintf(a.stdout, "%s samples\n", humanize.Comma(int64(len(out))))
	return nil
}
