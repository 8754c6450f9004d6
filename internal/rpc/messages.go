package rpc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/coord"
	"github.com/signalsfoundry/geomag/synth"
)

// ErrInvalidRequest is returned for request messages that are missing
// fields or carry values outside their domain.
var ErrInvalidRequest = errors.New("invalid request")

// FieldResult is the decoded Synthesize response. Elements holds the
// geomagnetic elements in Field mode and their rates in SecularVariation
// mode.
type FieldResult struct {
	Vector   synth.FieldVector
	Elements synth.Elements
}

// ApexRequest is the decoded FindApex request. Angles are geodetic degrees,
// Altitude is km above the spheroid.
type ApexRequest struct {
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Epoch       float64
	IncludePath bool
}

// ModelInfo describes the coefficient table a server has loaded.
type ModelInfo struct {
	Fingerprint  uint64
	FirstEpoch   float64
	LastEpoch    float64
	ValidUntil   float64
	Limit        float64
	Coefficients int
}

// ModelInfoOf summarises store.
func ModelInfoOf(store *coeffs.Store) ModelInfo {
	return ModelInfo{
		Fingerprint:  store.Fingerprint(),
		FirstEpoch:   store.FirstEpoch(),
		LastEpoch:    store.LastEpoch(),
		ValidUntil:   store.ValidUntil(),
		Limit:        store.Limit(),
		Coefficients: store.Len(),
	}
}

// fieldReader collects every problem found while decoding a Struct so a
// caller sees all of them at once.
type fieldReader struct {
	fields   map[string]*structpb.Value
	problems []string
}

func readFields(s *structpb.Struct) *fieldReader {
	return &fieldReader{fields: s.GetFields()}
}

func (r *fieldReader) fail(format string, args ...any) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *fieldReader) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(r.problems, "; "))
}

func (r *fieldReader) lookup(key string) (*structpb.Value, bool) {
	v, ok := r.fields[key]
	if !ok || v == nil {
		return nil, false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil, false
	}
	return v, true
}

// value reads a number that may be NaN. Missing keys yield def.
func (r *fieldReader) value(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		r.fail("%s must be a number", key)
		return def
	}
	return n.NumberValue
}

func (r *fieldReader) finite(key string, def float64, required bool) float64 {
	if _, ok := r.lookup(key); !ok {
		if required {
			r.fail("%s is required", key)
		}
		return def
	}
	before := len(r.problems)
	f := r.value(key, def)
	if len(r.problems) == before && (math.IsNaN(f) || math.IsInf(f, 0)) {
		r.fail("%s must be finite", key)
		return def
	}
	return f
}

func (r *fieldReader) integer(key string) int {
	f := r.finite(key, 0, false)
	if f != math.Trunc(f) {
		r.fail("%s must be an integer", key)
		return 0
	}
	return int(f)
}

func (r *fieldReader) str(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail("%s must be a string", key)
		return def
	}
	return s.StringValue
}

func (r *fieldReader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		r.fail("%s must be a bool", key)
		return def
	}
	return b.BoolValue
}

func (r *fieldReader) vec(key string) coord.Vec3 {
	v, ok := r.lookup(key)
	if !ok {
		return coord.Vec3{}
	}
	p, ok := vecFromValue(v)
	if !ok {
		r.fail("%s must be a list of three numbers", key)
	}
	return p
}

func (r *fieldReader) path(key string) []coord.Vec3 {
	v, ok := r.lookup(key)
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		r.fail("%s must be a list", key)
		return nil
	}
	out := make([]coord.Vec3, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		p, ok := vecFromValue(item)
		if !ok {
			r.fail("%s[%d] must be a list of three numbers", key, i)
			return nil
		}
		out = append(out, p)
	}
	return out
}

func vecFromValue(v *structpb.Value) (coord.Vec3, bool) {
	vals := v.GetListValue().GetValues()
	if len(vals) != 3 {
		return coord.Vec3{}, false
	}
	var xyz [3]float64
	for i, item := range vals {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return coord.Vec3{}, false
		}
		xyz[i] = n.NumberValue
	}
	return coord.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}, true
}

func vecToList(v coord.Vec3) []any { return []any{v.X, v.Y, v.Z} }

// SynthesizeRequestToStruct encodes a synthesis request.
func SynthesizeRequestToStruct(req synth.Request) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"mode":       req.Mode.String(),
		"epoch":      req.Epoch,
		"system":     req.System.String(),
		"altitude":   req.Altitude,
		"colatitude": req.Colatitude,
		"longitude":  req.Longitude,
	})
}

// SynthesizeRequestFromStruct decodes and validates a synthesis request.
// mode and system default to field and geodetic, altitude to 0 for
// geodetic requests. Geocentric requests need a radius above the core.
func SynthesizeRequestFromStruct(s *structpb.Struct) (synth.Request, error) {
	r := readFields(s)
	req := synth.Request{
		Epoch:      r.finite("epoch", 0, true),
		Colatitude: r.finite("colatitude", 0, true),
		Longitude:  r.finite("longitude", 0, true),
	}

	mode, err := coeffs.ParseMode(r.str("mode", ""))
	if err != nil {
		r.fail("%v", err)
	}
	req.Mode = mode
	system, err := synth.ParseSystem(r.str("system", ""))
	if err != nil {
		r.fail("%v", err)
	}
	req.System = system

	req.Altitude = r.finite("altitude", 0, system == synth.Geocentric)
	if system == synth.Geocentric && req.Altitude <= coord.CoreRadius {
		r.fail("altitude must be a geocentric radius above %v km, got %v", coord.CoreRadius, req.Altitude)
	}
	if req.Colatitude < 0 || req.Colatitude > 180 {
		r.fail("colatitude %v outside [0, 180]", req.Colatitude)
	}
	return req, r.err()
}

// FieldResultToStruct encodes a synthesis response. The elements travel in
// a nested "elements" struct.
func FieldResultToStruct(res FieldResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"north":            res.Vector.North,
		"east":             res.Vector.East,
		"vertical":         res.Vector.Vertical,
		"total":            res.Vector.Total,
		"reduced_accuracy": res.Vector.ReducedAccuracy,
		"elements": map[string]any{
			"declination": res.Elements.Declination,
			"inclination": res.Elements.Inclination,
			"horizontal":  res.Elements.Horizontal,
			"total":       res.Elements.Total,
		},
	})
}

// FieldResultFromStruct decodes a synthesis response.
func FieldResultFromStruct(s *structpb.Struct) (FieldResult, error) {
	r := readFields(s)
	res := FieldResult{
		Vector: synth.FieldVector{
			North:           r.value("north", 0),
			East:            r.value("east", 0),
			Vertical:        r.value("vertical", 0),
			Total:           r.value("total", 0),
			ReducedAccuracy: r.boolean("reduced_accuracy", false),
		},
	}
	if v, ok := r.lookup("elements"); ok {
		sub := v.GetStructValue()
		if sub == nil {
			r.fail("elements must be a struct")
			return res, r.err()
		}
		e := readFields(sub)
		res.Elements = synth.Elements{
			Declination: e.value("declination", math.NaN()),
			Inclination: e.value("inclination", math.NaN()),
			Horizontal:  e.value("horizontal", 0),
			Total:       e.value("total", 0),
		}
		r.problems = append(r.problems, e.problems...)
	}
	return res, r.err()
}

// ApexRequestToStruct encodes a trace request.
func ApexRequestToStruct(req ApexRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"latitude":     req.Latitude,
		"longitude":    req.Longitude,
		"altitude":     req.Altitude,
		"epoch":        req.Epoch,
		"include_path": req.IncludePath,
	})
}

// ApexRequestFromStruct decodes and validates a trace request.
func ApexRequestFromStruct(s *structpb.Struct) (ApexRequest, error) {
	r := readFields(s)
	req := ApexRequest{
		Latitude:    r.finite("latitude", 0, true),
		Longitude:   r.finite("longitude", 0, true),
		Altitude:    r.finite("altitude", 0, false),
		Epoch:       r.finite("epoch", 0, true),
		IncludePath: r.boolean("include_path", false),
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		r.fail("latitude %v outside [-90, 90]", req.Latitude)
	}
	return req, r.err()
}

// TraceToStruct encodes a converged trace. The path is only included when
// requested.
func TraceToStruct(tr apex.Trace, includePath bool) (*structpb.Struct, error) {
	lat, lon, _ := coord.CartesianToSpherical(tr.Apex)
	m := map[string]any{
		"apex":           vecToList(tr.Apex),
		"apex_radius":    tr.ApexRadius(),
		"apex_latitude":  lat * coord.RadToDeg,
		"apex_longitude": lon * coord.RadToDeg,
		"apex_index":     tr.ApexIndex,
		"steps":          tr.Steps,
	}
	if includePath {
		path := make([]any, len(tr.Path))
		for i, p := range tr.Path {
			path[i] = vecToList(p)
		}
		m["path"] = path
	}
	return structpb.NewStruct(m)
}

// TraceFromStruct decodes a trace response.
func TraceFromStruct(s *structpb.Struct) (apex.Trace, error) {
	r := readFields(s)
	tr := apex.Trace{
		Apex:      r.vec("apex"),
		ApexIndex: r.integer("apex_index"),
		Steps:     r.integer("steps"),
		Path:      r.path("path"),
	}
	return tr, r.err()
}

// PoleRequestToStruct encodes a pole request.
func PoleRequestToStruct(epoch float64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"epoch": epoch})
}

// PoleRequestFromStruct decodes a pole request.
func PoleRequestFromStruct(s *structpb.Struct) (float64, error) {
	r := readFields(s)
	epoch := r.finite("epoch", 0, true)
	return epoch, r.err()
}

// PoleToStruct encodes a pole position in degrees.
func PoleToStruct(lat, lon float64) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"latitude": lat, "longitude": lon})
}

// PoleFromStruct decodes a pole position.
func PoleFromStruct(s *structpb.Struct) (lat, lon float64, err error) {
	r := readFields(s)
	lat = r.finite("latitude", 0, true)
	lon = r.finite("longitude", 0, true)
	return lat, lon, r.err()
}

// ModelInfoToStruct encodes the model summary. The fingerprint travels as
// hex since it does not fit a double.
func ModelInfoToStruct(info ModelInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"fingerprint":  fmt.Sprintf("%016x", info.Fingerprint),
		"first_epoch":  info.FirstEpoch,
		"last_epoch":   info.LastEpoch,
		"valid_until":  info.ValidUntil,
		"limit":        info.Limit,
		"coefficients": info.Coefficients,
	})
}

// ModelInfoFromStruct decodes the model summary.
func ModelInfoFromStruct(s *structpb.Struct) (ModelInfo, error) {
	r := readFields(s)
	info := ModelInfo{
		FirstEpoch:   r.finite("first_epoch", 0, true),
		LastEpoch:    r.finite("last_epoch", 0, true),
		ValidUntil:   r.finite("valid_until", 0, true),
		Limit:        r.finite("limit", 0, true),
		Coefficients: r.integer("coefficients"),
	}
	if fp := r.str("fingerprint", ""); fp != "" {
		v, err := strconv.ParseUint(fp, 16, 64)
		if err != nil {
			r.fail("fingerprint %q is not hex", fp)
		}
		info.Fingerprint = v
	} else {
		r.fail("fingerprint is required")
	}
	return info, r.err()
}
