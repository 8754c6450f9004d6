package rpc

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/geomag/apex"
	"github.com/signalsfoundry/geomag/coeffs"
	"github.com/signalsfoundry/geomag/internal/logging"
	"github.com/signalsfoundry/geomag/synth"
)

// Local answers FieldService calls in process, with the same typed API as
// Client.
type Local struct {
	synth  *synth.Synthesizer
	tracer *apex.Tracer
	log    logging.Logger
}

// NewLocal returns a Local over s and t.
func NewLocal(s *synth.Synthesizer, t *apex.Tracer, log logging.Logger) *Local {
	if log == nil {
		log = logging.Noop()
	}
	return &Local{synth: s, tracer: t, log: log}
}

// Synthesize evaluates req. In SecularVariation mode the main field at the
// same point is evaluated too so the element rates can be derived.
func (l *Local) Synthesize(ctx context.Context, req synth.Request) (FieldResult, error) {
	ctx, span := StartChildSpan(ctx, "synth.Synthesize",
		attribute.String("geomag.mode", req.Mode.String()),
		attribute.String("geomag.system", req.System.String()),
		attribute.Float64("geomag.epoch", req.Epoch),
	)
	defer span.End()

	fv, err := l.synth.Synthesize(ctx, req)
	if err != nil {
		span.RecordError(err)
		return FieldResult{}, err
	}
	res := FieldResult{Vector: fv, Elements: fv.Elements()}
	if req.Mode == coeffs.SecularVariation {
		main := req
		main.Mode = coeffs.Field
		mf, err := l.synth.Synthesize(ctx, main)
		if err != nil {
			span.RecordError(err)
			return FieldResult{}, err
		}
		res.Elements = synth.SecularElements(mf, fv)
	}
	return res, nil
}

// FindApex traces the field line through a geodetic point to its apex.
func (l *Local) FindApex(ctx context.Context, req ApexRequest) (apex.Trace, error) {
	ctx, span := StartChildSpan(ctx, "apex.FindApex",
		attribute.Float64("geomag.latitude", req.Latitude),
		attribute.Float64("geomag.longitude", req.Longitude),
		attribute.Float64("geomag.epoch", req.Epoch),
	)
	defer span.End()

	tr, err := l.tracer.FindApex(ctx, req.Latitude, req.Longitude, req.Altitude, req.Epoch)
	if err != nil {
		span.RecordError(err)
		logging.FromContext(ctx, l.log).Warn(ctx, "field-line trace failed",
			logging.Epoch(req.Epoch),
			logging.Float64("lat", req.Latitude),
			logging.Float64("lon", req.Longitude),
			logging.Err(err),
		)
		return apex.Trace{}, err
	}
	span.SetAttributes(attribute.Int("geomag.steps", tr.Steps))
	if !req.IncludePath {
		tr.Path = nil
	}
	return tr, nil
}

// LocateNorthPole returns the dipole north pole at epoch in degrees.
func (l *Local) LocateNorthPole(_ context.Context, epoch float64) (lat, lon float64, err error) {
	return apex.LocateNorthPole(l.synth.Store(), epoch)
}

// Info summarises the loaded coefficient table.
func (l *Local) Info(context.Context) (ModelInfo, error) {
	return ModelInfoOf(l.synth.Store()), nil
}
