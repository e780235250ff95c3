// Package ingest is the per-message pipeline: validate the incoming sample,
// refresh the shared vehicle state, pick the neighborhood, run the predictor
// bank against every live neighbor, and fan the hits out to both vehicles.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/geo"
	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/predict"
	"github.com/banshee-data/collision.report/internal/session"
	"github.com/banshee-data/collision.report/internal/store"
	"github.com/banshee-data/collision.report/internal/telemetry"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

// Handler processes one telemetry message at a time per connection. It is safe
// for concurrent use across connections; the shared state behind it carries
// its own synchronization.
type Handler struct {
	geo      *store.GeoIndex
	tel      *store.TelemetryStore
	hist     *store.HistoryBuffer
	sessions *session.Registry
	disp     *Dispatcher
	cfg      config.Thresholds
	clock    timeutil.Clock
}

// NewHandler wires the pipeline over the given stores and session registry.
func NewHandler(
	g *store.GeoIndex,
	tel *store.TelemetryStore,
	hist *store.HistoryBuffer,
	sessions *session.Registry,
	disp *Dispatcher,
	cfg config.Thresholds,
	clock timeutil.Clock,
) *Handler {
	return &Handler{
		geo:      g,
		tel:      tel,
		hist:     hist,
		sessions: sessions,
		disp:     disp,
		cfg:      cfg,
		clock:    clock,
	}
}

// Handle runs one raw message from ch through the pipeline. Every outcome is
// answered on ch: a received-ack carrying any threats for the sender, or an
// error-ack for a sample that failed validation. Unparseable frames are
// dropped without a reply since there is no structure to answer to.
func (h *Handler) Handle(ctx context.Context, raw []byte, ch session.Channel) {
	var s telemetry.Sample
	if err := json.Unmarshal(raw, &s); err != nil {
		monitoring.MessagesRejectedTotal.WithLabelValues("malformed").Inc()
		monitoring.Debugf("dropping unparseable frame: %v", err)
		return
	}

	if reason := s.Validate(); reason != "" {
		monitoring.MessagesRejectedTotal.WithLabelValues("invalid").Inc()
		h.reply(ch, telemetry.ErrorAck(reason))
		return
	}
	monitoring.MessagesTotal.Inc()

	// The binding follows the latest message: a reconnecting vehicle takes
	// over its id from the stale channel.
	h.sessions.Bind(s.UserID, ch)

	st := s.Derive()
	now := h.clock.Now()

	if err := h.geo.Upsert(ctx, s.UserID, s.Latitude, s.Longitude); err != nil {
		h.storageFailure(ch, err)
		return
	}
	if err := h.tel.Put(ctx, s.UserID, &s, s.TTL()); err != nil {
		h.storageFailure(ch, err)
		return
	}
	h.hist.Append(s.UserID, st.Speed, now.UnixMilli())

	neighbors, err := h.liveNeighbors(ctx, &s, st)
	if err != nil {
		h.storageFailure(ch, err)
		return
	}

	threats := h.assess(ctx, &s, st, neighbors, now)
	h.reply(ch, telemetry.ReceivedAck(now, threats))
}

// liveNeighbors returns the fresh telemetry of every vehicle currently inside
// self's query radius. The radius widens while self is turning sharply, since
// that is when side traffic matters most. Members whose telemetry has expired
// are pruned from the geo index on the way.
func (h *Handler) liveNeighbors(ctx context.Context, s *telemetry.Sample, st telemetry.State) ([]*telemetry.Sample, error) {
	radius := h.cfg.NearbyRadiusMeters
	if predict.IsSuddenTurn(st, h.cfg) {
		radius += h.cfg.BlindSpotRadiusBoostMeters
	}

	ids, err := h.geo.RadiusByMember(ctx, s.UserID, radius, store.MaxRadiusResults)
	if err != nil {
		return nil, err
	}

	others := ids[:0]
	for _, id := range ids {
		if id != s.UserID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil, nil
	}

	samples, err := h.tel.MGet(ctx, others)
	if err != nil {
		return nil, err
	}

	var live []*telemetry.Sample
	var dead []string
	for i, sm := range samples {
		if sm == nil {
			dead = append(dead, others[i])
			monitoring.NeighborsSkippedTotal.WithLabelValues("expired").Inc()
			continue
		}
		live = append(live, sm)
	}
	if len(dead) > 0 {
		if err := h.geo.Remove(ctx, dead...); err != nil {
			monitoring.Debugf("geo prune failed: %v", err)
		}
	}
	return live, nil
}

// assess runs the predictor bank against each fresh neighbor and returns the
// threats destined for the sender's ack. Neighbors whose stored sample has
// aged past the staleness cutoff are skipped entirely: predicting against a
// position from several seconds ago produces noise, not warnings.
func (h *Handler) assess(ctx context.Context, s *telemetry.Sample, st telemetry.State, neighbors []*telemetry.Sample, now time.Time) []telemetry.Threat {
	var fresh []*telemetry.Sample
	for _, other := range neighbors {
		if other.Age(now) > h.cfg.StaleAge() {
			monitoring.NeighborsSkippedTotal.WithLabelValues("stale").Inc()
			continue
		}
		fresh = append(fresh, other)
	}
	if len(fresh) == 0 {
		return nil
	}

	majority, hasMajority := h.majorityHeading(st, fresh)

	var threats []telemetry.Threat
	for _, other := range fresh {
		in := predict.Input{
			Self:            s,
			Other:           other,
			SelfState:       st,
			OtherState:      other.Derive(),
			OtherHistory:    h.hist.Latest(other.UserID),
			MajorityHeading: majority,
			HasMajority:     hasMajority,
			Cfg:             h.cfg,
		}
		if res := predict.Run(in); res != nil {
			threats = append(threats, h.disp.Dispatch(ctx, s, other, res))
		}
	}
	return threats
}

// majorityHeading is the neighborhood's dominant direction of travel,
// including self. Only moving vehicles vote; parked cars have no flow to
// contribute. The second return is false when the votes cancel out.
func (h *Handler) majorityHeading(st telemetry.State, fresh []*telemetry.Sample) (float64, bool) {
	var headings []float64
	if st.Speed >= h.cfg.MinMovingSpeedMS {
		headings = append(headings, st.HeadingDeg)
	}
	for _, other := range fresh {
		if other.Speed >= h.cfg.MinMovingSpeedMS {
			headings = append(headings, geo.NormalizeHeading(other.Heading))
		}
	}
	return geo.MajorityHeading(headings)
}

// storageFailure answers a message that could not be processed because the
// shared state was unreachable. The sender can retry with its next sample.
func (h *Handler) storageFailure(ch session.Channel, err error) {
	monitoring.Logf("storage failure: %v", err)
	monitoring.MessagesRejectedTotal.WithLabelValues("storage").Inc()
	h.reply(ch, telemetry.ErrorAck("internal error"))
}

func (h *Handler) reply(ch session.Channel, v interface{}) {
	if err := ch.Send(v); err != nil {
		monitoring.Debugf("reply failed: %v", err)
	}
}
