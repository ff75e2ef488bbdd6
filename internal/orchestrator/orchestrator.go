// Placemirror - Tile-Based Incremental Mirror for Crowd-Sourced Places
// Copyright 2026 Placemirror Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/placemirror/placemirror

/*
orchestrator.go - Sync Pass Orchestration

Drives the per-tile pipeline (fetch, transform, diff, persist, publish,
reschedule) across a fixed worker pool in two modes:

  - full: every tile of the region, unfiltered fetch; used for first
    population and manual re-baselining
  - incremental: repeatedly pick due tiles from the scheduler (after a
    density prewarm pass) and sync each with a changed-since watermark

A failing tile is logged, counted, and reschedule with the retry window;
it never aborts the pass. Cancellation stops the pass by not submitting
further tiles; tiles already in flight run to completion so the store is
never left mid-batch.
*/
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placemirror/placemirror/internal/diff"
	"github.com/placemirror/placemirror/internal/events"
	"github.com/placemirror/placemirror/internal/logging"
	"github.com/placemirror/placemirror/internal/metrics"
	"github.com/placemirror/placemirror/internal/models"
	"github.com/placemirror/placemirror/internal/schedule"
	"github.com/placemirror/placemirror/internal/store"
	"github.com/placemirror/placemirror/internal/tile"
	"github.com/placemirror/placemirror/internal/transform"
)

// Fetcher is the upstream source contract the orchestrator depends on.
type Fetcher interface {
	Fetch(ctx context.Context, bbox models.BBox, changedSince *time.Time) []models.RawElement
}

// Config holds the orchestrator tunables.
type Config struct {
	// Region is the mirrored bounding box.
	Region models.BBox

	// Zoom is the tile zoom level of the fixed tile set.
	Zoom int

	// Workers bounds concurrent tile pipelines.
	Workers int

	// IdleSleep is how long an incremental pass sleeps when nothing is due.
	IdleSleep time.Duration
}

// Summary aggregates the outcome of a pass.
type Summary struct {
	TilesProcessed int64
	TilesFailed    int64
	Created        int64
	Updated        int64
	Unchanged      int64
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	cfg         Config
	fetcher     Fetcher
	transformer *transform.Transformer
	venues      store.VenueStore
	bus         events.Bus
	sched       *schedule.Scheduler
	prewarmer   *schedule.Prewarmer
	now         func() time.Time
}

// New creates an orchestrator. prewarmer may be nil to disable density
// prewarming.
func New(cfg Config, fetcher Fetcher, transformer *transform.Transformer,
	venues store.VenueStore, bus events.Bus, sched *schedule.Scheduler,
	prewarmer *schedule.Prewarmer) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 30 * time.Second
	}
	return &Orchestrator{
		cfg:         cfg,
		fetcher:     fetcher,
		transformer: transformer,
		venues:      venues,
		bus:         bus,
		sched:       sched,
		prewarmer:   prewarmer,
		now:         time.Now,
	}
}

// Tiles returns the fixed tile set of the configured region.
func (o *Orchestrator) Tiles() []models.TileID {
	return tile.TilesCovering(o.cfg.Region, o.cfg.Zoom)
}

// tileJob is one unit of worker-pool work.
type tileJob struct {
	id    models.TileID
	since *time.Time
}

// RunFull syncs every tile of the region with an unfiltered fetch.
func (o *Orchestrator) RunFull(ctx context.Context) (Summary, error) {
	start := o.now()
	tiles := o.Tiles()
	logging.Info().Int("tiles", len(tiles)).Int("workers", o.cfg.Workers).Msg("starting full pass")

	jobs := make([]tileJob, len(tiles))
	for i, id := range tiles {
		jobs[i] = tileJob{id: id}
	}
	sum := o.runPool(ctx, jobs)

	metrics.PassDuration.WithLabelValues("full").Observe(o.now().Sub(start).Seconds())
	logging.Info().
		Int64("processed", sum.TilesProcessed).
		Int64("failed", sum.TilesFailed).
		Int64("created", sum.Created).
		Int64("updated", sum.Updated).
		Msg("full pass complete")
	return sum, ctx.Err()
}

// RunIncremental loops over scheduler-selected due tiles. iterations <= 0
// runs until the context is canceled; otherwise the loop exits after that
// many scheduling ticks.
func (o *Orchestrator) RunIncremental(ctx context.Context, iterations int) (Summary, error) {
	var total Summary
	for i := 0; iterations <= 0 || i < iterations; i++ {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		start := o.now()

		if o.prewarmer != nil {
			if err := o.prewarmer.Run(ctx); err != nil {
				logging.Warn().Err(err).Msg("density prewarm failed, continuing without it")
			}
		}

		due, err := o.sched.PickDue(ctx, 2*o.cfg.Workers)
		if err != nil {
			return total, fmt.Errorf("pick due tiles: %w", err)
		}
		metrics.DueTiles.Set(float64(len(due)))

		if len(due) == 0 {
			logging.Debug().Dur("sleep", o.cfg.IdleSleep).Msg("nothing due, idling")
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(o.cfg.IdleSleep):
			}
			continue
		}

		jobs := make([]tileJob, len(due))
		for j, d := range due {
			jobs[j] = tileJob{id: d.ID, since: watermark(d.State)}
		}
		sum := o.runPool(ctx, jobs)
		total = add(total, sum)

		metrics.PassDuration.WithLabelValues("incremental").Observe(o.now().Sub(start).Seconds())
		logging.Info().
			Int("due", len(due)).
			Int64("created", sum.Created).
			Int64("updated", sum.Updated).
			Int64("failed", sum.TilesFailed).
			Msg("incremental tick complete")
	}
	return total, nil
}

// watermark derives the changed-since filter from scheduler state. A tile
// never synced before gets an unfiltered fetch.
func watermark(st schedule.TileState) *time.Time {
	if st.LastSync.IsZero() {
		return nil
	}
	t := st.LastSync
	return &t
}

// runPool fans jobs out to the worker pool. Cancellation stops submission;
// in-flight tiles complete.
func (o *Orchestrator) runPool(ctx context.Context, jobs []tileJob) Summary {
	var (
		processed, failed, created, updated, unchanged atomic.Int64
		wg                                             sync.WaitGroup
		ch                                             = make(chan tileJob)
	)

	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				// The watermark is taken before the fetch so edits landing
				// mid-pipeline stay inside the next changed-since window.
				startedAt := o.now()
				res, err := o.processTile(ctx, job.id, job.since)
				processed.Add(1)
				created.Add(res.created)
				updated.Add(res.updated)
				unchanged.Add(res.unchanged)
				if err != nil {
					failed.Add(1)
					logging.Warn().Err(err).Str("tile", job.id.String()).Msg("tile sync failed")
				}
				if serr := o.sched.ScheduleNext(ctx, job.id, err == nil, startedAt); serr != nil {
					logging.Warn().Err(serr).Str("tile", job.id.String()).Msg("reschedule failed")
				}
			}
		}()
	}

submit:
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break submit
		case ch <- job:
		}
	}
	close(ch)
	wg.Wait()

	return Summary{
		TilesProcessed: processed.Load(),
		TilesFailed:    failed.Load(),
		Created:        created.Load(),
		Updated:        updated.Load(),
		Unchanged:      unchanged.Load(),
	}
}

type tileResult struct {
	created, updated, unchanged int64
}

// processTile runs the full pipeline for one tile.
func (o *Orchestrator) processTile(ctx context.Context, id models.TileID, since *time.Time) (tileResult, error) {
	start := o.now()
	bbox := tile.BBoxFor(id)

	raw := o.fetcher.Fetch(ctx, bbox, since)

	incoming := make([]models.ProcessedVenue, 0, len(raw))
	for _, el := range raw {
		if v, ok := o.transformer.Transform(el, id); ok {
			incoming = append(incoming, *v)
		}
	}

	var res tileResult
	if len(incoming) == 0 {
		metrics.RecordTileSync(o.now().Sub(start), false)
		return res, nil
	}

	ids := make([]models.Identity, len(incoming))
	for i := range incoming {
		ids[i] = incoming[i].Identity
	}
	existing, err := o.venues.FetchExisting(ctx, ids)
	if err != nil {
		metrics.RecordTileSync(o.now().Sub(start), true)
		return res, fmt.Errorf("fetch existing for %s: %w", id, err)
	}

	kinds := diff.Classify(incoming, existing)

	var (
		toUpsert      []models.CanonicalRecord
		unchangedIDs  []models.Identity
		createdEvents []map[string]string
		updatedEvents []map[string]string
		changedCells  []string
	)
	for i := range incoming {
		v := &incoming[i]
		kind := kinds[v.Identity]
		metrics.VenueChanges.WithLabelValues(string(kind)).Inc()
		switch kind {
		case models.ChangeCreated:
			res.created++
			toUpsert = append(toUpsert, v.Record)
			createdEvents = append(createdEvents, events.VenueEvent(kind, v.Identity, v.SpatialCell, id))
			changedCells = append(changedCells, v.SpatialCell)
		case models.ChangeUpdated:
			res.updated++
			toUpsert = append(toUpsert, v.Record)
			updatedEvents = append(updatedEvents, events.VenueEvent(kind, v.Identity, v.SpatialCell, id))
			changedCells = append(changedCells, v.SpatialCell)
		default:
			res.unchanged++
			unchangedIDs = append(unchangedIDs, v.Identity)
		}
	}

	if len(toUpsert) > 0 {
		if err := o.venues.Upsert(ctx, toUpsert); err != nil {
			metrics.RecordTileSync(o.now().Sub(start), true)
			// Nothing was persisted; reporting the classified changes in
			// the pass summary would count writes that never happened.
			return tileResult{}, fmt.Errorf("upsert %d records for %s: %w", len(toUpsert), id, err)
		}
	}
	o.venues.TouchUnchanged(ctx, unchangedIDs)

	// Events go out only after the records are durably stored, so consumers
	// reading on an event always see the new state.
	o.publish(ctx, events.StreamCreated, createdEvents)
	o.publish(ctx, events.StreamUpdated, updatedEvents)
	changes := res.created + res.updated
	if changes > 0 {
		if err := o.bus.Publish(ctx, events.StreamInvalidate, events.InvalidateEvent(id, bbox)); err != nil {
			metrics.EventPublishErrors.Inc()
			logging.Warn().Err(err).Str("tile", id.String()).Msg("invalidate publish failed")
		} else {
			metrics.EventsPublished.WithLabelValues(events.StreamInvalidate).Inc()
		}
		if err := o.sched.RecordChanges(ctx, id, changedCells, int(changes)); err != nil {
			logging.Warn().Err(err).Str("tile", id.String()).Msg("activity feedback failed")
		}
	}

	metrics.RecordTileSync(o.now().Sub(start), false)
	logging.Debug().
		Str("tile", id.String()).
		Int("elements", len(raw)).
		Int64("created", res.created).
		Int64("updated", res.updated).
		Int64("unchanged", res.unchanged).
		Msg("tile synced")
	return res, nil
}

// publish sends a change-event batch, best effort.
func (o *Orchestrator) publish(ctx context.Context, stream string, batch []map[string]string) {
	if len(batch) == 0 {
		return
	}
	if err := o.bus.PublishBatch(ctx, stream, batch); err != nil {
		metrics.EventPublishErrors.Inc()
		logging.Warn().Err(err).Str("stream", stream).Msg("event batch publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(stream).Add(float64(len(batch)))
}

func add(a, b Summary) Summary {
	return Summary{
		TilesProcessed: a.TilesProcessed + b.TilesProcessed,
		TilesFailed:    a.TilesFailed + b.TilesFailed,
		Created:        a.Created + b.Created,
		Updated:        a.Updated + b.Updated,
		Unchanged:      a.Unchanged + b.Unchanged,
	}
}
