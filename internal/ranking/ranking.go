// Package ranking turns the committed width results into an ordered list of
// trade signals.
package ranking

import (
	"sort"

	"github.com/eddiefleurent/option_width/internal/models"
)

// Rank partitions results that carry direction options into fully and
// partially synchronized buckets, labels the widest entries of each bucket,
// and returns one globally ordered signal list. Rank is pure: the same map
// always yields the same slice.
func Rank(results map[models.InstrumentKey]models.UnderlyingWidthResult) []models.Signal {
	var synced, partial []models.UnderlyingWidthResult
	for _, r := range results {
		if !r.HasDirectionOptions {
			continue
		}
		if r.AllSync {
			synced = append(synced, r)
		} else {
			partial = append(partial, r)
		}
	}

	signals := make([]models.Signal, 0, len(synced)+len(partial))
	signals = appendBucket(signals, synced, models.SignalBest, models.SignalFullySynced)
	signals = appendBucket(signals, partial, models.SignalSubOptimal, models.SignalPartiallySynced)

	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if pa, pb := a.Type.Priority(), b.Type.Priority(); pa != pb {
			return pa < pb
		}
		if a.Width != b.Width {
			return a.Width > b.Width
		}
		return idLess(a.Underlying, a.Exchange, b.Underlying, b.Exchange)
	})
	return signals
}

// Top returns at most n signals from the head of a ranked list.
func Top(signals []models.Signal, n int) []models.Signal {
	if n < 0 || n > len(signals) {
		n = len(signals)
	}
	return signals[:n]
}

func appendBucket(dst []models.Signal, bucket []models.UnderlyingWidthResult, top, rest models.SignalType) []models.Signal {
	if len(bucket) == 0 {
		return dst
	}
	sort.Slice(bucket, func(i, j int) bool {
		a, b := bucket[i], bucket[j]
		if a.Width != b.Width {
			return a.Width > b.Width
		}
		return idLess(a.Underlying, a.Exchange, b.Underlying, b.Exchange)
	})

	maxWidth := bucket[0].Width
	for _, r := range bucket {
		label := rest
		if r.Width == maxWidth {
			label = top
		}
		dst = append(dst, signalFor(r, label))
	}
	return dst
}

func signalFor(r models.UnderlyingWidthResult, label models.SignalType) models.Signal {
	targets := append([]string(nil), r.DirectionTargets()...)
	if targets == nil {
		targets = []string{}
	}
	return models.Signal{
		Exchange:   r.Exchange,
		Underlying: r.Underlying,
		Type:       label,
		Width:      r.Width,
		Timestamp:  r.Timestamp,
		Targets:    targets,
		IsCall:     r.FutureRising,
	}
}

// idLess orders by underlying id, then exchange so that the same id listed on
// two exchanges still sorts deterministically.
func idLess(idA, exA, idB, exB string) bool {
	if idA != idB {
		return idA < idB
	}
	return exA < exB
}
