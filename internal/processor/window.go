package processor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	windowHour = time.Hour
	windowDay  = 24 * time.Hour
)

// VolumeWindow keeps rolling trade-volume windows in KV sorted sets, scored
// by block timestamp. Members are keyed by (tx, log index), so re-recording
// a fill after a range re-delivery is a no-op and the windows stay aligned
// with the idempotent durable state.
type VolumeWindow struct {
	bus Bus
	log *zap.Logger
}

func NewVolumeWindow(bus Bus, log *zap.Logger) *VolumeWindow {
	return &VolumeWindow{bus: bus, log: log.Named("volume")}
}

// Record folds one fill into the window set and prunes everything older
// than the widest window.
func (w *VolumeWindow) Record(ctx context.Context, key, txHash string, logIndex uint, usd float64, ts int64) {
	member := fmt.Sprintf("%s:%d:%s", txHash, logIndex, strconv.FormatFloat(usd, 'f', -1, 64))
	if err := w.bus.ZAdd(ctx, key, float64(ts), member); err != nil {
		w.log.Warn("volume window write failed", zap.String("key", key), zap.Error(err))
		return
	}
	cutoff := strconv.FormatInt(ts-int64(windowDay.Seconds()), 10)
	if err := w.bus.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff); err != nil {
		w.log.Warn("volume window prune failed", zap.String("key", key), zap.Error(err))
	}
	if err := w.bus.Expire(ctx, key, windowDay+windowHour); err != nil {
		w.log.Warn("volume window expire failed", zap.String("key", key), zap.Error(err))
	}
}

// Sum totals the USD volume recorded at or after since.
func (w *VolumeWindow) Sum(ctx context.Context, key string, since int64) float64 {
	members, err := w.bus.ZRangeByScore(ctx, key, strconv.FormatInt(since, 10), "+inf")
	if err != nil {
		w.log.Warn("volume window read failed", zap.String("key", key), zap.Error(err))
		return 0
	}
	var total float64
	for _, m := range members {
		parts := strings.SplitN(m, ":", 3)
		if len(parts) != 3 {
			continue
		}
		v, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			continue
		}
		total += v
	}
	return total
}

// Windows returns the hourly and daily sums ending at now.
func (w *VolumeWindow) Windows(ctx context.Context, key string, now int64) (hour, day float64) {
	return w.Sum(ctx, key, now-int64(windowHour.Seconds())),
		w.Sum(ctx, key, now-int64(windowDay.Seconds()))
}
