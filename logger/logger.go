// Package logger holds the shared slog attribute helpers and level
// extensions used across the module.
package logger

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// LevelTrace is finer than slog.LevelDebug; used for per-message traces.
const LevelTrace = slog.Level(-8)

const (
	ErrorKey = "err"
	RankKey  = "rank"
	TileKey  = "tile"
	RoundKey = "round"
	DataKey  = "data"
)

// Error returns an attribute for the error value.
func Error(err error) slog.Attr {
	return slog.Any(ErrorKey, err)
}

// Rank returns an attribute for a worker rank.
func Rank(r int) slog.Attr {
	return slog.Int(RankKey, r)
}

// TileID returns an attribute for a tile id.
func TileID(cid uint64) slog.Attr {
	return slog.Uint64(TileKey, cid)
}

// Round returns an attribute for an exchange-round id.
func Round(id uuid.UUID) slog.Attr {
	return slog.String(RoundKey, id.String())
}

// Data returns an attribute carrying an arbitrary value.
func Data(v any) slog.Attr {
	return slog.Any(DataKey, v)
}

// New returns a text-handler logger writing to w at the given level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
