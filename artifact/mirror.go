package artifact

import (
	"context"
	"log/slog"
)

// Mirror writes to a primary sink and then, best effort, to each mirror.
// Only the primary decides success; mirror failures are logged.
type Mirror struct {
	primary Sink
	mirrors []Sink
	logger  *slog.Logger
}

func NewMirror(logger *slog.Logger, primary Sink, mirrors ...Sink) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{primary: primary, mirrors: mirrors, logger: logger}
}

func (m *Mirror) Put(ctx context.Context, name string, data []byte) (string, error) {
	loc, err := m.primary.Put(ctx, name, data)
	if err != nil {
		return "", err
	}
	for _, s := range m.mirrors {
		mloc, err := s.Put(ctx, name, data)
		if err != nil {
			m.logger.Warn("artifact mirror failed", "name", name, "error", err)
			continue
		}
		m.logger.Debug("artifact mirrored", "name", name, "location", mloc)
	}
	return loc, nil
}
